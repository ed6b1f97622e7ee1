package database

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

var metricTimestampLayouts = []string{
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05-07:00:00",
}

// MetricCodec decodes the text form of the metric composite type into
// monitor.Metric. Metrics are written with a ROW constructor, so the codec
// only reads.
type MetricCodec struct{}

// FormatSupported implements pgtype.Codec.
func (MetricCodec) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode
}

// PreferredFormat implements pgtype.Codec.
func (MetricCodec) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

// PlanEncode implements pgtype.Codec.
func (MetricCodec) PlanEncode(*pgtype.Map, uint32, int16, any) pgtype.EncodePlan {
	return nil
}

// PlanScan implements pgtype.Codec.
func (MetricCodec) PlanScan(_ *pgtype.Map, _ uint32, format int16, target any) pgtype.ScanPlan {
	if format != pgtype.TextFormatCode {
		return nil
	}
	if _, ok := target.(*monitor.Metric); ok {
		return scanPlanTextMetric{}
	}
	return nil
}

// DecodeDatabaseSQLValue implements pgtype.Codec.
func (MetricCodec) DecodeDatabaseSQLValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}
	return string(src), nil
}

// DecodeValue implements pgtype.Codec.
func (MetricCodec) DecodeValue(_ *pgtype.Map, _ uint32, format int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if format != pgtype.TextFormatCode {
		return nil, fmt.Errorf("%w: unsupported format code %d", monitor.ErrCodec, format)
	}
	return ParseMetricLiteral(string(src))
}

type scanPlanTextMetric struct{}

func (scanPlanTextMetric) Scan(src []byte, target any) error {
	dst, ok := target.(*monitor.Metric)
	if !ok {
		return fmt.Errorf("%w: cannot scan into %T", monitor.ErrCodec, target)
	}
	if src == nil {
		return fmt.Errorf("%w: cannot scan NULL metric", monitor.ErrCodec)
	}
	m, err := ParseMetricLiteral(string(src))
	if err != nil {
		return err
	}
	*dst = m
	return nil
}

// ParseMetricLiteral parses a composite literal such as
// ("2024-01-02 10:00:00+00",1234,200,t). An empty last field is a NULL
// regex check.
func ParseMetricLiteral(s string) (monitor.Metric, error) {
	fields, err := splitComposite(s)
	if err != nil {
		return monitor.Metric{}, err
	}
	if len(fields) != 4 {
		return monitor.Metric{}, codecErr(s, "expected 4 fields, got %d", len(fields))
	}

	ts, err := parseMetricTimestamp(fields[0])
	if err != nil {
		return monitor.Metric{}, codecErr(s, "timestamp: %v", err)
	}
	responseTime, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return monitor.Metric{}, codecErr(s, "response time: %v", err)
	}
	returnCode, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return monitor.Metric{}, codecErr(s, "return code: %v", err)
	}

	var check *bool
	switch fields[3] {
	case "":
	case "t":
		v := true
		check = &v
	case "f":
		v := false
		check = &v
	default:
		return monitor.Metric{}, codecErr(s, "regex check %q", fields[3])
	}

	return monitor.Metric{
		Timestamp:    ts,
		ResponseTime: int32(responseTime),
		ReturnCode:   int32(returnCode),
		RegexCheck:   check,
	}, nil
}

func parseMetricTimestamp(field string) (time.Time, error) {
	var lastErr error
	for _, layout := range metricTimestampLayouts {
		ts, err := time.Parse(layout, field)
		if err == nil {
			return ts.Truncate(time.Second), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// splitComposite splits the body of a record literal into its fields,
// unquoting as it goes. Unquoted empty fields are NULL and come back as "".
func splitComposite(s string) ([]string, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, codecErr(s, "not a record literal")
	}
	body := s[1 : len(s)-1]

	var (
		fields []string
		field  strings.Builder
	)
	for i := 0; i <= len(body); {
		if i == len(body) {
			fields = append(fields, field.String())
			break
		}
		switch c := body[i]; c {
		case ',':
			fields = append(fields, field.String())
			field.Reset()
			i++
		case '"':
			i++
			closed := false
			for i < len(body) && !closed {
				switch body[i] {
				case '\\':
					if i+1 >= len(body) {
						return nil, codecErr(s, "dangling escape")
					}
					field.WriteByte(body[i+1])
					i += 2
				case '"':
					if i+1 < len(body) && body[i+1] == '"' {
						field.WriteByte('"')
						i += 2
						continue
					}
					closed = true
					i++
				default:
					field.WriteByte(body[i])
					i++
				}
			}
			if !closed {
				return nil, codecErr(s, "unterminated quoted field")
			}
		default:
			field.WriteByte(c)
			i++
		}
	}
	return fields, nil
}

func codecErr(literal, format string, args ...any) error {
	return fmt.Errorf("%w: bad metric %q: %s", monitor.ErrCodec, literal, fmt.Sprintf(format, args...))
}

// registerMetricTypes teaches a connection's type map the metric type and its array.
func registerMetricTypes(m *pgtype.Map, oids metricTypeOIDs) {
	elem := &pgtype.Type{Name: "metric", OID: oids.elem, Codec: MetricCodec{}}
	m.RegisterType(elem)
	m.RegisterType(&pgtype.Type{Name: "_metric", OID: oids.array, Codec: &pgtype.ArrayCodec{ElementType: elem}})
}

type metricTypeOIDs struct {
	elem  uint32
	array uint32
}
