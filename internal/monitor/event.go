package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// MarshalJSON encodes the event as
// [url_id, timestamp, response_time, return_code, regex_check].
func (e MetricEvent) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal([]any{
		e.URLID,
		e.Timestamp.Truncate(time.Second).Format(time.RFC3339),
		e.ResponseTime,
		e.ReturnCode,
		e.RegexCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metric event: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes the positional form written by MarshalJSON.
func (e *MetricEvent) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode metric event: %w", err)
	}
	if len(fields) != 5 {
		return fmt.Errorf("decode metric event: got %d fields, want 5", len(fields))
	}

	var (
		out MetricEvent
		ts  string
	)
	targets := []any{&out.URLID, &ts, &out.ResponseTime, &out.ReturnCode, &out.RegexCheck}
	for i, target := range targets {
		if err := json.Unmarshal(fields[i], target); err != nil {
			return fmt.Errorf("decode metric event field %d: %w", i, err)
		}
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return fmt.Errorf("decode metric event timestamp: %w", err)
	}
	out.Timestamp = parsed.Truncate(time.Second)
	*e = out
	return nil
}
