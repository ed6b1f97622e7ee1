package monitor

import (
	"math"
	"time"
)

// Reserved return codes for checks that never produced an HTTP status.
const (
	// CodeTransportFailure marks connection refused, timeouts, DNS and TLS failures.
	CodeTransportFailure = 599
	// CodeLocalFailure marks malformed URLs and other failures before any network attempt.
	CodeLocalFailure = -1
)

// WatchEntry is a monitored URL plus an optional content-match pattern.
type WatchEntry struct {
	ID     int64   `json:"id"`
	URL    string  `json:"url"`
	Regexp *string `json:"regexp"`
}

// Pattern returns the configured regexp or an empty string.
func (e WatchEntry) Pattern() string {
	if e.Regexp == nil {
		return ""
	}
	return *e.Regexp
}

// Metric is one observation produced by a single check attempt.
type Metric struct {
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime int32     `json:"response_time"`
	ReturnCode   int32     `json:"return_code"`
	RegexCheck   *bool     `json:"regex_check"`
}

// NewMetric builds a Metric with the timestamp truncated to whole seconds and
// the response time expressed in non-negative whole microseconds.
// RegexCheck is dropped unless code is 200.
func NewMetric(at time.Time, elapsed time.Duration, code int, check *bool) Metric {
	micros := elapsed.Microseconds()
	switch {
	case micros < 0:
		micros = 0
	case micros > math.MaxInt32:
		micros = math.MaxInt32
	}
	if code != 200 {
		check = nil
	}
	return Metric{
		Timestamp:    at.Truncate(time.Second),
		ResponseTime: int32(micros),
		ReturnCode:   int32(code),
		RegexCheck:   check,
	}
}

// MetricEvent is a Metric addressed to a watch entry; it is what travels on the bus.
type MetricEvent struct {
	URLID int64
	Metric
}

// WatchStatus is a watch entry with its full metric history.
type WatchStatus struct {
	ID      int64    `json:"id"`
	URL     string   `json:"url"`
	Metrics []Metric `json:"metrics"`
}

// Delivery is a MetricEvent received from the bus. Ack must be called once the
// event is durably stored; Nack requests redelivery.
type Delivery struct {
	Event   MetricEvent
	CheckID string
	// Attributes carries bus message metadata such as trace context.
	Attributes map[string]string
	ack        func()
	nack       func()
}

// NewDelivery wraps an event with its acknowledgement callbacks.
func NewDelivery(event MetricEvent, checkID string, ack, nack func()) Delivery {
	return Delivery{Event: event, CheckID: checkID, ack: ack, nack: nack}
}

// Ack acknowledges the delivery.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack asks the bus to redeliver the event.
func (d Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}
