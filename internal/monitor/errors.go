package monitor

import "errors"

// Error classes surfaced by the storage and bus layers. Callers match them
// with errors.Is; concrete causes are wrapped alongside.
var (
	// ErrResource signals a pool or client that could not be created in time or at all.
	ErrResource = errors.New("resource unavailable")
	// ErrStorage signals a connection-level storage failure.
	ErrStorage = errors.New("storage failure")
	// ErrCodec signals a malformed composite metric literal read from storage.
	ErrCodec = errors.New("metric codec")
	// ErrBus signals a topic provisioning, publish or subscribe failure.
	ErrBus = errors.New("message bus failure")
	// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)
