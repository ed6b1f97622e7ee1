// Package lazy provides a value that is built on first use and then shared.
package lazy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// DefaultTimeout bounds how long Get waits to build a value.
const DefaultTimeout = 20 * time.Second

// Value holds a lazily built *T. Once built, Get is a single atomic load.
// Concurrent first callers are serialized; the builder runs at most once per
// successful initialization.
type Value[T any] struct {
	ptr     atomic.Pointer[T]
	sem     chan struct{}
	timeout time.Duration
}

// New returns an empty Value. A non-positive timeout uses DefaultTimeout.
func New[T any](timeout time.Duration) *Value[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Value[T]{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Get returns the value, building it with build if needed. build receives a
// context bounded by the configured timeout. A failed build leaves the Value
// empty so the next caller retries.
func (v *Value[T]) Get(ctx context.Context, build func(context.Context) (*T, error)) (*T, error) {
	if p := v.ptr.Load(); p != nil {
		return p, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	select {
	case v.sem <- struct{}{}:
	case <-initCtx.Done():
		return nil, fmt.Errorf("%w: waited %s for initialization: %w", monitor.ErrResource, v.timeout, initCtx.Err())
	}
	defer func() { <-v.sem }()

	if p := v.ptr.Load(); p != nil {
		return p, nil
	}

	p, err := build(initCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", monitor.ErrResource, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: initializer returned nil", monitor.ErrResource)
	}
	v.ptr.Store(p)
	return p, nil
}

// Load returns the current value without building it.
func (v *Value[T]) Load() *T {
	return v.ptr.Load()
}

// Reset clears the value and returns what was held, if anything.
func (v *Value[T]) Reset() *T {
	return v.ptr.Swap(nil)
}
