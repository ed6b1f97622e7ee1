package poller

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
	"github.com/JakeFAU/wsmonitor/internal/queue/memory"
)

type fakeLister struct {
	entries []monitor.WatchEntry
	failAt  int // cycle number that errors, 0 for never
	cycles  atomic.Int32
}

func (l *fakeLister) ListEntries(context.Context) iter.Seq2[monitor.WatchEntry, error] {
	cycle := int(l.cycles.Add(1))
	return func(yield func(monitor.WatchEntry, error) bool) {
		if cycle == l.failAt {
			yield(monitor.WatchEntry{}, errors.New("database unavailable"))
			return
		}
		for _, e := range l.entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	items []monitor.WatchEntry
}

func (q *recordingQueue) Enqueue(_ context.Context, e monitor.WatchEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func TestPollerDispatchesEveryEntryEachCycle(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{entries: []monitor.WatchEntry{{ID: 1}, {ID: 2}, {ID: 3}}}
	queue := &recordingQueue{}
	p := New(lister, queue, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.len() >= 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, []int64{queue.items[0].ID, queue.items[1].ID, queue.items[2].ID})
	assert.Equal(t, StateIdle, p.State())
}

func TestPollerContinuesAfterListingError(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{entries: []monitor.WatchEntry{{ID: 1}}, failAt: 1}
	queue := &recordingQueue{}
	p := New(lister, queue, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.len() >= 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, lister.cycles.Load(), int32(2))
}

func TestPollerWaitsForPeriod(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{entries: []monitor.WatchEntry{{ID: 1}}}
	queue := &recordingQueue{}
	p := New(lister, queue, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, queue.len(), "no second cycle before the period elapses")
}

func TestPollerBlocksOnFullQueue(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{entries: []monitor.WatchEntry{{ID: 1}, {ID: 2}, {ID: 3}}}
	queue := memory.NewQueue[monitor.WatchEntry](1)
	p := New(lister, queue, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.State() == StateDispatching && queue.Len() == 1 },
		time.Second, 5*time.Millisecond)

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop while blocked on a full queue")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
}
