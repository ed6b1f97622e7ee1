package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[monitor.WatchEntry](1)
	result := make(chan monitor.WatchEntry, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	entry := monitor.WatchEntry{ID: 1, URL: "https://example.com"}
	if err := q.Enqueue(context.Background(), entry); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.ID != 1 {
			t.Fatalf("expected entry 1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return entry")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](3)
	for i := range 3 {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 buffered items, got %d", q.Len())
	}
	for want := range 3 {
		got, err := q.Dequeue(context.Background())
		if err != nil || got != want {
			t.Fatalf("Dequeue() = %d, %v; want %d", got, err, want)
		}
	}
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	if err := q.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected enqueue to block until deadline, got %v", err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue[int](1)
	if err := qEnqueue.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, 2); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseDrainsBufferedItems(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	for i := range 2 {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	q.Close()
	for want := range 2 {
		got, err := q.Dequeue(context.Background())
		if err != nil || got != want {
			t.Fatalf("Dequeue() = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error after drain, got %v", err)
	}
}

func TestQueueCloseReleasesBlockedProducer(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	if err := q.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(context.Background(), 2) }()

	time.Sleep(10 * time.Millisecond) // allow producer to block
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected blocked enqueue to see close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released by Close")
	}
}

func TestQueueReportsDepth(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](4, WithName("queue-test"))
	if q.Cap() != 4 {
		t.Fatalf("expected capacity 4, got %d", q.Cap())
	}
	for i := range 3 {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	want := `
# HELP wsmonitor_queue_depth Number of items waiting in an in-process work queue, labeled by queue.
# TYPE wsmonitor_queue_depth gauge
wsmonitor_queue_depth{queue="queue-test"} 2
`
	if err := testutil.GatherAndCompare(prometheus.DefaultGatherer, strings.NewReader(want), "wsmonitor_queue_depth"); err != nil {
		t.Fatal(err)
	}
}
