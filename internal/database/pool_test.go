package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
	broken bool
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) IsClosed() bool { return c.broken || c.closed.Load() }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) dial(context.Context) (pooledConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{id: len(d.conns) + 1}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func TestPoolPrewarmOpensFloor(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newPool(d.dial, NewGrowthPolicy(2, 0, 0), zap.NewNop())
	require.NoError(t, p.prewarm(context.Background()))

	assert.Equal(t, 2, d.count())
	assert.Equal(t, PoolStats{Total: 2, Idle: 2, Floor: 2, Ceiling: 2}, p.Stats())
}

func TestPoolGrowsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newPool(d.dial, NewGrowthPolicy(2, 0, 0), zap.NewNop())
	require.NoError(t, p.prewarm(context.Background()))

	var held []Conn
	for range 5 {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, c)
	}

	stats := p.Stats()
	assert.Equal(t, int32(5), stats.Total)
	assert.Equal(t, int32(5), stats.InUse)
	assert.Equal(t, int32(5), stats.Ceiling)
	assert.Equal(t, int32(5), stats.Floor)

	for _, c := range held {
		p.Release(c)
	}
	stats = p.Stats()
	assert.Equal(t, int32(5), stats.Idle)
	assert.Equal(t, int32(5), stats.Ceiling, "ceiling never shrinks")

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, d.count(), "idle connections are reused")
}

func TestPoolHardCap(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newPool(d.dial, NewGrowthPolicy(1, 2, 0), zap.NewNop())

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, monitor.ErrResource)
	assert.Equal(t, int32(2), p.Stats().Total)
}

func TestPoolDialFailureRestoresCounters(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	d := &fakeDialer{err: boom}
	p := newPool(d.dial, NewGrowthPolicy(1, 0, 0), zap.NewNop())

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, boom)
	stats := p.Stats()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.InUse)

	require.ErrorIs(t, p.prewarm(context.Background()), boom)
}

func TestPoolDropsBrokenConnections(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newPool(d.dial, NewGrowthPolicy(1, 0, 0), zap.NewNop())

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.(*fakeConn).broken = true
	p.Release(c)

	stats := p.Stats()
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Idle)
}

func TestPoolClose(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	p := newPool(d.dial, NewGrowthPolicy(2, 0, 0), zap.NewNop())
	require.NoError(t, p.prewarm(context.Background()))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	for _, c := range d.conns {
		if c != held {
			assert.True(t, c.closed.Load())
		}
	}
	assert.False(t, held.(*fakeConn).closed.Load())

	p.Release(held)
	assert.True(t, held.(*fakeConn).closed.Load(), "connections released after close are closed")

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, errPoolClosed)
}

func TestGrowthPolicy(t *testing.T) {
	t.Parallel()

	p := NewGrowthPolicy(0, 0, 3)
	assert.Equal(t, int32(1), p.Floor())

	g, err := p.Admit(1)
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = p.Admit(3)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, Growth{From: 1, To: 3}, *g)

	g, err = p.Admit(4)
	require.NoError(t, err)
	assert.True(t, g.Excessive)
	assert.Equal(t, int32(4), p.Ceiling())
	assert.Equal(t, int32(4), p.Floor())

	excessive := 0
	for demand := int32(5); demand <= 8; demand++ {
		g, err = p.Admit(demand)
		require.NoError(t, err)
		require.NotNil(t, g)
		if g.Excessive {
			excessive++
		}
	}
	assert.Zero(t, excessive)
	assert.Equal(t, int32(8), p.Ceiling())
}

func TestGrowthPolicyWarnsOnceAcrossThreshold(t *testing.T) {
	t.Parallel()

	p := NewGrowthPolicy(3, 0, 3)
	excessive := 0
	for demand := int32(4); demand <= 8; demand++ {
		g, err := p.Admit(demand)
		require.NoError(t, err)
		require.NotNil(t, g)
		if g.Excessive {
			excessive++
		}
	}
	assert.Equal(t, 1, excessive)
}
