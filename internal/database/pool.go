package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/metrics"
)

// errPoolClosed is returned by Acquire after Close.
var errPoolClosed = errors.New("connection pool closed")

type pooledConn interface {
	Conn
	Close(ctx context.Context) error
}

// dialFunc opens one ready-to-use connection.
type dialFunc func(ctx context.Context) (pooledConn, error)

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Total   int32
	Idle    int32
	InUse   int32
	Floor   int32
	Ceiling int32
}

// Pool hands out connections and never makes a caller wait: when every
// connection is busy it opens another and lets the GrowthPolicy raise the
// ceiling.
type Pool struct {
	mu     sync.Mutex
	idle   []pooledConn
	total  int32
	inUse  int32
	closed bool

	dial   dialFunc
	policy *GrowthPolicy
	logger *zap.Logger
}

func newPool(dial dialFunc, policy *GrowthPolicy, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{dial: dial, policy: policy, logger: logger}
}

// prewarm opens connections up to the policy floor.
func (p *Pool) prewarm(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.total >= p.policy.Floor() {
			p.mu.Unlock()
			return nil
		}
		p.total++
		p.mu.Unlock()

		conn, err := p.dial(ctx)
		p.mu.Lock()
		if err != nil {
			p.total--
			p.mu.Unlock()
			return fmt.Errorf("open initial connections: %w", err)
		}
		p.idle = append(p.idle, conn)
		p.reportLocked()
		p.mu.Unlock()
	}
}

// Acquire returns an idle connection or opens a new one.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.reportLocked()
		p.mu.Unlock()
		return conn, nil
	}

	growth, err := p.policy.Admit(p.total + 1)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.total++
	p.inUse++
	p.mu.Unlock()

	if growth != nil {
		p.logGrowth(growth)
	}

	conn, err := p.dial(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.total--
		p.inUse--
		return nil, fmt.Errorf("open connection: %w", err)
	}
	p.reportLocked()
	return conn, nil
}

// Release returns a connection to the pool. Connections that report closed,
// and anything released after Close, are closed instead.
func (p *Pool) Release(c Conn) {
	conn, ok := c.(pooledConn)
	if !ok {
		return
	}

	p.mu.Lock()
	p.inUse--
	if p.closed || isClosed(conn) {
		p.total--
		p.reportLocked()
		p.mu.Unlock()
		if err := conn.Close(context.Background()); err != nil {
			p.logger.Debug("close released connection", zap.Error(err))
		}
		return
	}
	p.idle = append(p.idle, conn)
	p.reportLocked()
	p.mu.Unlock()
}

// Close closes every idle connection and refuses further acquisitions.
// Connections still in use are closed when released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.total -= int32(len(idle))
	p.closed = true
	p.reportLocked()
	p.mu.Unlock()

	var errs []error
	for _, conn := range idle {
		if err := conn.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Total:   p.total,
		Idle:    int32(len(p.idle)),
		InUse:   p.inUse,
		Floor:   p.policy.Floor(),
		Ceiling: p.policy.Ceiling(),
	}
}

func (p *Pool) logGrowth(g *Growth) {
	metrics.ObservePoolGrowth(g.To)
	fields := []zap.Field{zap.Int32("from", g.From), zap.Int32("to", g.To)}
	if g.Excessive {
		p.logger.Warn("Connection pool exhausted; ceiling raised past warning threshold", fields...)
		return
	}
	p.logger.Info("Connection pool exhausted; ceiling raised", fields...)
}

func (p *Pool) reportLocked() {
	metrics.SetPoolConnections(p.total, int32(len(p.idle)))
}

func isClosed(conn pooledConn) bool {
	c, ok := conn.(interface{ IsClosed() bool })
	return ok && c.IsClosed()
}
