package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/lazy"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

const lookupMetricTypeSQL = `SELECT oid, typarray FROM pg_type WHERE typname = 'metric'`

// Manager lazily creates the process-wide Pool on first Acquire and prepares
// every new connection to decode metric values.
type Manager struct {
	cfg     Config
	connCfg *pgx.ConnConfig
	logger  *zap.Logger

	pool *lazy.Value[Pool]

	typesMu sync.Mutex
	types   atomic.Pointer[metricTypeOIDs]

	connect func(ctx context.Context) (pooledConn, error)
}

// NewManager validates the connection settings without connecting.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connCfg, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MinConns < 1 {
		cfg.MinConns = 2
	}
	m := &Manager{
		cfg:     cfg,
		connCfg: connCfg,
		logger:  logger,
		pool:    lazy.New[Pool](cfg.InitTimeout),
	}
	m.connect = m.dialPostgres
	return m, nil
}

// Acquire returns a connection, creating the pool on first use. Failure to
// create the pool in time, or to open a connection, is an ErrResource.
func (m *Manager) Acquire(ctx context.Context) (Conn, error) {
	pool, err := m.pool.Get(ctx, m.newPool)
	if err != nil {
		return nil, fmt.Errorf("initialize connection pool: %w", err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", monitor.ErrResource, err)
	}
	return conn, nil
}

// Release hands a connection back to the pool.
func (m *Manager) Release(conn Conn) {
	if conn == nil {
		return
	}
	if pool := m.pool.Load(); pool != nil {
		pool.Release(conn)
		return
	}
	if c, ok := conn.(pooledConn); ok {
		_ = c.Close(context.Background())
	}
}

// Reset closes the pool and forgets the cached metric type identifiers so
// the next Acquire starts from scratch. Not safe while connections are in use.
func (m *Manager) Reset(ctx context.Context) error {
	m.types.Store(nil)
	pool := m.pool.Reset()
	if pool == nil {
		return nil
	}
	if err := pool.Close(ctx); err != nil {
		return fmt.Errorf("close connection pool: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (m *Manager) Close(ctx context.Context) error {
	return m.Reset(ctx)
}

// Stats reports pool counters; the zero value means the pool does not exist yet.
func (m *Manager) Stats() PoolStats {
	if pool := m.pool.Load(); pool != nil {
		return pool.Stats()
	}
	return PoolStats{}
}

func (m *Manager) newPool(ctx context.Context) (*Pool, error) {
	policy := NewGrowthPolicy(m.cfg.MinConns, m.cfg.MaxConns, m.cfg.GrowthWarnThreshold)
	pool := newPool(m.connect, policy, m.logger)
	if err := pool.prewarm(ctx); err != nil {
		_ = pool.Close(context.Background())
		return nil, err
	}
	m.logger.Info("Database connection pool ready",
		zap.String("host", m.connCfg.Host),
		zap.String("database", m.connCfg.Database),
		zap.Int32("connections", policy.Floor()),
	)
	return pool, nil
}

func (m *Manager) dialPostgres(ctx context.Context) (pooledConn, error) {
	conn, err := pgx.ConnectConfig(ctx, m.connCfg.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	oids, err := m.metricTypes(ctx, conn)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	registerMetricTypes(conn.TypeMap(), oids)
	return conn, nil
}

// metricTypes resolves the metric type identifiers once, creating the type
// if it does not exist yet.
func (m *Manager) metricTypes(ctx context.Context, conn Conn) (metricTypeOIDs, error) {
	if t := m.types.Load(); t != nil {
		return *t, nil
	}
	m.typesMu.Lock()
	defer m.typesMu.Unlock()
	if t := m.types.Load(); t != nil {
		return *t, nil
	}

	if _, err := conn.Exec(ctx, CreateMetricTypeSQL); err != nil &&
		!IsCode(err, CodeDuplicateObject, CodeUniqueViolation) {
		return metricTypeOIDs{}, fmt.Errorf("create metric type: %w", err)
	}
	var oids metricTypeOIDs
	if err := conn.QueryRow(ctx, lookupMetricTypeSQL).Scan(&oids.elem, &oids.array); err != nil {
		return metricTypeOIDs{}, fmt.Errorf("look up metric type: %w", err)
	}
	m.types.Store(&oids)
	m.logger.Debug("Resolved metric type",
		zap.Uint32("oid", oids.elem), zap.Uint32("array_oid", oids.array))
	return oids, nil
}
