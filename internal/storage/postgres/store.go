// Package postgres persists the watch list and metric histories in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/database"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// DefaultPageSize is the number of rows fetched per listing round trip.
const DefaultPageSize = 100

const (
	createTableSQL = `CREATE TABLE websites (
	id SERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	regexp TEXT,
	metrics metric[] NOT NULL DEFAULT '{}'
)`
	dropTableSQL = `DROP TABLE websites`
	dropTypeSQL  = `DROP TYPE metric`

	insertEntrySQL = `INSERT INTO websites (url, regexp) VALUES ($1, $2) RETURNING id`
	deleteEntrySQL = `DELETE FROM websites WHERE id = $1`

	listEntriesSQL = `SELECT id, url, regexp FROM websites WHERE id > $1 ORDER BY id LIMIT $2`
	listStatusSQL  = `SELECT id, url, metrics FROM websites WHERE id > $1 ORDER BY id LIMIT $2`
	listStatusByID = `SELECT id, url, metrics FROM websites WHERE id > $1 AND id = ANY($3) ORDER BY id LIMIT $2`

	appendMetricSQL = `UPDATE websites
SET metrics = array_append(metrics, ROW($1::timestamptz, $2::integer, $3::integer, $4::boolean)::metric)
WHERE id = $5`
)

// ConnPool is the subset of database.Manager the store needs.
type ConnPool interface {
	Acquire(ctx context.Context) (database.Conn, error)
	Release(conn database.Conn)
	Reset(ctx context.Context) error
}

// Store implements the watch list and metric history operations. Every
// operation acquires its own connection and releases it before returning, so
// a Store is safe for concurrent use.
type Store struct {
	pool     ConnPool
	pageSize int
	logger   *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs a store on top of pool.
func NewStore(pool ConnPool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &Store{pool: pool, pageSize: DefaultPageSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the metric type and the websites table. Objects that already
// exist are left alone.
func (s *Store) Init(ctx context.Context) error {
	return s.withConn(ctx, func(conn database.Conn) error {
		if _, err := conn.Exec(ctx, database.CreateMetricTypeSQL); err != nil &&
			!database.IsCode(err, database.CodeDuplicateObject, database.CodeUniqueViolation) {
			return classify("create metric type", err)
		}
		if _, err := conn.Exec(ctx, createTableSQL); err != nil &&
			!database.IsCode(err, database.CodeDuplicateTable) {
			return classify("create websites table", err)
		}
		s.logger.Info("Database schema ready")
		return nil
	})
}

// Reset drops the table and the metric type, then resets the pool so no
// connection keeps a stale type registration.
func (s *Store) Reset(ctx context.Context) error {
	err := s.withConn(ctx, func(conn database.Conn) error {
		if _, err := conn.Exec(ctx, dropTableSQL); err != nil &&
			!database.IsCode(err, database.CodeUndefinedTable) {
			return classify("drop websites table", err)
		}
		if _, err := conn.Exec(ctx, dropTypeSQL); err != nil &&
			!database.IsCode(err, database.CodeUndefinedObject) {
			return classify("drop metric type", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.pool.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset connection pool: %w", monitor.ErrStorage, err)
	}
	s.logger.Info("Database schema dropped")
	return nil
}

// AddEntry inserts a watch entry and returns its new identifier.
func (s *Store) AddEntry(ctx context.Context, url string, pattern *string) (int64, error) {
	var id int64
	err := s.withConn(ctx, func(conn database.Conn) error {
		if err := conn.QueryRow(ctx, insertEntrySQL, url, pattern).Scan(&id); err != nil {
			return classify("insert watch entry", err)
		}
		return nil
	})
	return id, err
}

// RemoveEntry deletes a watch entry. Removing an unknown id is not an error.
func (s *Store) RemoveEntry(ctx context.Context, id int64) error {
	return s.withConn(ctx, func(conn database.Conn) error {
		tag, err := conn.Exec(ctx, deleteEntrySQL, id)
		if err != nil {
			return classify("delete watch entry", err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Debug("No watch entry to remove", zap.Int64("id", id))
		}
		return nil
	})
}

// ListEntries yields every watch entry in ascending id order. Rows are fetched
// in pages; each page holds a connection only while it is read. An error ends
// the sequence.
func (s *Store) ListEntries(ctx context.Context) iter.Seq2[monitor.WatchEntry, error] {
	return paginate(ctx, s, func(conn database.Conn, after int64) ([]monitor.WatchEntry, error) {
		rows, err := conn.Query(ctx, listEntriesSQL, after, s.pageSize)
		if err != nil {
			return nil, classify("list watch entries", err)
		}
		defer rows.Close()

		var page []monitor.WatchEntry
		for rows.Next() {
			var e monitor.WatchEntry
			if err := rows.Scan(&e.ID, &e.URL, &e.Regexp); err != nil {
				return nil, classify("scan watch entry", err)
			}
			page = append(page, e)
		}
		if err := rows.Err(); err != nil {
			return nil, classify("list watch entries", err)
		}
		return page, nil
	}, func(e monitor.WatchEntry) int64 { return e.ID })
}

// ListStatus yields entries with their metric history. A nil ids lists every
// entry; otherwise only the given ids are returned.
func (s *Store) ListStatus(ctx context.Context, ids []int64) iter.Seq2[monitor.WatchStatus, error] {
	if ids != nil && len(ids) == 0 {
		return func(func(monitor.WatchStatus, error) bool) {}
	}
	return paginate(ctx, s, func(conn database.Conn, after int64) ([]monitor.WatchStatus, error) {
		query, args := listStatusSQL, []any{after, s.pageSize}
		if ids != nil {
			query, args = listStatusByID, append(args, ids)
		}
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return nil, classify("list status", err)
		}
		defer rows.Close()

		var page []monitor.WatchStatus
		for rows.Next() {
			var st monitor.WatchStatus
			if err := rows.Scan(&st.ID, &st.URL, &st.Metrics); err != nil {
				return nil, classify("scan status", err)
			}
			page = append(page, st)
		}
		if err := rows.Err(); err != nil {
			return nil, classify("list status", err)
		}
		return page, nil
	}, func(st monitor.WatchStatus) int64 { return st.ID })
}

// AppendMetric adds a metric to the end of an entry's history. A missing
// entry is a silent no-op.
func (s *Store) AppendMetric(ctx context.Context, id int64, m monitor.Metric) error {
	return s.withConn(ctx, func(conn database.Conn) error {
		tag, err := conn.Exec(ctx, appendMetricSQL, m.Timestamp, m.ResponseTime, m.ReturnCode, m.RegexCheck, id)
		if err != nil {
			return classify("append metric", err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Debug("Dropping metric for unknown watch entry", zap.Int64("id", id))
		}
		return nil
	})
}

func (s *Store) withConn(ctx context.Context, fn func(database.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", monitor.ErrStorage, err)
	}
	defer s.pool.Release(conn)
	return fn(conn)
}

func paginate[T any](
	ctx context.Context,
	s *Store,
	fetch func(conn database.Conn, after int64) ([]T, error),
	key func(T) int64,
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var after int64
		for {
			var page []T
			err := s.withConn(ctx, func(conn database.Conn) error {
				var err error
				page, err = fetch(conn, after)
				return err
			})
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range page {
				if !yield(item, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = key(page[len(page)-1])
		}
	}
}

// classify keeps server-side SQL errors and codec errors as they are and marks
// everything else, such as broken connections, as a storage failure.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, monitor.ErrCodec) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", monitor.ErrStorage, op, err)
}
