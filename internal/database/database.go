// Package database owns the PostgreSQL connection pool and the codec for the
// metric composite type. Connections are created lazily, the pool grows under
// demand, and every connection knows how to decode metric values.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the storage layer tolerates.
const (
	CodeDuplicateObject = "42710"
	CodeDuplicateTable  = "42P07"
	CodeUndefinedObject = "42704"
	CodeUndefinedTable  = "42P01"
	CodeUniqueViolation = "23505"
)

// CreateMetricTypeSQL declares the composite type stored in websites.metrics.
const CreateMetricTypeSQL = `CREATE TYPE metric AS (
	time_stamp TIMESTAMP(0) WITH TIME ZONE,
	response_time INTEGER,
	return_code INTEGER,
	regex_check BOOLEAN
)`

// Conn is the query surface shared by *pgx.Conn and pgxmock.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config describes how to reach the database and size the pool.
type Config struct {
	// DSN overrides the discrete connection fields when set.
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// MinConns is the number of connections opened when the pool is created.
	MinConns int32
	// MaxConns caps pool growth. Zero leaves growth unbounded.
	MaxConns int32
	// GrowthWarnThreshold is the ceiling above which growth is logged at warn level.
	GrowthWarnThreshold int32
	// InitTimeout bounds lazy pool creation.
	InitTimeout time.Duration
}

// ConnString renders the configuration as a postgres:// URL.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	return u.String()
}

// IsCode reports whether err carries one of the given SQLSTATE codes.
func IsCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, code := range codes {
		if pgErr.Code == code {
			return true
		}
	}
	return false
}
