package database

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestConfigConnString(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "db", Port: 5433, Name: "monitor", User: "svc", Password: "p@ss word"}
	assert.Equal(t, "postgres://svc:p%40ss%20word@db:5433/monitor?sslmode=prefer", cfg.ConnString())

	cfg = Config{Name: "monitor", SSLMode: "disable"}
	assert.Equal(t, "postgres://localhost:5432/monitor?sslmode=disable", cfg.ConnString())

	cfg = Config{DSN: "postgres://elsewhere/db", Host: "ignored"}
	assert.Equal(t, "postgres://elsewhere/db", cfg.ConnString())
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	err := errors.Join(errors.New("context"), &pgconn.PgError{Code: CodeDuplicateObject})
	assert.True(t, IsCode(err, CodeDuplicateTable, CodeDuplicateObject))
	assert.False(t, IsCode(err, CodeUndefinedTable))
	assert.False(t, IsCode(errors.New("plain"), CodeDuplicateObject))
}
