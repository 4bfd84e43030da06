package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// OpenDB opens and migrates the post store. driver is "postgres" or
// "sqlite"; dsn is a connection URI or a file path respectively.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	var dialect Dialect
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		dialect = DialectPostgres
	case "", "sqlite", "sqlite3":
		dialect = DialectSQLite
	default:
		return nil, "", fmt.Errorf("unknown database driver: %s", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, "", errors.New("database dsn is required")
	}

	if dialect == DialectSQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, "", err
		}
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectSQLite {
		// Writes are serialized by a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("database is unreachable: %w", err)
	}

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, dialect, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
