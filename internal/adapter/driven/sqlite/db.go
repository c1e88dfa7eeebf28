// Package sqlite persists the last known check status per ref so a restarted
// process can show something before its first fetch completes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB provides dual reader/writer database connections with WAL mode enabled.
// The writer connection is limited to a single connection to avoid "database is locked" errors.
// The reader connection pool allows up to 4 concurrent readers.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// NewDB opens the status cache database at dbPath with WAL mode, busy timeout,
// synchronous NORMAL and a 16MB page cache.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-16000)",
		dbPath,
	)

	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}

	reader, err := openPool(ctx, dsn, 4)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: dbPath}, nil
}

func openPool(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	pool.SetMaxOpenConns(maxOpen)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Path returns the database file the DB was opened with.
func (db *DB) Path() string { return db.path }

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
