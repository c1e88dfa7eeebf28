package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it cannot be misread as DSN query parameters.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", safeName)

	ctx := context.Background()
	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		t.Fatalf("open test db writer: %v", err)
	}
	reader, err := openPool(ctx, dsn, 4)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("open test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// testClock is a settable time source for expiry tests.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
