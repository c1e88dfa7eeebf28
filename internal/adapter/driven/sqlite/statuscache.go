package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StatusCache = (*StatusCacheRepo)(nil)

// DefaultCacheTTL is how long a cached status is served before it counts as
// a miss.
const DefaultCacheTTL = 2 * time.Hour

// timeLayout is fixed width so updated_at compares correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// StatusCacheRepo is the SQLite implementation of the StatusCache port. Each
// row holds one ChecksStatus as JSON under its "owner/repo@ref" key.
type StatusCacheRepo struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// StatusCacheOption customizes a StatusCacheRepo.
type StatusCacheOption func(*StatusCacheRepo)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) StatusCacheOption {
	return func(r *StatusCacheRepo) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithNow replaces the time source used for expiry.
func WithNow(now func() time.Time) StatusCacheOption {
	return func(r *StatusCacheRepo) { r.now = now }
}

// NewStatusCacheRepo creates a StatusCacheRepo backed by the given DB.
func NewStatusCacheRepo(db *DB, opts ...StatusCacheOption) *StatusCacheRepo {
	r := &StatusCacheRepo{db: db, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached status for key, or nil on a miss or an expired
// entry. An entry that cannot be decoded yields an error wrapping
// model.ErrCorruptCacheEntry.
func (r *StatusCacheRepo) Get(ctx context.Context, key string) (*model.ChecksStatus, error) {
	const query = `SELECT payload, updated_at FROM status_cache WHERE cache_key = ?`

	var payload, updatedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached status %q: %w", key, err)
	}

	stored, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: updated_at: %v", model.ErrCorruptCacheEntry, key, err)
	}
	if r.now().Sub(stored) > r.ttl {
		return nil, nil
	}

	var status model.ChecksStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", model.ErrCorruptCacheEntry, key, err)
	}
	if status.FailedChecks == nil {
		status.FailedChecks = []string{}
	}

	return &status, nil
}

// Set stores status under key, replacing any previous entry.
func (r *StatusCacheRepo) Set(ctx context.Context, key string, status *model.ChecksStatus) error {
	if status == nil {
		return r.Remove(ctx, key)
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status %q: %w", key, err)
	}

	const query = `
		INSERT INTO status_cache (cache_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, key, string(payload), formatTime(r.now())); err != nil {
		return fmt.Errorf("set cached status %q: %w", key, err)
	}
	return nil
}

// Remove deletes the entry for key. Removing a missing key is not an error.
func (r *StatusCacheRepo) Remove(ctx context.Context, key string) error {
	const query = `DELETE FROM status_cache WHERE cache_key = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("remove cached status %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every entry older than the TTL and returns how many
// were removed.
func (r *StatusCacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM status_cache WHERE updated_at < ?`

	cutoff := formatTime(r.now().Add(-r.ttl))
	res, err := r.db.Writer.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired statuses: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired statuses: rows affected: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
