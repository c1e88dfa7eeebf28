package driven

import (
	"context"

	"github.com/ericfisherdev/checkpulse/internal/domain/model"
)

// StatusCache defines the driven port for the last known aggregate status per
// ref. Entries expire after a TTL chosen by the implementation; expired
// entries read as absent. Writes are last-writer-wins per key.
type StatusCache interface {
	// Get returns the cached status for key, or nil if there is no live entry.
	// Returns model.ErrCorruptCacheEntry (wrapped) if the entry cannot be decoded.
	Get(ctx context.Context, key string) (*model.ChecksStatus, error)
	// Set stores status under key, replacing any previous entry.
	Set(ctx context.Context, key string, status *model.ChecksStatus) error
	// Remove deletes the entry for key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
