// Package storage provides the per-user query history.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Per-user ordering and locking hidden inside History
package storage

import (
	"context"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

// RecordStore persists query records. Implementations do not order writes
// themselves; History assigns Seq and Timestamp before calling Insert.
type RecordStore interface {
	// Insert appends one record.
	Insert(ctx context.Context, rec model.QueryRecord) error

	// Last returns the newest record for a user, or false if there is none.
	Last(ctx context.Context, userID string) (model.QueryRecord, bool, error)

	// Recent returns at most limit records for a user, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]model.QueryRecord, error)

	// Stats summarises every record for a user.
	Stats(ctx context.Context, userID string) (model.UsageStats, error)

	// Close releases the backend.
	Close() error
}
