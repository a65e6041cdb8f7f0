package crawler

import (
	"context"
	"time"
)

// Repository persists crawler records.
//
// Save is a compare-and-swap: it succeeds only when rec.Version equals the
// stored version, and returns the stored record with Version incremented.
// A mismatch yields ErrVersionConflict, a missing id ErrNotFound.
type Repository interface {
	Exists(ctx context.Context, id string) (bool, error)
	FindByID(ctx context.Context, id string) (Record, error)
	FindAll(ctx context.Context) ([]Record, error)
	// Insert stores a new record and fails with ErrAlreadyExists if the id is taken.
	Insert(ctx context.Context, rec Record) (Record, error)
	Save(ctx context.Context, rec Record) (Record, error)
	// DeleteByID is a no-op for unknown ids.
	DeleteByID(ctx context.Context, id string) error
}

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Keyed payloads expose a routing key publishers may use for ordering.
type Keyed interface {
	Key() string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawler IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
