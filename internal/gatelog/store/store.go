package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

// Header is the fixed first row of the access log.
var Header = []string{"Date", "Time", "User", "Card_ID"}

// LogStore is an append-only sink for accepted LOG events.
type LogStore interface {
	// EnsureInitialized prepares the store. It must never discard
	// previously written records.
	EnsureInitialized(ctx context.Context) error
	Append(ctx context.Context, rec types.LogRecord) error
}

// AuditStore is the queryable mirror of the access log.
type AuditStore interface {
	LogStore
	ListRecent(ctx context.Context, limit int) ([]types.LogRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
