package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/gatelog/internal/db"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

var _ store.AuditStore = (*AccessEventStore)(nil)

// AccessEventStore mirrors the CSV access log into SQLite so it can be
// queried and pruned. Writes go through the shared single-writer worker.
type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	device string
}

// NewAccessEventStore returns a store that tags every row with device.
func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker, device string) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer, device: device}
}

// EnsureInitialized is a no-op; the schema is owned by db.Migrate.
func (s *AccessEventStore) EnsureInitialized(_ context.Context) error { return nil }

func (s *AccessEventStore) Append(ctx context.Context, rec types.LogRecord) error {
	if rec.LoggedAt.IsZero() {
		rec.LoggedAt = time.Now()
	}
	loggedMs := rec.LoggedAt.UTC().UnixMilli()

	var device any
	if s.device != "" {
		device = s.device
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  logged_at_ms, log_date, log_time, user_id, card_id, device
) VALUES (?, ?, ?, ?, ?, ?);
`, loggedMs, rec.Date, rec.Time, rec.User, rec.CardID, device); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

// ListRecent returns up to limit rows, newest first.
func (s *AccessEventStore) ListRecent(ctx context.Context, limit int) ([]types.LogRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT logged_at_ms, log_date, log_time, user_id, card_id
FROM access_events
ORDER BY logged_at_ms DESC, event_id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: %w", err)
	}
	defer rows.Close()

	var out []types.LogRecord
	for rows.Next() {
		var (
			rec      types.LogRecord
			loggedMs int64
		)
		if err := rows.Scan(&loggedMs, &rec.Date, &rec.Time, &rec.User, &rec.CardID); err != nil {
			return nil, fmt.Errorf("ListRecent scan: %w", err)
		}
		rec.LoggedAt = time.UnixMilli(loggedMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecent rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes rows logged before cutoff and returns how many
// were removed. Uses idx_access_events_time.
func (s *AccessEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM access_events
WHERE logged_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// Count returns the number of mirrored rows.
func (s *AccessEventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_events;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}
