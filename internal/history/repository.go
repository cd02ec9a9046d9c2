package history

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists position events to the history database so lifecycle
// state survives across backtest sessions.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a position event repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "position_events").Logger(),
	}
}

// Append inserts one position event.
func (r *Repository) Append(event domain.PositionEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO position_events (asset, event_type, timestamp, size, reason)
		VALUES (?, ?, ?, ?, ?)`,
		event.Asset,
		string(event.Type),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Size,
		event.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position event: %w", err)
	}
	return nil
}

// LoadAll returns all stored position events ordered by timestamp.
func (r *Repository) LoadAll() ([]domain.PositionEvent, error) {
	rows, err := r.db.Query(`
		SELECT asset, event_type, timestamp, size, reason
		FROM position_events ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query position events: %w", err)
	}
	defer rows.Close()

	var result []domain.PositionEvent
	for rows.Next() {
		var e domain.PositionEvent
		var eventType, ts string
		if err := rows.Scan(&e.Asset, &eventType, &ts, &e.Size, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan position event: %w", err)
		}
		e.Type = domain.PositionEventType(eventType)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			r.log.Warn().Str("timestamp", ts).Msg("Skipping position event with bad timestamp")
			continue
		}
		e.Timestamp = parsed
		result = append(result, e)
	}
	return result, rows.Err()
}

// Prune deletes events older than the cutoff.
func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM position_events WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune position events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Debug().Int64("pruned", n).Time("cutoff", cutoff).Msg("Pruned position events")
	}
	return n, nil
}
