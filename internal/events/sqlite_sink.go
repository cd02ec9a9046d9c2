package events

import (
	"encoding/json"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/rs/zerolog"
)

// SQLiteSink persists events to the append-only event log database. Writes
// happen on a dedicated goroutine behind a bounded queue so the rebalance
// pipeline never blocks on disk; a full queue drops the event with a warning.
type SQLiteSink struct {
	db    *database.DB
	log   zerolog.Logger
	queue chan Event
	done  chan struct{}
}

// NewSQLiteSink creates a sink writing to the given events database and
// starts its writer goroutine.
func NewSQLiteSink(db *database.DB, log zerolog.Logger) *SQLiteSink {
	s := &SQLiteSink{
		db:    db,
		log:   log.With().Str("component", "event_sink").Logger(),
		queue: make(chan Event, 1024),
		done:  make(chan struct{}),
	}
	go s.writer()
	return s
}

// Publish implements Sink. Never blocks.
func (s *SQLiteSink) Publish(event Event) {
	select {
	case s.queue <- event:
	default:
		s.log.Warn().
			Str("event_type", string(event.Type)).
			Str("asset", event.Asset).
			Msg("Event sink queue full, dropping event")
	}
}

// Close drains outstanding events and stops the writer.
func (s *SQLiteSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *SQLiteSink) writer() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.insert(event); err != nil {
			// Sink failures are diagnostic only, never propagated
			s.log.Error().Err(err).
				Str("event_type", string(event.Type)).
				Msg("Failed to persist event")
		}
	}
}

func (s *SQLiteSink) insert(event Event) error {
	metadata := "{}"
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			metadata = string(data)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO events (event_type, timestamp, session_id, trace_id, asset, before_size, after_size, reason, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.Type),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.SessionID,
		event.TraceID,
		event.Asset,
		event.Before,
		event.After,
		event.Reason,
		metadata,
	)
	return err
}

// Recent returns the most recent events, newest first.
func (s *SQLiteSink) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT event_type, timestamp, session_id, trace_id, asset, before_size, after_size, reason, metadata
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var e Event
		var ts, metadata string
		if err := rows.Scan(&e.Type, &ts, &e.SessionID, &e.TraceID, &e.Asset, &e.Before, &e.After, &e.Reason, &metadata); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
