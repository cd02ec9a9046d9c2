// Package events defines the engine's event log surface: event types, an
// asynchronous in-process bus, and a sqlite-backed sink.
package events

import "time"

// EventType identifies the kind of an engine event.
type EventType string

const (
	PositionOpen       EventType = "position_open"
	PositionClose      EventType = "position_close"
	PositionAdjust     EventType = "position_adjust"
	GraceStart         EventType = "grace_start"
	GraceDecay         EventType = "grace_decay"
	GraceRecovery      EventType = "grace_recovery"
	GraceForceClose    EventType = "grace_force_close"
	CoreMarked         EventType = "core_marked"
	CoreRevoked        EventType = "core_revoked"
	CoreExtended       EventType = "core_extended"
	ProtectionDecision EventType = "protection_decision"
	ProtectionError    EventType = "protection_error"
	RebalanceCompleted EventType = "rebalance_completed"
)

// Event is one entry in the engine's event log.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	TraceID   string                 `json:"trace_id"`
	Asset     string                 `json:"asset,omitempty"`
	Before    float64                `json:"before"`
	After     float64                `json:"after"`
	Reason    string                 `json:"reason,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink receives engine events. Publishing must never block the rebalance
// pipeline and sink failures must never fail a rebalance.
type Sink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}
