// Package grace implements the grace period manager: positions whose score
// drops below threshold decay over a bounded number of days instead of
// closing immediately, with recovery detection.
package grace

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Action classifies the outcome of a grace assessment.
type Action string

const (
	ActionStart      Action = "grace_start"
	ActionDecay      Action = "grace_decay"
	ActionRecovery   Action = "grace_recovery"
	ActionForceClose Action = "force_close"
	ActionHold       Action = "hold"
)

// Position is the per-asset grace record, present while an asset is in grace.
type Position struct {
	StartDate     time.Time `json:"start_date" msgpack:"start_date"`
	OriginalSize  float64   `json:"original_size" msgpack:"original_size"`
	OriginalScore float64   `json:"original_score" msgpack:"original_score"`
	CurrentSize   float64   `json:"current_size" msgpack:"current_size"`
	DaysElapsed   int       `json:"days_elapsed" msgpack:"days_elapsed"`
}

// Assessment is the recommendation for one asset on one rebalance date.
// Assessments are computed read-only; the engine applies them at commit.
type Assessment struct {
	Asset   string
	Action  Action
	NewSize float64
	Reason  string
}

// Config holds grace period tuning.
type Config struct {
	Enabled        bool
	PeriodDays     int
	DecayRate      float64 // per-day multiplicative decay, in (0,1)
	MinDecayFactor float64 // floor as a fraction of the original size
}

// Manager tracks grace state per asset.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu        sync.RWMutex
	positions map[string]Position
}

// NewManager creates a grace period manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log.With().Str("component", "grace_manager").Logger(),
		positions: make(map[string]Position),
	}
}

// Assess computes the grace action for a held asset given its fresh score.
// It does not mutate state; pass the result to Apply during commit.
func (m *Manager) Assess(asset string, score, currentSize, threshold float64, date time.Time) Assessment {
	m.mu.RLock()
	pos, inGrace := m.positions[asset]
	m.mu.RUnlock()

	if !inGrace {
		if score >= threshold || !m.cfg.Enabled {
			return Assessment{Asset: asset, Action: ActionHold, NewSize: currentSize, Reason: "score above threshold"}
		}
		return Assessment{
			Asset:   asset,
			Action:  ActionStart,
			NewSize: currentSize,
			Reason:  fmt.Sprintf("score %.2f below threshold %.2f, starting grace period", score, threshold),
		}
	}

	// Recovery exits grace at the original size
	if score >= threshold {
		return Assessment{
			Asset:   asset,
			Action:  ActionRecovery,
			NewSize: pos.OriginalSize,
			Reason:  fmt.Sprintf("score %.2f recovered above threshold %.2f", score, threshold),
		}
	}

	daysElapsed := daysBetween(pos.StartDate, date)
	if daysElapsed >= m.cfg.PeriodDays {
		return Assessment{
			Asset:   asset,
			Action:  ActionForceClose,
			NewSize: 0,
			Reason:  fmt.Sprintf("grace period expired after %d days", daysElapsed),
		}
	}

	decayed := m.decayedSize(pos, daysElapsed)
	return Assessment{
		Asset:   asset,
		Action:  ActionDecay,
		NewSize: decayed,
		Reason:  fmt.Sprintf("grace decay day %d of %d", daysElapsed, m.cfg.PeriodDays),
	}
}

// decayedSize applies per-day decay with the minimum floor. Size while in
// grace is non-increasing and never below MinDecayFactor * original.
func (m *Manager) decayedSize(pos Position, daysElapsed int) float64 {
	floor := m.cfg.MinDecayFactor * pos.OriginalSize
	size := pos.OriginalSize * math.Pow(m.cfg.DecayRate, float64(daysElapsed))
	return math.Max(floor, size)
}

// Apply commits an assessment, transitioning grace state.
func (m *Manager) Apply(a Assessment, score float64, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch a.Action {
	case ActionStart:
		m.positions[a.Asset] = Position{
			StartDate:     date,
			OriginalSize:  a.NewSize,
			OriginalScore: score,
			CurrentSize:   a.NewSize,
		}
		m.log.Debug().Str("asset", a.Asset).Float64("size", a.NewSize).Msg("Grace period started")
	case ActionDecay:
		pos := m.positions[a.Asset]
		pos.CurrentSize = a.NewSize
		pos.DaysElapsed = daysBetween(pos.StartDate, date)
		m.positions[a.Asset] = pos
	case ActionRecovery, ActionForceClose:
		delete(m.positions, a.Asset)
		m.log.Debug().Str("asset", a.Asset).Str("action", string(a.Action)).Msg("Grace period ended")
	}
}

// ForceCloseDue reports whether the asset's grace period has expired on the
// given date, meaning the position must be closed this rebalance.
func (m *Manager) ForceCloseDue(asset string, date time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[asset]
	if !ok {
		return false
	}
	return daysBetween(pos.StartDate, date) >= m.cfg.PeriodDays
}

// InGrace reports whether the asset has an active grace record.
func (m *Manager) InGrace(asset string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[asset]
	return ok
}

// Get returns the grace record for an asset, if present.
func (m *Manager) Get(asset string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[asset]
	return pos, ok
}

// Drop removes the grace record for an asset (approved close).
func (m *Manager) Drop(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, asset)
}

// Snapshot returns a copy of all grace records.
func (m *Manager) Snapshot() map[string]Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}

// Restore replaces grace state from a snapshot.
func (m *Manager) Restore(positions map[string]Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = make(map[string]Position, len(positions))
	for k, v := range positions {
		m.positions[k] = v
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
