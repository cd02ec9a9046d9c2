// Package whipsaw implements whipsaw protection: rapid open/close cycling is
// throttled by counting completed cycles in a rolling window and by a
// minimum position duration before close.
package whipsaw

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/history"
	"github.com/rs/zerolog"
)

// Config holds whipsaw protection tuning.
type Config struct {
	Enabled             bool
	MaxCyclesPerPeriod  int
	ProtectionDays      int
	MinPositionDuration time.Duration
}

// Verdict is the outcome of a can-open or can-close query.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Manager answers open/close admissibility questions against the position
// event history. The manager itself is stateless: history mutations happen
// through the engine's commit phase, so a rejected action never counts.
type Manager struct {
	cfg     Config
	history *history.Store
	log     zerolog.Logger
}

// NewManager creates a whipsaw protection manager over the given history.
func NewManager(cfg Config, hist *history.Store, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		history: hist,
		log:     log.With().Str("component", "whipsaw_manager").Logger(),
	}
}

// CanOpen reports whether a new open for the asset is permitted on the date.
// Allowed iff completed cycles with close >= date - ProtectionDays stay
// below MaxCyclesPerPeriod.
func (m *Manager) CanOpen(asset string, date time.Time) Verdict {
	if !m.cfg.Enabled {
		return Verdict{Allowed: true, Reason: "whipsaw protection disabled"}
	}

	cutoff := date.AddDate(0, 0, -m.cfg.ProtectionDays)
	cycles := m.history.CompletedCyclesSince(asset, cutoff)
	if cycles >= m.cfg.MaxCyclesPerPeriod {
		return Verdict{
			Allowed: false,
			Reason: fmt.Sprintf("%d completed cycles in last %dd (max %d)",
				cycles, m.cfg.ProtectionDays, m.cfg.MaxCyclesPerPeriod),
		}
	}
	return Verdict{Allowed: true, Reason: "cycle count within limit"}
}

// CanClose reports whether closing the position is permitted on the date.
// Allowed iff the position has been open at least MinPositionDuration.
func (m *Manager) CanClose(asset string, date time.Time) Verdict {
	if !m.cfg.Enabled {
		return Verdict{Allowed: true, Reason: "whipsaw protection disabled"}
	}

	openedAt, open := m.history.LastOpen(asset)
	if !open {
		// No recorded open; nothing to throttle
		return Verdict{Allowed: true, Reason: "no open on record"}
	}

	held := date.Sub(openedAt)
	if held < m.cfg.MinPositionDuration {
		return Verdict{
			Allowed: false,
			Reason: fmt.Sprintf("position held %s, below minimum %s",
				held.Round(time.Minute), m.cfg.MinPositionDuration),
		}
	}
	return Verdict{Allowed: true, Reason: "minimum duration satisfied"}
}
