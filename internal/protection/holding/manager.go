// Package holding implements the holding period manager: minimum and maximum
// hold enforcement per position, with regime-severity-based overrides.
package holding

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// PositionAge is the per-asset holding record. Inserted on first open,
// updated on adjust, cleared on close.
type PositionAge struct {
	EntryDate       time.Time `json:"entry_date" msgpack:"entry_date"`
	EntrySize       float64   `json:"entry_size" msgpack:"entry_size"`
	LastAdjustment  time.Time `json:"last_adjustment" msgpack:"last_adjustment"`
	AdjustmentCount int       `json:"adjustment_count" msgpack:"adjustment_count"`
}

// Config holds holding period tuning.
type Config struct {
	MinHoldingDays        int
	MaxHoldingDays        int
	EnableRegimeOverrides bool
	OverrideCooldownDays  int
	SeverityThreshold     domain.RegimeSeverity
}

// Verdict is the outcome of a can-adjust query.
type Verdict struct {
	Allowed        bool
	Reason         string
	ViaOverride    bool // allowed only because of a regime override
	MaxAgeExceeded bool // position is past max hold, flag for forced review
}

// Manager tracks position ages and regime override cooldowns per asset.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu            sync.RWMutex
	ages          map[string]PositionAge
	lastOverrides map[string]time.Time
}

// NewManager creates a holding period manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		log:           log.With().Str("component", "holding_manager").Logger(),
		ages:          make(map[string]PositionAge),
		lastOverrides: make(map[string]time.Time),
	}
}

// CanAdjust reports whether the given adjustment is permitted on the date.
// Read-only; override timestamps are recorded at commit via RecordOverride.
func (m *Manager) CanAdjust(asset string, date time.Time, action domain.Action, regime domain.Regime) Verdict {
	m.mu.RLock()
	age, exists := m.ages[asset]
	m.mu.RUnlock()

	// New opens have no record and are always allowed
	if !exists {
		return Verdict{Allowed: true, Reason: "no holding record"}
	}

	ageDays := daysBetween(age.EntryDate, date)

	if m.cfg.MaxHoldingDays > 0 && ageDays >= m.cfg.MaxHoldingDays {
		return Verdict{
			Allowed:        true,
			MaxAgeExceeded: true,
			Reason:         fmt.Sprintf("position age %dd at or past max hold %dd, forced review", ageDays, m.cfg.MaxHoldingDays),
		}
	}

	reducing := action == domain.ActionClose || action == domain.ActionDecrease
	if reducing && ageDays < m.cfg.MinHoldingDays {
		if m.overrideEligible(asset, date, regime) {
			return Verdict{
				Allowed:     true,
				ViaOverride: true,
				Reason: fmt.Sprintf("min hold %dd bypassed by %s regime override",
					m.cfg.MinHoldingDays, regime.Severity),
			}
		}
		return Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("position age %dd below min hold %dd", ageDays, m.cfg.MinHoldingDays),
		}
	}

	return Verdict{Allowed: true, Reason: "holding constraints satisfied"}
}

// OverrideEligible reports whether a regime override may bypass protections
// for the asset on the date: overrides enabled, severity at threshold, and
// the per-asset cooldown elapsed.
func (m *Manager) OverrideEligible(asset string, date time.Time, regime domain.Regime) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overrideEligible(asset, date, regime)
}

// overrideEligible requires m.mu held (read).
func (m *Manager) overrideEligible(asset string, date time.Time, regime domain.Regime) bool {
	if !m.cfg.EnableRegimeOverrides {
		return false
	}
	if !regime.Severity.AtLeast(m.cfg.SeverityThreshold) {
		return false
	}
	last, ok := m.lastOverrides[asset]
	if !ok {
		return true
	}
	return daysBetween(last, date) >= m.cfg.OverrideCooldownDays
}

// RecordOverride stores the override timestamp for cooldown tracking.
// Called at commit for approved override-based actions.
func (m *Manager) RecordOverride(asset string, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOverrides[asset] = date
	m.log.Info().Str("asset", asset).Time("date", date).Msg("Regime override recorded")
}

// RecordOpen inserts the holding record for a newly opened position.
func (m *Manager) RecordOpen(asset string, date time.Time, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ages[asset] = PositionAge{
		EntryDate:      date,
		EntrySize:      size,
		LastAdjustment: date,
	}
}

// RecordAdjust updates the holding record for an adjusted position.
func (m *Manager) RecordAdjust(asset string, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	age, ok := m.ages[asset]
	if !ok {
		return
	}
	age.LastAdjustment = date
	age.AdjustmentCount++
	m.ages[asset] = age
}

// RecordClose clears the holding record for a closed position.
func (m *Manager) RecordClose(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ages, asset)
}

// Age returns the position age in days, and whether a record exists.
func (m *Manager) Age(asset string, date time.Time) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	age, ok := m.ages[asset]
	if !ok {
		return 0, false
	}
	return daysBetween(age.EntryDate, date), true
}

// Snapshot returns copies of holding records and override timestamps.
func (m *Manager) Snapshot() (map[string]PositionAge, map[string]time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ages := make(map[string]PositionAge, len(m.ages))
	for k, v := range m.ages {
		ages[k] = v
	}
	overrides := make(map[string]time.Time, len(m.lastOverrides))
	for k, v := range m.lastOverrides {
		overrides[k] = v
	}
	return ages, overrides
}

// Restore replaces holding state from a snapshot.
func (m *Manager) Restore(ages map[string]PositionAge, overrides map[string]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ages = make(map[string]PositionAge, len(ages))
	for k, v := range ages {
		m.ages[k] = v
	}
	m.lastOverrides = make(map[string]time.Time, len(overrides))
	for k, v := range overrides {
		m.lastOverrides[k] = v
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
