// Package protection implements the decision authority that governs all
// position mutations: four lifecycle protection managers consulted by a
// single orchestrator in fixed priority order.
package protection

import (
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// System names used in decision records and events.
const (
	SystemCore    = "core_immunity"
	SystemRegime  = "regime_override"
	SystemGrace   = "grace_period"
	SystemHolding = "holding_period"
	SystemWhipsaw = "whipsaw"
)

// Request describes one proposed position mutation awaiting approval.
type Request struct {
	Asset       string
	Action      domain.Action
	Date        time.Time
	CurrentSize float64
	TargetSize  float64
	Reason      string
	Regime      domain.Regime
}

// Result is a single manager's verdict on a request.
type Result struct {
	Allowed bool
	Reason  string

	// Override marks an allowance that supersedes all lower-priority
	// systems for this request.
	Override bool
}

// Manager is the uniform capability every protection system implements. The
// orchestrator holds managers in a fixed ordered list; adding a protection
// means implementing this and inserting it at the correct priority.
type Manager interface {
	// Name identifies the system in decision records.
	Name() string

	// Evaluate returns the manager's verdict. Evaluate must be read-only:
	// state mutations happen only in the engine's commit phase. A returned
	// error is treated by the orchestrator as a conservative denial.
	Evaluate(req Request) (Result, error)
}

// Decision is the orchestrator's final verdict on a request.
type Decision struct {
	Approved         bool          `json:"approved"`
	Reason           string        `json:"reason"`
	BlockingSystems  []string      `json:"blocking_systems,omitempty"`
	ConsultedSystems []string      `json:"consulted_systems"`
	OverridingSystem string        `json:"overriding_system,omitempty"`
	Timing           time.Duration `json:"timing_ms"`
}
