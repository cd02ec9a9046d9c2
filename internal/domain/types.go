// Package domain contains the core types shared across the rebalancing engine.
package domain

import "time"

// Priority classifies how an asset entered the candidate universe.
// Higher priorities win when an asset qualifies through multiple channels.
type Priority string

const (
	PriorityPortfolio Priority = "portfolio" // currently held
	PriorityTrending  Priority = "trending"  // surfaced by the trending scanner
	PriorityRegime    Priority = "regime"    // member of a regime-preferred bucket
	PriorityFallback  Priority = "fallback"
)

// Rank returns the ordering value of a priority (lower = stronger).
func (p Priority) Rank() int {
	switch p {
	case PriorityPortfolio:
		return 0
	case PriorityTrending:
		return 1
	case PriorityRegime:
		return 2
	default:
		return 3
	}
}

// Action is the position mutation derived for a rebalancing target.
type Action string

const (
	ActionOpen     Action = "open"
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
	ActionClose    Action = "close"
	ActionHold     Action = "hold"
)

// Mutating reports whether the action changes a position and therefore
// requires protection orchestrator approval.
func (a Action) Mutating() bool {
	return a == ActionOpen || a == ActionIncrease || a == ActionDecrease || a == ActionClose
}

// RegimeSeverity tags how forcefully the current regime should be allowed
// to override position protections.
type RegimeSeverity string

const (
	SeverityNormal   RegimeSeverity = "normal"
	SeverityHigh     RegimeSeverity = "high"
	SeverityCritical RegimeSeverity = "critical"
)

// Rank returns the ordering value of a severity (higher = more severe).
func (s RegimeSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityHigh:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s RegimeSeverity) AtLeast(other RegimeSeverity) bool {
	return s.Rank() >= other.Rank()
}

// Regime is the macro market classification supplied by the regime provider.
type Regime struct {
	Name             string         `json:"name"` // e.g. Goldilocks, Reflation, Inflation, Deflation
	Confidence       float64        `json:"confidence"`
	Severity         RegimeSeverity `json:"severity"`
	PreferredBuckets []string       `json:"preferred_buckets"`
}

// UnknownBucket is the reserved bucket for unclassified assets.
const UnknownBucket = "Unknown"

// CashAsset is the synthetic identifier used for residual cash targets.
const CashAsset = "CASH"

// AssetScore is the transient per-asset scoring result for one rebalance date.
type AssetScore struct {
	Asset              string    `json:"asset"`
	Date               time.Time `json:"date"`
	Regime             string    `json:"regime"`
	Technical          float64   `json:"technical"`
	Fundamental        float64   `json:"fundamental"`
	Combined           float64   `json:"combined"`
	Priority           Priority  `json:"priority"`
	Bucket             string    `json:"bucket"`
	IsCurrentPosition  bool      `json:"is_current_position"`
	PreviousAllocation float64   `json:"previous_allocation"`

	// Provenance
	HasTechnical   bool `json:"has_technical"`
	HasFundamental bool `json:"has_fundamental"`
	MissingData    bool `json:"missing_data"`
}

// RebalancingTarget is one allocation decision in the final target set.
type RebalancingTarget struct {
	Asset             string   `json:"asset"`
	TargetAllocation  float64  `json:"target_allocation_pct"`
	CurrentAllocation float64  `json:"current_allocation_pct"`
	Action            Action   `json:"action"`
	Priority          Priority `json:"priority"`
	Bucket            string   `json:"bucket"`
	Score             float64  `json:"score"`
	Reason            string   `json:"reason"`
}

// PositionEventType classifies entries in the per-asset lifecycle log.
type PositionEventType string

const (
	PositionOpened   PositionEventType = "open"
	PositionClosed   PositionEventType = "close"
	PositionAdjusted PositionEventType = "adjust"
)

// PositionEvent is one entry in an asset's lifecycle history. Events for an
// asset form an ordered sequence by timestamp; a cycle is a maximal
// (open, ..., close) pair.
type PositionEvent struct {
	Asset     string            `json:"asset"`
	Type      PositionEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Size      float64           `json:"size"`
	Reason    string            `json:"reason"`
}
