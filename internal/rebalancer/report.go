package rebalancer

import (
	"encoding/json"
	"math"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// TargetJSON is the wire form of one rebalancing target. Allocations are
// fractions rounded to 4 decimals at this boundary only.
type TargetJSON struct {
	Asset             string  `json:"asset"`
	TargetAllocation  float64 `json:"target_allocation_pct"`
	CurrentAllocation float64 `json:"current_allocation_pct"`
	Action            string  `json:"action"`
	Priority          string  `json:"priority"`
	Score             float64 `json:"score"`
	Reason            string  `json:"reason"`
}

// ReportMetadata summarizes a rebalance result on the wire.
type ReportMetadata struct {
	TotalTargets          int            `json:"total_targets"`
	ActionsSummary        map[string]int `json:"actions_summary"`
	TotalTargetAllocation float64        `json:"total_target_allocation"`
	Timestamp             string         `json:"timestamp"`
}

// Report is the stable JSON contract for a rebalance result.
type Report struct {
	RebalancingTargets []TargetJSON   `json:"rebalancing_targets"`
	Metadata           ReportMetadata `json:"metadata"`
}

// BuildReport converts a rebalance result into its wire form. The timestamp
// is the rebalance date, so identical inputs produce byte-identical output.
func BuildReport(result *Result) Report {
	targets := make([]TargetJSON, 0, len(result.Targets))
	summary := make(map[string]int)
	total := 0.0

	for _, t := range result.Targets {
		alloc := round4(t.TargetAllocation)
		targets = append(targets, TargetJSON{
			Asset:             t.Asset,
			TargetAllocation:  alloc,
			CurrentAllocation: round4(t.CurrentAllocation),
			Action:            string(t.Action),
			Priority:          string(t.Priority),
			Score:             round4(t.Score),
			Reason:            t.Reason,
		})
		summary[string(t.Action)]++
		if t.Action != domain.ActionClose {
			total += alloc
		}
	}

	return Report{
		RebalancingTargets: targets,
		Metadata: ReportMetadata{
			TotalTargets:          len(targets),
			ActionsSummary:        summary,
			TotalTargetAllocation: round4(total),
			Timestamp:             result.Date.UTC().Format(time.RFC3339),
		},
	}
}

// MarshalResult renders the target JSON for a rebalance result.
func MarshalResult(result *Result) ([]byte, error) {
	return json.Marshal(BuildReport(result))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
