// Package rebalancer implements the rebalance pipeline: universe
// construction, scoring, bucket limits, core lifecycle, selection, sizing,
// protection validation, and the final atomic state commit.
package rebalancer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/buckets"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/metrics"
	"github.com/aristath/helmsman/internal/protection"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/aristath/helmsman/internal/scoring"
	"github.com/aristath/helmsman/internal/sizing"
	"github.com/aristath/helmsman/internal/universe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// actionBand is the relative deviation between target and current allocation
// below which a position is held rather than adjusted.
const actionBand = 0.05

// Result is the outcome of one rebalance.
type Result struct {
	Date        time.Time
	Targets     []domain.RebalancingTarget
	Rejected    []buckets.Rejection
	Revocations []coreasset.Revocation
}

// Deps are the engine's collaborators.
type Deps struct {
	Universe     *universe.Builder
	Scoring      *scoring.Service
	Orchestrator *protection.Orchestrator
	Grace        *grace.Manager
	Holding      *holding.Manager
	Core         *coreasset.Manager
	History      *history.Store
	Regimes      domain.RegimeProvider
	Sink         events.Sink
	Metrics      *metrics.Metrics
}

// Engine runs the rebalance pipeline for one portfolio. All lifecycle state
// mutation happens in the commit phase at the end of a successful rebalance;
// an error partway through leaves every manager untouched.
type Engine struct {
	cfg       config.Config
	deps      Deps
	enforcer  *buckets.Enforcer
	sizer     *sizing.Sizer
	sessionID string
	log       zerolog.Logger

	// Set for the duration of one Rebalance call. Access is serialized by
	// the engine owning a single rebalance at a time.
	pendingCore map[string]pendingDesignation
	currentDate time.Time
}

type pendingDesignation struct {
	score  float64
	reason string
}

// NewEngine creates a rebalance engine.
func NewEngine(cfg config.Config, deps Deps, log zerolog.Logger) *Engine {
	if deps.Sink == nil {
		deps.Sink = events.NopSink{}
	}
	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		sessionID: uuid.NewString(),
		log:       log.With().Str("component", "rebalancer").Logger(),
	}
	e.enforcer = buckets.NewEnforcer(cfg.Bucket, log)
	e.sizer = sizing.NewSizer(cfg.Sizing, e.isCoreNow, log)
	return e
}

// Rebalance runs the full pipeline for one date and returns the final
// target set. Lifecycle state (grace, holding ages, whipsaw history, core
// designations) is committed only when the whole pipeline succeeds.
func (e *Engine) Rebalance(date time.Time, holdings map[string]float64) (*Result, error) {
	return e.run(date, holdings, true)
}

// Preview runs the pipeline without committing any lifecycle state. Core
// lifecycle expirations are evaluated against a scratch copy and rolled
// back, so a preview is free of side effects.
func (e *Engine) Preview(date time.Time, holdings map[string]float64) (*Result, error) {
	return e.run(date, holdings, false)
}

func (e *Engine) run(date time.Time, holdings map[string]float64, commit bool) (*Result, error) {
	start := time.Now()
	e.deps.Orchestrator.ResetCache()
	e.pendingCore = make(map[string]pendingDesignation)
	e.currentDate = date

	snapshot := make(map[string]float64, len(holdings))
	for asset, alloc := range holdings {
		snapshot[asset] = alloc
	}

	regime, err := e.deps.Regimes.Regime(date)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve regime for %s: %w", date.Format("2006-01-02"), err)
	}

	candidates, err := e.deps.Universe.Build(date, snapshot, regime, nil, e.cfg.Selection.MinTrendingConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to build universe: %w", err)
	}
	scores := e.deps.Scoring.ScoreAll(candidates, date, regime)

	// From here on nothing can fail; lifecycle mutation is now safe to
	// stage. Expirations run before selection so freed core slots are
	// available to smart diversification.
	if !commit {
		saved := e.deps.Core.Snapshot()
		defer e.deps.Core.Restore(saved)
	}
	revocations := e.deps.Core.PerformLifecycleCheck(date)

	scored, missingHeld := e.splitMissingData(scores, snapshot)
	selection := e.enforcer.Select(scored, buckets.Hooks{
		IsCore:                e.isCoreNow,
		TryMarkCore:           e.tryMarkCore,
		CoreOverrideThreshold: e.cfg.Core.OverrideThreshold,
	})

	pl := e.buildPlan(selection, snapshot, regime, date)
	pl.pinned = append(pl.pinned, missingHeld...)

	sized := e.sizer.Size(pl.sizable, e.cfg.Sizing.TargetTotalAllocation-pl.pinnedTotal())
	sized = e.enforcer.CapAllocations(sized, e.isCoreNow)

	targets := e.deriveActions(append(sized, pl.pinned...), snapshot)
	targets = e.validate(targets, pl, regime, date)
	targets = e.coverDroppedHeld(targets, pl, snapshot)

	if commit {
		e.commit(targets, pl, revocations, date)
	}

	sortTargets(targets)
	if commit {
		e.observe(targets, start)
	}

	e.log.Info().
		Time("date", date).
		Int("targets", len(targets)).
		Int("rejected", len(selection.Rejected)).
		Int("revocations", len(revocations)).
		Str("regime", regime.Name).
		Msg("Rebalance complete")

	return &Result{
		Date:        date,
		Targets:     targets,
		Rejected:    selection.Rejected,
		Revocations: revocations,
	}, nil
}

// splitMissingData removes missing-data assets from the scored set. A held
// asset with no data retains its previous allocation as an explicit hold;
// non-held assets are dropped.
func (e *Engine) splitMissingData(scores []domain.AssetScore, holdings map[string]float64) ([]domain.AssetScore, []domain.RebalancingTarget) {
	scored := make([]domain.AssetScore, 0, len(scores))
	var held []domain.RebalancingTarget
	for _, s := range scores {
		if !s.MissingData {
			scored = append(scored, s)
			continue
		}
		if !s.IsCurrentPosition {
			e.log.Debug().Str("asset", s.Asset).Msg("Candidate dropped, no scoring data")
			continue
		}
		held = append(held, domain.RebalancingTarget{
			Asset:            s.Asset,
			TargetAllocation: holdings[s.Asset],
			Priority:         s.Priority,
			Bucket:           s.Bucket,
			Reason:           "missing data, holding previous allocation",
		})
	}
	return scored, held
}

// plan carries the intermediate selection: assets to size freely, targets
// whose size is pinned (grace schedule, missing data, low-score core), and
// the assessments and close candidates to act on.
type plan struct {
	sizable     []domain.AssetScore
	pinned      []domain.RebalancingTarget
	assessments map[string]grace.Assessment
	graceScores map[string]float64
	forceClose  map[string]bool
	graceOwned  map[string]bool
	closes      []domain.RebalancingTarget
	overrides   []string
}

func (p *plan) pinnedTotal() float64 {
	total := 0.0
	for _, t := range p.pinned {
		total += t.TargetAllocation
	}
	return total
}

// buildPlan applies selection thresholds, grace assessments, and the
// new-position budget.
func (e *Engine) buildPlan(selection buckets.Result, holdings map[string]float64, regime domain.Regime, date time.Time) *plan {
	p := &plan{
		assessments: make(map[string]grace.Assessment),
		graceScores: make(map[string]float64),
		forceClose:  make(map[string]bool),
		graceOwned:  make(map[string]bool),
	}
	threshold := e.cfg.Selection.MinScoreThreshold

	var newcomers []domain.AssetScore

	for _, s := range selection.Selected {
		if !s.IsCurrentPosition {
			newcomers = append(newcomers, s)
			continue
		}
		e.planHeld(p, s, holdings[s.Asset], threshold, date)
	}

	// Held assets rejected by bucket limits become close candidates
	for _, r := range selection.Rejected {
		if alloc, held := holdings[r.Asset]; held {
			p.closes = append(p.closes, domain.RebalancingTarget{
				Asset:             r.Asset,
				CurrentAllocation: alloc,
				Bucket:            r.Bucket,
				Priority:          domain.PriorityPortfolio,
				Score:             r.Score,
				Reason:            r.Reason,
			})
		}
	}

	e.planNewcomers(p, newcomers)
	return p
}

// planHeld decides the fate of one held asset: core assets are never shrunk
// by scoring, low scorers enter or continue grace, the rest are sized
// normally.
func (e *Engine) planHeld(p *plan, s domain.AssetScore, currentAlloc, threshold float64, date time.Time) {
	if e.isCoreNow(s.Asset) {
		if s.Combined >= threshold {
			p.sizable = append(p.sizable, s)
			return
		}
		// Core immunity: grace may not touch the size
		p.pinned = append(p.pinned, domain.RebalancingTarget{
			Asset:            s.Asset,
			TargetAllocation: currentAlloc,
			Priority:         s.Priority,
			Bucket:           s.Bucket,
			Score:            s.Combined,
			Reason:           "core asset held despite low score",
		})
		return
	}

	assessment := e.deps.Grace.Assess(s.Asset, s.Combined, currentAlloc, threshold, date)
	p.assessments[s.Asset] = assessment
	p.graceScores[s.Asset] = s.Combined

	switch assessment.Action {
	case grace.ActionHold, grace.ActionRecovery:
		if s.Combined < threshold {
			// Grace disabled: below-threshold positions close immediately
			p.closes = append(p.closes, domain.RebalancingTarget{
				Asset:             s.Asset,
				CurrentAllocation: currentAlloc,
				Priority:          s.Priority,
				Bucket:            s.Bucket,
				Score:             s.Combined,
				Reason:            fmt.Sprintf("score %.2f below threshold %.2f", s.Combined, threshold),
			})
			return
		}
		p.sizable = append(p.sizable, s)
	case grace.ActionStart, grace.ActionDecay:
		p.graceOwned[s.Asset] = true
		p.pinned = append(p.pinned, domain.RebalancingTarget{
			Asset:            s.Asset,
			TargetAllocation: assessment.NewSize,
			Priority:         s.Priority,
			Bucket:           s.Bucket,
			Score:            s.Combined,
			Reason:           assessment.Reason,
		})
	case grace.ActionForceClose:
		p.forceClose[s.Asset] = true
		p.closes = append(p.closes, domain.RebalancingTarget{
			Asset:             s.Asset,
			CurrentAllocation: currentAlloc,
			Priority:          s.Priority,
			Bucket:            s.Bucket,
			Score:             s.Combined,
			Reason:            assessment.Reason,
		})
	}
}

// planNewcomers admits new-opportunity assets by score, bounded by the new
// position budget and the total position cap.
func (e *Engine) planNewcomers(p *plan, newcomers []domain.AssetScore) {
	kept := len(p.sizable) + len(p.pinned)
	budget := e.cfg.Selection.MaxTotalPositions - kept
	if budget > e.cfg.Selection.MaxNewPositions {
		budget = e.cfg.Selection.MaxNewPositions
	}

	sort.SliceStable(newcomers, func(i, j int) bool {
		if newcomers[i].Combined != newcomers[j].Combined {
			return newcomers[i].Combined > newcomers[j].Combined
		}
		return newcomers[i].Asset < newcomers[j].Asset
	})

	for _, s := range newcomers {
		if budget <= 0 {
			break
		}
		if s.Combined < e.cfg.Selection.MinScoreNewPosition {
			continue
		}
		p.sizable = append(p.sizable, s)
		budget--
	}
}

// deriveActions compares targets against current allocations using the
// relative action band and attaches close candidates.
func (e *Engine) deriveActions(targets []domain.RebalancingTarget, holdings map[string]float64) []domain.RebalancingTarget {
	out := make([]domain.RebalancingTarget, 0, len(targets))

	for _, t := range targets {
		if t.Asset == domain.CashAsset {
			t.Action = domain.ActionHold
			out = append(out, t)
			continue
		}
		current := holdings[t.Asset]
		// A zero-size target for an unheld asset is a non-event
		if t.TargetAllocation == 0 && current == 0 {
			continue
		}
		t.CurrentAllocation = current

		switch {
		case current == 0 && t.TargetAllocation > 0:
			t.Action = domain.ActionOpen
		case t.TargetAllocation == 0:
			t.Action = domain.ActionClose
		case math.Abs(t.TargetAllocation-current) <= actionBand*current:
			t.Action = domain.ActionHold
			t.TargetAllocation = current
		case t.TargetAllocation > current:
			t.Action = domain.ActionIncrease
		default:
			t.Action = domain.ActionDecrease
		}
		if t.Reason == "" {
			t.Reason = fmt.Sprintf("target %.4f vs current %.4f", t.TargetAllocation, current)
		}
		out = append(out, t)
	}
	return out
}

// validate runs every mutating action through the protection orchestrator
// and applies denial mutations: a denied close becomes a hold at current
// size, a denied open is dropped, a denied adjustment reverts to current
// size. A grace force close overrides a denied close.
func (e *Engine) validate(targets []domain.RebalancingTarget, p *plan, regime domain.Regime, date time.Time) []domain.RebalancingTarget {
	for i := range p.closes {
		p.closes[i].Action = domain.ActionClose
		p.closes[i].TargetAllocation = 0
		if p.closes[i].Reason == "" {
			p.closes[i].Reason = "not selected"
		}
	}
	targets = append(targets, p.closes...)

	out := make([]domain.RebalancingTarget, 0, len(targets))
	for _, t := range targets {
		if !t.Action.Mutating() || p.graceOwned[t.Asset] {
			// Grace-scheduled sizes are applied by the decay schedule, not
			// proposed to the orchestrator
			out = append(out, t)
			continue
		}

		decision := e.deps.Orchestrator.Evaluate(protection.Request{
			Asset:       t.Asset,
			Action:      t.Action,
			Date:        date,
			CurrentSize: t.CurrentAllocation,
			TargetSize:  t.TargetAllocation,
			Reason:      t.Reason,
			Regime:      regime,
		})

		if decision.Approved {
			if decision.OverridingSystem != "" {
				t.Reason = decision.Reason
				// Override-approved reductions start the per-asset cooldown
				// at commit
				if t.Action == domain.ActionClose || t.Action == domain.ActionDecrease {
					p.overrides = append(p.overrides, t.Asset)
				}
			}
			out = append(out, t)
			continue
		}

		switch t.Action {
		case domain.ActionOpen:
			e.log.Debug().Str("asset", t.Asset).Str("reason", decision.Reason).Msg("Open denied, target dropped")
		case domain.ActionClose:
			if p.forceClose[t.Asset] {
				// Grace expiry outranks the denial
				t.Reason = fmt.Sprintf("grace force close overrides denial (%s)", decision.Reason)
				out = append(out, t)
				continue
			}
			t.Action = domain.ActionHold
			t.TargetAllocation = t.CurrentAllocation
			t.Reason = decision.Reason
			out = append(out, t)
		default:
			t.Action = domain.ActionHold
			t.TargetAllocation = t.CurrentAllocation
			t.Reason = decision.Reason
			out = append(out, t)
		}
	}
	return out
}

// coverDroppedHeld reissues an explicit hold for any held asset the sizing
// stage could not place. Pinned targets can exhaust the whole budget; the
// remaining held assets keep their allocation rather than vanish.
func (e *Engine) coverDroppedHeld(targets []domain.RebalancingTarget, p *plan, holdings map[string]float64) []domain.RebalancingTarget {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.Asset] = true
	}

	for _, s := range p.sizable {
		if !s.IsCurrentPosition || seen[s.Asset] {
			continue
		}
		e.log.Warn().Str("asset", s.Asset).Msg("No sizing budget for held asset, holding current allocation")
		targets = append(targets, domain.RebalancingTarget{
			Asset:             s.Asset,
			TargetAllocation:  holdings[s.Asset],
			CurrentAllocation: holdings[s.Asset],
			Action:            domain.ActionHold,
			Priority:          s.Priority,
			Bucket:            s.Bucket,
			Score:             s.Combined,
			Reason:            "sizing budget exhausted, holding current allocation",
		})
	}
	return targets
}

// commit applies all staged lifecycle mutations in one phase: position
// events, holding records, override cooldowns, grace transitions, core
// designations and revocation notices, then history retention.
func (e *Engine) commit(targets []domain.RebalancingTarget, p *plan, revocations []coreasset.Revocation, date time.Time) {
	for _, rev := range revocations {
		e.publish(events.CoreRevoked, date, rev.Asset, 0, 0, rev.Detail, map[string]interface{}{
			"revoke_reason": string(rev.Reason),
		})
	}

	for _, t := range targets {
		if t.Asset == domain.CashAsset {
			continue
		}
		switch t.Action {
		case domain.ActionOpen:
			e.deps.History.Append(domain.PositionEvent{
				Asset: t.Asset, Type: domain.PositionOpened, Timestamp: date,
				Size: t.TargetAllocation, Reason: t.Reason,
			})
			e.deps.Holding.RecordOpen(t.Asset, date, t.TargetAllocation)
			e.publish(events.PositionOpen, date, t.Asset, 0, t.TargetAllocation, t.Reason, nil)
		case domain.ActionClose:
			e.deps.History.Append(domain.PositionEvent{
				Asset: t.Asset, Type: domain.PositionClosed, Timestamp: date,
				Size: 0, Reason: t.Reason,
			})
			e.deps.Holding.RecordClose(t.Asset)
			e.deps.Grace.Drop(t.Asset)
			e.publish(events.PositionClose, date, t.Asset, t.CurrentAllocation, 0, t.Reason, nil)
		case domain.ActionIncrease, domain.ActionDecrease:
			e.deps.History.Append(domain.PositionEvent{
				Asset: t.Asset, Type: domain.PositionAdjusted, Timestamp: date,
				Size: t.TargetAllocation, Reason: t.Reason,
			})
			e.deps.Holding.RecordAdjust(t.Asset, date)
			e.publish(events.PositionAdjust, date, t.Asset, t.CurrentAllocation, t.TargetAllocation, t.Reason, nil)
		}
	}

	for _, asset := range p.overrides {
		e.deps.Holding.RecordOverride(asset, date)
	}

	e.commitGrace(p, date)
	e.commitCore(date)

	retention := e.cfg.HistoryRetentionDays()
	e.deps.History.Prune(date.AddDate(0, 0, -retention))
}

// commitGrace applies the staged grace transitions.
func (e *Engine) commitGrace(p *plan, date time.Time) {
	assets := make([]string, 0, len(p.assessments))
	for asset := range p.assessments {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		a := p.assessments[asset]
		var eventType events.EventType
		switch a.Action {
		case grace.ActionStart:
			eventType = events.GraceStart
		case grace.ActionDecay:
			eventType = events.GraceDecay
		case grace.ActionRecovery:
			eventType = events.GraceRecovery
		case grace.ActionForceClose:
			eventType = events.GraceForceClose
		default:
			continue
		}

		before := a.NewSize
		if pos, ok := e.deps.Grace.Get(asset); ok {
			before = pos.CurrentSize
		}
		e.deps.Grace.Apply(a, p.graceScores[asset], date)
		e.publish(eventType, date, asset, before, a.NewSize, a.Reason, nil)
	}
}

// commitCore applies pending smart-diversification designations.
func (e *Engine) commitCore(date time.Time) {
	assets := make([]string, 0, len(e.pendingCore))
	for asset := range e.pendingCore {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		pending := e.pendingCore[asset]
		if err := e.deps.Core.MarkAsCore(asset, date, pending.reason, pending.score); err != nil {
			e.log.Warn().Err(err).Str("asset", asset).Msg("Core designation failed at commit")
			continue
		}
		e.publish(events.CoreMarked, date, asset, 0, 0, pending.reason, map[string]interface{}{
			"score": pending.score,
		})
	}
}

// isCoreNow reports effective core status for the in-flight rebalance,
// including designations staged but not yet committed.
func (e *Engine) isCoreNow(asset string) bool {
	if _, pending := e.pendingCore[asset]; pending {
		return true
	}
	return e.deps.Core.IsCore(asset, e.currentDate)
}

// tryMarkCore stages a smart-diversification designation, honoring the
// active-plus-pending limit.
func (e *Engine) tryMarkCore(asset string, score float64, reason string) bool {
	if !e.cfg.Core.EnableCoreAssetManagement {
		return false
	}
	if e.isCoreNow(asset) {
		return false
	}
	if e.deps.Core.ActiveCount()+len(e.pendingCore) >= e.cfg.Core.MaxCoreAssets {
		return false
	}
	e.pendingCore[asset] = pendingDesignation{score: score, reason: reason}
	return true
}

func (e *Engine) publish(eventType events.EventType, date time.Time, asset string, before, after float64, reason string, metadata map[string]interface{}) {
	e.deps.Sink.Publish(events.Event{
		Type:      eventType,
		Timestamp: date,
		SessionID: e.sessionID,
		TraceID:   uuid.NewString(),
		Asset:     asset,
		Before:    before,
		After:     after,
		Reason:    reason,
		Metadata:  metadata,
	})
}

func (e *Engine) observe(targets []domain.RebalancingTarget, start time.Time) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RebalanceDuration.Observe(time.Since(start).Seconds())
		e.deps.Metrics.RebalanceTargets.Set(float64(len(targets)))
	}
	total := 0.0
	for _, t := range targets {
		if t.Action != domain.ActionClose {
			total += t.TargetAllocation
		}
	}
	e.publish(events.RebalanceCompleted, e.currentDate, "", 0, total, "", map[string]interface{}{
		"targets": len(targets),
	})
}

// sortTargets fixes the output order: bucket, then score descending, then
// asset id, with the synthetic cash target last.
func sortTargets(targets []domain.RebalancingTarget) {
	sort.SliceStable(targets, func(i, j int) bool {
		ci, cj := targets[i].Asset == domain.CashAsset, targets[j].Asset == domain.CashAsset
		if ci != cj {
			return cj
		}
		if targets[i].Bucket != targets[j].Bucket {
			return targets[i].Bucket < targets[j].Bucket
		}
		if targets[i].Score != targets[j].Score {
			return targets[i].Score > targets[j].Score
		}
		return targets[i].Asset < targets[j].Asset
	})
}
