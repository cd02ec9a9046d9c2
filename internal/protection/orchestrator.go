package protection

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/metrics"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/aristath/helmsman/internal/protection/whipsaw"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator is the sole authority for approving position-mutating
// actions. It consults the protection managers in fixed priority order:
// core immunity, regime override, grace period, holding period, whipsaw.
// The first denial short-circuits; an override allowance supersedes all
// lower-priority systems.
type Orchestrator struct {
	managers  []Manager
	sink      events.Sink
	metrics   *metrics.Metrics
	log       zerolog.Logger
	sessionID string

	mu    sync.Mutex
	cache map[string]Decision
}

// NewOrchestrator wires the four protection managers in priority order.
func NewOrchestrator(
	core *coreasset.Manager,
	hold *holding.Manager,
	gr *grace.Manager,
	whip *whipsaw.Manager,
	sink events.Sink,
	m *metrics.Metrics,
	sessionID string,
	log zerolog.Logger,
) *Orchestrator {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Orchestrator{
		managers: []Manager{
			&coreImmunity{core: core, holding: hold},
			&regimeOverride{holding: hold},
			&gracePeriod{grace: gr},
			&holdingPeriod{holding: hold},
			&whipsawGuard{whipsaw: whip},
		},
		sink:      sink,
		metrics:   m,
		sessionID: sessionID,
		log:       log.With().Str("component", "protection_orchestrator").Logger(),
		cache:     make(map[string]Decision),
	}
}

// ResetCache clears memoized decisions. Called at the start of every
// rebalance; cached verdicts are only valid within one rebalance date.
func (o *Orchestrator) ResetCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache = make(map[string]Decision)
}

// Evaluate produces the decision for one proposed action. Every consulted
// request emits a protection_decision event, approvals included.
func (o *Orchestrator) Evaluate(req Request) Decision {
	key := cacheKey(req)
	o.mu.Lock()
	if d, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return d
	}
	o.mu.Unlock()

	start := time.Now()
	decision := o.consult(req)
	decision.Timing = time.Since(start)

	o.mu.Lock()
	o.cache[key] = decision
	o.mu.Unlock()

	o.publish(req, decision)
	o.observe(req, decision)
	return decision
}

// consult walks the priority-ordered managers.
func (o *Orchestrator) consult(req Request) Decision {
	var consulted []string

	for _, mgr := range o.managers {
		consulted = append(consulted, mgr.Name())

		res, err := o.safeEvaluate(mgr, req)
		if err != nil {
			// Conservative fallback: a failing manager denies
			o.publishError(req, mgr.Name(), err)
			return Decision{
				Approved:         false,
				Reason:           fmt.Sprintf("%s error: %v", mgr.Name(), err),
				BlockingSystems:  []string{mgr.Name()},
				ConsultedSystems: consulted,
			}
		}

		if res.Override {
			return Decision{
				Approved:         true,
				Reason:           res.Reason,
				ConsultedSystems: consulted,
				OverridingSystem: mgr.Name(),
			}
		}
		if !res.Allowed {
			return Decision{
				Approved:         false,
				Reason:           res.Reason,
				BlockingSystems:  []string{mgr.Name()},
				ConsultedSystems: consulted,
			}
		}
	}

	return Decision{
		Approved:         true,
		Reason:           "all protection systems approved",
		ConsultedSystems: consulted,
	}
}

// safeEvaluate converts manager panics into errors so a single misbehaving
// system cannot take down a rebalance.
func (o *Orchestrator) safeEvaluate(mgr Manager, req Request) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return mgr.Evaluate(req)
}

func (o *Orchestrator) publish(req Request, d Decision) {
	o.sink.Publish(events.Event{
		Type:      events.ProtectionDecision,
		Timestamp: req.Date,
		SessionID: o.sessionID,
		TraceID:   uuid.NewString(),
		Asset:     req.Asset,
		Before:    req.CurrentSize,
		After:     req.TargetSize,
		Reason:    d.Reason,
		Metadata: map[string]interface{}{
			"action":            string(req.Action),
			"approved":          d.Approved,
			"blocking_systems":  strings.Join(d.BlockingSystems, ","),
			"consulted_systems": strings.Join(d.ConsultedSystems, ","),
			"overriding_system": d.OverridingSystem,
			"timing_ms":         float64(d.Timing.Microseconds()) / 1000.0,
		},
	})
}

func (o *Orchestrator) publishError(req Request, system string, err error) {
	o.log.Error().Err(err).
		Str("system", system).
		Str("asset", req.Asset).
		Str("action", string(req.Action)).
		Msg("Protection manager failed, denying conservatively")

	o.sink.Publish(events.Event{
		Type:      events.ProtectionError,
		Timestamp: req.Date,
		SessionID: o.sessionID,
		TraceID:   uuid.NewString(),
		Asset:     req.Asset,
		Reason:    err.Error(),
		Metadata: map[string]interface{}{
			"system": system,
			"action": string(req.Action),
		},
	})
}

func (o *Orchestrator) observe(req Request, d Decision) {
	if o.metrics == nil {
		return
	}
	o.metrics.ProtectionDecisions.WithLabelValues(string(req.Action), fmt.Sprintf("%t", d.Approved)).Inc()
	for _, system := range d.BlockingSystems {
		o.metrics.ProtectionDenials.WithLabelValues(system).Inc()
	}
}

func cacheKey(req Request) string {
	return req.Asset + "|" + string(req.Action) + "|" + req.Date.Format("2006-01-02")
}

// reducing reports whether the action shrinks or removes a position.
func reducing(a domain.Action) bool {
	return a == domain.ActionClose || a == domain.ActionDecrease
}

// coreImmunity (priority 1): core assets may not be closed or decreased,
// except under a critical-severity regime override.
type coreImmunity struct {
	core    *coreasset.Manager
	holding *holding.Manager
}

func (c *coreImmunity) Name() string { return SystemCore }

func (c *coreImmunity) Evaluate(req Request) (Result, error) {
	if c.core == nil || !reducing(req.Action) {
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
	if !c.core.IsCore(req.Asset, req.Date) {
		return Result{Allowed: true, Reason: "not a core asset"}, nil
	}

	if req.Regime.Severity == domain.SeverityCritical &&
		c.holding != nil && c.holding.OverrideEligible(req.Asset, req.Date, req.Regime) {
		return Result{
			Allowed:  true,
			Override: true,
			Reason:   "regime_override(core)",
		}, nil
	}

	return Result{Allowed: false, Reason: "core_immunity"}, nil
}

// regimeOverride (priority 2): a sufficiently severe regime bypasses the
// grace, holding, and whipsaw systems for this request.
type regimeOverride struct {
	holding *holding.Manager
}

func (r *regimeOverride) Name() string { return SystemRegime }

func (r *regimeOverride) Evaluate(req Request) (Result, error) {
	if r.holding == nil || !req.Action.Mutating() {
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
	if r.holding.OverrideEligible(req.Asset, req.Date, req.Regime) {
		return Result{
			Allowed:  true,
			Override: true,
			Reason:   fmt.Sprintf("regime severity %s override", req.Regime.Severity),
		}, nil
	}
	return Result{Allowed: true, Reason: "no override in effect"}, nil
}

// gracePeriod (priority 3): positions in an active grace period may not be
// closed or decreased by other pipeline logic; the decay schedule owns the
// position until recovery or expiry.
type gracePeriod struct {
	grace *grace.Manager
}

func (g *gracePeriod) Name() string { return SystemGrace }

func (g *gracePeriod) Evaluate(req Request) (Result, error) {
	if g.grace == nil || !reducing(req.Action) {
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
	if !g.grace.InGrace(req.Asset) {
		return Result{Allowed: true, Reason: "not in grace"}, nil
	}
	if g.grace.ForceCloseDue(req.Asset, req.Date) {
		return Result{Allowed: true, Reason: "grace expired, close required"}, nil
	}
	return Result{Allowed: false, Reason: "grace_active"}, nil
}

// holdingPeriod (priority 4): minimum/maximum holding enforcement.
type holdingPeriod struct {
	holding *holding.Manager
}

func (h *holdingPeriod) Name() string { return SystemHolding }

func (h *holdingPeriod) Evaluate(req Request) (Result, error) {
	if h.holding == nil {
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
	v := h.holding.CanAdjust(req.Asset, req.Date, req.Action, req.Regime)
	return Result{Allowed: v.Allowed, Reason: v.Reason}, nil
}

// whipsawGuard (priority 5): cycle throttling on opens, minimum duration on
// closes.
type whipsawGuard struct {
	whipsaw *whipsaw.Manager
}

func (w *whipsawGuard) Name() string { return SystemWhipsaw }

func (w *whipsawGuard) Evaluate(req Request) (Result, error) {
	if w.whipsaw == nil {
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
	switch req.Action {
	case domain.ActionOpen:
		v := w.whipsaw.CanOpen(req.Asset, req.Date)
		return Result{Allowed: v.Allowed, Reason: v.Reason}, nil
	case domain.ActionClose:
		v := w.whipsaw.CanClose(req.Asset, req.Date)
		return Result{Allowed: v.Allowed, Reason: v.Reason}, nil
	default:
		return Result{Allowed: true, Reason: "not applicable"}, nil
	}
}
