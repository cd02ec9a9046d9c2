package protection

import (
	"sync"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/aristath/helmsman/internal/protection/whipsaw"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) byType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	orch    *Orchestrator
	core    *coreasset.Manager
	holding *holding.Manager
	grace   *grace.Manager
	whipsaw *whipsaw.Manager
	history *history.Store
	sink    *captureSink
}

func day(n int) time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	hist := history.NewStore()

	f := &fixture{
		history: hist,
		sink:    &captureSink{},
		core: coreasset.NewManager(coreasset.Config{
			Enabled:       true,
			ExpiryDays:    90,
			MaxCoreAssets: 3,
		}, nil, nil, log),
		holding: holding.NewManager(holding.Config{
			MinHoldingDays:        3,
			MaxHoldingDays:        90,
			EnableRegimeOverrides: true,
			OverrideCooldownDays:  7,
			SeverityThreshold:     domain.SeverityHigh,
		}, log),
		grace: grace.NewManager(grace.Config{
			Enabled:        true,
			PeriodDays:     5,
			DecayRate:      0.8,
			MinDecayFactor: 0.1,
		}, log),
		whipsaw: whipsaw.NewManager(whipsaw.Config{
			Enabled:             true,
			MaxCyclesPerPeriod:  1,
			ProtectionDays:      14,
			MinPositionDuration: 4 * time.Hour,
		}, hist, log),
	}
	f.orch = NewOrchestrator(f.core, f.holding, f.grace, f.whipsaw, f.sink, nil, "session", log)
	return f
}

func request(asset string, action domain.Action, d time.Time, severity domain.RegimeSeverity) Request {
	return Request{
		Asset:       asset,
		Action:      action,
		Date:        d,
		CurrentSize: 0.10,
		TargetSize:  0.05,
		Regime:      domain.Regime{Name: "Goldilocks", Severity: severity},
	}
}

func TestApprovalConsultsAllSystems(t *testing.T) {
	f := newFixture(t)

	d := f.orch.Evaluate(request("AAPL", domain.ActionOpen, day(0), domain.SeverityNormal))

	require.True(t, d.Approved)
	assert.Equal(t, []string{
		SystemCore, SystemRegime, SystemGrace, SystemHolding, SystemWhipsaw,
	}, d.ConsultedSystems)
}

func TestCoreImmunityBlocksClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.core.MarkAsCore("NVDA", day(0), "exceptional score", 0.97))

	d := f.orch.Evaluate(request("NVDA", domain.ActionClose, day(10), domain.SeverityNormal))

	require.False(t, d.Approved)
	assert.Equal(t, "core_immunity", d.Reason)
	assert.Equal(t, []string{SystemCore}, d.BlockingSystems)
}

func TestCoreImmunityCriticalOverride(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.core.MarkAsCore("NVDA", day(0), "exceptional score", 0.97))

	d := f.orch.Evaluate(request("NVDA", domain.ActionClose, day(10), domain.SeverityCritical))

	require.True(t, d.Approved)
	assert.Equal(t, SystemCore, d.OverridingSystem)
	assert.Equal(t, "regime_override(core)", d.Reason)
}

func TestRegimeOverrideBypassesLowerSystems(t *testing.T) {
	f := newFixture(t)
	// Grace would block this close
	a := f.grace.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	f.grace.Apply(a, 0.40, day(0))

	d := f.orch.Evaluate(request("TSLA", domain.ActionClose, day(1), domain.SeverityHigh))

	require.True(t, d.Approved)
	assert.Equal(t, SystemRegime, d.OverridingSystem)
}

func TestGraceBlocksCloseWhileActive(t *testing.T) {
	f := newFixture(t)
	a := f.grace.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	f.grace.Apply(a, 0.40, day(0))

	d := f.orch.Evaluate(request("TSLA", domain.ActionClose, day(1), domain.SeverityNormal))

	require.False(t, d.Approved)
	assert.Equal(t, "grace_active", d.Reason)
	assert.Equal(t, []string{SystemGrace}, d.BlockingSystems)
}

func TestGraceAllowsExpiredClose(t *testing.T) {
	f := newFixture(t)
	a := f.grace.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	f.grace.Apply(a, 0.40, day(0))

	d := f.orch.Evaluate(request("TSLA", domain.ActionClose, day(5), domain.SeverityNormal))

	assert.True(t, d.Approved)
}

func TestHoldingBlocksEarlyClose(t *testing.T) {
	f := newFixture(t)
	f.holding.RecordOpen("AAPL", day(0), 0.10)

	d := f.orch.Evaluate(request("AAPL", domain.ActionClose, day(0).Add(6*time.Hour), domain.SeverityNormal))

	require.False(t, d.Approved)
	assert.Equal(t, []string{SystemHolding}, d.BlockingSystems)
}

func TestWhipsawBlocksReopen(t *testing.T) {
	f := newFixture(t)
	f.history.Append(domain.PositionEvent{Asset: "AAPL", Type: domain.PositionOpened, Timestamp: day(0), Size: 0.1})
	f.history.Append(domain.PositionEvent{Asset: "AAPL", Type: domain.PositionClosed, Timestamp: day(2)})

	d := f.orch.Evaluate(request("AAPL", domain.ActionOpen, day(13), domain.SeverityNormal))
	require.False(t, d.Approved)
	assert.Equal(t, []string{SystemWhipsaw}, d.BlockingSystems)

	f.orch.ResetCache()
	d = f.orch.Evaluate(request("AAPL", domain.ActionOpen, day(17), domain.SeverityNormal))
	assert.True(t, d.Approved)
}

func TestEveryDecisionEmitsEvent(t *testing.T) {
	f := newFixture(t)

	f.orch.Evaluate(request("AAPL", domain.ActionOpen, day(0), domain.SeverityNormal))

	decisions := f.sink.byType(events.ProtectionDecision)
	require.Len(t, decisions, 1)
	assert.Equal(t, "AAPL", decisions[0].Asset)
	assert.NotEmpty(t, decisions[0].TraceID)
}

func TestDecisionsAreCachedPerRebalance(t *testing.T) {
	f := newFixture(t)
	req := request("AAPL", domain.ActionOpen, day(0), domain.SeverityNormal)

	first := f.orch.Evaluate(req)
	second := f.orch.Evaluate(req)

	assert.Equal(t, first.Approved, second.Approved)
	// The cached verdict is returned without re-consulting or re-publishing
	assert.Len(t, f.sink.byType(events.ProtectionDecision), 1)

	f.orch.ResetCache()
	f.orch.Evaluate(req)
	assert.Len(t, f.sink.byType(events.ProtectionDecision), 2)
}

func TestPanickingManagerDeniesConservatively(t *testing.T) {
	log := zerolog.Nop()
	sink := &captureSink{}
	// A whipsaw manager with no history store panics on lookup
	broken := whipsaw.NewManager(whipsaw.Config{
		Enabled:            true,
		MaxCyclesPerPeriod: 1,
		ProtectionDays:     14,
	}, nil, log)
	orch := NewOrchestrator(nil, nil, nil, broken, sink, nil, "session", log)

	d := orch.Evaluate(request("AAPL", domain.ActionOpen, day(0), domain.SeverityNormal))

	require.False(t, d.Approved)
	assert.Equal(t, []string{SystemWhipsaw}, d.BlockingSystems)
	assert.NotEmpty(t, sink.byType(events.ProtectionError))
}
