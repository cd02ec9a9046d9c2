package grace

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(Config{
		Enabled:        true,
		PeriodDays:     5,
		DecayRate:      0.8,
		MinDecayFactor: 0.1,
	}, zerolog.Nop())
}

func day(n int) time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestAssessAboveThresholdStaysActive(t *testing.T) {
	m := newTestManager()

	a := m.Assess("TSLA", 0.70, 0.15, 0.60, day(0))

	assert.Equal(t, ActionHold, a.Action)
	assert.Equal(t, 0.15, a.NewSize)
	assert.False(t, m.InGrace("TSLA"))
}

func TestDecaySequence(t *testing.T) {
	m := newTestManager()

	// Day 0: grace starts at the full size
	a := m.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	require.Equal(t, ActionStart, a.Action)
	assert.InDelta(t, 0.15, a.NewSize, 1e-9)
	m.Apply(a, 0.40, day(0))
	require.True(t, m.InGrace("TSLA"))

	expected := []float64{0.12, 0.096, 0.0768, 0.06144}
	for i, want := range expected {
		d := day(i + 1)
		a = m.Assess("TSLA", 0.40, a.NewSize, 0.60, d)
		require.Equal(t, ActionDecay, a.Action, "day %d", i+1)
		assert.InDelta(t, want, a.NewSize, 1e-9, "day %d", i+1)
		m.Apply(a, 0.40, d)
	}

	// Day 5: period expired
	a = m.Assess("TSLA", 0.40, a.NewSize, 0.60, day(5))
	assert.Equal(t, ActionForceClose, a.Action)
	assert.Equal(t, 0.0, a.NewSize)
	assert.True(t, m.ForceCloseDue("TSLA", day(5)))
}

func TestDecayFloor(t *testing.T) {
	m := NewManager(Config{
		Enabled:        true,
		PeriodDays:     30,
		DecayRate:      0.5,
		MinDecayFactor: 0.1,
	}, zerolog.Nop())

	a := m.Assess("TSLA", 0.40, 0.20, 0.60, day(0))
	m.Apply(a, 0.40, day(0))

	// After many days the size bottoms out at 10% of the original
	a = m.Assess("TSLA", 0.40, 0.20, 0.60, day(20))
	require.Equal(t, ActionDecay, a.Action)
	assert.InDelta(t, 0.02, a.NewSize, 1e-9)
}

func TestRecoveryRestoresOriginalSize(t *testing.T) {
	m := newTestManager()

	a := m.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	m.Apply(a, 0.40, day(0))
	a = m.Assess("TSLA", 0.40, 0.15, 0.60, day(2))
	m.Apply(a, 0.40, day(2))

	a = m.Assess("TSLA", 0.72, 0.096, 0.60, day(3))
	require.Equal(t, ActionRecovery, a.Action)
	assert.InDelta(t, 0.15, a.NewSize, 1e-9)

	m.Apply(a, 0.72, day(3))
	assert.False(t, m.InGrace("TSLA"))
}

func TestAssessDoesNotMutate(t *testing.T) {
	m := newTestManager()

	a := m.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	require.Equal(t, ActionStart, a.Action)

	// Without Apply, nothing was recorded
	assert.False(t, m.InGrace("TSLA"))
}

func TestDisabledNeverStartsGrace(t *testing.T) {
	m := NewManager(Config{Enabled: false}, zerolog.Nop())

	a := m.Assess("TSLA", 0.10, 0.15, 0.60, day(0))

	assert.Equal(t, ActionHold, a.Action)
}

func TestSnapshotRestore(t *testing.T) {
	m := newTestManager()
	a := m.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	m.Apply(a, 0.40, day(0))

	snap := m.Snapshot()
	require.Len(t, snap, 1)

	other := newTestManager()
	other.Restore(snap)
	pos, ok := other.Get("TSLA")
	require.True(t, ok)
	assert.Equal(t, 0.15, pos.OriginalSize)
	assert.Equal(t, 0.40, pos.OriginalScore)
}
