package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func managers() (*grace.Manager, *holding.Manager, *coreasset.Manager, *history.Store) {
	log := zerolog.Nop()
	gr := grace.NewManager(grace.Config{
		Enabled:        true,
		PeriodDays:     5,
		DecayRate:      0.8,
		MinDecayFactor: 0.1,
	}, log)
	hold := holding.NewManager(holding.Config{
		MinHoldingDays:       3,
		MaxHoldingDays:       90,
		OverrideCooldownDays: 7,
		SeverityThreshold:    domain.SeverityHigh,
	}, log)
	core := coreasset.NewManager(coreasset.Config{
		Enabled:       true,
		ExpiryDays:    90,
		MaxCoreAssets: 3,
	}, nil, nil, log)
	return gr, hold, core, history.NewStore()
}

func populated() (*Snapshot, map[string]float64) {
	gr, hold, core, hist := managers()

	a := gr.Assess("TSLA", 0.40, 0.15, 0.60, day(0))
	gr.Apply(a, 0.40, day(0))
	hold.RecordOpen("AAPL", day(0), 0.10)
	hold.RecordOverride("AAPL", day(1))
	_ = core.MarkAsCore("NVDA", day(0), "exceptional score", 0.97)
	hist.Append(domain.PositionEvent{Asset: "AAPL", Type: domain.PositionOpened, Timestamp: day(0), Size: 0.10})

	holdings := map[string]float64{"AAPL": 0.10, "TSLA": 0.15, "NVDA": 0.12}
	return Capture(gr, hold, core, hist, holdings), holdings
}

func TestCaptureApplyRoundTrip(t *testing.T) {
	snap, holdings := populated()

	gr, hold, core, hist := managers()
	snap.Apply(gr, hold, core, hist)

	assert.True(t, gr.InGrace("TSLA"))
	ageDays, ok := hold.Age("AAPL", day(4))
	require.True(t, ok)
	assert.Equal(t, 4, ageDays)
	assert.True(t, core.IsCore("NVDA", day(10)))
	ts, open := hist.LastOpen("AAPL")
	require.True(t, open)
	assert.Equal(t, day(0), ts)
	assert.Equal(t, holdings, snap.Holdings)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	snap, holdings := populated()
	path := filepath.Join(t.TempDir(), "data", "state.msgpack")
	store := NewStore(path, zerolog.Nop())

	require.NoError(t, store.Save(snap))

	loaded, found, err := NewStore(path, zerolog.Nop()).Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, holdings, loaded.Holdings)
	assert.Len(t, loaded.History, 1)
	assert.Contains(t, loaded.Grace, "TSLA")
	assert.Contains(t, loaded.Core, "NVDA")
}

func TestLoadMissingSnapshot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.msgpack"), zerolog.Nop())

	snap, found, err := store.Load()

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

func TestLoadCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))

	_, _, err := NewStore(path, zerolog.Nop()).Load()

	assert.Error(t, err)
}

func TestSaveReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.msgpack")
	store := NewStore(path, zerolog.Nop())

	first, _ := populated()
	require.NoError(t, store.Save(first))

	second, _ := populated()
	second.Holdings = map[string]float64{"GLD": 0.05}
	require.NoError(t, store.Save(second))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]float64{"GLD": 0.05}, loaded.Holdings)
}
