package fixtures

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

const sampleYAML = `
holdings:
  AAPL: 0.12
  GLD: 0.08
buckets:
  Risk-Assets: [AAPL, NVDA]
  Defensive: [GLD, TLT]
regime:
  name: Goldilocks
  confidence: 0.8
  severity: normal
  preferred_buckets: [Risk-Assets]
trending:
  - asset: NVDA
    confidence: 0.9
  - asset: TLT
    confidence: 0.4
prices:
  AAPL:
    - {date: "2026-01-06", close: 110}
    - {date: "2026-01-05", close: 100}
fundamentals:
  AAPL: 0.7
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"AAPL": 0.12, "GLD": 0.08}, f.Holdings)
	assert.Equal(t, "Goldilocks", f.Regime.Name)
	assert.Len(t, f.Trending, 2)
	assert.Equal(t, 0.7, f.Fundamentals["AAPL"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCatalogAndRegimes(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	catalog := f.Catalog()
	assert.Equal(t, "Risk-Assets", catalog.Bucket("NVDA"))
	assert.Equal(t, domain.UnknownBucket, catalog.Bucket("ZZZ"))

	regimes := f.Regimes()
	regime, err := regimes.Regime(day())
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityNormal, regime.Severity)
	assert.Equal(t, []string{"Risk-Assets"}, regime.PreferredBuckets)

	trending, err := regimes.Trending(day(), 0.7)
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, trending)
}

func TestPriceSeriesSortedByDate(t *testing.T) {
	f, err := Load(writeSample(t))
	require.NoError(t, err)

	series, err := f.PriceSeries()
	require.NoError(t, err)

	s := series["AAPL"]
	require.Len(t, s.Closes, 2)
	assert.Equal(t, 100.0, s.Closes[0])
	assert.Equal(t, 110.0, s.Closes[1])
	assert.True(t, s.Dates[0].Before(s.Dates[1]))
}

func TestPriceSeriesRejectsBadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prices:
  AAPL:
    - {date: "01/05/2026", close: 100}
`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)

	_, err = f.PriceSeries()
	assert.Error(t, err)
}
