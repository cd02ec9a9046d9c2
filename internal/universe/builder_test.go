package universe

import (
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *StaticCatalog {
	return NewStaticCatalog(map[string][]string{
		"Risk-Assets":   {"NVDA", "AAPL", "TSLA"},
		"Defensive":     {"GLD", "TLT"},
		"International": {"VXUS"},
	})
}

func testDate() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func TestBuildIncludesEveryHolding(t *testing.T) {
	regimes := &StaticRegimes{
		Current: domain.Regime{Name: "Deflation", PreferredBuckets: []string{"Defensive"}},
	}
	b := NewBuilder(regimes, testCatalog(), zerolog.Nop())

	// ZOMB is held but belongs to no preferred bucket and is not trending
	holdings := map[string]float64{"ZOMB": 0.08, "GLD": 0.10}

	candidates, err := b.Build(testDate(), holdings, regimes.Current, nil, 0.5)
	require.NoError(t, err)

	byAsset := make(map[string]Candidate)
	for _, c := range candidates {
		byAsset[c.Asset] = c
	}

	require.Contains(t, byAsset, "ZOMB")
	assert.Equal(t, domain.PriorityPortfolio, byAsset["ZOMB"].Priority)
	assert.True(t, byAsset["ZOMB"].IsCurrentPosition)
	assert.Equal(t, 0.08, byAsset["ZOMB"].PreviousAllocation)
	assert.Equal(t, domain.UnknownBucket, byAsset["ZOMB"].Bucket)
}

func TestBuildPriorityTagging(t *testing.T) {
	regimes := &StaticRegimes{
		Current: domain.Regime{Name: "Goldilocks", PreferredBuckets: []string{"Risk-Assets"}},
		Trend: []TrendingEntry{
			{Asset: "TSLA", Confidence: 0.9},
			{Asset: "GLD", Confidence: 0.9},
			{Asset: "VXUS", Confidence: 0.3},
		},
	}
	b := NewBuilder(regimes, testCatalog(), zerolog.Nop())

	holdings := map[string]float64{"NVDA": 0.12}

	candidates, err := b.Build(testDate(), holdings, regimes.Current, nil, 0.5)
	require.NoError(t, err)

	byAsset := make(map[string]domain.Priority)
	for _, c := range candidates {
		byAsset[c.Asset] = c.Priority
	}

	// Holding outranks the bucket channel, trending outranks regime
	assert.Equal(t, domain.PriorityPortfolio, byAsset["NVDA"])
	assert.Equal(t, domain.PriorityTrending, byAsset["TSLA"])
	assert.Equal(t, domain.PriorityTrending, byAsset["GLD"])
	assert.Equal(t, domain.PriorityRegime, byAsset["AAPL"])

	// Below the confidence threshold, not in a preferred bucket, not held
	assert.NotContains(t, byAsset, "VXUS")
}

func TestBuildExplicitFilterOverridesRegimeBuckets(t *testing.T) {
	regimes := &StaticRegimes{
		Current: domain.Regime{Name: "Goldilocks", PreferredBuckets: []string{"Risk-Assets"}},
	}
	b := NewBuilder(regimes, testCatalog(), zerolog.Nop())

	candidates, err := b.Build(testDate(), nil, regimes.Current, []string{"Defensive"}, 0.5)
	require.NoError(t, err)

	var assets []string
	for _, c := range candidates {
		assets = append(assets, c.Asset)
	}
	assert.Equal(t, []string{"GLD", "TLT"}, assets)
}

func TestBuildDeterministicOrder(t *testing.T) {
	regimes := &StaticRegimes{
		Current: domain.Regime{Name: "Goldilocks", PreferredBuckets: []string{"Risk-Assets", "Defensive"}},
		Trend:   []TrendingEntry{{Asset: "GLD", Confidence: 0.9}},
	}
	b := NewBuilder(regimes, testCatalog(), zerolog.Nop())
	holdings := map[string]float64{"TSLA": 0.1, "AAPL": 0.1}

	first, err := b.Build(testDate(), holdings, regimes.Current, nil, 0.5)
	require.NoError(t, err)

	// Priority rank ascending, asset id within rank
	var assets []string
	for _, c := range first {
		assets = append(assets, c.Asset)
	}
	assert.Equal(t, []string{"AAPL", "TSLA", "GLD", "NVDA", "TLT"}, assets)

	for i := 0; i < 10; i++ {
		again, err := b.Build(testDate(), holdings, regimes.Current, nil, 0.5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
