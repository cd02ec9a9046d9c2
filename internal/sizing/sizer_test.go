package sizing

import (
	"testing"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() config.Sizing {
	return config.Sizing{
		EnableDynamicSizing:   true,
		Mode:                  config.SizingEqualWeight,
		MaxSinglePosition:     0.15,
		MinPositionSize:       0.02,
		TargetTotalAllocation: 0.95,
		ResidualStrategy:      config.ResidualSafeTopSlice,
		MaxResidualPerAsset:   0.05,
		MaxResidualMultiple:   0.5,
		EnableTwoStageSizing:  true,
	}
}

func newTestSizer(cfg config.Sizing) *Sizer {
	return NewSizer(cfg, nil, zerolog.Nop())
}

func scored(asset string, combined float64) domain.AssetScore {
	return domain.AssetScore{Asset: asset, Combined: combined, Bucket: "Risk-Assets", Priority: domain.PriorityRegime}
}

func totalAllocation(targets []domain.RebalancingTarget) float64 {
	sum := 0.0
	for _, t := range targets {
		sum += t.TargetAllocation
	}
	return sum
}

func TestEqualWeightSplitsBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSinglePosition = 0.5
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("AAPL", 0.8),
		scored("NVDA", 0.9),
	}, 0.80)

	require.Len(t, targets, 2)
	assert.InDelta(t, 0.40, targets[0].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.40, targets[1].TargetAllocation, 1e-9)
}

func TestScoreWeightedProportions(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.SizingScoreWeighted
	cfg.MaxSinglePosition = 1.0
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("AAPL", 0.6),
		scored("NVDA", 0.3),
	}, 0.90)

	require.Len(t, targets, 2)
	assert.InDelta(t, 0.60, targets[0].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.30, targets[1].TargetAllocation, 1e-9)
}

func TestAdaptiveExponentFlattensWithCount(t *testing.T) {
	assert.InDelta(t, 1.0, adaptiveExponent(1), 1e-9)
	assert.InDelta(t, 0.5, adaptiveExponent(11), 1e-9)

	// More positions, flatter weights: the top asset's share shrinks
	cfg := baseConfig()
	cfg.Mode = config.SizingAdaptive
	cfg.MaxSinglePosition = 1.0
	s := newTestSizer(cfg)

	two := s.Size([]domain.AssetScore{scored("A", 0.9), scored("B", 0.3)}, 0.90)
	shareOfTwo := two[0].TargetAllocation / totalAllocation(two)

	many := []domain.AssetScore{scored("A", 0.9)}
	for i := 0; i < 10; i++ {
		many = append(many, scored(string(rune('B'+i)), 0.3))
	}
	spread := s.Size(many, 0.90)
	shareOfMany := spread[0].TargetAllocation / totalAllocation(spread)

	assert.Greater(t, shareOfTwo, shareOfMany)
}

func TestDynamicSizingDisabledFallsBackToEqual(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.SizingScoreWeighted
	cfg.EnableDynamicSizing = false
	cfg.MaxSinglePosition = 1.0
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("AAPL", 0.9),
		scored("NVDA", 0.1),
	}, 0.80)

	require.Len(t, targets, 2)
	assert.InDelta(t, targets[0].TargetAllocation, targets[1].TargetAllocation, 1e-9)
}

func TestAllZeroScoresFallBackToEqual(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.SizingScoreWeighted
	cfg.MaxSinglePosition = 1.0
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("AAPL", 0),
		scored("NVDA", 0),
	}, 0.80)

	require.Len(t, targets, 2)
	assert.InDelta(t, 0.40, targets[0].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.40, targets[1].TargetAllocation, 1e-9)
}

func TestCapRedistributionConverges(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.SizingScoreWeighted
	s := newTestSizer(cfg)

	// Heavily skewed scores force repeated cap-and-redistribute passes
	targets := s.Size([]domain.AssetScore{
		scored("A", 0.90),
		scored("B", 0.80),
		scored("C", 0.70),
		scored("D", 0.10),
		scored("E", 0.10),
		scored("F", 0.10),
		scored("G", 0.10),
	}, 0.95)

	for _, tgt := range targets {
		if tgt.Asset == domain.CashAsset {
			continue
		}
		assert.LessOrEqual(t, tgt.TargetAllocation, cfg.MaxSinglePosition+1e-9, tgt.Asset)
	}
	assert.InDelta(t, 0.95, totalAllocation(targets), 1e-9)
}

func TestCoreExemptFromCap(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.SizingScoreWeighted
	isCore := func(asset string) bool { return asset == "NVDA" }
	s := NewSizer(cfg, isCore, zerolog.Nop())

	targets := s.Size([]domain.AssetScore{
		scored("NVDA", 0.9),
		scored("AAPL", 0.1),
	}, 0.50)

	require.Len(t, targets, 2)
	// NVDA keeps its proportional 0.45 despite the 0.15 cap
	assert.InDelta(t, 0.45, targets[0].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.05, targets[1].TargetAllocation, 1e-9)
}

func TestMinPositionFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSinglePosition = 0.5
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("A", 0.5), scored("B", 0.5), scored("C", 0.5),
	}, 0.03)

	// Only one floored position fits the 0.03 budget; the other two are
	// dropped rather than floored past it
	require.Len(t, targets, 3)
	assert.InDelta(t, 0.03, targets[0].TargetAllocation, 1e-9)
	assert.Equal(t, 0.0, targets[1].TargetAllocation)
	assert.Equal(t, 0.0, targets[2].TargetAllocation)
	assert.Contains(t, targets[1].Reason, "minimum position size")
	assert.LessOrEqual(t, totalAllocation(targets), 0.03+1e-9)
}

func TestMinPositionFloorKeepsBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.MinPositionSize = 0.12
	s := newTestSizer(cfg)

	var sel []domain.AssetScore
	for _, a := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		sel = append(sel, scored(a, 0.8))
	}

	// Ten equal weights of 0.095 all sit below the 0.12 floor; flooring
	// everything would sum to 1.20
	targets := s.Size(sel, 0.95)

	assert.LessOrEqual(t, totalAllocation(targets), 0.95+1e-9)
	dropped := 0
	for _, tgt := range targets {
		if tgt.Asset == domain.CashAsset {
			continue
		}
		if tgt.TargetAllocation == 0 {
			dropped++
			continue
		}
		assert.GreaterOrEqual(t, tgt.TargetAllocation, cfg.MinPositionSize-1e-9, tgt.Asset)
	}
	assert.Equal(t, 3, dropped)
}

func TestResidualSafeTopSlice(t *testing.T) {
	s := newTestSizer(baseConfig())

	// Eight equal positions of 0.11875 would exceed the 0.15 cap with
	// fewer assets; use six positions: base 0.95/6 = 0.158>cap, all capped
	// at 0.15, residual 0.05 has no uncapped home and becomes cash
	var sel []domain.AssetScore
	for _, a := range []string{"A", "B", "C", "D", "E", "F"} {
		sel = append(sel, scored(a, 0.8))
	}

	targets := s.Size(sel, 0.95)

	require.Len(t, targets, 7)
	cash := targets[len(targets)-1]
	assert.Equal(t, domain.CashAsset, cash.Asset)
	assert.InDelta(t, 0.05, cash.TargetAllocation, 1e-9)
	assert.InDelta(t, 0.95, totalAllocation(targets), 1e-9)
}

func TestResidualTopSlicePrefersTopScores(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSinglePosition = 0.30
	cfg.Mode = config.SizingScoreWeighted
	cfg.EnableTwoStageSizing = false
	cfg.MaxResidualPerAsset = 0.02
	s := newTestSizer(cfg)

	// B gets clamped from 0.60 to 0.30; the 0.30 residual flows to the
	// uncapped assets in score order, 0.02 each, remainder to cash
	targets := s.Size([]domain.AssetScore{
		scored("A", 0.2),
		scored("B", 0.6),
		scored("C", 0.1),
	}, 0.90)

	require.Len(t, targets, 4)
	assert.InDelta(t, 0.22, targets[0].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.30, targets[1].TargetAllocation, 1e-9)
	assert.InDelta(t, 0.12, targets[2].TargetAllocation, 1e-9)
	assert.Equal(t, domain.CashAsset, targets[3].Asset)
	assert.InDelta(t, 0.26, targets[3].TargetAllocation, 1e-9)
}

func TestResidualCashBucket(t *testing.T) {
	cfg := baseConfig()
	cfg.ResidualStrategy = config.ResidualCashBucket
	s := newTestSizer(cfg)

	targets := s.Size([]domain.AssetScore{
		scored("A", 0.8), scored("B", 0.8), scored("C", 0.8),
	}, 0.95)

	// Three positions cap at 0.45 total; half a percent shy of nothing,
	// the full remainder is parked as cash
	cash := targets[len(targets)-1]
	require.Equal(t, domain.CashAsset, cash.Asset)
	assert.InDelta(t, 0.50, cash.TargetAllocation, 1e-9)
	assert.Equal(t, CashBucket, cash.Bucket)
	assert.Equal(t, domain.PriorityFallback, cash.Priority)
}

func TestResidualProportional(t *testing.T) {
	cfg := baseConfig()
	cfg.ResidualStrategy = config.ResidualProportional
	cfg.MaxSinglePosition = 0.40
	cfg.Mode = config.SizingScoreWeighted
	cfg.EnableTwoStageSizing = false
	s := newTestSizer(cfg)

	// B clamps from 0.60 to 0.40, leaving 0.20; A and C absorb it in
	// proportion to their sizes
	targets := s.Size([]domain.AssetScore{
		scored("A", 0.2),
		scored("B", 0.6),
		scored("C", 0.1),
	}, 0.90)

	require.Len(t, targets, 3)
	assert.InDelta(t, 0.90, totalAllocation(targets), 1e-9)
	assert.Greater(t, targets[0].TargetAllocation, targets[2].TargetAllocation)
}

func TestZeroBudgetReturnsNothing(t *testing.T) {
	s := newTestSizer(baseConfig())

	assert.Nil(t, s.Size([]domain.AssetScore{scored("A", 0.8)}, 0))
	assert.Nil(t, s.Size(nil, 0.95))
}
