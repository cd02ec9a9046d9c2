// Package sizing converts a selected, scored asset set into target
// allocations: stage one computes base sizes by mode, stage two caps and
// renormalizes, and a residual policy disposes of whatever the caps left
// unallocated.
package sizing

import (
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// CashBucket is the bucket label carried by the synthetic cash target.
const CashBucket = "Cash"

// Sizer computes target allocations for a selected asset set.
type Sizer struct {
	cfg    config.Sizing
	isCore func(asset string) bool
	log    zerolog.Logger
}

// NewSizer creates a position sizer. isCore may be nil; core assets are
// exempt from the single-position cap.
func NewSizer(cfg config.Sizing, isCore func(asset string) bool, log zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		isCore: isCore,
		log:    log.With().Str("component", "position_sizer").Logger(),
	}
}

// Size allocates budget across the selection and returns one target per
// asset, plus a synthetic CASH target when the residual policy leaves cash
// unallocated. The budget is the target total allocation minus whatever the
// caller has already pinned elsewhere. Output order follows the input order
// with CASH last.
func (s *Sizer) Size(selected []domain.AssetScore, budget float64) []domain.RebalancingTarget {
	if len(selected) == 0 || budget <= 0 {
		return nil
	}

	total := budget
	sizes := s.baseSizes(selected, total)

	var capped map[int]bool
	if s.cfg.EnableTwoStageSizing {
		capped = s.capAndRenormalize(selected, sizes)
	} else {
		capped = s.clampOnce(selected, sizes)
	}
	dropped := s.applyFloor(selected, sizes, total)

	allocated := 0.0
	for _, size := range sizes {
		allocated += size
	}
	cash := 0.0
	if residual := total - allocated; residual > 1e-12 {
		cash = s.distributeResidual(selected, sizes, capped, residual)
	}

	targets := make([]domain.RebalancingTarget, 0, len(selected)+1)
	for i, score := range selected {
		t := domain.RebalancingTarget{
			Asset:            score.Asset,
			TargetAllocation: sizes[i],
			Priority:         score.Priority,
			Bucket:           score.Bucket,
			Score:            score.Combined,
		}
		if dropped[i] {
			t.Reason = "size below minimum position size"
		}
		targets = append(targets, t)
	}
	if cash > 1e-12 {
		targets = append(targets, domain.RebalancingTarget{
			Asset:            domain.CashAsset,
			TargetAllocation: cash,
			Priority:         domain.PriorityFallback,
			Bucket:           CashBucket,
			Reason:           "residual cash",
		})
	}

	s.log.Debug().
		Int("positions", len(selected)).
		Float64("allocated", total-cash).
		Float64("cash", cash).
		Str("mode", string(s.cfg.Mode)).
		Msg("Sized targets")
	return targets
}

// baseSizes computes stage-one sizes summing to total.
func (s *Sizer) baseSizes(selected []domain.AssetScore, total float64) []float64 {
	n := len(selected)
	sizes := make([]float64, n)

	mode := s.cfg.Mode
	if !s.cfg.EnableDynamicSizing {
		mode = config.SizingEqualWeight
	}

	switch mode {
	case config.SizingScoreWeighted:
		s.weightByScore(selected, sizes, total, 1.0)
	case config.SizingAdaptive:
		s.weightByScore(selected, sizes, total, adaptiveExponent(n))
	default:
		for i := range sizes {
			sizes[i] = total / float64(n)
		}
	}
	return sizes
}

// weightByScore sizes proportionally to combined^exponent, falling back to
// equal weight when every score is zero.
func (s *Sizer) weightByScore(selected []domain.AssetScore, sizes []float64, total, exponent float64) {
	sum := 0.0
	weights := make([]float64, len(selected))
	for i, score := range selected {
		weights[i] = math.Pow(score.Combined, exponent)
		sum += weights[i]
	}
	if sum <= 0 {
		for i := range sizes {
			sizes[i] = total / float64(len(sizes))
		}
		return
	}
	for i := range sizes {
		sizes[i] = total * weights[i] / sum
	}
}

// adaptiveExponent decays the score exponent toward zero (equal weight) as
// the position count grows: 1.0 for a single position, 0.5 at eleven.
func adaptiveExponent(n int) float64 {
	return 1.0 / (1.0 + float64(n-1)/10.0)
}

// capAndRenormalize clamps sizes above the single-position cap and
// redistributes the excess proportionally among uncapped positions,
// repeating until stable. Bounded by one iteration per position since each
// pass caps at least one more asset. Core assets are cap-exempt. Returns
// the capped index set.
func (s *Sizer) capAndRenormalize(selected []domain.AssetScore, sizes []float64) map[int]bool {
	capM := s.cfg.MaxSinglePosition
	capped := make(map[int]bool)

	for iter := 0; iter < len(sizes); iter++ {
		excess := 0.0
		uncappedTotal := 0.0
		for i, size := range sizes {
			if capped[i] {
				continue
			}
			if s.coreExempt(selected[i].Asset) {
				continue
			}
			if size > capM {
				excess += size - capM
				sizes[i] = capM
				capped[i] = true
			} else {
				uncappedTotal += size
			}
		}
		if excess <= 1e-12 {
			break
		}
		if uncappedTotal <= 1e-12 {
			// Nowhere to redistribute; the excess becomes residual
			break
		}
		for i := range sizes {
			if capped[i] || s.coreExempt(selected[i].Asset) {
				continue
			}
			sizes[i] += excess * sizes[i] / uncappedTotal
		}
	}
	return capped
}

// clampOnce applies the single-position cap without redistribution.
func (s *Sizer) clampOnce(selected []domain.AssetScore, sizes []float64) map[int]bool {
	capped := make(map[int]bool)
	for i := range sizes {
		if s.coreExempt(selected[i].Asset) {
			continue
		}
		if sizes[i] > s.cfg.MaxSinglePosition {
			sizes[i] = s.cfg.MaxSinglePosition
			capped[i] = true
		}
	}
	return capped
}

// applyFloor raises sizes below the minimum position size up to it. When the
// raised total would exceed the budget, the weakest floored positions are
// dropped to zero until the total fits again, so flooring never breaks the
// budget invariant. Returns the dropped index set.
func (s *Sizer) applyFloor(selected []domain.AssetScore, sizes []float64, total float64) map[int]bool {
	min := s.cfg.MinPositionSize
	dropped := make(map[int]bool)
	if min <= 0 {
		return dropped
	}

	var floored []int
	sum := 0.0
	for i := range sizes {
		if sizes[i] > 0 && sizes[i] < min {
			sizes[i] = min
			floored = append(floored, i)
		}
		sum += sizes[i]
	}
	if sum <= total+1e-12 {
		return dropped
	}

	// Worst first: lowest score, ties broken against the later asset id
	sort.Slice(floored, func(a, b int) bool {
		if selected[floored[a]].Combined != selected[floored[b]].Combined {
			return selected[floored[a]].Combined < selected[floored[b]].Combined
		}
		return selected[floored[a]].Asset > selected[floored[b]].Asset
	})

	for _, i := range floored {
		if sum <= total+1e-12 {
			break
		}
		sum -= sizes[i]
		sizes[i] = 0
		dropped[i] = true
		s.log.Debug().Str("asset", selected[i].Asset).Msg("Dropped sub-minimum position, no budget to floor it")
	}
	return dropped
}

// distributeResidual disposes of the unallocated remainder per the
// configured strategy and returns the portion that ends up as cash.
func (s *Sizer) distributeResidual(selected []domain.AssetScore, sizes []float64, capped map[int]bool, residual float64) float64 {
	switch s.cfg.ResidualStrategy {
	case config.ResidualCashBucket:
		return residual
	case config.ResidualProportional:
		return s.residualProportional(selected, sizes, residual)
	default:
		return s.residualTopSlice(selected, sizes, capped, residual)
	}
}

// residualTopSlice adds the residual to the top-scoring uncapped positions,
// bounded per asset by min(max_residual_per_asset, max_residual_multiple x
// current size) and by the single-position cap. Whatever cannot be placed
// becomes cash.
func (s *Sizer) residualTopSlice(selected []domain.AssetScore, sizes []float64, capped map[int]bool, residual float64) float64 {
	order := make([]int, 0, len(selected))
	for i := range selected {
		if !capped[i] {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		if selected[order[a]].Combined != selected[order[b]].Combined {
			return selected[order[a]].Combined > selected[order[b]].Combined
		}
		return selected[order[a]].Asset < selected[order[b]].Asset
	})

	for _, i := range order {
		if residual <= 1e-12 {
			break
		}
		bound := math.Min(s.cfg.MaxResidualPerAsset, s.cfg.MaxResidualMultiple*sizes[i])
		if !s.coreExempt(selected[i].Asset) {
			bound = math.Min(bound, s.cfg.MaxSinglePosition-sizes[i])
		}
		if bound <= 0 {
			continue
		}
		add := math.Min(residual, bound)
		sizes[i] += add
		residual -= add
	}
	return math.Max(0, residual)
}

// residualProportional distributes the residual proportionally to current
// sizes, subject to the single-position cap. Leftover becomes cash.
func (s *Sizer) residualProportional(selected []domain.AssetScore, sizes []float64, residual float64) float64 {
	for iter := 0; iter < len(sizes) && residual > 1e-12; iter++ {
		eligibleTotal := 0.0
		for i, size := range sizes {
			if s.coreExempt(selected[i].Asset) || size < s.cfg.MaxSinglePosition {
				eligibleTotal += size
			}
		}
		if eligibleTotal <= 1e-12 {
			break
		}
		placed := 0.0
		for i := range sizes {
			exempt := s.coreExempt(selected[i].Asset)
			if !exempt && sizes[i] >= s.cfg.MaxSinglePosition {
				continue
			}
			add := residual * sizes[i] / eligibleTotal
			if !exempt {
				add = math.Min(add, s.cfg.MaxSinglePosition-sizes[i])
			}
			sizes[i] += add
			placed += add
		}
		if placed <= 1e-12 {
			break
		}
		residual -= placed
	}
	return math.Max(0, residual)
}

func (s *Sizer) coreExempt(asset string) bool {
	return s.isCore != nil && s.isCore(asset)
}
