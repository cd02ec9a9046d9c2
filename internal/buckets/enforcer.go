// Package buckets classifies scored assets into named buckets and enforces
// diversification constraints: per-bucket position counts, per-bucket
// allocation caps, and minimum bucket representation.
package buckets

import (
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Rejection records an asset dropped by bucket limits, with the reason so
// callers can log and audit.
type Rejection struct {
	Asset  string
	Bucket string
	Score  float64
	Reason string
}

// Hooks let the enforcer consult and extend core asset designations.
// Core assets are exempt from bucket-cap enforcement, and "smart
// diversification" may promote an over-cap asset to core instead of
// rejecting it.
type Hooks struct {
	// IsCore reports whether the asset currently holds core status.
	IsCore func(asset string) bool

	// TryMarkCore attempts to designate the asset as core; returns false
	// when the designation limit is reached or management is disabled.
	TryMarkCore func(asset string, score float64, reason string) bool

	// CoreOverrideThreshold is the minimum score for auto-designation.
	CoreOverrideThreshold float64
}

// Result is the outcome of bucket selection.
type Result struct {
	Selected []domain.AssetScore
	Rejected []Rejection
}

// Enforcer applies bucket diversification constraints to a scored universe.
type Enforcer struct {
	cfg config.Bucket
	log zerolog.Logger
}

// NewEnforcer creates a bucket limits enforcer.
func NewEnforcer(cfg config.Bucket, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		cfg: cfg,
		log: log.With().Str("component", "bucket_enforcer").Logger(),
	}
}

// Select applies per-bucket position counts and minimum bucket
// representation. Within each bucket assets are ranked portfolio-first,
// then by combined score descending, ties broken by asset id. Portfolio
// assets are exempt from the count cap iff bucket overflow is allowed;
// core assets are always exempt.
func (e *Enforcer) Select(scores []domain.AssetScore, hooks Hooks) Result {
	if !e.cfg.EnableDiversification {
		return Result{Selected: scores}
	}

	grouped := make(map[string][]domain.AssetScore)
	for _, s := range scores {
		grouped[s.Bucket] = append(grouped[s.Bucket], s)
	}

	bucketNames := make([]string, 0, len(grouped))
	for name := range grouped {
		bucketNames = append(bucketNames, name)
	}
	sort.Strings(bucketNames)

	var result Result
	rejectedByBucket := make(map[string][]domain.AssetScore)

	for _, bucket := range bucketNames {
		group := grouped[bucket]
		sortGroup(group)

		kept := 0
		for _, s := range group {
			exempt := (s.Priority == domain.PriorityPortfolio && e.cfg.AllowBucketOverflow) ||
				(hooks.IsCore != nil && hooks.IsCore(s.Asset))
			if exempt || kept < e.cfg.MaxPositionsPerBucket {
				result.Selected = append(result.Selected, s)
				if !exempt {
					kept++
				}
				continue
			}

			// Smart diversification: an exceptional over-cap asset is
			// promoted to core instead of rejected
			if hooks.TryMarkCore != nil && s.Combined >= hooks.CoreOverrideThreshold &&
				hooks.TryMarkCore(s.Asset, s.Combined, fmt.Sprintf("smart diversification in bucket %s", bucket)) {
				result.Selected = append(result.Selected, s)
				e.log.Info().
					Str("asset", s.Asset).
					Str("bucket", bucket).
					Float64("score", s.Combined).
					Msg("Over-cap asset promoted to core")
				continue
			}

			result.Rejected = append(result.Rejected, Rejection{
				Asset:  s.Asset,
				Bucket: bucket,
				Score:  s.Combined,
				Reason: fmt.Sprintf("bucket %s at position cap %d", bucket, e.cfg.MaxPositionsPerBucket),
			})
			rejectedByBucket[bucket] = append(rejectedByBucket[bucket], s)
		}
	}

	result = e.ensureMinBuckets(result, rejectedByBucket)

	e.log.Debug().
		Int("selected", len(result.Selected)).
		Int("rejected", len(result.Rejected)).
		Msg("Applied bucket limits")
	return result
}

// ensureMinBuckets force-includes the top-scoring asset from
// under-represented buckets until the minimum distinct-bucket count is
// reached (bounded by the buckets actually available).
func (e *Enforcer) ensureMinBuckets(result Result, rejectedByBucket map[string][]domain.AssetScore) Result {
	if e.cfg.MinBucketsRepresented <= 0 {
		return result
	}

	represented := make(map[string]bool)
	for _, s := range result.Selected {
		represented[s.Bucket] = true
	}

	available := len(represented) + len(missingBuckets(rejectedByBucket, represented))
	needed := e.cfg.MinBucketsRepresented
	if needed > available {
		needed = available
	}

	if len(represented) >= needed {
		return result
	}

	// Deterministic order over candidate buckets
	candidates := missingBuckets(rejectedByBucket, represented)
	sort.Strings(candidates)

	for _, bucket := range candidates {
		if len(represented) >= needed {
			break
		}
		group := rejectedByBucket[bucket]
		sortGroup(group)
		forced := group[0]

		result.Selected = append(result.Selected, forced)
		result.Rejected = removeRejection(result.Rejected, forced.Asset)
		represented[bucket] = true

		e.log.Info().
			Str("asset", forced.Asset).
			Str("bucket", bucket).
			Msg("Force-included asset for minimum bucket representation")
	}

	return result
}

// CapAllocations scales each bucket's sized allocations down proportionally
// when the bucket total exceeds the allocation cap. Core assets are exempt
// from scaling. Runs after position sizing.
func (e *Enforcer) CapAllocations(targets []domain.RebalancingTarget, isCore func(asset string) bool) []domain.RebalancingTarget {
	if !e.cfg.EnableDiversification || e.cfg.MaxAllocationPerBucket <= 0 {
		return targets
	}

	bucketOf := make(map[string]string, len(targets))
	totals := make(map[string]float64)
	for _, t := range targets {
		if t.Asset == domain.CashAsset {
			continue
		}
		bucketOf[t.Asset] = t.Bucket
		if isCore == nil || !isCore(t.Asset) {
			totals[t.Bucket] += t.TargetAllocation
		}
	}

	scales := make(map[string]float64)
	for bucket, total := range totals {
		if total > e.cfg.MaxAllocationPerBucket {
			scales[bucket] = e.cfg.MaxAllocationPerBucket / total
			e.log.Debug().
				Str("bucket", bucket).
				Float64("total", total).
				Float64("cap", e.cfg.MaxAllocationPerBucket).
				Msg("Scaling bucket allocation to cap")
		}
	}
	if len(scales) == 0 {
		return targets
	}

	out := make([]domain.RebalancingTarget, len(targets))
	copy(out, targets)
	for i := range out {
		if out[i].Asset == domain.CashAsset {
			continue
		}
		if isCore != nil && isCore(out[i].Asset) {
			continue
		}
		if scale, ok := scales[bucketOf[out[i].Asset]]; ok {
			out[i].TargetAllocation *= scale
		}
	}
	return out
}

// sortGroup ranks a bucket's members: portfolio priority first, then
// combined score descending, then asset id.
func sortGroup(group []domain.AssetScore) {
	sort.SliceStable(group, func(i, j int) bool {
		pi := group[i].Priority == domain.PriorityPortfolio
		pj := group[j].Priority == domain.PriorityPortfolio
		if pi != pj {
			return pi
		}
		if group[i].Combined != group[j].Combined {
			return group[i].Combined > group[j].Combined
		}
		return group[i].Asset < group[j].Asset
	})
}

func missingBuckets(rejectedByBucket map[string][]domain.AssetScore, represented map[string]bool) []string {
	var out []string
	for bucket := range rejectedByBucket {
		if !represented[bucket] {
			out = append(out, bucket)
		}
	}
	return out
}

func removeRejection(rejections []Rejection, asset string) []Rejection {
	out := rejections[:0]
	for _, r := range rejections {
		if r.Asset != asset {
			out = append(out, r)
		}
	}
	return out
}
