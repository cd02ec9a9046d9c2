// Package universe builds the scored candidate set for a rebalance date by
// merging current holdings, trending candidates, and regime bucket members.
package universe

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Candidate is one member of the combined universe before scoring.
type Candidate struct {
	Asset              string
	Priority           domain.Priority
	Bucket             string
	IsCurrentPosition  bool
	PreviousAllocation float64
}

// Builder merges the candidate channels for one rebalance date.
type Builder struct {
	regimes domain.RegimeProvider
	catalog domain.BucketCatalog
	log     zerolog.Logger
}

// NewBuilder creates a universe builder.
func NewBuilder(regimes domain.RegimeProvider, catalog domain.BucketCatalog, log zerolog.Logger) *Builder {
	return &Builder{
		regimes: regimes,
		catalog: catalog,
		log:     log.With().Str("component", "universe_builder").Logger(),
	}
}

// Build forms the combined universe: holdings, trending candidates, and
// members of the regime's preferred buckets, each tagged with the highest
// applicable priority (holdings > trending > regime > fallback).
//
// Every held asset appears in the result regardless of bucket filters or
// trending membership, so a held asset is always either re-scored or
// explicitly closed, never silently dropped.
func (b *Builder) Build(
	date time.Time,
	holdings map[string]float64,
	regime domain.Regime,
	bucketFilter []string,
	minTrendingConfidence float64,
) ([]Candidate, error) {
	buckets := bucketFilter
	if len(buckets) == 0 {
		buckets = regime.PreferredBuckets
	}

	// Priority map: strongest channel wins
	priorities := make(map[string]domain.Priority)

	for _, bucket := range buckets {
		for _, asset := range b.catalog.Assets(bucket) {
			priorities[asset] = domain.PriorityRegime
		}
	}

	trending, err := b.regimes.Trending(date, minTrendingConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending candidates: %w", err)
	}
	for _, asset := range trending {
		priorities[asset] = domain.PriorityTrending
	}

	// Holdings enter unconditionally and outrank every other channel
	for asset := range holdings {
		priorities[asset] = domain.PriorityPortfolio
	}

	candidates := make([]Candidate, 0, len(priorities))
	for asset, priority := range priorities {
		alloc, held := holdings[asset]
		candidates = append(candidates, Candidate{
			Asset:              asset,
			Priority:           priority,
			Bucket:             b.catalog.Bucket(asset),
			IsCurrentPosition:  held,
			PreviousAllocation: alloc,
		})
	}

	// Deterministic order: priority rank, then asset id
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() < candidates[j].Priority.Rank()
		}
		return candidates[i].Asset < candidates[j].Asset
	})

	b.log.Debug().
		Int("holdings", len(holdings)).
		Int("trending", len(trending)).
		Int("combined", len(candidates)).
		Str("regime", regime.Name).
		Msg("Built candidate universe")

	return candidates, nil
}
