// Package scoring combines technical and fundamental sub-scores into a
// single combined score per asset, with configurable weights and graceful
// fallback when one channel is absent.
package scoring

import (
	"errors"
	"math"
	"time"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/universe"
	"github.com/rs/zerolog"
)

// portfolioStickiness is the multiplicative boost applied to currently held
// assets after weighting and regime adjustment, biasing the selection toward
// keeping positions over churning them.
const portfolioStickiness = 1.02

// regimeAdjustments tilts combined scores per regime family. A regime with
// no entry falls back to 1.0.
var regimeAdjustments = map[string]float64{
	"Goldilocks": 1.03,
	"Reflation":  1.01,
	"Inflation":  0.99,
	"Deflation":  0.97,
}

// Service scores universe candidates for one rebalance date. Scoring of
// distinct assets is independent and fans out to a bounded worker pool; the
// output preserves the universe order.
type Service struct {
	cfg         config.Selection
	technical   domain.TechnicalAnalyzer
	fundamental domain.FundamentalAnalyzer
	pool        *workerPool
	log         zerolog.Logger
}

// NewService creates a scoring service. Either analyzer may be nil when the
// corresponding channel is disabled; config validation guarantees at least
// one is present.
func NewService(
	cfg config.Selection,
	technical domain.TechnicalAnalyzer,
	fundamental domain.FundamentalAnalyzer,
	parallelism int,
	log zerolog.Logger,
) *Service {
	return &Service{
		cfg:         cfg,
		technical:   technical,
		fundamental: fundamental,
		pool:        newWorkerPool(parallelism),
		log:         log.With().Str("component", "scoring_service").Logger(),
	}
}

// ScoreAll scores every candidate. Per-asset failures are logged and the
// asset is returned with MissingData set; held assets are never dropped so
// the engine can retain them with an explicit hold.
func (s *Service) ScoreAll(candidates []universe.Candidate, date time.Time, regime domain.Regime) []domain.AssetScore {
	scores := make([]domain.AssetScore, len(candidates))

	s.pool.run(len(candidates), func(i int) {
		scores[i] = s.score(candidates[i], date, regime)
	})

	return scores
}

// score computes one candidate's AssetScore. Combination order: channel
// weighting, then regime adjustment, then portfolio stickiness.
func (s *Service) score(c universe.Candidate, date time.Time, regime domain.Regime) domain.AssetScore {
	result := domain.AssetScore{
		Asset:              c.Asset,
		Date:               date,
		Regime:             regime.Name,
		Priority:           c.Priority,
		Bucket:             c.Bucket,
		IsCurrentPosition:  c.IsCurrentPosition,
		PreviousAllocation: c.PreviousAllocation,
	}

	var technical, fundamental float64
	if s.cfg.EnableTechnical && s.technical != nil {
		score, err := s.technical.Score(c.Asset, date)
		switch {
		case err == nil:
			technical = clamp01(score)
			result.HasTechnical = true
		case errors.Is(err, domain.ErrNoData):
			s.log.Debug().Str("asset", c.Asset).Msg("No technical data, channel skipped")
		default:
			s.log.Warn().Err(err).Str("asset", c.Asset).Msg("Technical scoring failed, channel skipped")
		}
	}
	if s.cfg.EnableFundamental && s.fundamental != nil {
		score, err := s.fundamental.Score(c.Asset, date, regime)
		switch {
		case err == nil:
			fundamental = clamp01(score)
			result.HasFundamental = true
		case errors.Is(err, domain.ErrNoData):
			s.log.Debug().Str("asset", c.Asset).Msg("No fundamental data, channel skipped")
		default:
			s.log.Warn().Err(err).Str("asset", c.Asset).Msg("Fundamental scoring failed, channel skipped")
		}
	}

	if !result.HasTechnical && !result.HasFundamental {
		result.MissingData = true
		return result
	}

	result.Technical = technical
	result.Fundamental = fundamental
	result.Combined = s.combine(result, regime)
	return result
}

// combine applies effective weights: a channel with no data pushes its
// weight to the other channel.
func (s *Service) combine(score domain.AssetScore, regime domain.Regime) float64 {
	techWeight := s.cfg.TechnicalWeight
	fundWeight := s.cfg.FundamentalWeight
	switch {
	case score.HasTechnical && !score.HasFundamental:
		techWeight, fundWeight = 1, 0
	case !score.HasTechnical && score.HasFundamental:
		techWeight, fundWeight = 0, 1
	}

	combined := score.Technical*techWeight + score.Fundamental*fundWeight

	adjustment, ok := regimeAdjustments[regime.Name]
	if !ok {
		adjustment = 1.0
	}
	combined *= adjustment

	if score.Priority == domain.PriorityPortfolio {
		combined *= portfolioStickiness
	}

	return clamp01(combined)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
