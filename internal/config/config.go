// Package config provides configuration management for the rebalancing engine.
package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// SizingMode selects how stage-one base sizes are computed.
type SizingMode string

const (
	SizingEqualWeight   SizingMode = "equal_weight"
	SizingScoreWeighted SizingMode = "score_weighted"
	SizingAdaptive      SizingMode = "adaptive"
)

// ResidualStrategy selects where allocation left over after cap enforcement goes.
type ResidualStrategy string

const (
	ResidualSafeTopSlice ResidualStrategy = "safe_top_slice"
	ResidualProportional ResidualStrategy = "proportional"
	ResidualCashBucket   ResidualStrategy = "cash_bucket"
)

// Selection holds universe selection and scoring options.
type Selection struct {
	MaxTotalPositions     int     `yaml:"max_total_positions"`
	MaxNewPositions       int     `yaml:"max_new_positions"`
	MinScoreThreshold     float64 `yaml:"min_score_threshold"`
	MinScoreNewPosition   float64 `yaml:"min_score_new_position"`
	EnableTechnical       bool    `yaml:"enable_technical"`
	EnableFundamental     bool    `yaml:"enable_fundamental"`
	TechnicalWeight       float64 `yaml:"technical_weight"`
	FundamentalWeight     float64 `yaml:"fundamental_weight"`
	MinTrendingConfidence float64 `yaml:"min_trending_confidence"`
}

// Bucket holds diversification constraints.
type Bucket struct {
	EnableDiversification  bool    `yaml:"enable_bucket_diversification"`
	MaxPositionsPerBucket  int     `yaml:"max_positions_per_bucket"`
	MaxAllocationPerBucket float64 `yaml:"max_allocation_per_bucket"`
	MinBucketsRepresented  int     `yaml:"min_buckets_represented"`
	AllowBucketOverflow    bool    `yaml:"allow_bucket_overflow"`
	CorrelationLimit       float64 `yaml:"correlation_limit"`
}

// Sizing holds dynamic position sizing options.
type Sizing struct {
	EnableDynamicSizing   bool             `yaml:"enable_dynamic_sizing"`
	Mode                  SizingMode       `yaml:"sizing_mode"`
	MaxSinglePosition     float64          `yaml:"max_single_position"`
	MinPositionSize       float64          `yaml:"min_position_size"`
	TargetTotalAllocation float64          `yaml:"target_total_allocation"`
	ResidualStrategy      ResidualStrategy `yaml:"residual_strategy"`
	MaxResidualPerAsset   float64          `yaml:"max_residual_per_asset"`
	MaxResidualMultiple   float64          `yaml:"max_residual_multiple"`
	EnableTwoStageSizing  bool             `yaml:"enable_two_stage_sizing"`
}

// Grace holds grace period options.
type Grace struct {
	EnableGracePeriods bool    `yaml:"enable_grace_periods"`
	GracePeriodDays    int     `yaml:"grace_period_days"`
	GraceDecayRate     float64 `yaml:"grace_decay_rate"`
	MinDecayFactor     float64 `yaml:"min_decay_factor"`
}

// Holding holds minimum/maximum holding period options.
type Holding struct {
	MinHoldingPeriodDays       int    `yaml:"min_holding_period_days"`
	MaxHoldingPeriodDays       int    `yaml:"max_holding_period_days"`
	EnableRegimeOverrides      bool   `yaml:"enable_regime_overrides"`
	RegimeOverrideCooldownDays int    `yaml:"regime_override_cooldown_days"`
	RegimeSeverityThreshold    string `yaml:"regime_severity_threshold"`
}

// Whipsaw holds open/close cycle throttling options.
type Whipsaw struct {
	EnableWhipsawProtection      bool    `yaml:"enable_whipsaw_protection"`
	MaxCyclesPerProtectionPeriod int     `yaml:"max_cycles_per_protection_period"`
	WhipsawProtectionDays        int     `yaml:"whipsaw_protection_days"`
	MinPositionDurationHours     float64 `yaml:"min_position_duration_hours"`
}

// Core holds core-asset management options.
type Core struct {
	EnableCoreAssetManagement     bool    `yaml:"enable_core_asset_management"`
	OverrideThreshold             float64 `yaml:"core_asset_override_threshold"`
	ExpiryDays                    int     `yaml:"core_asset_expiry_days"`
	UnderperformanceThreshold     float64 `yaml:"core_asset_underperformance_threshold"`
	UnderperformancePeriodDays    int     `yaml:"core_asset_underperformance_period"`
	MaxCoreAssets                 int     `yaml:"max_core_assets"`
	ExtensionLimit                int     `yaml:"core_asset_extension_limit"`
	PerformanceCheckFrequencyDays int     `yaml:"core_asset_performance_check_frequency"`
}

// Config is the full engine configuration.
type Config struct {
	Selection Selection `yaml:"selection"`
	Bucket    Bucket    `yaml:"bucket"`
	Sizing    Sizing    `yaml:"sizing"`
	Grace     Grace     `yaml:"grace"`
	Holding   Holding   `yaml:"holding"`
	Whipsaw   Whipsaw   `yaml:"whipsaw"`
	Core      Core      `yaml:"core"`
}

// Default returns the engine configuration with the documented defaults.
func Default() Config {
	return Config{
		Selection: Selection{
			MaxTotalPositions:     10,
			MaxNewPositions:       3,
			MinScoreThreshold:     0.60,
			MinScoreNewPosition:   0.65,
			EnableTechnical:       true,
			EnableFundamental:     true,
			TechnicalWeight:       0.6,
			FundamentalWeight:     0.4,
			MinTrendingConfidence: 0.7,
		},
		Bucket: Bucket{
			EnableDiversification:  true,
			MaxPositionsPerBucket:  2,
			MaxAllocationPerBucket: 0.4,
			MinBucketsRepresented:  2,
			AllowBucketOverflow:    true,
			CorrelationLimit:       0.8,
		},
		Sizing: Sizing{
			EnableDynamicSizing:   true,
			Mode:                  SizingAdaptive,
			MaxSinglePosition:     0.15,
			MinPositionSize:       0.02,
			TargetTotalAllocation: 0.95,
			ResidualStrategy:      ResidualSafeTopSlice,
			MaxResidualPerAsset:   0.05,
			MaxResidualMultiple:   0.5,
			EnableTwoStageSizing:  true,
		},
		Grace: Grace{
			EnableGracePeriods: true,
			GracePeriodDays:    5,
			GraceDecayRate:     0.8,
			MinDecayFactor:     0.1,
		},
		Holding: Holding{
			MinHoldingPeriodDays:       3,
			MaxHoldingPeriodDays:       90,
			EnableRegimeOverrides:      true,
			RegimeOverrideCooldownDays: 7,
			RegimeSeverityThreshold:    "high",
		},
		Whipsaw: Whipsaw{
			EnableWhipsawProtection:      true,
			MaxCyclesPerProtectionPeriod: 1,
			WhipsawProtectionDays:        14,
			MinPositionDurationHours:     4,
		},
		Core: Core{
			EnableCoreAssetManagement:     true,
			OverrideThreshold:             0.95,
			ExpiryDays:                    90,
			UnderperformanceThreshold:     0.15,
			UnderperformancePeriodDays:    30,
			MaxCoreAssets:                 3,
			ExtensionLimit:                2,
			PerformanceCheckFrequencyDays: 7,
		},
	}
}

// Normalize fixes up derivable values: analysis weights that do not sum to 1
// are rescaled (with a warning), and a disabled channel pushes its weight to
// the other channel.
func (c *Config) Normalize(log zerolog.Logger) {
	s := &c.Selection

	if !s.EnableTechnical {
		s.TechnicalWeight = 0
		s.FundamentalWeight = 1
		return
	}
	if !s.EnableFundamental {
		s.TechnicalWeight = 1
		s.FundamentalWeight = 0
		return
	}

	sum := s.TechnicalWeight + s.FundamentalWeight
	if sum <= 0 {
		return // caught by Validate
	}
	if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
		log.Warn().
			Float64("technical_weight", s.TechnicalWeight).
			Float64("fundamental_weight", s.FundamentalWeight).
			Msg("Analysis weights do not sum to 1, normalizing")
		s.TechnicalWeight /= sum
		s.FundamentalWeight /= sum
	}
}

// Validate rejects impossible configurations. Called once at startup; the
// engine never starts with an invalid config.
func (c *Config) Validate() error {
	s := c.Selection
	if !s.EnableTechnical && !s.EnableFundamental {
		return fmt.Errorf("at least one of technical or fundamental analysis must be enabled")
	}
	if s.TechnicalWeight < 0 || s.FundamentalWeight < 0 {
		return fmt.Errorf("analysis weights must be non-negative")
	}
	if s.EnableTechnical && s.EnableFundamental && s.TechnicalWeight+s.FundamentalWeight <= 0 {
		return fmt.Errorf("analysis weights must sum to a positive value")
	}
	if s.MaxTotalPositions <= 0 {
		return fmt.Errorf("max_total_positions must be positive, got %d", s.MaxTotalPositions)
	}
	if s.MaxNewPositions > s.MaxTotalPositions {
		return fmt.Errorf("max_new_positions (%d) cannot exceed max_total_positions (%d)",
			s.MaxNewPositions, s.MaxTotalPositions)
	}

	z := c.Sizing
	if z.TargetTotalAllocation <= 0 || z.TargetTotalAllocation > 1 {
		return fmt.Errorf("target_total_allocation must be in (0,1], got %f", z.TargetTotalAllocation)
	}
	if z.MaxSinglePosition <= 0 || z.MaxSinglePosition > 1 {
		return fmt.Errorf("max_single_position must be in (0,1], got %f", z.MaxSinglePosition)
	}
	if z.MinPositionSize < 0 || z.MinPositionSize > z.MaxSinglePosition {
		return fmt.Errorf("min_position_size must be in [0, max_single_position]")
	}
	switch z.Mode {
	case SizingEqualWeight, SizingScoreWeighted, SizingAdaptive:
	default:
		return fmt.Errorf("unknown sizing_mode %q", z.Mode)
	}
	switch z.ResidualStrategy {
	case ResidualSafeTopSlice, ResidualProportional, ResidualCashBucket:
	default:
		return fmt.Errorf("unknown residual_strategy %q", z.ResidualStrategy)
	}

	g := c.Grace
	if g.EnableGracePeriods {
		if g.GraceDecayRate <= 0 || g.GraceDecayRate >= 1 {
			return fmt.Errorf("grace_decay_rate must be in (0,1), got %f", g.GraceDecayRate)
		}
		if g.GracePeriodDays <= 0 {
			return fmt.Errorf("grace_period_days must be positive, got %d", g.GracePeriodDays)
		}
		if g.MinDecayFactor < 0 || g.MinDecayFactor > 1 {
			return fmt.Errorf("min_decay_factor must be in [0,1], got %f", g.MinDecayFactor)
		}
	}

	h := c.Holding
	if h.MinHoldingPeriodDays < 0 {
		return fmt.Errorf("min_holding_period_days must be non-negative")
	}
	if h.MaxHoldingPeriodDays > 0 && h.MaxHoldingPeriodDays < h.MinHoldingPeriodDays {
		return fmt.Errorf("max_holding_period_days (%d) cannot be below min_holding_period_days (%d)",
			h.MaxHoldingPeriodDays, h.MinHoldingPeriodDays)
	}
	switch h.RegimeSeverityThreshold {
	case "normal", "high", "critical":
	default:
		return fmt.Errorf("unknown regime_severity_threshold %q", h.RegimeSeverityThreshold)
	}

	w := c.Whipsaw
	if w.EnableWhipsawProtection {
		if w.MaxCyclesPerProtectionPeriod < 0 {
			return fmt.Errorf("max_cycles_per_protection_period must be non-negative")
		}
		if w.WhipsawProtectionDays <= 0 {
			return fmt.Errorf("whipsaw_protection_days must be positive")
		}
	}

	k := c.Core
	if k.EnableCoreAssetManagement {
		if k.MaxCoreAssets <= 0 {
			return fmt.Errorf("max_core_assets must be positive, got %d", k.MaxCoreAssets)
		}
		if k.ExtensionLimit < 0 {
			return fmt.Errorf("core_asset_extension_limit must be non-negative")
		}
		if k.ExpiryDays <= 0 {
			return fmt.Errorf("core_asset_expiry_days must be positive")
		}
	}

	return nil
}

// HistoryRetentionDays is the window beyond which position events can no
// longer influence any protection decision.
func (c *Config) HistoryRetentionDays() int {
	retention := c.Whipsaw.WhipsawProtectionDays
	if c.Holding.MaxHoldingPeriodDays > retention {
		retention = c.Holding.MaxHoldingPeriodDays
	}
	if c.Core.ExpiryDays > retention {
		retention = c.Core.ExpiryDays
	}
	return retention + 30
}
