package rebalancer

import (
	"time"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/aristath/helmsman/internal/protection/whipsaw"
	"github.com/rs/zerolog"
)

// Managers groups the lifecycle managers of one engine instance.
type Managers struct {
	Grace   *grace.Manager
	Holding *holding.Manager
	Whipsaw *whipsaw.Manager
	Core    *coreasset.Manager
}

// BuildManagers constructs the lifecycle managers from the engine
// configuration.
func BuildManagers(
	cfg config.Config,
	catalog domain.BucketCatalog,
	prices domain.PriceProvider,
	hist *history.Store,
	log zerolog.Logger,
) Managers {
	return Managers{
		Grace: grace.NewManager(grace.Config{
			Enabled:        cfg.Grace.EnableGracePeriods,
			PeriodDays:     cfg.Grace.GracePeriodDays,
			DecayRate:      cfg.Grace.GraceDecayRate,
			MinDecayFactor: cfg.Grace.MinDecayFactor,
		}, log),
		Holding: holding.NewManager(holding.Config{
			MinHoldingDays:        cfg.Holding.MinHoldingPeriodDays,
			MaxHoldingDays:        cfg.Holding.MaxHoldingPeriodDays,
			EnableRegimeOverrides: cfg.Holding.EnableRegimeOverrides,
			OverrideCooldownDays:  cfg.Holding.RegimeOverrideCooldownDays,
			SeverityThreshold:     domain.RegimeSeverity(cfg.Holding.RegimeSeverityThreshold),
		}, log),
		Whipsaw: whipsaw.NewManager(whipsaw.Config{
			Enabled:             cfg.Whipsaw.EnableWhipsawProtection,
			MaxCyclesPerPeriod:  cfg.Whipsaw.MaxCyclesPerProtectionPeriod,
			ProtectionDays:      cfg.Whipsaw.WhipsawProtectionDays,
			MinPositionDuration: time.Duration(cfg.Whipsaw.MinPositionDurationHours * float64(time.Hour)),
		}, hist, log),
		Core: coreasset.NewManager(coreasset.Config{
			Enabled:                   cfg.Core.EnableCoreAssetManagement,
			OverrideThreshold:         cfg.Core.OverrideThreshold,
			ExpiryDays:                cfg.Core.ExpiryDays,
			UnderperformanceThreshold: cfg.Core.UnderperformanceThreshold,
			UnderperformancePeriod:    cfg.Core.UnderperformancePeriodDays,
			MaxCoreAssets:             cfg.Core.MaxCoreAssets,
			ExtensionLimit:            cfg.Core.ExtensionLimit,
			CheckFrequencyDays:        cfg.Core.PerformanceCheckFrequencyDays,
		}, catalog, prices, log),
	}
}
