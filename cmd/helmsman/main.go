package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/fixtures"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/metrics"
	"github.com/aristath/helmsman/internal/protection"
	"github.com/aristath/helmsman/internal/rebalancer"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/scoring"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/state"
	"github.com/aristath/helmsman/internal/universe"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/google/uuid"
)

func main() {
	app := config.LoadApp()

	log := logger.New(logger.Config{
		Level:  app.LogLevel,
		Pretty: app.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting helmsman")

	// Engine configuration
	engineCfg := config.Default()
	if app.ConfigPath != "" {
		var err error
		engineCfg, err = config.LoadFile(app.ConfigPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}
	engineCfg.Normalize(log)
	if err := engineCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Market data: holdings, buckets, regime, price history
	market, err := fixtures.Load(app.MarketPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market data")
	}
	series, err := market.PriceSeries()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid price history")
	}

	// Event log database
	eventsDB, err := database.New(database.Config{
		Path:    filepath.Join(app.DataDir, "events.db"),
		Profile: database.ProfileLedger,
		Name:    "events",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event log database")
	}
	defer eventsDB.Close()
	if err := eventsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate event log database")
	}

	eventLog := events.NewSQLiteSink(eventsDB, log)
	defer eventLog.Close()
	bus := events.NewBus(256, log)
	defer bus.Close()
	sink := events.Tee{eventLog, bus}

	// Position lifecycle database
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(app.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()
	if err := historyDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}
	positionEvents := history.NewRepository(historyDB, log)
	if _, err := positionEvents.Prune(time.Now().AddDate(0, 0, -engineCfg.HistoryRetentionDays())); err != nil {
		log.Warn().Err(err).Msg("Failed to prune position history")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Lifecycle state
	catalog := market.Catalog()
	regimes := market.Regimes()
	prices := scoring.NewSeriesPrices(series)
	hist := history.NewStore()
	managers := rebalancer.BuildManagers(engineCfg, catalog, prices, hist, log)
	portfolio := rebalancer.NewPortfolio(market.Holdings)

	stateStore := state.NewStore(filepath.Join(app.DataDir, "state.msgpack"), log)
	if snap, found, err := stateStore.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load state snapshot")
	} else if found {
		snap.Apply(managers.Grace, managers.Holding, managers.Core, hist)
		if len(snap.Holdings) > 0 {
			portfolio.SetHoldings(snap.Holdings)
		}
	} else if persisted, err := positionEvents.LoadAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load position history")
	} else if len(persisted) > 0 {
		hist.Restore(persisted)
		log.Info().Int("events", len(persisted)).Msg("Restored position history from database")
	}
	hist.SetJournal(func(e domain.PositionEvent) {
		if err := positionEvents.Append(e); err != nil {
			log.Error().Err(err).Str("asset", e.Asset).Msg("Failed to journal position event")
		}
	})

	// Engine
	sessionID := uuid.NewString()
	orchestrator := protection.NewOrchestrator(
		managers.Core, managers.Holding, managers.Grace, managers.Whipsaw,
		sink, m, sessionID, log,
	)
	engine := rebalancer.NewEngine(engineCfg, rebalancer.Deps{
		Universe: universe.NewBuilder(regimes, catalog, log),
		Scoring: scoring.NewService(
			engineCfg.Selection,
			scoring.NewTalibAnalyzer(series),
			&scoring.StaticFundamentals{Scores: market.Fundamentals},
			0,
			log,
		),
		Orchestrator: orchestrator,
		Grace:        managers.Grace,
		Holding:      managers.Holding,
		Core:         managers.Core,
		History:      hist,
		Regimes:      regimes,
		Sink:         sink,
		Metrics:      m,
	}, log)

	persist := func(*rebalancer.Result) error {
		return stateStore.Save(state.Capture(
			managers.Grace, managers.Holding, managers.Core, hist, portfolio.Holdings(),
		))
	}

	// Scheduler
	sched := scheduler.New(log)
	job := scheduler.NewRebalanceJob(engine, portfolio, persist, log)
	if err := sched.AddJob(app.CronSpec, job); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rebalance job")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:      app.Port,
		Log:       log,
		Engine:    engine,
		Portfolio: portfolio,
		EngineCfg: engineCfg,
		Grace:     managers.Grace,
		Holding:   managers.Holding,
		Core:      managers.Core,
		Bus:       bus,
		EventLog:  eventLog,
		Registry:  registry,
		Persist:   persist,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", app.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Stopped")
}
