// Command rebalance runs a single rebalance against a market data file and
// prints the resulting targets as a table or as the target JSON contract.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/fixtures"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/protection"
	"github.com/aristath/helmsman/internal/rebalancer"
	"github.com/aristath/helmsman/internal/scoring"
	"github.com/aristath/helmsman/internal/universe"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/google/uuid"
)

func main() {
	var (
		marketPath = flag.String("market", "./market.yaml", "market data file")
		configPath = flag.String("config", "", "engine config file (defaults when empty)")
		dateArg    = flag.String("date", "", "rebalance date YYYY-MM-DD (default today)")
		asJSON     = flag.Bool("json", false, "print the target JSON contract instead of a table")
		logLevel   = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true})

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if *dateArg != "" {
		parsed, err := time.Parse("2006-01-02", *dateArg)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid date")
		}
		date = parsed
	}

	engineCfg := config.Default()
	if *configPath != "" {
		var err error
		engineCfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}
	engineCfg.Normalize(log)
	if err := engineCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	market, err := fixtures.Load(*marketPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market data")
	}
	series, err := market.PriceSeries()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid price history")
	}

	catalog := market.Catalog()
	regimes := market.Regimes()
	hist := history.NewStore()
	managers := rebalancer.BuildManagers(engineCfg, catalog, scoring.NewSeriesPrices(series), hist, log)

	orchestrator := protection.NewOrchestrator(
		managers.Core, managers.Holding, managers.Grace, managers.Whipsaw,
		events.NopSink{}, nil, uuid.NewString(), log,
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
	}, log)

	result, err := engine.Rebalance(date, market.Holdings)
	if err != nil {
		log.Fatal().Err(err).Msg("Rebalance failed")
	}

	if *asJSON {
		data, err := rebalancer.MarshalResult(result)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to render targets")
		}
		fmt.Println(string(data))
		return
	}

	printTargets(result)
}

func printTargets(result *rebalancer.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Rebalancing targets %s", result.Date.Format("2006-01-02"))
	t.AppendHeader(table.Row{"Asset", "Bucket", "Action", "Current", "Target", "Score", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Current", Align: text.AlignRight},
		{Name: "Target", Align: text.AlignRight},
		{Name: "Score", Align: text.AlignRight},
	})

	for _, target := range result.Targets {
		t.AppendRow(table.Row{
			target.Asset,
			target.Bucket,
			string(target.Action),
			fmt.Sprintf("%.2f%%", target.CurrentAllocation*100),
			fmt.Sprintf("%.2f%%", target.TargetAllocation*100),
			fmt.Sprintf("%.3f", target.Score),
			target.Reason,
		})
	}
	t.Render()

	if len(result.Rejected) > 0 {
		fmt.Println()
		r := table.NewWriter()
		r.SetOutputMirror(os.Stdout)
		r.SetStyle(table.StyleLight)
		r.SetTitle("Rejected by bucket limits")
		r.AppendHeader(table.Row{"Asset", "Bucket", "Score", "Reason"})
		for _, rej := range result.Rejected {
			r.AppendRow(table.Row{rej.Asset, rej.Bucket, fmt.Sprintf("%.3f", rej.Score), rej.Reason})
		}
		r.Render()
	}
}
