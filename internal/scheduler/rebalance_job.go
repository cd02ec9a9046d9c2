package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/rebalancer"
	"github.com/aristath/helmsman/internal/state"
	"github.com/rs/zerolog"
)

// RebalanceJob runs a full rebalance against the tracked portfolio, applies
// the resulting targets, and saves a state snapshot.
type RebalanceJob struct {
	engine    *rebalancer.Engine
	portfolio *rebalancer.Portfolio
	persist   func(*rebalancer.Result) error
	log       zerolog.Logger
}

// NewRebalanceJob creates the recurring rebalance job. persist is called
// after the targets are applied; pass nil to skip persistence.
func NewRebalanceJob(
	engine *rebalancer.Engine,
	portfolio *rebalancer.Portfolio,
	persist func(*rebalancer.Result) error,
	log zerolog.Logger,
) *RebalanceJob {
	return &RebalanceJob{
		engine:    engine,
		portfolio: portfolio,
		persist:   persist,
		log:       log.With().Str("component", "rebalance_job").Logger(),
	}
}

// Name implements Job.
func (j *RebalanceJob) Name() string { return "rebalance" }

// Run implements Job.
func (j *RebalanceJob) Run() error {
	date := time.Now().UTC().Truncate(24 * time.Hour)

	result, err := j.engine.Rebalance(date, j.portfolio.Holdings())
	if err != nil {
		return fmt.Errorf("rebalance failed: %w", err)
	}

	j.portfolio.ApplyTargets(result.Targets)

	if j.persist != nil {
		if err := j.persist(result); err != nil {
			// The rebalance itself succeeded; persistence problems are
			// logged and retried on the next run
			j.log.Error().Err(err).Msg("Failed to persist state after rebalance")
		}
	}

	j.log.Info().
		Time("date", date).
		Int("targets", len(result.Targets)).
		Msg("Scheduled rebalance applied")
	return nil
}

// SnapshotPersister builds a persist callback that captures lifecycle state
// into the snapshot store after each rebalance.
func SnapshotPersister(
	store *state.Store,
	portfolio *rebalancer.Portfolio,
	capture func(holdings map[string]float64) *state.Snapshot,
) func(*rebalancer.Result) error {
	return func(*rebalancer.Result) error {
		return store.Save(capture(portfolio.Holdings()))
	}
}
