// Package state persists engine lifecycle state between runs: grace
// positions, holding ages, override timestamps, core designations, the
// position event history, and the last known holdings.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/history"
	"github.com/aristath/helmsman/internal/protection/coreasset"
	"github.com/aristath/helmsman/internal/protection/grace"
	"github.com/aristath/helmsman/internal/protection/holding"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the serialized engine state.
type Snapshot struct {
	SavedAt   time.Time                      `msgpack:"saved_at"`
	Holdings  map[string]float64             `msgpack:"holdings"`
	Grace     map[string]grace.Position      `msgpack:"grace"`
	Ages      map[string]holding.PositionAge `msgpack:"ages"`
	Overrides map[string]time.Time           `msgpack:"overrides"`
	Core      map[string]coreasset.Info      `msgpack:"core"`
	History   []domain.PositionEvent         `msgpack:"history"`
}

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a snapshot store. The parent directory is created on the
// first save.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{
		path: path,
		log:  log.With().Str("component", "state_store").Logger(),
	}
}

// Capture collects the current state of all lifecycle managers.
func Capture(gr *grace.Manager, hold *holding.Manager, core *coreasset.Manager, hist *history.Store, holdings map[string]float64) *Snapshot {
	ages, overrides := hold.Snapshot()
	snap := &Snapshot{
		SavedAt:   time.Now().UTC(),
		Holdings:  make(map[string]float64, len(holdings)),
		Grace:     gr.Snapshot(),
		Ages:      ages,
		Overrides: overrides,
		Core:      core.Snapshot(),
		History:   hist.All(),
	}
	for asset, alloc := range holdings {
		snap.Holdings[asset] = alloc
	}
	return snap
}

// Apply restores a snapshot into the lifecycle managers.
func (s *Snapshot) Apply(gr *grace.Manager, hold *holding.Manager, core *coreasset.Manager, hist *history.Store) {
	gr.Restore(s.Grace)
	hold.Restore(s.Ages, s.Overrides)
	core.Restore(s.Core)
	hist.Restore(s.History)
}

// Save writes the snapshot atomically: serialize to a temp file, then rename
// over the previous snapshot.
func (s *Store) Save(snap *Snapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize state snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	s.log.Debug().
		Int("bytes", len(data)).
		Int("history_events", len(snap.History)).
		Msg("State snapshot saved")
	return nil
}

// Load reads the snapshot if one exists. The second return value reports
// whether a snapshot was found.
func (s *Store) Load() (*Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	s.log.Info().
		Time("saved_at", snap.SavedAt).
		Int("holdings", len(snap.Holdings)).
		Msg("State snapshot loaded")
	return &snap, true, nil
}
