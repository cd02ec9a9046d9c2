// Package history tracks the per-asset position event log used by whipsaw
// protection and lifecycle accounting.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// Store is the in-memory position event history. The engine owns one store
// per portfolio; events are appended only at rebalance commit time, so a
// rejected or abandoned rebalance never mutates history.
type Store struct {
	mu      sync.RWMutex
	events  map[string][]domain.PositionEvent
	journal func(domain.PositionEvent)
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{events: make(map[string][]domain.PositionEvent)}
}

// SetJournal installs a write-through hook invoked after each append.
// Used to mirror the in-memory log into durable storage. Restores do not
// pass through the journal.
func (s *Store) SetJournal(fn func(domain.PositionEvent)) {
	s.mu.Lock()
	s.journal = fn
	s.mu.Unlock()
}

// Append records an event for an asset, keeping the per-asset sequence
// ordered by timestamp.
func (s *Store) Append(event domain.PositionEvent) {
	s.mu.Lock()

	list := append(s.events[event.Asset], event)
	// Events arrive in commit order, which is already chronological; the
	// sort guards against out-of-order restores from snapshots.
	if n := len(list); n > 1 && list[n-1].Timestamp.Before(list[n-2].Timestamp) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.Before(list[j].Timestamp)
		})
	}
	s.events[event.Asset] = list
	journal := s.journal
	s.mu.Unlock()

	if journal != nil {
		journal(event)
	}
}

// ForAsset returns a copy of the event sequence for an asset.
func (s *Store) ForAsset(asset string) []domain.PositionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.events[asset]
	out := make([]domain.PositionEvent, len(list))
	copy(out, list)
	return out
}

// CompletedCyclesSince counts completed open-to-close cycles for an asset
// whose close timestamp is at or after the cutoff.
func (s *Store) CompletedCyclesSince(asset string, cutoff time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	open := false
	for _, e := range s.events[asset] {
		switch e.Type {
		case domain.PositionOpened:
			open = true
		case domain.PositionClosed:
			if open && !e.Timestamp.Before(cutoff) {
				count++
			}
			open = false
		}
	}
	return count
}

// LastOpen returns the timestamp of the most recent open without a matching
// close, and whether such an open exists.
func (s *Store) LastOpen(asset string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	open := false
	for _, e := range s.events[asset] {
		switch e.Type {
		case domain.PositionOpened:
			last = e.Timestamp
			open = true
		case domain.PositionClosed:
			open = false
		}
	}
	return last, open
}

// Prune drops events older than the cutoff. Per-asset sequences are trimmed
// from the front only, so an unclosed open is never separated from its
// eventual close.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for asset, list := range s.events {
		idx := 0
		for idx < len(list) && list[idx].Timestamp.Before(cutoff) {
			// Keep an open whose close has not happened yet
			if list[idx].Type == domain.PositionOpened && !hasCloseAfter(list, idx) {
				break
			}
			idx++
		}
		if idx > 0 {
			pruned += idx
			remaining := make([]domain.PositionEvent, len(list)-idx)
			copy(remaining, list[idx:])
			if len(remaining) == 0 {
				delete(s.events, asset)
			} else {
				s.events[asset] = remaining
			}
		}
	}
	return pruned
}

func hasCloseAfter(list []domain.PositionEvent, idx int) bool {
	for _, e := range list[idx+1:] {
		if e.Type == domain.PositionClosed {
			return true
		}
	}
	return false
}

// All returns every event across assets, ordered by timestamp. Used for
// snapshots.
func (s *Store) All() []domain.PositionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PositionEvent
	for _, list := range s.events {
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Restore replaces the store contents from a snapshot.
func (s *Store) Restore(all []domain.PositionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string][]domain.PositionEvent)
	for _, e := range all {
		s.events[e.Asset] = append(s.events[e.Asset], e)
	}
	for asset, list := range s.events {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.Before(list[j].Timestamp)
		})
		s.events[asset] = list
	}
}
