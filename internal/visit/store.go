package visit

import (
	"sync"

	"visitmap/internal/region"
)

// Counts summarises a Set for progress displays.
type Counts struct {
	Countries int
	States    int
	Districts int
}

func (c Counts) Total() int {
	return c.Countries + c.States + c.Districts
}

// Store owns the current Set. Writes come from the interaction controller
// (apply, rollback) and from authoritative refreshes (ReplaceAll).
type Store struct {
	mu          sync.RWMutex
	current     Set
	generations [3]uint64
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) IsVisited(name string, tier region.Tier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Has(name, tier)
}

// OptimisticApply makes the membership of name in tier match target and
// returns the Set as it was before, for Rollback. Applying a target that
// already holds changes nothing.
func (s *Store) OptimisticApply(name string, tier region.Tier, target bool) Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.replaceLocked(prev.With(name, tier, target))
	return prev
}

// Rollback restores snapshot unconditionally.
func (s *Store) Rollback(snapshot Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(snapshot)
}

// ReplaceAll installs the authoritative Set fetched from the remote store.
// It wins over any optimistic local state.
func (s *Store) ReplaceAll(next Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(next)
}

func (s *Store) replaceLocked(next Set) {
	for _, tier := range region.Tiers {
		if !s.current.Equal(next, tier) {
			s.generations[tier]++
		}
	}
	s.current = next
}

// Generation is bumped every time the tier's contents change. Renderers key
// their layers on it so a changed tier is remounted with fresh handlers.
func (s *Store) Generation(tier region.Tier) uint64 {
	if !tier.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[tier]
}

func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Counts() Counts {
	snap := s.Snapshot()
	return Counts{
		Countries: snap.Len(region.Country),
		States:    snap.Len(region.State),
		Districts: snap.Len(region.District),
	}
}
