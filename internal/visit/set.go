// Package visit holds the local mirror of which regions are visited.
package visit

import (
	"sort"

	"visitmap/internal/region"
)

type names map[string]struct{}

// Set is an immutable three-tier set of visited region names. The zero value
// is the empty set. Every "mutation" returns a new Set, so a Set can be kept
// as a rollback snapshot without copying.
type Set struct {
	tiers [3]names
}

// NewSet builds a Set from name lists, one per tier.
func NewSet(countries, states, districts []string) Set {
	var s Set
	for i, list := range [3][]string{countries, states, districts} {
		if len(list) == 0 {
			continue
		}
		m := make(names, len(list))
		for _, name := range list {
			m[name] = struct{}{}
		}
		s.tiers[i] = m
	}
	return s
}

func (s Set) Has(name string, tier region.Tier) bool {
	if !tier.Valid() {
		return false
	}
	_, ok := s.tiers[tier][name]
	return ok
}

// With returns a copy of s where the membership of name in tier equals
// visited. When that already holds, s itself is returned.
func (s Set) With(name string, tier region.Tier, visited bool) Set {
	if !tier.Valid() || s.Has(name, tier) == visited {
		return s
	}
	current := s.tiers[tier]
	next := make(names, len(current)+1)
	for k := range current {
		next[k] = struct{}{}
	}
	if visited {
		next[name] = struct{}{}
	} else {
		delete(next, name)
	}
	out := s
	out.tiers[tier] = next
	return out
}

func (s Set) Len(tier region.Tier) int {
	if !tier.Valid() {
		return 0
	}
	return len(s.tiers[tier])
}

// Names returns the sorted names visited in tier.
func (s Set) Names(tier region.Tier) []string {
	if !tier.Valid() {
		return nil
	}
	out := make([]string, 0, len(s.tiers[tier]))
	for name := range s.tiers[tier] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same names in tier.
func (s Set) Equal(other Set, tier region.Tier) bool {
	if !tier.Valid() {
		return true
	}
	a, b := s.tiers[tier], other.tiers[tier]
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}
