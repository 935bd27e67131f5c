// Package layers decides which region layers are mounted at a zoom level.
package layers

import (
	"sync"

	"visitmap/internal/region"
)

// Zoom thresholds. The world layer is always shown.
const (
	StateMinZoom    = 5
	DistrictMinZoom = 7
)

// Visibility is the mounted state of the optional layers.
type Visibility struct {
	State    bool
	District bool
}

// VisibleTiers maps a zoom level to the optional layers that are shown.
func VisibleTiers(zoom float64) Visibility {
	return Visibility{
		State:    zoom >= StateMinZoom,
		District: zoom >= DistrictMinZoom,
	}
}

// Shows reports whether the layer for tier is mounted.
func (v Visibility) Shows(tier region.Tier) bool {
	switch tier {
	case region.Country:
		return true
	case region.State:
		return v.State
	case region.District:
		return v.District
	}
	return false
}

// Tiers lists the mounted tiers, coarsest first.
func (v Visibility) Tiers() []region.Tier {
	out := make([]region.Tier, 0, len(region.Tiers))
	for _, tier := range region.Tiers {
		if v.Shows(tier) {
			out = append(out, tier)
		}
	}
	return out
}

// Tracker follows zoom events and reports when the mounted layer set changes,
// so a zoom tick inside the same band does not remount anything.
type Tracker struct {
	mu         sync.Mutex
	zoom       float64
	visibility Visibility
}

func NewTracker(initialZoom float64) *Tracker {
	return &Tracker{zoom: initialZoom, visibility: VisibleTiers(initialZoom)}
}

// SetZoom records a zoom-change event.
func (t *Tracker) SetZoom(zoom float64) (Visibility, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := VisibleTiers(zoom)
	changed := next != t.visibility
	t.zoom = zoom
	t.visibility = next
	return next, changed
}

func (t *Tracker) Zoom() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zoom
}

func (t *Tracker) Visibility() Visibility {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visibility
}
