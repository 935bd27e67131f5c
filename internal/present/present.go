// Package present turns the visit mirror and the zoom level into what a
// renderer draws: styled layers keyed for remounting and a HUD summary.
package present

import (
	"fmt"
	"strings"

	"visitmap/internal/interaction"
	"visitmap/internal/layers"
	"visitmap/internal/region"
	"visitmap/internal/visit"
)

type Style struct {
	FillColor   string
	FillOpacity float64
	Weight      int
	Color       string
}

var (
	StyleUnvisited         = Style{FillColor: "#f1f5f9", FillOpacity: 1, Weight: 1, Color: "#94a3b8"}
	StyleVisited           = Style{FillColor: "transparent", FillOpacity: 0, Weight: 2, Color: "#3b82f6"}
	StyleHighlightLocked   = Style{FillColor: "#fbbf24", FillOpacity: 1, Weight: 2, Color: "#d97706"}
	StyleHighlightUnlocked = Style{FillOpacity: 0, Weight: 4, Color: "#f59e0b"}
)

func StyleFor(h interaction.Highlight) Style {
	switch h {
	case interaction.HighlightVisited:
		return StyleVisited
	case interaction.HighlightLocked:
		return StyleHighlightLocked
	case interaction.HighlightUnlocked:
		return StyleHighlightUnlocked
	default:
		return StyleUnvisited
	}
}

// VisitReader is the read side of the visit store.
type VisitReader interface {
	IsVisited(name string, tier region.Tier) bool
	Generation(tier region.Tier) uint64
	Counts() visit.Counts
}

// RegionSource lists the regions of a tier.
type RegionSource interface {
	Regions(tier region.Tier) []region.Region
}

type Shape struct {
	Region region.Region
	Style  Style
}

// Layer is one mounted tier. Key changes exactly when the tier's visit
// state changed, so a renderer remounts the layer (and drops handlers bound
// to the old state) only then.
type Layer struct {
	Tier   region.Tier
	Key    string
	Shapes []Shape
}

type Adapter struct {
	visits  VisitReader
	regions RegionSource
}

func NewAdapter(visits VisitReader, regions RegionSource) *Adapter {
	return &Adapter{visits: visits, regions: regions}
}

// SetRegions swaps the region source once datasets are loaded.
func (a *Adapter) SetRegions(regions RegionSource) {
	a.regions = regions
}

// Layers returns the layers mounted at zoom, coarsest first.
func (a *Adapter) Layers(zoom float64) []Layer {
	vis := layers.VisibleTiers(zoom)
	out := make([]Layer, 0, 3)
	for _, tier := range vis.Tiers() {
		out = append(out, a.layer(tier))
	}
	return out
}

func (a *Adapter) layer(tier region.Tier) Layer {
	l := Layer{Tier: tier, Key: a.LayerKey(tier)}
	if a.regions == nil {
		return l
	}
	for _, r := range a.regions.Regions(tier) {
		style := StyleUnvisited
		if a.visits.IsVisited(r.Name, tier) {
			style = StyleVisited
		}
		l.Shapes = append(l.Shapes, Shape{Region: r, Style: style})
	}
	return l
}

// LayerKey is the render key of a tier, e.g. "district@3".
func (a *Adapter) LayerKey(tier region.Tier) string {
	return fmt.Sprintf("%s@%d", tier, a.visits.Generation(tier))
}

// HUD is the progress summary shown next to the map.
type HUD struct {
	Zoom   float64
	Counts visit.Counts
	Layers layers.Visibility
	Hint   string
}

func (a *Adapter) HUD(zoom float64) HUD {
	h := HUD{Zoom: zoom, Counts: a.visits.Counts(), Layers: layers.VisibleTiers(zoom)}
	if zoom < layers.DistrictMinZoom {
		h.Hint = "Zoom in to mark districts"
	}
	return h
}

func (h HUD) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "zoom %g | countries %d, states %d, districts %d, total %d | layers world",
		h.Zoom, h.Counts.Countries, h.Counts.States, h.Counts.Districts, h.Counts.Total())
	if h.Layers.State {
		b.WriteString("+states")
	}
	if h.Layers.District {
		b.WriteString("+districts")
	}
	if h.Hint != "" {
		b.WriteString(" | ")
		b.WriteString(h.Hint)
	}
	return b.String()
}
