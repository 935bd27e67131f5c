package interaction

import "visitmap/internal/region"

// Highlight is the emphasis a region is drawn with.
type Highlight int

const (
	HighlightUnvisited Highlight = iota
	HighlightVisited
	// HighlightLocked is the hover emphasis for a region still under fog.
	HighlightLocked
	// HighlightUnlocked is the hover emphasis for a visited region.
	HighlightUnlocked
)

func (h Highlight) String() string {
	switch h {
	case HighlightVisited:
		return "visited"
	case HighlightLocked:
		return "hover-locked"
	case HighlightUnlocked:
		return "hover-unlocked"
	default:
		return "unvisited"
	}
}

type Hover struct {
	Highlight Highlight
	Clickable bool
}

// Hover reports how r should be emphasised under the pointer. It never
// changes the selection.
func (c *Controller) Hover(r region.Region) Hover {
	hl := HighlightLocked
	if c.store.IsVisited(r.Name, r.Tier) {
		hl = HighlightUnlocked
	}
	return Hover{Highlight: hl, Clickable: region.Clickable(r)}
}

// HoverExit returns the resting highlight for r.
func (c *Controller) HoverExit(r region.Region) Highlight {
	if c.store.IsVisited(r.Name, r.Tier) {
		return HighlightVisited
	}
	return HighlightUnvisited
}
