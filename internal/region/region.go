// Package region defines the identity of a map region and the fixed rules
// that depend only on that identity.
package region

import (
	"fmt"
	"strings"
)

// Tier is the level of a region in the country > state > district hierarchy.
// The ordinal is the wire "level".
type Tier int

const (
	Country Tier = iota
	State
	District
)

// Tiers lists every tier, coarsest first.
var Tiers = []Tier{Country, State, District}

// DrillDownCountry is the one country that is explored at district
// granularity instead of being toggled as a whole.
const DrillDownCountry = "India"

func (t Tier) String() string {
	switch t {
	case Country:
		return "country"
	case State:
		return "state"
	case District:
		return "district"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Level returns the wire ordinal of the tier.
func (t Tier) Level() int {
	return int(t)
}

func (t Tier) Valid() bool {
	return t >= Country && t <= District
}

// ParseTier accepts the tier name, its plural, the layer alias "world" or the
// numeric level.
func ParseTier(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "country", "countries", "world", "0":
		return Country, nil
	case "state", "states", "1":
		return State, nil
	case "district", "districts", "2":
		return District, nil
	}
	return 0, fmt.Errorf("unknown tier %q", value)
}

// Region is the identity of a map shape. Names are unique within a tier only.
type Region struct {
	Name            string
	Tier            Tier
	ParentName      string
	GrandparentName string
}

// Parent returns the parent name when the tier has one: the country for a
// state, the state for a district.
func (r Region) Parent() *string {
	if r.Tier == Country || r.ParentName == "" {
		return nil
	}
	name := r.ParentName
	return &name
}

// Grandparent returns the country name of a district; nil for other tiers.
func (r Region) Grandparent() *string {
	if r.Tier != District || r.GrandparentName == "" {
		return nil
	}
	name := r.GrandparentName
	return &name
}

func (r Region) String() string {
	return r.Tier.String() + ":" + r.Name
}

// Clickable reports whether a click on r may start a selection. Districts
// always are, states never are (they only change through bubbling), and
// countries are unless they are the drill-down country.
func Clickable(r Region) bool {
	switch r.Tier {
	case District:
		return true
	case State:
		return false
	case Country:
		return r.Name != DrillDownCountry
	}
	return false
}
