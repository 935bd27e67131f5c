package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"visitmap/internal/region"
)

func TestVisibleTiers(t *testing.T) {
	tests := []struct {
		zoom float64
		want Visibility
	}{
		{zoom: 2, want: Visibility{}},
		{zoom: 4, want: Visibility{State: false, District: false}},
		{zoom: 5, want: Visibility{State: true}},
		{zoom: 6, want: Visibility{State: true, District: false}},
		{zoom: 7, want: Visibility{State: true, District: true}},
		{zoom: 8, want: Visibility{State: true, District: true}},
		{zoom: 6.99, want: Visibility{State: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VisibleTiers(tt.zoom), "zoom %v", tt.zoom)
	}
}

func TestWorldLayerAlwaysShown(t *testing.T) {
	for _, zoom := range []float64{0, 4, 6, 18} {
		v := VisibleTiers(zoom)
		assert.True(t, v.Shows(region.Country))
		assert.Equal(t, region.Country, v.Tiers()[0])
	}
	assert.Equal(t, []region.Tier{region.Country, region.State, region.District}, VisibleTiers(8).Tiers())
}

func TestTrackerReportsBandChangesOnly(t *testing.T) {
	tr := NewTracker(4)

	_, changed := tr.SetZoom(4.5)
	assert.False(t, changed)

	v, changed := tr.SetZoom(6)
	assert.True(t, changed)
	assert.True(t, v.State)

	_, changed = tr.SetZoom(6.5)
	assert.False(t, changed)
	assert.Equal(t, 6.5, tr.Zoom())

	v, changed = tr.SetZoom(8)
	assert.True(t, changed)
	assert.Equal(t, Visibility{State: true, District: true}, tr.Visibility())
	assert.Equal(t, v, tr.Visibility())

	_, changed = tr.SetZoom(3)
	assert.True(t, changed)
	assert.Equal(t, Visibility{}, tr.Visibility())
}
