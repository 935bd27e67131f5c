// Package dataset loads the static region geometry: one GeoJSON feature
// collection per tier, read once at startup and immutable afterwards.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"visitmap/internal/region"
)

// Feature is a region together with its boundary.
type Feature struct {
	Region   region.Region
	ISOA2    string
	ISOA3    string
	Geometry orb.Geometry
	Bound    orb.Bound
}

// Contains reports whether the point lon/lat lies inside the boundary.
func (f Feature) Contains(lon, lat float64) bool {
	if f.Geometry == nil {
		return false
	}
	pt := orb.Point{lon, lat}
	if !f.Bound.Contains(pt) {
		return false
	}
	return geometryContains(f.Geometry, pt)
}

func geometryContains(g orb.Geometry, pt orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	case orb.Collection:
		for _, child := range g {
			if geometryContains(child, pt) {
				return true
			}
		}
	}
	return false
}

// Collection is the parsed feature set of one tier.
type Collection struct {
	tier     region.Tier
	features []Feature
	byName   map[string]int
}

// Parse reads a GeoJSON FeatureCollection for tier. Features without a name
// are skipped; for duplicate names the first feature wins.
func Parse(tier region.Tier, data []byte) (Collection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Collection{}, fmt.Errorf("decode %s collection: %w", tier, err)
	}
	c := Collection{tier: tier, byName: make(map[string]int, len(fc.Features))}
	for _, f := range fc.Features {
		feat, ok := toFeature(tier, f)
		if !ok {
			continue
		}
		if _, dup := c.byName[feat.Region.Name]; dup {
			continue
		}
		c.byName[feat.Region.Name] = len(c.features)
		c.features = append(c.features, feat)
	}
	return c, nil
}

func toFeature(tier region.Tier, f *geojson.Feature) (Feature, bool) {
	props := f.Properties
	name := strings.TrimSpace(props.MustString("name", ""))
	if name == "" {
		return Feature{}, false
	}
	r := region.Region{Name: name, Tier: tier}
	switch tier {
	case region.State:
		r.ParentName = props.MustString("country", "")
	case region.District:
		r.ParentName = props.MustString("region", "")
		r.GrandparentName = props.MustString("country", "")
	}
	feat := Feature{
		Region:   r,
		ISOA2:    props.MustString("iso_a2", ""),
		ISOA3:    props.MustString("iso_a3", ""),
		Geometry: f.Geometry,
	}
	if f.Geometry != nil {
		feat.Bound = f.Geometry.Bound()
	}
	return feat, true
}

func (c Collection) Len() int {
	return len(c.features)
}

// Collections holds the three tiers. The zero value is three empty tiers.
type Collections struct {
	tiers [3]Collection
}

// NewCollections assembles already parsed collections, keyed by their tier.
func NewCollections(cols ...Collection) *Collections {
	out := &Collections{}
	for _, c := range cols {
		if c.tier.Valid() {
			out.tiers[c.tier] = c
		}
	}
	return out
}

func (c *Collections) Len(tier region.Tier) int {
	if !tier.Valid() {
		return 0
	}
	return c.tiers[tier].Len()
}

// Regions lists the regions of a tier in file order.
func (c *Collections) Regions(tier region.Tier) []region.Region {
	if !tier.Valid() {
		return nil
	}
	features := c.tiers[tier].features
	out := make([]region.Region, len(features))
	for i, f := range features {
		out[i] = f.Region
	}
	return out
}

func (c *Collections) Lookup(tier region.Tier, name string) (Feature, bool) {
	if !tier.Valid() {
		return Feature{}, false
	}
	col := c.tiers[tier]
	idx, ok := col.byName[name]
	if !ok {
		return Feature{}, false
	}
	return col.features[idx], true
}

// RegionAt returns the region of tier whose boundary contains lon/lat.
func (c *Collections) RegionAt(tier region.Tier, lon, lat float64) (region.Region, bool) {
	if !tier.Valid() {
		return region.Region{}, false
	}
	for _, f := range c.tiers[tier].features {
		if f.Contains(lon, lat) {
			return f.Region, true
		}
	}
	return region.Region{}, false
}

// Files names the geometry file of each tier.
type Files struct {
	World     string
	States    string
	Districts string
}

func (f Files) name(tier region.Tier) string {
	switch tier {
	case region.State:
		return f.States
	case region.District:
		return f.Districts
	default:
		return f.World
	}
}

type Loader struct {
	source Source
	files  Files
	logger *zap.Logger
}

func NewLoader(source Source, files Files, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, files: files, logger: logger}
}

// Load fetches the three collections concurrently. The tiers are
// independent: a tier that fails to load is left empty and its error is
// joined into the returned error, while the other tiers are still returned.
func (l *Loader) Load(ctx context.Context) (*Collections, error) {
	out := &Collections{}
	errs := make([]error, len(region.Tiers))

	var g errgroup.Group
	for i, tier := range region.Tiers {
		g.Go(func() error {
			col, err := l.loadTier(ctx, tier)
			if err != nil {
				errs[i] = err
				col = Collection{tier: tier}
			}
			out.tiers[tier] = col
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return out, errors.Join(errs...)
	}
	l.logger.Info("region datasets loaded",
		zap.Int("countries", out.Len(region.Country)),
		zap.Int("states", out.Len(region.State)),
		zap.Int("districts", out.Len(region.District)))
	return out, nil
}

func (l *Loader) loadTier(ctx context.Context, tier region.Tier) (Collection, error) {
	name := l.files.name(tier)
	rc, err := l.source.Open(ctx, name)
	if err != nil {
		return Collection{}, fmt.Errorf("load %s layer: %w", tier, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Collection{}, fmt.Errorf("read %s layer: %w", tier, err)
	}
	col, err := Parse(tier, data)
	if err != nil {
		return Collection{}, err
	}
	l.logger.Debug("region layer parsed", zap.Stringer("tier", tier), zap.String("file", name), zap.Int("features", col.Len()))
	return col, nil
}
