package main

import (
	"context"

	"github.com/spacetasks/tasked-step/internal/tiles"
	"github.com/spacetasks/tasked-step/internal/tiles/quad"
	"github.com/spacetasks/tasked-step/internal/types"
)

// demoViews is an in-memory DeltaView/BaseView fake standing in for the
// feature store's delta/base query surface — wired only so `tasked-step
// run`/`plan` have something to diff against without a real database
// connection.
type demoViews struct {
	changed []tiles.ChangedFeature
	before  map[string]*quad.BoundingBox
}

func newDemoViews() *demoViews {
	moved := quad.BoundingBox{MinLon: 10, MinLat: 10, MaxLon: 10.01, MaxLat: 10.01}
	return &demoViews{
		changed: []tiles.ChangedFeature{
			{ID: "feature-1", Geometry: &moved},
			{ID: "feature-2", Geometry: nil}, // a deletion: id retained, no delta-pass tiles
		},
		before: map[string]*quad.BoundingBox{
			"feature-2": {MinLon: -20, MinLat: -20, MaxLon: -19.99, MaxLat: -19.99},
		},
	}
}

func (d *demoViews) ChangedSince(context.Context, string, int64, int64, *types.SpatialFilter, types.PropertyFilter) ([]tiles.ChangedFeature, error) {
	return d.changed, nil
}

func (d *demoViews) GeometryAtVersion(_ context.Context, _ string, _ int64, ids []string) ([]tiles.ChangedFeature, error) {
	out := make([]tiles.ChangedFeature, 0, len(ids))
	for _, id := range ids {
		out = append(out, tiles.ChangedFeature{ID: id, Geometry: d.before[id]})
	}
	return out, nil
}

var _ tiles.DeltaView = (*demoViews)(nil)
var _ tiles.BaseView = (*demoViews)(nil)
