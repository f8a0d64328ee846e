// Package tiles implements ChangedTilesPlanner: the two-pass delta/base
// diff that turns a version range into the set of tile ids an incremental
// export must re-render.
package tiles

import (
	"context"
	"sort"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/tiles/quad"
	"github.com/spacetasks/tasked-step/internal/types"
)

// ChangedFeature is one row from the delta or base view. Geometry is nil
// for a deletion: the id is retained (so the base pass can still look up
// its prior tile coverage) but it contributes no delta-pass tiles.
type ChangedFeature struct {
	ID       string
	Geometry *quad.BoundingBox
}

// DeltaView is the out-of-scope database collaborator that lists features
// changed in (startVersion, endVersion], at their current (endVersion)
// geometry.
type DeltaView interface {
	ChangedSince(ctx context.Context, spaceID string, startVersion, endVersion int64, spatial *types.SpatialFilter, property types.PropertyFilter) ([]ChangedFeature, error)
}

// BaseView is the out-of-scope database collaborator that resolves the
// geometry a set of ids had at startVersion, the "before" half of the diff.
type BaseView interface {
	GeometryAtVersion(ctx context.Context, spaceID string, version int64, ids []string) ([]ChangedFeature, error)
}

// Planner implements ChangedTilesPlanner.
type Planner struct {
	Delta DeltaView
	Base  BaseView
}

// New builds a Planner over the given view collaborators.
func New(delta DeltaView, base BaseView) *Planner {
	return &Planner{Delta: delta, Base: base}
}

// Plan runs the two-pass diff and returns one types.TaskData per affected
// tile, in deterministic (sorted tile id) order so repeated calls over the
// same inputs materialize an identical task set.
func (p *Planner) Plan(ctx context.Context, cfg types.StepConfig, startVersion, endVersion int64) ([]types.TaskData, error) {
	if cfg.TargetLevel < 0 || cfg.TargetLevel > 12 {
		return nil, errs.New(errs.Validation, "TargetLevel must be between 0 and 12")
	}

	changed, err := p.Delta.ChangedSince(ctx, cfg.SpaceID, startVersion, endVersion, cfg.SpatialFilter, cfg.PropertyFilter)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "query delta view", err)
	}

	affected := make(map[string]struct{})
	var changedIDs []string
	for _, f := range changed {
		changedIDs = append(changedIDs, f.ID)
		if f.Geometry == nil {
			continue // deletion: no delta-pass tiles, id still tracked for the base pass
		}
		tiles, err := quad.ForGeometry(*f.Geometry, cfg.TargetLevel, cfg.QuadType)
		if err != nil {
			return nil, errs.Wrap(errs.Validation, "compute delta tile coverage", err)
		}
		for _, t := range tiles {
			affected[quad.TileIDString(t, cfg.QuadType)] = struct{}{}
		}
	}

	if len(changedIDs) > 0 {
		before, err := p.Base.GeometryAtVersion(ctx, cfg.SpaceID, startVersion, changedIDs)
		if err != nil {
			return nil, errs.Wrap(errs.Validation, "query base view", err)
		}
		for _, f := range before {
			if f.Geometry == nil {
				continue // didn't exist yet at startVersion
			}
			tiles, err := quad.ForGeometry(*f.Geometry, cfg.TargetLevel, cfg.QuadType)
			if err != nil {
				return nil, errs.Wrap(errs.Validation, "compute base tile coverage", err)
			}
			for _, t := range tiles {
				affected[quad.TileIDString(t, cfg.QuadType)] = struct{}{}
			}
		}
	}

	tileIDs := make([]string, 0, len(affected))
	for id := range affected {
		tileIDs = append(tileIDs, id)
	}
	sort.Strings(tileIDs)

	tasks := make([]types.TaskData, len(tileIDs))
	for i, id := range tileIDs {
		tasks[i] = types.NewTileTaskData(id)
	}
	return tasks, nil
}

// Invalidations builds the TILE_INVALIDATIONS output: the tile ids among
// emptyTaskIDs (rows with bytes_uploaded = 0), tagged with the level and
// quad type the step ran at.
func Invalidations(emptyTaskIDs []types.TaskData, targetLevel int, quadType types.QuadType) types.TileInvalidations {
	ids := make([]string, 0, len(emptyTaskIDs))
	for _, td := range emptyTaskIDs {
		if td.Kind != types.TaskDataTile {
			continue
		}
		ids = append(ids, td.TileID())
	}
	sort.Strings(ids)
	return types.TileInvalidations{
		TileLevel: targetLevel,
		QuadType:  string(quadType),
		TileIDs:   ids,
	}
}
