package tiles

import (
	"context"
	"strconv"
	"sync"

	"github.com/spacetasks/tasked-step/internal/engine"
	"github.com/spacetasks/tasked-step/internal/resource"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/types"
)

// partitionKeyProperty is the feature property the per-task query sets the
// tile id into.
const partitionKeyProperty = "@ns:com:here:xyz.partitionKey"

// ChangedTilesStep composes a Planner with a StepConfig and resolved
// version range into the engine.TaskedStep capability: the engine drives
// it without knowing it's a tile export rather than a generic one.
type ChangedTilesStep struct {
	Planner      *Planner
	Cfg          types.StepConfig
	StartVersion int64
	EndVersion   int64

	mu            sync.Mutex
	invalidations types.TileInvalidations
}

var _ engine.TaskedStep = (*ChangedTilesStep)(nil)
var _ engine.Finisher = (*ChangedTilesStep)(nil)

// CreateTaskItems runs the two-pass delta/base diff.
func (c *ChangedTilesStep) CreateTaskItems(ctx context.Context) ([]types.TaskData, error) {
	return c.Planner.Plan(ctx, c.Cfg, c.StartVersion, c.EndVersion)
}

// InitialThreadCount is always 8 for ChangedTiles.
func (c *ChangedTilesStep) InitialThreadCount(context.Context) (int, error) {
	return resource.ChangedTilesThreadCount, nil
}

// BuildPerTaskQuery produces the per-task query for a single tile:
// features at EndVersion intersecting the tile's bounding box, with the
// tile id set into the partition-key property.
func (c *ChangedTilesStep) BuildPerTaskQuery(taskData types.TaskData) (engine.Query, error) {
	tileID := taskData.TileID()
	return engine.Query{
		Kind: "tile",
		Params: map[string]string{
			"tileId":             tileID,
			"atVersion":          strconv.FormatInt(c.EndVersion, 10),
			partitionKeyProperty: tileID,
		},
	}, nil
}

// OnAsyncSuccess writes the tileInvalidations output from emptyTaskIds:
// tiles whose re-export produced zero bytes.
func (c *ChangedTilesStep) OnAsyncSuccess(ctx context.Context, table tasktable.Table) error {
	empty, err := table.EmptyTaskIDs(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.invalidations = Invalidations(empty, c.Cfg.TargetLevel, c.Cfg.QuadType)
	c.mu.Unlock()
	return nil
}

// TileInvalidations returns the output OnAsyncSuccess computed, or the
// zero value before completion.
func (c *ChangedTilesStep) TileInvalidations() types.TileInvalidations {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}
