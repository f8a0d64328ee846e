package tiles

import (
	"context"
	"testing"

	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/types"
)

func TestChangedTilesStepInitialThreadCountIsFixedAtEight(t *testing.T) {
	step := &ChangedTilesStep{}
	n, err := step.InitialThreadCount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected a fixed thread count of 8, got %d", n)
	}
}

func TestChangedTilesStepBuildPerTaskQuerySetsPartitionKey(t *testing.T) {
	step := &ChangedTilesStep{EndVersion: 11}
	q, err := step.BuildPerTaskQuery(types.NewTileTaskData("0123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Kind != "tile" {
		t.Fatalf("expected kind %q, got %q", "tile", q.Kind)
	}
	if q.Params[partitionKeyProperty] != "0123" {
		t.Fatalf("expected partition key property set to the tile id, got %q", q.Params[partitionKeyProperty])
	}
	if q.Params["atVersion"] != "11" {
		t.Fatalf("expected atVersion 11, got %q", q.Params["atVersion"])
	}
}

func TestChangedTilesStepOnAsyncSuccessComputesInvalidations(t *testing.T) {
	table := tasktable.NewMemory()
	ctx := context.Background()
	if err := table.Create(ctx, "schema", "step-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	emptyID, err := table.Insert(ctx, types.NewTileTaskData("empty-tile"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	uploadedID, err := table.Insert(ctx, types.NewTileTaskData("uploaded-tile"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := table.RecordProgress(ctx, emptyID, 0, 0, 0, true); err != nil {
		t.Fatalf("record empty: %v", err)
	}
	if err := table.RecordProgress(ctx, uploadedID, 100, 5, 1, true); err != nil {
		t.Fatalf("record uploaded: %v", err)
	}

	step := &ChangedTilesStep{Cfg: types.StepConfig{TargetLevel: 8, QuadType: types.HereQuad}}
	if err := step.OnAsyncSuccess(ctx, table); err != nil {
		t.Fatalf("OnAsyncSuccess: %v", err)
	}

	inv := step.TileInvalidations()
	if len(inv.TileIDs) != 1 || inv.TileIDs[0] != "empty-tile" {
		t.Fatalf("expected only the empty tile to be invalidated, got %v", inv.TileIDs)
	}
}
