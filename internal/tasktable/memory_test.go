package tasktable

import (
	"context"
	"sync"
	"testing"

	"github.com/spacetasks/tasked-step/internal/types"
)

func TestMemoryPickNextAndReportNeverDoubleAssigns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, "schema", "step-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	const rowCount = 50
	for i := 0; i < rowCount; i++ {
		if _, err := m.Insert(ctx, types.NewTileTaskData("tile")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for i := 0; i < rowCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prog, err := m.PickNextAndReport(ctx)
			if err != nil {
				t.Errorf("pick next: %v", err)
				return
			}
			if !prog.HasNext() {
				return
			}
			mu.Lock()
			seen[prog.NextTaskID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for taskID, count := range seen {
		if count != 1 {
			t.Fatalf("task %d was assigned %d times, want exactly 1", taskID, count)
		}
	}
	if len(seen) != rowCount {
		t.Fatalf("expected all %d rows to be assigned exactly once, got %d", rowCount, len(seen))
	}
}

func TestMemoryProgressCountersRespectOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Create(ctx, "schema", "step-1")
	id1, _ := m.Insert(ctx, types.NewTileTaskData("a"))
	_, _ = m.Insert(ctx, types.NewTileTaskData("b"))

	prog, err := m.PickNextAndReport(ctx)
	if err != nil {
		t.Fatalf("pick next: %v", err)
	}
	if prog.FinalizedTasks > prog.StartedTasks || prog.StartedTasks > prog.TotalTasks {
		t.Fatalf("invariant finalized<=started<=total violated: %+v", prog)
	}

	if err := m.RecordProgress(ctx, id1, 10, 1, 1, true); err != nil {
		t.Fatalf("record progress: %v", err)
	}
	prog, err = m.PickNextAndReport(ctx)
	if err != nil {
		t.Fatalf("pick next: %v", err)
	}
	if prog.FinalizedTasks > prog.StartedTasks || prog.StartedTasks > prog.TotalTasks {
		t.Fatalf("invariant finalized<=started<=total violated: %+v", prog)
	}
	if prog.FinalizedTasks != 1 {
		t.Fatalf("expected 1 finalized task, got %d", prog.FinalizedTasks)
	}
}

func TestMemoryRecordProgressDetectsAlreadyFinalized(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Create(ctx, "schema", "step-1")
	id, _ := m.Insert(ctx, types.NewTileTaskData("a"))

	if err := m.RecordProgress(ctx, id, 1, 1, 1, true); err != nil {
		t.Fatalf("first record: %v", err)
	}

	err := m.RecordProgress(ctx, id, 1, 1, 1, true)
	var already *AlreadyFinalizedError
	if err == nil {
		t.Fatal("expected an error recording progress against an already-finalized row")
	}
	if ok := asAlreadyFinalized(err, &already); !ok {
		t.Fatalf("expected *AlreadyFinalizedError, got %T: %v", err, err)
	}
	if already.Unknown {
		t.Fatal("row is known, Unknown should be false")
	}
}

func TestMemoryRecordProgressDetectsUnknownTask(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Create(ctx, "schema", "step-1")

	err := m.RecordProgress(ctx, 999, 1, 1, 1, true)
	var already *AlreadyFinalizedError
	if ok := asAlreadyFinalized(err, &already); !ok {
		t.Fatalf("expected *AlreadyFinalizedError, got %T: %v", err, err)
	}
	if !already.Unknown {
		t.Fatal("expected Unknown to be true for an unrecognized task id")
	}
}

func TestMemoryAggregateSuppressesEmptyFiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Create(ctx, "schema", "step-1")
	emptyID, _ := m.Insert(ctx, types.NewTileTaskData("empty"))
	uploadedID, _ := m.Insert(ctx, types.NewTileTaskData("uploaded"))

	_ = m.RecordProgress(ctx, emptyID, 0, 0, 0, true)
	_ = m.RecordProgress(ctx, uploadedID, 100, 10, 1, true)

	stats, err := m.Aggregate(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.FilesUploaded != 1 {
		t.Fatalf("expected files uploaded to suppress the empty row, got %d", stats.FilesUploaded)
	}
	if stats.BytesUploaded != 100 || stats.RowsUploaded != 10 {
		t.Fatalf("unexpected aggregate: %+v", stats)
	}
}

func asAlreadyFinalized(err error, target **AlreadyFinalizedError) bool {
	if e, ok := err.(*AlreadyFinalizedError); ok {
		*target = e
		return true
	}
	return false
}
