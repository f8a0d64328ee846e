package tasktable

import (
	"context"
	"sync"

	"github.com/spacetasks/tasked-step/internal/types"
)

// Memory is an in-process Table implementation used by the engine's unit
// and property tests and by the CLI's quick-start mode (no database
// dependency). It upholds the same atomicity contract as the SQL-backed
// implementations via a single mutex — a step's Table is only ever
// contended by the engine's own Dispatcher and, in tests, concurrently
// racing goroutines exercising the never-return-the-same-taskId invariant.
//
// A mutex-guarded slice stands in for a real storage engine, used for
// tests and embedded/no-db scenarios.
type Memory struct {
	mu      sync.Mutex
	created bool
	rows    []*types.TaskItem
	nextID  int64
}

// NewMemory builds an empty in-memory Table.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Create(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return nil
}

func (m *Memory) Insert(_ context.Context, taskData types.TaskData) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.rows = append(m.rows, &types.TaskItem{TaskID: id, TaskData: taskData})
	return id, nil
}

func (m *Memory) PickNextAndReport(_ context.Context) (types.TaskProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prog := types.TaskProgress{NextTaskID: types.NoNextTask}
	for _, row := range m.rows {
		prog.TotalTasks++
		if row.Started {
			prog.StartedTasks++
		}
		if row.Finalized {
			prog.FinalizedTasks++
		}
	}
	for _, row := range m.rows {
		if !row.Started {
			row.Started = true
			prog.StartedTasks++
			prog.NextTaskID = row.TaskID
			prog.NextTaskData = row.TaskData
			break
		}
	}
	return prog, nil
}

func (m *Memory) RecordProgress(_ context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.findLocked(taskID)
	if row == nil {
		return &AlreadyFinalizedError{TaskID: taskID, Unknown: true}
	}
	if row.Finalized {
		return &AlreadyFinalizedError{TaskID: taskID}
	}
	row.BytesUploaded += bytesDelta
	row.RowsUploaded += rowsDelta
	row.FilesUploaded += filesDelta
	if finalized {
		row.Finalized = true
	}
	return nil
}

func (m *Memory) Aggregate(_ context.Context) (types.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats types.Statistics
	for _, row := range m.rows {
		stats.RowsUploaded += row.RowsUploaded
		stats.BytesUploaded += row.BytesUploaded
		if row.BytesUploaded > 0 {
			stats.FilesUploaded += int64(row.FilesUploaded)
		}
	}
	return stats, nil
}

func (m *Memory) EmptyTaskIDs(_ context.Context) ([]types.TaskData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.TaskData
	for _, row := range m.rows {
		if row.BytesUploaded == 0 {
			out = append(out, row.TaskData)
		}
	}
	return out, nil
}

func (m *Memory) findLocked(taskID int64) *types.TaskItem {
	for _, row := range m.rows {
		if row.TaskID == taskID {
			return row
		}
	}
	return nil
}

var _ Table = (*Memory)(nil)
