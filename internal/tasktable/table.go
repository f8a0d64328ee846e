// Package tasktable defines the durable queue-plus-counters contract and a
// couple of concrete backends. TaskTable is the single source of truth for
// a step's progress; the database is the sole mutator of its counters via
// the operations this interface exposes.
package tasktable

import (
	"context"

	"github.com/spacetasks/tasked-step/internal/types"
)

// Table is the durable per-step task queue. Implementations must make
// PickNextAndReport atomic and serializable with itself: it never returns
// the same taskId to two callers.
type Table interface {
	// Create creates the step's table in schema if it doesn't already
	// exist. Idempotent.
	Create(ctx context.Context, schema, stepID string) error

	// Insert appends a new row in started=false, finalized=false state and
	// returns its assigned task_id.
	Insert(ctx context.Context, taskData types.TaskData) (int64, error)

	// PickNextAndReport atomically returns current counters and, if an
	// unstarted row exists, marks it started=true and returns it.
	// NextTaskID is types.NoNextTask when none exists.
	PickNextAndReport(ctx context.Context) (types.TaskProgress, error)

	// RecordProgress adds the deltas to taskID's row and sets finalized.
	// A duplicate delivery against an already-finalized row, or one against
	// an unrecognized taskID, returns an *AlreadyFinalizedError rather than
	// mutating state; callers report it as an async delivery anomaly
	// without failing the run.
	RecordProgress(ctx context.Context, taskID int64, bytesDelta, rowsDelta int64, filesDelta int32, finalized bool) error

	// Aggregate returns summed (rowsUploaded, filesUploaded, bytesUploaded)
	// across all rows. A row contributes to filesUploaded only if its
	// bytesUploaded > 0 (empty-file suppression).
	Aggregate(ctx context.Context) (types.Statistics, error)

	// EmptyTaskIDs returns the task_data of every row with bytes_uploaded
	// = 0, used for ChangedTiles' tileInvalidations output.
	EmptyTaskIDs(ctx context.Context) ([]types.TaskData, error)
}

// AlreadyFinalizedError is returned by RecordProgress when a progress event
// targets a row that is already finalized (Unknown false) or doesn't exist
// (Unknown true). The engine reports it as an async delivery anomaly rather
// than failing the step.
type AlreadyFinalizedError struct {
	TaskID  int64
	Unknown bool
}

func (e *AlreadyFinalizedError) Error() string {
	if e.Unknown {
		return "tasktable: unknown task id"
	}
	return "tasktable: task already finalized"
}
