package types

// TaskDataKind tags the opaque payload carried by a TaskItem: a tagged
// variant rather than dynamic type dispatch on deserialization.
type TaskDataKind string

const (
	// TaskDataTile carries a single tile id for a ChangedTiles export task.
	TaskDataTile TaskDataKind = "tile"
	// TaskDataSQL carries a query-builder parameter blob for a generic
	// download export task.
	TaskDataSQL TaskDataKind = "sql"
)

// TaskData is the opaque, JSON-shaped value consumed by a per-task query
// builder. Payload is raw JSON so it can be stored verbatim in TaskTable's
// task_data column and reconstituted by whichever step kind produced it.
type TaskData struct {
	Kind    TaskDataKind `json:"kind"`
	Payload []byte       `json:"payload"`
}

// NewTileTaskData wraps a tile id as TaskData for ChangedTiles.
func NewTileTaskData(tileID string) TaskData {
	return TaskData{Kind: TaskDataTile, Payload: []byte(tileID)}
}

// TileID extracts the tile id from a TaskDataTile value. Callers must check
// Kind first; this panics on mismatch, signaling a query-builder bug
// upstream.
func (d TaskData) TileID() string {
	if d.Kind != TaskDataTile {
		panic("types: TileID called on non-tile TaskData")
	}
	return string(d.Payload)
}

// TaskItem is one row in TaskTable.
type TaskItem struct {
	TaskID         int64
	TaskData       TaskData
	Started        bool
	Finalized      bool
	BytesUploaded  int64
	RowsUploaded   int64
	FilesUploaded  int32
}

// TaskProgress is the read-model derived from TaskTable in a single query.
// NextTaskID is -1 when no unstarted row is available.
type TaskProgress struct {
	TotalTasks     int64
	StartedTasks   int64
	FinalizedTasks int64
	NextTaskID     int64
	NextTaskData   TaskData
}

// NoNextTask is the sentinel value of NextTaskID meaning "no unstarted row
// available".
const NoNextTask int64 = -1

// HasNext reports whether PickNextAndReport returned an unstarted row.
func (p TaskProgress) HasNext() bool { return p.NextTaskID != NoNextTask }

// IsComplete reports whether every task row has been finalized.
func (p TaskProgress) IsComplete() bool { return p.TotalTasks == p.FinalizedTasks }

// Fraction returns finalizedTasks/totalTasks as a float in [0,1]. Zero
// tasks is reported as complete (fraction 1) so an empty task set finishes
// immediately rather than hanging at an undefined progress value.
func (p TaskProgress) Fraction() float64 {
	if p.TotalTasks == 0 {
		return 1
	}
	return float64(p.FinalizedTasks) / float64(p.TotalTasks)
}

// Statistics is the aggregate output shape shared by the user-visible and
// system-visible (internal) statistics outputs.
type Statistics struct {
	RowsUploaded  int64 `json:"rowsUploaded"`
	BytesUploaded int64 `json:"bytesUploaded"`
	FilesUploaded int64 `json:"filesUploaded"`
}

// ProgressEvent is the async completion payload delivered from the database
// to the engine.
type ProgressEvent struct {
	Type         string `json:"type"` // always "SpaceBasedTaskUpdate"
	TaskID       int64  `json:"taskId"`
	ByteCount    int64  `json:"byteCount"`
	FeatureCount int64  `json:"featureCount"`
	FileCount    int32  `json:"fileCount"`
}

// ProgressEventType is the fixed Type value of a ProgressEvent.
const ProgressEventType = "SpaceBasedTaskUpdate"

// TileInvalidations is the ChangedTiles-only output naming which tiles
// need to be re-rendered downstream.
type TileInvalidations struct {
	TileLevel int      `json:"tileLevel"`
	QuadType  string   `json:"quadType"`
	TileIDs   []string `json:"tileIds"`
}
