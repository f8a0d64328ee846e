// Package sqlexport implements the generic SQL download export step kind:
// a step that partitions a source table's rows across InitialThreadCount()
// task items and exports each partition with one per-task SELECT, as
// opposed to ChangedTiles' tile-keyed partitioning.
package sqlexport

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/spacetasks/tasked-step/internal/engine"
	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/resource"
	"github.com/spacetasks/tasked-step/internal/types"
)

// partition is the JSON payload carried in a generic download task's
// TaskData (Kind="sql").
type partition struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Step is the generic download export's engine.TaskedStep implementation.
type Step struct {
	Cfg                   types.StepConfig
	SourceTable           string
	SelectQuery           string
	EstimatedFeatureCount int64
	PartitionByID         bool
	HasFilter             bool

	Estimator *resource.Estimator
	SpaceID   string
}

var _ engine.TaskedStep = (*Step)(nil)

// InitialThreadCount applies the generic-download thread-count policy,
// consulting the database precalc function and the partition-by-id
// override.
func (s *Step) InitialThreadCount(ctx context.Context) (int, error) {
	n, err := s.Estimator.DownloadThreadCount(ctx, resource.DownloadThreadCountInput{
		EstimatedFeatureCount: s.EstimatedFeatureCount,
		SelectQuery:           s.SelectQuery,
		SourceTable:           s.SourceTable,
		PartitionByID:         s.PartitionByID,
		HasFilter:             s.HasFilter,
	})
	if err != nil {
		return 0, err
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// CreateTaskItems builds one task per partition, count resolved from
// InitialThreadCount.
func (s *Step) CreateTaskItems(ctx context.Context) ([]types.TaskData, error) {
	count, err := s.InitialThreadCount(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]types.TaskData, count)
	for i := 0; i < count; i++ {
		payload, err := json.Marshal(partition{Index: i, Count: count})
		if err != nil {
			return nil, errs.Wrap(errs.TaskQueryBuild, "encode partition payload", err)
		}
		items[i] = types.TaskData{Kind: types.TaskDataSQL, Payload: payload}
	}
	return items, nil
}

// BuildPerTaskQuery builds the per-partition SELECT description: the
// configured query restricted to rows whose id modulo the partition count
// equals the partition index, the standard partition-by-id shape.
func (s *Step) BuildPerTaskQuery(taskData types.TaskData) (engine.Query, error) {
	if taskData.Kind != types.TaskDataSQL {
		return engine.Query{}, errs.New(errs.TaskQueryBuild, "sqlexport: task data is not kind sql")
	}
	var p partition
	if err := json.Unmarshal(taskData.Payload, &p); err != nil {
		return engine.Query{}, errs.Wrap(errs.TaskQueryBuild, "decode partition payload", err)
	}
	return engine.Query{
		Kind: "sql",
		Params: map[string]string{
			"selectQuery":    s.SelectQuery,
			"sourceTable":    s.SourceTable,
			"partitionIndex": strconv.Itoa(p.Index),
			"partitionCount": strconv.Itoa(p.Count),
			"csvFormat":      strconv.FormatBool(s.Cfg.CSVFormat),
		},
	}, nil
}
