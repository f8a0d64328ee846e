package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/spacetasks/tasked-step/internal/engine"
	"github.com/spacetasks/tasked-step/internal/resource"
	"github.com/spacetasks/tasked-step/internal/statsvc"
	"github.com/spacetasks/tasked-step/internal/statsvc/asyncsql"
	"github.com/spacetasks/tasked-step/internal/stepconfig"
	"github.com/spacetasks/tasked-step/internal/stepid"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/tasktable/embedded"
	"github.com/spacetasks/tasked-step/internal/tiles"
	"github.com/spacetasks/tasked-step/internal/types"
)

const demoSchema = "tasked_step"

// wiredRun bundles every collaborator a full run exercises, assembled in
// one place so run/plan/resume can share it.
type wiredRun struct {
	cfg        types.StepConfig
	versionRef types.VersionRef
	spaceID    string
	stepID     string

	table      tasktable.Table
	step       *engine.Step
	cliStep    *tiles.ChangedTilesStep
	executor   *asyncsql.Executor
	closeTable func() error // non-nil for durable backends; nil for the in-memory quick-start path
}

func wire(ctx context.Context) (*wiredRun, error) {
	spaceID := viper.GetString("space")

	var cfg types.StepConfig
	var versionRef types.VersionRef
	var err error
	if recipe := viper.GetString("recipe"); recipe != "" {
		cfg, versionRef, err = stepconfig.Load(recipe)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = types.StepConfig{SpaceID: spaceID, TargetLevel: 8, QuadType: types.HereQuad}.WithDefaults()
		versionRef = types.Range(10, 11)
	}
	if cfg.SpaceID == "" {
		cfg.SpaceID = spaceID
	}

	stats := statsvc.NewMemStats()
	stats.Set(cfg.SpaceID, resource.Stats{
		ByteSize:              viper.GetInt64("byte-size"),
		EstimatedFeatureCount: 2,
		MaxVersion:            viper.GetInt64("max-version"),
	})
	tags := statsvc.NewMemTags()
	precalc := &statsvc.MemPrecalc{Default: cfg.ParallelismThreadCount}
	estimator := resource.New(stats, precalc)

	views := newDemoViews()
	planner := tiles.New(views, views)
	cliStep := &tiles.ChangedTilesStep{
		Planner: planner,
		Cfg:     cfg,
	}

	table := tasktable.NewMemory()
	stepID := stepid.New()

	var stp *engine.Step
	executor := asyncsql.New(ctx, cfg.ParallelismThreadCount, func(ctx context.Context, event types.ProgressEvent) {
		if _, err := stp.OnAsyncUpdate(ctx, event); err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
		}
	}, nil)

	stp = engine.New(cfg, cfg.SpaceID, demoSchema, stepID, versionRef, table, estimator, cliStep, executor, tags, stats)

	return &wiredRun{
		cfg:        cfg,
		versionRef: versionRef,
		spaceID:    cfg.SpaceID,
		stepID:     stepID,
		table:      table,
		step:       stp,
		cliStep:    cliStep,
		executor:   executor,
	}, nil
}

// wireResume rebuilds a Step over a durable embedded Dolt table rooted at
// dbPath for an already-prepared, already-dispatched stepID, so a crashed
// process can continue a run without re-creating the task table or
// recomputing calculatedThreadCount.
func wireResume(ctx context.Context, dbPath, stepID string, threadCount int) (*wiredRun, error) {
	cfg := types.StepConfig{SpaceID: viper.GetString("space"), TargetLevel: 8, QuadType: types.HereQuad}.WithDefaults()

	stats := statsvc.NewMemStats()
	stats.Set(cfg.SpaceID, resource.Stats{
		ByteSize:              viper.GetInt64("byte-size"),
		EstimatedFeatureCount: 2,
		MaxVersion:            viper.GetInt64("max-version"),
	})
	tags := statsvc.NewMemTags()
	precalc := &statsvc.MemPrecalc{Default: cfg.ParallelismThreadCount}
	estimator := resource.New(stats, precalc)

	views := newDemoViews()
	cliStep := &tiles.ChangedTilesStep{Planner: tiles.New(views, views), Cfg: cfg}

	table, err := embedded.Open(ctx, dbPath, demoSchema, stepID)
	if err != nil {
		return nil, err
	}

	var stp *engine.Step
	executor := asyncsql.New(ctx, cfg.ParallelismThreadCount, func(ctx context.Context, event types.ProgressEvent) {
		if _, err := stp.OnAsyncUpdate(ctx, event); err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
		}
	}, nil)

	stp = engine.New(cfg, cfg.SpaceID, demoSchema, stepID, types.Head(), table, estimator, cliStep, executor, tags, stats)
	stp.RestoreThreadCount(threadCount)

	return &wiredRun{
		cfg:        cfg,
		spaceID:    cfg.SpaceID,
		stepID:     stepID,
		table:      table,
		step:       stp,
		cliStep:    cliStep,
		executor:   executor,
		closeTable: table.Close,
	}, nil
}

// syncVersionBounds feeds the engine's resolved version reference into the
// ChangedTiles step kind, which needs concrete start/end versions to query
// its delta/base views. Called after Prepare, before Execute.
func (w *wiredRun) syncVersionBounds() {
	resolved := w.step.VersionRef()
	switch resolved.Kind {
	case types.VersionRange:
		w.cliStep.StartVersion, w.cliStep.EndVersion = resolved.Start, resolved.End
	default:
		w.cliStep.StartVersion, w.cliStep.EndVersion = resolved.Value-1, resolved.Value
	}
}
