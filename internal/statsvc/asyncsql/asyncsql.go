// Package asyncsql is the local stand-in for the database running multiple
// task queries concurrently below the engine, each a separate session. It
// uses golang.org/x/sync/errgroup to bound the number of concurrently-
// running simulated sessions, delivering results back through the same
// OnComplete callback a real async transport would use to invoke
// Step.OnAsyncUpdate.
package asyncsql

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/spacetasks/tasked-step/internal/engine"
	"github.com/spacetasks/tasked-step/internal/types"
)

// Simulate computes the ProgressEvent a database session would eventually
// report for taskID's query. Tests and the CLI supply this; it is the only
// place domain knowledge of "what running q actually does" lives, since
// the real SQL execution is out of scope here.
type Simulate func(ctx context.Context, taskID int64, q engine.Query) (types.ProgressEvent, error)

// OnComplete delivers a simulated session's result, the local analog of
// the async transport invoking Step.OnAsyncUpdate.
type OnComplete func(ctx context.Context, event types.ProgressEvent)

// Executor implements engine.AsyncExecutor over a bounded pool of
// goroutines, one per in-flight simulated database session.
type Executor struct {
	group      *errgroup.Group
	onComplete OnComplete
	simulate   Simulate
}

// New builds an Executor bounded to maxConcurrency concurrent sessions. A
// nil simulate uses a default that reports one row, one byte, one file per
// task — enough to exercise the engine's dispatch loop without a real
// database.
func New(ctx context.Context, maxConcurrency int, onComplete OnComplete, simulate Simulate) *Executor {
	group, _ := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		group.SetLimit(maxConcurrency)
	}
	if simulate == nil {
		simulate = defaultSimulate
	}
	return &Executor{group: group, onComplete: onComplete, simulate: simulate}
}

var _ engine.AsyncExecutor = (*Executor)(nil)

// Submit is the one intentional non-blocking exception to the engine's
// fully-awaited I/O: it schedules the session (blocking only if
// maxConcurrency sessions are already running) and returns without
// waiting for completion. The reply arrives later via onComplete.
func (e *Executor) Submit(ctx context.Context, taskID int64, q engine.Query, resourceShare float64) error {
	e.group.Go(func() error {
		event, err := e.simulate(ctx, taskID, q)
		if err != nil {
			return err
		}
		e.onComplete(ctx, event)
		return nil
	})
	return nil
}

// Wait blocks until every submitted session has completed, for tests and
// the CLI's synchronous run mode.
func (e *Executor) Wait() error { return e.group.Wait() }

func defaultSimulate(_ context.Context, taskID int64, _ engine.Query) (types.ProgressEvent, error) {
	return types.ProgressEvent{
		Type:         types.ProgressEventType,
		TaskID:       taskID,
		ByteCount:    1,
		FeatureCount: 1,
		FileCount:    1,
	}, nil
}
