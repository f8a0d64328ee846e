package engine

import (
	"context"
	"errors"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/types"
)

// Execute runs the execute(resume) operation. On a fresh run (resume=false)
// it determines calculatedThreadCount, creates the TaskTable, materializes
// every task row, then runs the initial dispatch loop. On resume
// (resume=true, callable from RUNNING) it skips table creation and row
// insertion and re-runs pickNextAndReport up to calculatedThreadCount
// times, restarting only rows that are still unstarted — started-but-
// unfinalized rows are never auto-redispatched. Returns true if the step
// was already (or became) complete.
func (s *Step) Execute(ctx context.Context, resume bool) (bool, error) {
	var complete bool
	var outErr error

	s.dispatcher.Do(func() {
		if !resume {
			if s.state != StatePrepared {
				outErr = errs.New(errs.Validation, "execute(false) called outside state PREPARED")
				return
			}
			count, err := s.kind.InitialThreadCount(ctx)
			if err != nil {
				s.state = StateFailed
				outErr = errs.Wrap(errs.ResourceClaimRejected, "compute initial thread count", err)
				return
			}
			s.calculatedThreadCount = count

			if err := s.table.Create(ctx, s.schema, s.stepID); err != nil {
				s.state = StateFailed
				outErr = err
				return
			}
			items, err := s.kind.CreateTaskItems(ctx)
			if err != nil {
				s.state = StateFailed
				outErr = errs.Wrap(errs.Validation, "create task items", err)
				return
			}
			s.taskItemCount = int64(len(items))
			for _, td := range items {
				if _, err := s.table.Insert(ctx, td); err != nil {
					s.state = StateFailed
					outErr = err
					return
				}
			}
			s.state = StateRunning
		} else if s.state != StateRunning {
			outErr = errs.New(errs.Validation, "execute(true) called outside state RUNNING")
			return
		}

		done, err := s.initialDispatch(ctx)
		if err != nil {
			outErr = err
			return
		}
		complete = done
	})

	return complete, outErr
}

func (s *Step) initialDispatch(ctx context.Context) (bool, error) {
	for i := 0; i < s.calculatedThreadCount; i++ {
		prog, err := s.table.PickNextAndReport(ctx)
		if err != nil {
			s.state = StateFailed
			return false, errs.Wrap(errs.TransientDB, "pick next task on initial dispatch", err)
		}
		if i == 0 {
			s.progressFraction = prog.Fraction()
		}
		if prog.IsComplete() {
			s.markComplete(ctx)
			return true, nil
		}
		if !prog.HasNext() {
			break
		}
		if err := s.dispatchOne(ctx, prog); err != nil {
			s.state = StateFailed
			return false, err
		}
	}
	return false, nil
}

func (s *Step) dispatchOne(ctx context.Context, prog types.TaskProgress) error {
	query, err := s.kind.BuildPerTaskQuery(prog.NextTaskData)
	if err != nil {
		return errs.Wrap(errs.TaskQueryBuild, "build per-task query", err).WithTaskID(prog.NextTaskID)
	}
	share := s.perTaskShare(prog.TotalTasks)
	if err := s.executor.Submit(ctx, prog.NextTaskID, query, share); err != nil {
		return errs.Wrap(errs.TransientDB, "submit task query", err).WithTaskID(prog.NextTaskID)
	}
	s.inFlight++
	return nil
}

func (s *Step) perTaskShare(total int64) float64 {
	if total == 0 {
		return 0
	}
	return s.overallNeededAcus / float64(total)
}

func (s *Step) markComplete(ctx context.Context) {
	s.state = StateCompleted
	s.progressFraction = 1
	if f, ok := s.kind.(Finisher); ok {
		_ = f.OnAsyncSuccess(ctx, s.table)
	}
}

// OnAsyncUpdate runs the steady-state algorithm: record the reported deltas
// and finalize the row, then pick-next. A duplicate or unknown-taskId
// delivery is an AsyncDeliveryAnomaly — logged by the caller via the
// returned error's Kind, never fatal, and progress still advances via the
// pick-next call that follows.
func (s *Step) OnAsyncUpdate(ctx context.Context, event types.ProgressEvent) (bool, error) {
	var complete bool
	var outErr error

	s.dispatcher.Do(func() {
		if s.state == StateCompleted {
			// Every row is already finalized, so any further completion is
			// a duplicate delivery.
			outErr = errs.New(errs.AsyncDeliveryAnomaly, "task completion after step completion").WithTaskID(event.TaskID)
			return
		}
		if s.state != StateRunning {
			outErr = errs.New(errs.Validation, "onAsyncUpdate called outside state RUNNING")
			return
		}

		recordErr := s.table.RecordProgress(ctx, event.TaskID, event.ByteCount, event.FeatureCount, event.FileCount, true)
		var anomaly *tasktable.AlreadyFinalizedError
		if recordErr != nil && !errors.As(recordErr, &anomaly) {
			s.state = StateFailed
			outErr = recordErr
			return
		}
		if anomaly != nil {
			outErr = errs.Wrap(errs.AsyncDeliveryAnomaly, "duplicate or unknown task completion", anomaly).WithTaskID(event.TaskID)
		}
		if s.inFlight > 0 {
			s.inFlight--
		}

		prog, err := s.table.PickNextAndReport(ctx)
		if err != nil {
			s.state = StateFailed
			outErr = errs.Wrap(errs.TransientDB, "pick next task on progress event", err)
			return
		}
		s.progressFraction = prog.Fraction()

		switch {
		case prog.IsComplete():
			s.markComplete(ctx)
			complete = true
		case !prog.HasNext():
			// other dispatched tasks still in flight; nothing to start
		default:
			if err := s.dispatchOne(ctx, prog); err != nil {
				s.state = StateFailed
				outErr = err
			}
		}
	})

	return complete, outErr
}
