// Package engine implements the step control loop: it prepares a version
// reference, sizes a fan-out, creates task rows, dispatches database
// queries, and reacts to asynchronous completions until every task is
// finalized.
//
// The engine operates only against the TaskedStep capability interface —
// no step-kind inheritance. internal/tiles and internal/engine/sqlexport
// both implement it and are composed over Step as data, not subclassed.
package engine

import (
	"context"
	"sync"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/resource"
	"github.com/spacetasks/tasked-step/internal/tasktable"
	"github.com/spacetasks/tasked-step/internal/types"
)

// Query is the opaque per-task query handed to the async executor. Kind is
// free-form for the executor to interpret (e.g. "tile" vs "sql"); Params
// holds whatever the step kind needs to build its SELECT.
type Query struct {
	Kind   string
	Params map[string]string
}

// AsyncExecutor is the database-side query transport: Submit is a one-way
// send, the intentional non-blocking exception to the engine's otherwise
// fully-awaited I/O. The reply is delivered later as a ProgressEvent
// through Step.OnAsyncUpdate.
type AsyncExecutor interface {
	Submit(ctx context.Context, taskID int64, query Query, resourceShare float64) error
}

// TagResolver resolves a named tag to a concrete version via the tag
// service during prepare.
type TagResolver interface {
	ResolveTag(ctx context.Context, spaceID, tag string) (int64, error)
}

// TaskedStep is the capability set used in place of inheritance: a
// concrete step kind (ChangedTiles, generic SQL download) implements this
// and is composed into Step as data.
type TaskedStep interface {
	// CreateTaskItems computes the full task-data set for this run (the
	// ChangedTiles two-pass diff, or a generic partition plan).
	CreateTaskItems(ctx context.Context) ([]types.TaskData, error)

	// InitialThreadCount returns calculatedThreadCount for this run: a
	// fixed 8 for ChangedTiles, or the generic download policy in
	// internal/resource.
	InitialThreadCount(ctx context.Context) (int, error)

	// BuildPerTaskQuery builds the per-task query description the
	// executor will run for taskData.
	BuildPerTaskQuery(taskData types.TaskData) (Query, error)
}

// Finisher is an optional capability: step kinds with a completion hook
// (ChangedTiles' onAsyncSuccess) implement this. Checked via type
// assertion after OnAsyncUpdate reports completion.
type Finisher interface {
	OnAsyncSuccess(ctx context.Context, table tasktable.Table) error
}

// State is one of the five states the step state machine names.
type State string

const (
	StateNew       State = "NEW"
	StatePrepared  State = "PREPARED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Step is the engine instance for one run. Prepare, Execute and
// OnAsyncUpdate are serialized through an internal Dispatcher. The
// accessors (State, ProgressFraction, VersionRef), RestoreThreadCount and
// NeededResources do not go through the Dispatcher; they run on the
// caller's goroutine under mu, which the Dispatcher-run operations do not
// take.
type Step struct {
	cfg        types.StepConfig
	spaceID    string
	schema     string
	stepID     string
	versionRef types.VersionRef

	table     tasktable.Table
	estimator *resource.Estimator
	kind      TaskedStep
	executor  AsyncExecutor
	tags      TagResolver
	stats     resource.StatsService

	dispatcher *Dispatcher

	mu                    sync.Mutex
	state                 State
	calculatedThreadCount int
	taskItemCount         int64
	overallNeededAcus     float64
	progressFraction      float64
	inFlight              int
}

// New builds a Step in state NEW over the given collaborators. schema and
// stepID locate the step's TaskTable (`<schema>.<tempJobTableName(stepId)>`).
func New(cfg types.StepConfig, spaceID, schema, stepID string, versionRef types.VersionRef, table tasktable.Table, estimator *resource.Estimator, kind TaskedStep, executor AsyncExecutor, tags TagResolver, stats resource.StatsService) *Step {
	return &Step{
		cfg:        cfg,
		spaceID:    spaceID,
		schema:     schema,
		stepID:     stepID,
		versionRef: versionRef,
		table:      table,
		estimator:  estimator,
		kind:       kind,
		executor:   executor,
		tags:       tags,
		stats:      stats,
		dispatcher: NewDispatcher(),
		state:      StateNew,
	}
}

// RestoreThreadCount sets calculatedThreadCount from persisted static state
// ahead of calling Execute(true) on a resumed step: this value must never
// be recomputed mid-run. Callers that build a fresh Step instance across a
// crash-resume boundary must call this before Execute(true). It also moves
// the step straight to RUNNING, so it belongs to the resume path only: a
// step it has been called on rejects Execute(false), which is where a
// fresh run computes calculatedThreadCount itself.
func (s *Step) RestoreThreadCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculatedThreadCount = n
	s.state = StateRunning
}

// State returns the step's current state.
func (s *Step) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProgressFraction returns finalizedTasks/totalTasks as last recorded by
// Execute or OnAsyncUpdate.
func (s *Step) ProgressFraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressFraction
}

// VersionRef returns the step's (possibly still-unresolved) version
// reference.
func (s *Step) VersionRef() types.VersionRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionRef
}

// Close releases the step's internal dispatcher goroutine. Callers that
// drive a step to completion or failure should call this once they are
// done observing it.
func (s *Step) Close() { s.dispatcher.Close() }

// Prepare resolves versionRef to concrete integers: HEAD via the
// statistics service's maxVersion, a named tag via TagResolver, a concrete
// or range ref unchanged. Fails fast with a ValidationError on a null or
// unresolvable ref.
func (s *Step) Prepare(ctx context.Context) error {
	var outErr error
	s.dispatcher.Do(func() {
		if s.state != StateNew {
			outErr = errs.New(errs.Validation, "prepare called outside state NEW")
			return
		}
		resolved, err := s.resolveVersionRef(ctx)
		if err != nil {
			s.state = StateFailed
			outErr = err
			return
		}
		s.versionRef = resolved
		s.state = StatePrepared
	})
	return outErr
}

func (s *Step) resolveVersionRef(ctx context.Context) (types.VersionRef, error) {
	switch s.versionRef.Kind {
	case types.VersionConcrete, types.VersionRange:
		return s.versionRef, nil
	case types.VersionHead:
		st, err := s.stats.Stats(ctx, s.spaceID)
		if err != nil {
			return types.VersionRef{}, errs.Wrap(errs.Validation, "resolve HEAD version", err)
		}
		return types.Concrete(st.MaxVersion), nil
	case types.VersionTag:
		if s.tags == nil {
			return types.VersionRef{}, errs.New(errs.Validation, "unresolvable tag: no tag resolver configured")
		}
		v, err := s.tags.ResolveTag(ctx, s.spaceID, s.versionRef.Tag)
		if err != nil {
			return types.VersionRef{}, errs.Wrap(errs.Validation, "resolve tag "+s.versionRef.Tag, err)
		}
		return types.Concrete(v), nil
	default:
		return types.VersionRef{}, errs.New(errs.Validation, "versionRef is null or unrecognized")
	}
}

// NeededResources returns the resource claim list, computing and caching
// overallNeededAcus on first call.
func (s *Step) NeededResources(ctx context.Context) ([]resource.Claim, error) {
	claims, err := s.estimator.Claims(ctx, s.spaceID)
	if err != nil {
		return nil, errs.Wrap(errs.ResourceClaimRejected, "compute resource claims", err)
	}
	s.mu.Lock()
	if s.overallNeededAcus == 0 {
		if acus, acuErr := s.estimator.OverallNeededAcus(ctx, s.spaceID); acuErr == nil {
			s.overallNeededAcus = acus
		}
	}
	s.mu.Unlock()
	return claims, nil
}
