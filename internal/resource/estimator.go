// Package resource implements ResourceEstimator: translating dataset
// statistics into an ACU budget, per-resource claims, and the thread-count
// policy that sizes a step's fan-out.
//
// Memoization uses a lazily-computed, field-cached value guarded with
// sync.Once since the engine is single-threaded-cooperative per step but
// neededResources() may still be called from more than one goroutine before
// the step's Dispatcher takes over (e.g. during prepare/validate).
package resource

import (
	"context"
	"math"
	"sync"

	"github.com/spacetasks/tasked-step/internal/errs"
)

// Stats is the dataset statistics snapshot the estimator is pure with
// respect to.
type Stats struct {
	ByteSize             int64
	EstimatedFeatureCount int64
	MaxVersion           int64
}

// StatsService is the out-of-scope feature-store statistics collaborator.
// HTTP 428 from the real service maps to ErrDatasetDeactivated by the
// concrete implementation, not here.
type StatsService interface {
	Stats(ctx context.Context, spaceID string) (Stats, error)
}

// Precalculator is the out-of-scope database-side precalculation function:
// given the estimated feature count, the export SELECT query, and the
// source table, it returns a suggested parallel thread count.
type Precalculator interface {
	PrecalcThreadCount(ctx context.Context, estimatedFeatureCount int64, selectQuery, sourceTable string) (int, error)
}

// ErrDatasetDeactivated is the domain-specific validation failure for an
// HTTP 428 response from the statistics service.
func ErrDatasetDeactivated(spaceID string) *errs.Error {
	return errs.New(errs.Validation, "dataset deactivated: "+spaceID)
}

// Claim is one resource claim line: {resource, virtualUnits}.
type Claim struct {
	Resource      string
	VirtualUnits  float64
}

const (
	// ResourceDBReader and ResourceIOOut are the two shared resources the
	// scheduler meters.
	ResourceDBReader = "dbReader"
	ResourceIOOut    = "ioOut"
)

// bytesPerACU sizes the overallNeededAcus claim from byteSize. The exact
// conversion constant is an internal scheduler tuning value, left
// unspecified beyond "sized from byteSize"; a round number is used and
// documented here rather than invented silently.
const bytesPerACU = 64 << 20 // 64 MiB per ACU

// Estimator implements ResourceEstimator. It is pure with respect to a
// single Stats snapshot and caches overallNeededAcus for the lifetime of
// the instance (one per step run). Persistence across resume is the
// engine's job (it owns the Estimator instance and must not discard it),
// not this type's.
type Estimator struct {
	stats StatsService
	pre   Precalculator

	once         sync.Once
	onceErr      error
	overallAcus  float64
}

// New builds an Estimator over the given out-of-scope collaborators.
func New(stats StatsService, pre Precalculator) *Estimator {
	return &Estimator{stats: stats, pre: pre}
}

// OverallNeededAcus computes (once) and returns the ACU budget for a run,
// given dataset statistics for spaceID. Subsequent calls return the cached
// value without recomputation.
func (e *Estimator) OverallNeededAcus(ctx context.Context, spaceID string) (float64, error) {
	e.once.Do(func() {
		st, err := e.stats.Stats(ctx, spaceID)
		if err != nil {
			e.onceErr = errs.Wrap(errs.Validation, "fetch dataset statistics", err)
			return
		}
		e.overallAcus = math.Ceil(float64(st.ByteSize) / float64(bytesPerACU))
		if e.overallAcus < 1 {
			e.overallAcus = 1
		}
	})
	return e.overallAcus, e.onceErr
}

// Claims returns the resource claims: one dbReader claim and one ioOut
// claim, both sized from overallNeededAcus.
func (e *Estimator) Claims(ctx context.Context, spaceID string) ([]Claim, error) {
	acus, err := e.OverallNeededAcus(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return []Claim{
		{Resource: ResourceDBReader, VirtualUnits: acus},
		{Resource: ResourceIOOut, VirtualUnits: acus},
	}, nil
}

// ChangedTilesThreadCount is the fixed parallelism assigned to the
// ChangedTiles specialization: always 8.
const ChangedTilesThreadCount = 8

// DownloadThreadCountInput carries the inputs to the generic-download
// thread-count policy.
type DownloadThreadCountInput struct {
	EstimatedFeatureCount int64
	SelectQuery           string
	SourceTable           string
	// PartitionByID is true when the export partitions by id. Whether a
	// filter is applied is carried separately in HasFilter.
	PartitionByID bool
	HasFilter     bool
}

// partitionFeatureDivisor is the divisor used for partition-by-id exports:
// floor(estimatedFeatureCount / 500_000).
const partitionFeatureDivisor = 500_000

// DownloadThreadCount applies the generic-download thread-count policy:
//   - partition-by-id export with no filter: max(precalc, floor(count/500000))
//   - otherwise: the precalc value unchanged
func (e *Estimator) DownloadThreadCount(ctx context.Context, in DownloadThreadCountInput) (int, error) {
	precalc, err := e.pre.PrecalcThreadCount(ctx, in.EstimatedFeatureCount, in.SelectQuery, in.SourceTable)
	if err != nil {
		return 0, errs.Wrap(errs.Validation, "precalculate thread count", err)
	}
	if in.PartitionByID && !in.HasFilter {
		byFeatureCount := int(in.EstimatedFeatureCount / partitionFeatureDivisor)
		if byFeatureCount > precalc {
			return byFeatureCount, nil
		}
	}
	return precalc, nil
}
