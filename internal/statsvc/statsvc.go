// Package statsvc holds client-facing interfaces and in-memory fakes for
// out-of-scope collaborators named only by the interfaces they expose: the
// feature-store statistics service, the tag/version resolution service,
// and the database-side thread-count precalculation function. No HTTP
// client, no auth — ambient collaborators only, wired by the CLI against
// these fakes for local exercising of a full run.
package statsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/spacetasks/tasked-step/internal/engine"
	"github.com/spacetasks/tasked-step/internal/resource"
)

// MemStats is an in-memory resource.StatsService, keyed by spaceId. A
// space with no entry behaves like a deactivated dataset (the HTTP 428
// mapping), since that is the one failure mode callers need to exercise.
type MemStats struct {
	mu   sync.Mutex
	byID map[string]resource.Stats
}

// NewMemStats builds an empty fake statistics service.
func NewMemStats() *MemStats {
	return &MemStats{byID: make(map[string]resource.Stats)}
}

// Set registers the statistics snapshot for spaceID.
func (m *MemStats) Set(spaceID string, stats resource.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[spaceID] = stats
}

// Stats implements resource.StatsService.
func (m *MemStats) Stats(_ context.Context, spaceID string) (resource.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byID[spaceID]
	if !ok {
		return resource.Stats{}, resource.ErrDatasetDeactivated(spaceID)
	}
	return st, nil
}

var _ resource.StatsService = (*MemStats)(nil)

// MemTags is an in-memory engine.TagResolver, keyed by spaceId/tag.
type MemTags struct {
	mu   sync.Mutex
	tags map[string]int64
}

// NewMemTags builds an empty fake tag resolution service.
func NewMemTags() *MemTags {
	return &MemTags{tags: make(map[string]int64)}
}

// Set registers version as the resolution of tag within spaceID.
func (m *MemTags) Set(spaceID, tag string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[tagKey(spaceID, tag)] = version
}

// ResolveTag implements engine.TagResolver.
func (m *MemTags) ResolveTag(_ context.Context, spaceID, tag string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tags[tagKey(spaceID, tag)]
	if !ok {
		return 0, fmt.Errorf("statsvc: unresolvable tag %q for space %q", tag, spaceID)
	}
	return v, nil
}

func tagKey(spaceID, tag string) string { return spaceID + "/" + tag }

var _ engine.TagResolver = (*MemTags)(nil)

// MemPrecalc is a fixed-value resource.Precalculator fake: the real
// database-side precalculation function is out of scope, so local runs and
// tests supply a constant or caller-set override.
type MemPrecalc struct {
	mu      sync.Mutex
	Default int
}

// PrecalcThreadCount implements resource.Precalculator, ignoring its
// arguments beyond returning the configured default (at least 1).
func (m *MemPrecalc) PrecalcThreadCount(context.Context, int64, string, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Default < 1 {
		return 1, nil
	}
	return m.Default, nil
}

var _ resource.Precalculator = (*MemPrecalc)(nil)
