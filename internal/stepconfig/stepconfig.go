// Package stepconfig loads a StepConfig from a declarative TOML recipe
// file, using github.com/BurntSushi/toml rather than hand-rolling a
// parser.
package stepconfig

import (
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/types"
)

// recipe is the flat TOML-decodable shape of a step recipe. StepConfig
// itself carries `toml:"-"` on VersionRef/Context since its tagged union
// isn't directly decodable, so recipe spells both as plain strings and
// build reconstitutes the typed values.
type recipe struct {
	SpaceID        string               `toml:"space_id"`
	Version        string               `toml:"version"`
	Context        string               `toml:"context"`
	SpatialFilter  *spatialFilterRecipe `toml:"spatial_filter"`
	PropertyFilter string               `toml:"property_filter"`
	QuadType       string               `toml:"quad_type"`
	TargetLevel    int                  `toml:"target_level"`
	CSVFormat      bool                 `toml:"csv_format"`
	PartitionKey   string               `toml:"partition_key"`
	Clipped        bool                 `toml:"clipped"`

	ParallelismMinThreshold int64 `toml:"parallelism_min_threshold"`
	ParallelismThreadCount  int   `toml:"parallelism_thread_count"`
}

type spatialFilterRecipe struct {
	Geometry string  `toml:"geometry"`
	Radius   float64 `toml:"radius"`
	Clipped  bool    `toml:"clipped"`
}

// Load decodes a TOML recipe file at path into a StepConfig and its
// (possibly still-unresolved) VersionRef.
func Load(path string) (types.StepConfig, types.VersionRef, error) {
	var r recipe
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return types.StepConfig{}, types.VersionRef{}, errs.Wrap(errs.Validation, "decode step recipe "+path, err)
	}
	return build(r)
}

// LoadBytes decodes an in-memory TOML document, used by tests.
func LoadBytes(data []byte) (types.StepConfig, types.VersionRef, error) {
	var r recipe
	if _, err := toml.Decode(string(data), &r); err != nil {
		return types.StepConfig{}, types.VersionRef{}, errs.Wrap(errs.Validation, "decode step recipe", err)
	}
	return build(r)
}

func build(r recipe) (types.StepConfig, types.VersionRef, error) {
	versionRef, err := parseVersionRef(r.Version)
	if err != nil {
		return types.StepConfig{}, types.VersionRef{}, err
	}

	cfg := types.StepConfig{
		SpaceID:                 r.SpaceID,
		Context:                 parseContext(r.Context),
		PropertyFilter:          types.PropertyFilter(r.PropertyFilter),
		QuadType:                types.QuadType(r.QuadType),
		TargetLevel:             r.TargetLevel,
		CSVFormat:               r.CSVFormat,
		PartitionKey:            r.PartitionKey,
		Clipped:                 r.Clipped,
		ParallelismMinThreshold: r.ParallelismMinThreshold,
		ParallelismThreadCount:  r.ParallelismThreadCount,
	}
	if r.SpatialFilter != nil {
		cfg.SpatialFilter = &types.SpatialFilter{
			Geometry: r.SpatialFilter.Geometry,
			Radius:   r.SpatialFilter.Radius,
			Clipped:  r.SpatialFilter.Clipped,
		}
	}
	return cfg.WithDefaults(), versionRef, nil
}

func parseContext(s string) types.SpaceContext {
	switch s {
	case "EXTENSION":
		return types.ContextExtension
	case "SUPER":
		return types.ContextSuper
	default:
		return types.ContextDefault
	}
}

// parseVersionRef accepts "HEAD" (or empty), "tag:<name>", "[start,end)",
// or a plain integer — the VersionRef forms.
func parseVersionRef(s string) (types.VersionRef, error) {
	switch {
	case s == "" || s == "HEAD":
		return types.Head(), nil
	case strings.HasPrefix(s, "tag:"):
		return types.Tag(strings.TrimPrefix(s, "tag:")), nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, ")"):
		bounds := strings.SplitN(strings.Trim(s, "[)"), ",", 2)
		if len(bounds) != 2 {
			return types.VersionRef{}, errs.New(errs.Validation, "malformed version range: "+s)
		}
		start, err := strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64)
		if err != nil {
			return types.VersionRef{}, errs.Wrap(errs.Validation, "malformed version range start: "+s, err)
		}
		end, err := strconv.ParseInt(strings.TrimSpace(bounds[1]), 10, 64)
		if err != nil {
			return types.VersionRef{}, errs.Wrap(errs.Validation, "malformed version range end: "+s, err)
		}
		return types.Range(start, end), nil
	default:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.VersionRef{}, errs.Wrap(errs.Validation, "malformed version: "+s, err)
		}
		return types.Concrete(v), nil
	}
}
