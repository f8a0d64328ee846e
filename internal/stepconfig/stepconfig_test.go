package stepconfig

import (
	"testing"

	"github.com/spacetasks/tasked-step/internal/types"
)

func TestLoadBytesAppliesDefaultsAndReconstitutesVersionRef(t *testing.T) {
	doc := `
space_id = "space-1"
version = "[10,20)"
quad_type = "HERE_QUAD"
target_level = 9
csv_format = true
`
	cfg, versionRef, err := LoadBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SpaceID != "space-1" {
		t.Fatalf("expected space_id to round-trip, got %q", cfg.SpaceID)
	}
	if cfg.QuadType != types.HereQuad || cfg.TargetLevel != 9 || !cfg.CSVFormat {
		t.Fatalf("unexpected decoded config: %+v", cfg)
	}
	if cfg.ParallelismThreadCount != types.DefaultParallelismThreadCount {
		t.Fatalf("expected the default thread count to apply, got %d", cfg.ParallelismThreadCount)
	}
	if cfg.ParallelismMinThreshold != types.DefaultParallelismMinThreshold {
		t.Fatalf("expected the default min threshold to apply, got %d", cfg.ParallelismMinThreshold)
	}
	if versionRef.Kind != types.VersionRange || versionRef.Start != 10 || versionRef.End != 20 {
		t.Fatalf("expected a [10,20) range, got %+v", versionRef)
	}
}

func TestLoadBytesPreservesExplicitParallelism(t *testing.T) {
	doc := `
space_id = "space-1"
version = "HEAD"
parallelism_thread_count = 3
parallelism_min_threshold = 500
`
	cfg, _, err := LoadBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ParallelismThreadCount != 3 {
		t.Fatalf("expected the explicit thread count to survive WithDefaults, got %d", cfg.ParallelismThreadCount)
	}
	if cfg.ParallelismMinThreshold != 500 {
		t.Fatalf("expected the explicit min threshold to survive WithDefaults, got %d", cfg.ParallelismMinThreshold)
	}
}

func TestParseVersionRefForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want types.VersionRef
	}{
		{"empty defaults to HEAD", "", types.Head()},
		{"explicit HEAD", "HEAD", types.Head()},
		{"tag", "tag:release-42", types.Tag("release-42")},
		{"range", "[5,9)", types.Range(5, 9)},
		{"concrete", "7", types.Concrete(7)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseVersionRef(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("parseVersionRef(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseVersionRefRejectsMalformedRange(t *testing.T) {
	if _, err := parseVersionRef("[5,)"); err == nil {
		t.Fatal("expected an error for a malformed range")
	}
	if _, err := parseVersionRef("not-a-number"); err == nil {
		t.Fatal("expected an error for an unparseable version")
	}
}

func TestLoadBytesDecodesSpatialFilter(t *testing.T) {
	doc := `
space_id = "space-1"
version = "HEAD"

[spatial_filter]
geometry = "POINT(1 1)"
radius = 50.5
clipped = true
`
	cfg, _, err := LoadBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SpatialFilter == nil {
		t.Fatal("expected a decoded spatial filter")
	}
	if cfg.SpatialFilter.Geometry != "POINT(1 1)" || cfg.SpatialFilter.Radius != 50.5 || !cfg.SpatialFilter.Clipped {
		t.Fatalf("unexpected spatial filter: %+v", cfg.SpatialFilter)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	if _, _, err := LoadBytes([]byte("not = [valid")); err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
}
