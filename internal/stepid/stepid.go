// Package stepid derives the deterministic names required for a step's
// TaskTable: the temp table name and its primary key name, both functions
// of the opaque stepId, plus generation of that stepId.
package stepid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// New generates a fresh opaque step id. The outer job manager is the
// authority on step identity and lifecycle; this is the id-generation
// primitive it would call.
func New() string {
	return uuid.NewString()
}

var sanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TempJobTableName derives the deterministic temp table name for a step:
// two concurrent runs of the same stepId must never exist, and the name
// must be bit-stable for resume compatibility — the same stepId always
// yields the same table name, with no randomness and no dependency on
// wall-clock time.
func TempJobTableName(stepID string) string {
	sanitized := sanitizer.ReplaceAllString(stepID, "_")
	return fmt.Sprintf("task_%s", strings.ToLower(sanitized))
}

// PrimaryKeyName derives the primary-key constraint name:
// <tempJobTableName(stepId)>_primKey.
func PrimaryKeyName(stepID string) string {
	return TempJobTableName(stepID) + "_primKey"
}

// QualifiedTableName returns "<schema>.<tempJobTableName(stepId)>".
func QualifiedTableName(schema, stepID string) string {
	return fmt.Sprintf("%s.%s", schema, TempJobTableName(stepID))
}
