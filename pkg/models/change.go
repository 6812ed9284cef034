package models

import "time"

// Change kinds produced by schema diffing.
const (
	ChangeKindTableAdded      = "table_added"
	ChangeKindTableRemoved    = "table_removed"
	ChangeKindColumnAdded     = "column_added"
	ChangeKindColumnRemoved   = "column_removed"
	ChangeKindTypeChanged     = "type_changed"
	ChangeKindRenameSuspected = "renamed_suspected"
)

// Severity levels for detected schema changes.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityBreaking = "breaking"
)

// ChangeRecord describes one detected difference between two schema snapshots.
type ChangeRecord struct {
	Kind string `json:"kind"`
	// Path is the affected schema object ("db.table" or "db.table.column").
	Path     SchemaPath `json:"path"`
	Severity string     `json:"severity"`
	// OldValue/NewValue carry the changed detail (e.g. old and new type).
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	// Suggestion is remediation text for suspected renames. It is advice
	// only and is never applied automatically.
	Suggestion string    `json:"suggestion,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// IsDisruptive reports whether the change should invalidate cached mappings
// and be pushed to subscribers immediately.
func (r *ChangeRecord) IsDisruptive() bool {
	return r.Severity == SeverityMedium || r.Severity == SeverityHigh || r.Severity == SeverityBreaking
}
