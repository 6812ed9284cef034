package models

import (
	"sort"
	"time"
)

// Mapping kinds describe how a term was matched to a schema object.
const (
	MappingKindExact   = "exact"   // Normalized term equals the object name
	MappingKindFuzzy   = "fuzzy"   // Lexical similarity above threshold
	MappingKindDerived = "derived" // Inferred through a related object (e.g. table match -> metric column)
)

// SemanticMapping associates a business term with a concrete schema object.
type SemanticMapping struct {
	// Term is the normalized (lowercased, singularized) business term.
	Term string `json:"term"`
	// SchemaPath is "database.table" or "database.table.column".
	SchemaPath SchemaPath `json:"schema_path"`
	// MappingKind is one of exact, fuzzy, derived.
	MappingKind string `json:"mapping_kind"`
	// Confidence is in [0,1]. Alternatives are lower-ranked candidates and
	// are always sorted descending by confidence.
	Confidence   float64           `json:"confidence"`
	Alternatives []SemanticMapping `json:"alternatives,omitempty"`
	// Fingerprint is the schema fingerprint the mapping was resolved
	// against. A mapping is only valid while the live fingerprint matches.
	Fingerprint string `json:"fingerprint"`
	// ValidationRules are optional named rules the caller should apply
	// before trusting the mapping (e.g. "non_null", "positive_amount").
	ValidationRules []string `json:"validation_rules,omitempty"`
}

// IsTableMapping reports whether the mapping targets a table rather than a column.
func (m *SemanticMapping) IsTableMapping() bool {
	return m.SchemaPath.IsTableLevel()
}

// SortMappings orders mappings descending by confidence, breaking ties by
// schema path for deterministic output.
func SortMappings(mappings []SemanticMapping) {
	sort.SliceStable(mappings, func(i, j int) bool {
		if mappings[i].Confidence != mappings[j].Confidence {
			return mappings[i].Confidence > mappings[j].Confidence
		}
		return mappings[i].SchemaPath < mappings[j].SchemaPath
	})
}

// LearnedMapping is a persisted term association created when a caller
// reports that a mapping was used successfully. Learned mappings are keyed by
// normalized term and invalidated when the schema fingerprint changes.
type LearnedMapping struct {
	Term       string          `json:"term"`
	Mapping    SemanticMapping `json:"mapping"`
	UseCount   int64           `json:"use_count"`
	LearnedAt  time.Time       `json:"learned_at"`
	LastUsedAt time.Time       `json:"last_used_at"`
}
