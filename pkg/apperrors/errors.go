// Package apperrors defines the error taxonomy shared across schemalens.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

var (
	// ErrDiscoveryTimeout indicates schema discovery exceeded its deadline.
	ErrDiscoveryTimeout = errors.New("schema discovery timed out")

	// ErrDiscoveryPartialFailure indicates some tables could not be read.
	// The discovery result is still usable with degraded confidence.
	ErrDiscoveryPartialFailure = errors.New("schema discovery partially failed")

	// ErrNoMappingFound indicates no candidate met the similarity threshold.
	ErrNoMappingFound = errors.New("no mapping found for term")

	// ErrAmbiguousMapping indicates multiple candidates scored too close to
	// auto-select. The typed AmbiguousMappingError carries the alternatives.
	ErrAmbiguousMapping = errors.New("ambiguous mapping")

	// ErrNoTableFound indicates no table mapping met the confidence
	// threshold. The typed NoTableFoundError carries ranked alternatives.
	ErrNoTableFound = errors.New("no table found for intent")

	// ErrQueryValidationFailed indicates a generated plan referenced schema
	// objects that do not exist or are type-incompatible. Internal; the
	// builder retries next-best mappings before surfacing anything.
	ErrQueryValidationFailed = errors.New("query validation failed")

	// ErrNoSchemaAvailable is fatal: discovery failed and neither a cached
	// snapshot nor a fallback schema exists.
	ErrNoSchemaAvailable = errors.New("no schema available")

	// ErrNotFound is the generic lookup miss for stores and repositories.
	ErrNotFound = errors.New("not found")
)

// AmbiguousMappingError reports candidates that scored within the ambiguity
// window of each other. The caller must disambiguate; none is auto-selected.
type AmbiguousMappingError struct {
	Term         string
	Alternatives []models.SemanticMapping
}

func (e *AmbiguousMappingError) Error() string {
	return fmt.Sprintf("ambiguous mapping for %q: %d candidates within ambiguity window", e.Term, len(e.Alternatives))
}

func (e *AmbiguousMappingError) Unwrap() error {
	return ErrAmbiguousMapping
}

// NoTableFoundError carries ranked alternative tables so the caller can offer
// a disambiguation prompt instead of failing silently.
type NoTableFoundError struct {
	Metric       string
	Alternatives []models.SemanticMapping
}

func (e *NoTableFoundError) Error() string {
	return fmt.Sprintf("no table found for metric %q (%d alternatives)", e.Metric, len(e.Alternatives))
}

func (e *NoTableFoundError) Unwrap() error {
	return ErrNoTableFound
}
