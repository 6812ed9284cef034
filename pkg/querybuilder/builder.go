// Package querybuilder turns structured query intents and semantic mappings
// into validated, parameterized SQL plans. It never executes SQL.
package querybuilder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/mapper"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// maxMappingRetries bounds how many next-best table candidates the builder
// tries when a generated plan fails validation.
const maxMappingRetries = 3

// ErrUnsafeFilterValue indicates a filter value matched a SQL injection
// pattern. Unlike validation failures this is not retried; the input itself
// is hostile or malformed.
var ErrUnsafeFilterValue = errors.New("unsafe filter value")

// SnapshotSource supplies the schema snapshot plans are validated against.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.SchemaSnapshot, error)
}

// Builder assembles query plans from intents and mappings.
type Builder struct {
	snapshots SnapshotSource
	logger    *zap.Logger
}

// New creates a query builder.
func New(snapshots SnapshotSource, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{snapshots: snapshots, logger: logger}
}

// Build produces a validated query plan for the intent using the supplied
// mapping candidates (typically the output of the mapper for intent.Metric).
//
// The primary table is the highest-confidence table-level candidate; ties
// within the ambiguity window are refused with AmbiguousMappingError. Plans
// that fail validation against the current snapshot are silently discarded
// and the next-best candidate is tried, up to maxMappingRetries, before a
// NoTableFoundError carrying the remaining alternatives is returned.
func (b *Builder) Build(ctx context.Context, intent *models.QueryIntent, mappings []models.SemanticMapping) (*models.QueryPlan, error) {
	if intent == nil || intent.Metric == "" {
		return nil, fmt.Errorf("intent must name a metric")
	}
	if err := screenFilters(intent.Filters); err != nil {
		return nil, err
	}

	snap, err := b.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("build query for %q: %w", intent.Metric, err)
	}

	candidates := tableCandidates(mappings)
	if len(candidates) == 0 {
		return nil, &apperrors.NoTableFoundError{Metric: intent.Metric}
	}

	if len(candidates) >= 2 &&
		candidates[0].Confidence-candidates[1].Confidence < mapper.AmbiguityWindow &&
		candidates[0].SchemaPath.Table() != candidates[1].SchemaPath.Table() {
		return nil, &apperrors.AmbiguousMappingError{
			Term:         intent.Metric,
			Alternatives: candidates,
		}
	}

	tried := 0
	for _, candidate := range candidates {
		if tried >= maxMappingRetries {
			break
		}
		tried++

		plan, err := b.buildPlan(snap, intent, candidate)
		if err != nil {
			if errors.Is(err, apperrors.ErrQueryValidationFailed) {
				b.logger.Debug("Plan failed validation, trying next candidate",
					zap.String("metric", intent.Metric),
					zap.String("table", candidate.SchemaPath.Table()),
					zap.Error(err))
				continue
			}
			return nil, err
		}
		return plan, nil
	}

	return nil, &apperrors.NoTableFoundError{Metric: intent.Metric, Alternatives: candidates}
}

// tableCandidates reduces mapping candidates to one entry per table, keeping
// the highest confidence. Column-level mappings stand in for their table.
func tableCandidates(mappings []models.SemanticMapping) []models.SemanticMapping {
	flat := make([]models.SemanticMapping, 0, len(mappings))
	for _, m := range mappings {
		flat = append(flat, m)
		flat = append(flat, m.Alternatives...)
	}

	best := make(map[string]models.SemanticMapping)
	for _, m := range flat {
		table := m.SchemaPath.Table()
		if table == "" {
			continue
		}
		prev, ok := best[table]
		if !ok || m.Confidence > prev.Confidence ||
			// At equal confidence a column-level mapping wins: it pins the
			// metric column instead of leaving it to inference.
			(m.Confidence == prev.Confidence && !m.IsTableMapping() && prev.IsTableMapping()) {
			best[table] = m
		}
	}

	candidates := make([]models.SemanticMapping, 0, len(best))
	for _, m := range best {
		m.Alternatives = nil
		candidates = append(candidates, m)
	}
	models.SortMappings(candidates)
	return candidates
}

// buildPlan assembles and validates one plan for a single table candidate.
// Validation failures return errors wrapping apperrors.ErrQueryValidationFailed.
func (b *Builder) buildPlan(snap *models.SchemaSnapshot, intent *models.QueryIntent, candidate models.SemanticMapping) (*models.QueryPlan, error) {
	table := snap.Table(candidate.SchemaPath.Table())
	if table == nil {
		return nil, fmt.Errorf("%w: table %q not in snapshot", apperrors.ErrQueryValidationFailed, candidate.SchemaPath.Table())
	}

	gen := newPlanGen(snap, table)

	metricCol, err := gen.resolveMetric(intent, candidate)
	if err != nil {
		return nil, err
	}
	if err := gen.resolveDimensions(intent.Dimensions); err != nil {
		return nil, err
	}
	if err := gen.resolveTimeRange(intent.TimeRange); err != nil {
		return nil, err
	}
	if err := gen.resolveFilters(intent.Filters); err != nil {
		return nil, err
	}

	sqlText, params, err := gen.render(intent, metricCol)
	if err != nil {
		return nil, err
	}
	if err := validateStatement(sqlText); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryValidationFailed, err)
	}

	plan := &models.QueryPlan{
		SQL:           sqlText,
		Params:        params,
		EstimatedRows: estimateRows(table, intent),
		Hints:         gen.hints(intent),
		PrimaryTable:  table.Name,
	}

	for _, period := range intent.ComparisonPeriods {
		alt, err := b.comparisonPlan(snap, intent, candidate, period)
		if err != nil {
			b.logger.Debug("Skipping comparison period",
				zap.String("period", period), zap.Error(err))
			continue
		}
		plan.Alternatives = append(plan.Alternatives, *alt)
	}

	return plan, nil
}

// comparisonPlan builds the same query shifted to a comparison window.
func (b *Builder) comparisonPlan(snap *models.SchemaSnapshot, intent *models.QueryIntent, candidate models.SemanticMapping, period string) (*models.QueryPlan, error) {
	if intent.TimeRange == nil {
		return nil, fmt.Errorf("comparison period %q requires a time range", period)
	}

	shifted, err := shiftTimeRange(intent.TimeRange, period)
	if err != nil {
		return nil, err
	}

	compare := *intent
	compare.TimeRange = shifted
	compare.ComparisonPeriods = nil

	return b.buildPlan(snap, &compare, candidate)
}

// estimateRows predicts the result cardinality from catalog row counts. An
// aggregated query returns at most one row per time bucket and dimension
// combination; without statistics on dimension cardinality the table row
// count serves as the upper bound.
func estimateRows(table *models.TableInfo, intent *models.QueryIntent) int64 {
	if intent.Aggregation == "" || intent.Aggregation == models.AggregationNone {
		return table.RowCount
	}
	if len(intent.Dimensions) == 0 && (intent.TimeRange == nil || intent.TimeRange.Grain == "") {
		return 1
	}
	if intent.TimeRange != nil && intent.TimeRange.Grain != "" {
		buckets := grainBuckets(intent.TimeRange)
		if buckets < table.RowCount {
			return buckets
		}
	}
	return table.RowCount
}
