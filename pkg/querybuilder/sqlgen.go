package querybuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/mapper"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// filterOperators is the whitelist of comparison operators accepted from an
// intent filter. Anything else is rejected before SQL assembly.
var filterOperators = map[string]string{
	"=":    "=",
	"!=":   "<>",
	"<>":   "<>",
	">":    ">",
	"<":    "<",
	">=":   ">=",
	"<=":   "<=",
	"like": "LIKE",
	"in":   "= ANY",
}

// columnRef is a resolved reference to a column, possibly on a joined table.
type columnRef struct {
	table  *models.TableInfo
	column *models.ColumnInfo
}

func (r columnRef) sql() string {
	return quoteIdent(r.table.Name) + "." + quoteIdent(r.column.Name)
}

// planGen accumulates the clauses of a single plan. It is built once per
// candidate and discarded; validation failures abandon the whole generator.
type planGen struct {
	snap    *models.SchemaSnapshot
	primary *models.TableInfo

	dims    []columnRef
	dateCol *columnRef
	joins   []string
	joined  map[string]bool
	where   []string
	params  []any
	filters []columnRef
}

func newPlanGen(snap *models.SchemaSnapshot, primary *models.TableInfo) *planGen {
	return &planGen{
		snap:    snap,
		primary: primary,
		joined:  map[string]bool{primary.Name: true},
	}
}

// resolveMetric picks the metric column the aggregation applies to. A
// column-level candidate pins it; a table-level candidate falls back to the
// table's highest-confidence metric column. count() tolerates having no
// metric column and counts rows instead.
func (g *planGen) resolveMetric(intent *models.QueryIntent, candidate models.SemanticMapping) (*models.ColumnInfo, error) {
	if !candidate.IsTableMapping() {
		col := g.primary.Column(candidate.SchemaPath.Column())
		if col == nil {
			return nil, fmt.Errorf("%w: column %q not in table %q",
				apperrors.ErrQueryValidationFailed, candidate.SchemaPath.Column(), g.primary.Name)
		}
		if err := checkAggregable(intent.Aggregation, col); err != nil {
			return nil, err
		}
		return col, nil
	}

	var best *models.ColumnInfo
	for i := range g.primary.Columns {
		c := &g.primary.Columns[i]
		if c.SemanticType != models.SemanticTypeMetric {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	if best == nil {
		if intent.Aggregation == models.AggregationCount {
			return nil, nil // count(*) needs no metric column
		}
		return nil, fmt.Errorf("%w: table %q has no metric column for aggregation %q",
			apperrors.ErrQueryValidationFailed, g.primary.Name, intent.Aggregation)
	}
	return best, nil
}

// resolveDimensions maps each requested dimension onto a column, joining
// through a foreign key when the dimension lives on a referenced table.
func (g *planGen) resolveDimensions(dimensions []string) error {
	for _, dim := range dimensions {
		ref, err := g.resolveColumn(dim)
		if err != nil {
			return err
		}
		g.dims = append(g.dims, ref)
	}
	return nil
}

// resolveColumn finds a column for a business-termed field: first on the
// primary table, then one foreign-key hop away.
func (g *planGen) resolveColumn(field string) (columnRef, error) {
	if col := matchColumn(g.primary, field); col != nil {
		return columnRef{table: g.primary, column: col}, nil
	}

	for _, fk := range g.primary.ForeignKeys {
		target := g.snap.Table(fk.ReferencedTable)
		if target == nil {
			continue
		}
		col := matchColumn(target, field)
		if col == nil {
			continue
		}
		g.addJoin(target, fk)
		return columnRef{table: target, column: col}, nil
	}

	return columnRef{}, fmt.Errorf("%w: no column for field %q reachable from table %q",
		apperrors.ErrQueryValidationFailed, field, g.primary.Name)
}

func (g *planGen) addJoin(target *models.TableInfo, fk models.ForeignKey) {
	if g.joined[target.Name] {
		return
	}
	g.joined[target.Name] = true
	g.joins = append(g.joins, fmt.Sprintf("JOIN %s ON %s.%s = %s.%s",
		quoteIdent(target.Name),
		quoteIdent(g.primary.Name), quoteIdent(fk.Column),
		quoteIdent(target.Name), quoteIdent(fk.ReferencedColumn)))
}

// resolveTimeRange picks the primary table's date column and adds the range
// predicate. The range is half-open: start inclusive, end exclusive.
func (g *planGen) resolveTimeRange(tr *models.TimeRange) error {
	if tr == nil {
		return nil
	}

	col := dateColumn(g.primary)
	if col == nil {
		return fmt.Errorf("%w: table %q has no date column for the time range",
			apperrors.ErrQueryValidationFailed, g.primary.Name)
	}
	g.dateCol = &columnRef{table: g.primary, column: col}

	g.params = append(g.params, tr.Start)
	g.where = append(g.where, fmt.Sprintf("%s >= $%d", g.dateCol.sql(), len(g.params)))
	g.params = append(g.params, tr.End)
	g.where = append(g.where, fmt.Sprintf("%s < $%d", g.dateCol.sql(), len(g.params)))
	return nil
}

// resolveFilters appends parameterized predicates. Operators outside the
// whitelist are a validation failure; values were already screened for
// injection patterns before plan assembly.
func (g *planGen) resolveFilters(filters []models.Filter) error {
	for _, f := range filters {
		op, ok := filterOperators[strings.ToLower(f.Operator)]
		if !ok {
			return fmt.Errorf("%w: unsupported filter operator %q",
				apperrors.ErrQueryValidationFailed, f.Operator)
		}

		ref, err := g.resolveColumn(f.Field)
		if err != nil {
			return err
		}
		g.filters = append(g.filters, ref)

		g.params = append(g.params, f.Value)
		if op == "= ANY" {
			g.where = append(g.where, fmt.Sprintf("%s = ANY($%d)", ref.sql(), len(g.params)))
		} else {
			g.where = append(g.where, fmt.Sprintf("%s %s $%d", ref.sql(), op, len(g.params)))
		}
	}
	return nil
}

// render assembles the final statement.
func (g *planGen) render(intent *models.QueryIntent, metricCol *models.ColumnInfo) (string, []any, error) {
	var selects []string
	groupable := 0

	if g.dateCol != nil && intent.TimeRange.Grain != "" {
		if !validGrain(intent.TimeRange.Grain) {
			return "", nil, fmt.Errorf("%w: unsupported grain %q",
				apperrors.ErrQueryValidationFailed, intent.TimeRange.Grain)
		}
		selects = append(selects, fmt.Sprintf("date_trunc('%s', %s) AS period",
			intent.TimeRange.Grain, g.dateCol.sql()))
		groupable++
	}

	for _, d := range g.dims {
		selects = append(selects, d.sql())
		groupable++
	}

	metricExpr, err := aggregateExpr(intent, metricCol)
	if err != nil {
		return "", nil, err
	}
	selects = append(selects, metricExpr)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(g.primary.Name))
	for _, j := range g.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(g.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(g.where, " AND "))
	}

	aggregated := intent.Aggregation != "" && intent.Aggregation != models.AggregationNone
	if aggregated && groupable > 0 {
		positions := make([]string, groupable)
		for i := range positions {
			positions[i] = fmt.Sprintf("%d", i+1)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(positions, ", "))
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(positions, ", "))
	} else if g.dateCol != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(g.dateCol.sql())
	}

	return b.String(), g.params, nil
}

// hints surfaces index coverage so callers can explain expected performance.
func (g *planGen) hints(intent *models.QueryIntent) []string {
	var hints []string

	if g.dateCol != nil {
		if g.primary.HasIndexOn(g.dateCol.column.Name) {
			hints = append(hints, fmt.Sprintf("time filter on %s.%s is index-backed",
				g.primary.Name, g.dateCol.column.Name))
		} else {
			hints = append(hints, fmt.Sprintf("no index on %s.%s; time filter will scan",
				g.primary.Name, g.dateCol.column.Name))
		}
	}
	for _, ref := range g.filters {
		if !ref.table.HasIndexOn(ref.column.Name) {
			hints = append(hints, fmt.Sprintf("no index on %s.%s; filter will scan",
				ref.table.Name, ref.column.Name))
		}
	}
	for _, tag := range g.primary.PurposeTags {
		if tag == models.PurposeReporting {
			hints = append(hints, fmt.Sprintf("%s is a pre-aggregated reporting table", g.primary.Name))
		}
	}

	return hints
}

// aggregateExpr renders the metric select expression. sum/avg require a
// numeric metric column; count tolerates counting rows.
func aggregateExpr(intent *models.QueryIntent, metricCol *models.ColumnInfo) (string, error) {
	alias := metricAlias(intent.Metric)

	if metricCol == nil {
		if intent.Aggregation == models.AggregationCount {
			return "count(*) AS " + quoteIdent(alias), nil
		}
		return "", fmt.Errorf("%w: aggregation %q requires a metric column",
			apperrors.ErrQueryValidationFailed, intent.Aggregation)
	}

	colSQL := quoteIdent(metricCol.Name)
	switch intent.Aggregation {
	case models.AggregationSum:
		return "sum(" + colSQL + ") AS " + quoteIdent(alias), nil
	case models.AggregationAvg:
		return "avg(" + colSQL + ") AS " + quoteIdent(alias), nil
	case models.AggregationCount:
		return "count(" + colSQL + ") AS " + quoteIdent(alias), nil
	case models.AggregationMin:
		return "min(" + colSQL + ") AS " + quoteIdent(alias), nil
	case models.AggregationMax:
		return "max(" + colSQL + ") AS " + quoteIdent(alias), nil
	case "", models.AggregationNone:
		return colSQL, nil
	default:
		return "", fmt.Errorf("%w: unsupported aggregation %q",
			apperrors.ErrQueryValidationFailed, intent.Aggregation)
	}
}

// checkAggregable rejects numeric aggregations over non-metric columns.
func checkAggregable(aggregation string, col *models.ColumnInfo) error {
	switch aggregation {
	case models.AggregationSum, models.AggregationAvg:
		if col.SemanticType != models.SemanticTypeMetric {
			return fmt.Errorf("%w: cannot %s over non-numeric column %q (%s)",
				apperrors.ErrQueryValidationFailed, aggregation, col.Name, col.DataType)
		}
	}
	return nil
}

// matchColumn finds the column whose normalized name equals or contains the
// normalized field term.
func matchColumn(table *models.TableInfo, field string) *models.ColumnInfo {
	norm := mapper.NormalizeTerm(field)
	if norm == "" {
		return nil
	}

	var partial *models.ColumnInfo
	for i := range table.Columns {
		c := &table.Columns[i]
		colNorm := mapper.NormalizeTerm(c.Name)
		if colNorm == norm {
			return c
		}
		if partial == nil && (strings.Contains(colNorm, norm) || strings.Contains(norm, colNorm)) {
			partial = c
		}
	}
	return partial
}

// dateColumn picks the table's time-filter column: prefer date-typed columns
// whose name suggests a business period, then any date-typed column.
func dateColumn(table *models.TableInfo) *models.ColumnInfo {
	var fallback *models.ColumnInfo
	for i := range table.Columns {
		c := &table.Columns[i]
		if c.SemanticType != models.SemanticTypeDate {
			continue
		}
		lower := strings.ToLower(c.Name)
		if strings.Contains(lower, "date") || strings.Contains(lower, "period") {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

func validGrain(grain string) bool {
	switch grain {
	case models.GrainDay, models.GrainWeek, models.GrainMonth, models.GrainQuarter, models.GrainYear:
		return true
	}
	return false
}

// grainBuckets estimates how many time buckets the range spans.
func grainBuckets(tr *models.TimeRange) int64 {
	span := tr.End.Sub(tr.Start)
	if span <= 0 {
		return 1
	}

	var bucket time.Duration
	switch tr.Grain {
	case models.GrainDay:
		bucket = 24 * time.Hour
	case models.GrainWeek:
		bucket = 7 * 24 * time.Hour
	case models.GrainMonth:
		bucket = 30 * 24 * time.Hour
	case models.GrainQuarter:
		bucket = 91 * 24 * time.Hour
	case models.GrainYear:
		bucket = 365 * 24 * time.Hour
	default:
		return 1
	}

	buckets := int64(span / bucket)
	if buckets < 1 {
		return 1
	}
	return buckets + 1
}

// shiftTimeRange moves a range back by one comparison period.
func shiftTimeRange(tr *models.TimeRange, period string) (*models.TimeRange, error) {
	switch period {
	case models.ComparisonPreviousPeriod:
		span := tr.End.Sub(tr.Start)
		return &models.TimeRange{Start: tr.Start.Add(-span), End: tr.Start, Grain: tr.Grain}, nil
	case models.ComparisonPreviousYear:
		return &models.TimeRange{
			Start: tr.Start.AddDate(-1, 0, 0),
			End:   tr.End.AddDate(-1, 0, 0),
			Grain: tr.Grain,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported comparison period %q", period)
	}
}

// metricAlias derives a safe result-column alias from the metric term.
func metricAlias(metric string) string {
	alias := strings.ToLower(strings.TrimSpace(metric))
	alias = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r == ' ', r == '-':
			return '_'
		default:
			return -1
		}
	}, alias)
	if alias == "" || (alias[0] >= '0' && alias[0] <= '9') {
		return "value"
	}
	return alias
}
