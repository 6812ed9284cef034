package models

import "time"

// Aggregation levels accepted in a QueryIntent.
const (
	AggregationSum   = "sum"
	AggregationAvg   = "avg"
	AggregationCount = "count"
	AggregationMin   = "min"
	AggregationMax   = "max"
	AggregationNone  = "none" // Row-level detail, no GROUP BY
)

// Time grains for bucketing a time range.
const (
	GrainDay     = "day"
	GrainWeek    = "week"
	GrainMonth   = "month"
	GrainQuarter = "quarter"
	GrainYear    = "year"
)

// Comparison periods a caller may request alongside the primary range.
const (
	ComparisonPreviousPeriod = "previous_period"
	ComparisonPreviousYear   = "previous_year"
)

// TimeRange describes the time window of a query intent.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Grain is the bucketing granularity (day, week, month, quarter, year).
	// Empty means no time bucketing.
	Grain string `json:"grain,omitempty"`
}

// Filter is a single predicate from the intent.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // =, !=, >, <, >=, <=, like, in
	Value    any    `json:"value"`
}

// QueryIntent is the structured business request emitted by an upstream
// intent parser. It is consumed as a value object and never mutated.
type QueryIntent struct {
	Metric            string     `json:"metric"`
	Dimensions        []string   `json:"dimensions,omitempty"`
	TimeRange         *TimeRange `json:"time_range,omitempty"`
	Aggregation       string     `json:"aggregation,omitempty"`
	Filters           []Filter   `json:"filters,omitempty"`
	ComparisonPeriods []string   `json:"comparison_periods,omitempty"`
}

// QueryPlan is the output of the query builder: SQL plus everything a caller
// needs to execute it and explain it. Execution is the caller's responsibility.
type QueryPlan struct {
	SQL           string      `json:"sql"`
	Params        []any       `json:"params,omitempty"`
	EstimatedRows int64       `json:"estimated_rows"`
	Hints         []string    `json:"hints,omitempty"`
	PrimaryTable  string      `json:"primary_table"`
	Alternatives  []QueryPlan `json:"alternatives,omitempty"`
}
