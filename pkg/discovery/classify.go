package discovery

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

// Deterministic classification of discovered columns and tables. This runs on
// catalog metadata only; no data values are inspected beyond bounded samples.

var metricNameHints = []string{
	"amount", "total", "sum", "revenue", "price", "cost", "balance",
	"quantity", "qty", "count", "value", "profit", "margin", "fee", "rate",
}

var numericTypes = map[string]bool{
	"numeric": true, "decimal": true, "money": true, "real": true,
	"double precision": true, "float": true, "bigint": true, "integer": true,
	"int": true, "smallint": true, "tinyint": true,
}

var dateTypes = map[string]bool{
	"date": true, "timestamp": true, "timestamptz": true, "datetime": true,
	"datetime2": true, "smalldatetime": true, "time": true,
	"timestamp without time zone": true, "timestamp with time zone": true,
}

// classifyColumn infers a semantic type and confidence for a column from its
// name, declared type, and key role.
func classifyColumn(name, dataType string, isPrimaryKey bool) (string, float64) {
	lower := strings.ToLower(name)
	typeLower := strings.ToLower(dataType)

	if isPrimaryKey {
		return models.SemanticTypeIdentifier, 0.95
	}
	if lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_key") ||
		typeLower == "uuid" || strings.HasPrefix(typeLower, "uniqueidentifier") {
		return models.SemanticTypeIdentifier, 0.9
	}

	if dateTypes[typeLower] {
		return models.SemanticTypeDate, 0.95
	}
	if strings.HasSuffix(lower, "_date") || strings.HasSuffix(lower, "_at") ||
		strings.HasSuffix(lower, "_time") || lower == "period" || strings.HasPrefix(lower, "period_") {
		return models.SemanticTypeDate, 0.8
	}

	if numericTypes[typeLower] {
		for _, hint := range metricNameHints {
			if strings.Contains(lower, hint) {
				return models.SemanticTypeMetric, 0.9
			}
		}
		// Numeric but not obviously a measure; still more likely a metric
		// than a dimension.
		return models.SemanticTypeMetric, 0.6
	}

	if strings.HasPrefix(typeLower, "char") || strings.HasPrefix(typeLower, "varchar") ||
		strings.HasPrefix(typeLower, "nvarchar") || typeLower == "text" ||
		strings.HasPrefix(typeLower, "character") || typeLower == "boolean" || typeLower == "bit" {
		return models.SemanticTypeDimension, 0.7
	}

	return models.SemanticTypeUnknown, 0.3
}

// classifyTable infers business purpose tags from the table's name and
// column composition.
func classifyTable(t *models.TableInfo) []string {
	lower := strings.ToLower(t.Name)
	var tags []string

	dateCols, metricCols, idCols := 0, 0, 0
	for _, c := range t.Columns {
		switch c.SemanticType {
		case models.SemanticTypeDate:
			dateCols++
		case models.SemanticTypeMetric:
			metricCols++
		case models.SemanticTypeIdentifier:
			idCols++
		}
	}

	switch {
	case strings.Contains(lower, "report") || strings.Contains(lower, "summary") ||
		strings.Contains(lower, "monthly") || strings.Contains(lower, "daily") ||
		strings.Contains(lower, "quarterly") || strings.Contains(lower, "annual"):
		tags = append(tags, models.PurposeReporting)
	case len(t.Columns) >= 2 && idCols == len(t.Columns):
		tags = append(tags, models.PurposeJunction)
	case dateCols > 0 && metricCols > 0:
		tags = append(tags, models.PurposeTransactional)
	case dateCols == 0 && t.RowCount < 1000:
		tags = append(tags, models.PurposeReference)
	}

	return tags
}

// displayName turns a table name into a human-readable singular label,
// e.g. "revenue_monthly" -> "revenue monthly", "customers" -> "customer".
func displayName(tableName string) string {
	name := strings.ReplaceAll(tableName, "_", " ")
	words := strings.Fields(name)
	if len(words) > 0 {
		words[len(words)-1] = inflection.Singular(words[len(words)-1])
	}
	return strings.Join(words, " ")
}
