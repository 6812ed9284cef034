package mapper

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

// Score boosts applied on top of the base lexical similarity.
const (
	substringBoost    = 0.10 // One normalized name contains the other
	semanticTypeBoost = 0.10 // Column's semantic type matches the term's implied category
	contextBoost      = 0.05 // Caller-supplied context matches the table name
)

// NormalizeTerm canonicalizes a business term or schema object name for
// comparison: lowercase, underscores folded to spaces, each word singular.
// "Revenues" and "revenue", "cash_flow" and "Cash Flow" normalize equal.
func NormalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.ReplaceAll(term, "_", " ")
	term = strings.ReplaceAll(term, "-", " ")
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = inflection.Singular(w)
	}
	return strings.Join(words, " ")
}

// similarity returns a lexical similarity score in [0,1] between two already
// normalized strings. Jaro-Winkler favors shared prefixes, which suits
// schema naming conventions (revenue -> revenue_monthly).
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return strutil.Similarity(a, b, metrics.NewJaroWinkler())
}

// hasSubstring reports whether either normalized name contains the other as
// a whole word sequence.
func hasSubstring(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// impliedSemanticType guesses which column category a term is asking for.
// Returns "" when the term carries no signal.
func impliedSemanticType(normalizedTerm string) string {
	words := strings.Fields(normalizedTerm)
	if len(words) == 0 {
		return ""
	}
	last := words[len(words)-1]

	switch last {
	case "date", "time", "day", "month", "quarter", "year", "period", "when":
		return models.SemanticTypeDate
	case "id", "identifier", "key", "code", "number":
		return models.SemanticTypeIdentifier
	}

	for _, w := range words {
		switch w {
		case "revenue", "amount", "total", "sum", "count", "sale", "profit",
			"cost", "price", "balance", "margin", "income", "expense", "flow":
			return models.SemanticTypeMetric
		}
	}
	return ""
}
