package querybuilder

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

// screenFilters rejects filter values that match SQL injection patterns.
// Values are always bound as parameters, never interpolated; the screen is a
// second layer for callers that log or echo filter values downstream.
func screenFilters(filters []models.Filter) error {
	for _, f := range filters {
		values := []any{f.Value}
		if list, ok := f.Value.([]any); ok {
			values = list
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
				return fmt.Errorf("%w: filter %q matched injection pattern %s",
					ErrUnsafeFilterValue, f.Field, fingerprint)
			}
		}
	}
	return nil
}

// validateStatement rejects generated SQL containing more than one statement.
// The builder only ever emits a single SELECT; a stray semicolon indicates a
// quoting bug, not caller input.
func validateStatement(sqlText string) error {
	sqlText = strings.TrimRight(strings.TrimSpace(sqlText), ";")
	if hasSemicolonOutsideStrings(sqlText) {
		return fmt.Errorf("multiple statements in generated SQL")
	}
	return nil
}

// hasSemicolonOutsideStrings reports whether a semicolon appears outside
// single- or double-quoted literals.
func hasSemicolonOutsideStrings(sqlText string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	for _, ch := range sqlText {
		switch state {
		case stateNormal:
			switch ch {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
		}
	}
	return false
}

// quoteIdent double-quotes an identifier, escaping embedded quotes. Column
// and table names come from the discovered catalog, so quoting is belt and
// suspenders against names that collide with keywords.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
