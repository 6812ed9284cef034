// Package changedetect diffs schema snapshots and drives cache invalidation
// and subscriber notification when the schema drifts.
package changedetect

import (
	"fmt"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

// renameSimilarityFloor is the minimum name similarity between a removed and
// an added column of identical type before a rename is suspected.
const renameSimilarityFloor = 0.8

// DetectChanges diffs two snapshots and returns classified change records.
// Equal fingerprints short-circuit to nil without any table walking.
//
// Renames are heuristic: a removed table whose column signature matches an
// added table, or a removed column whose type matches an added column with a
// similar name, is reported as renamed_suspected with a remediation
// suggestion. The suggestion is advisory; mappings are never rewritten.
func DetectChanges(old, new *models.SchemaSnapshot) []models.ChangeRecord {
	if old == nil || new == nil {
		return nil
	}
	if old.Fingerprint != "" && old.Fingerprint == new.Fingerprint {
		return nil
	}

	now := time.Now().UTC()
	var records []models.ChangeRecord

	oldTables := tablesByName(old)
	newTables := tablesByName(new)

	var removedTables []*models.TableInfo
	for name, t := range oldTables {
		if _, ok := newTables[name]; !ok {
			removedTables = append(removedTables, t)
		}
	}

	for name, newTable := range newTables {
		oldTable, ok := oldTables[name]
		if !ok {
			// A new table with the exact column set of a removed one is
			// almost certainly a rename, not an independent add/remove pair.
			if renamed := matchRenamedTable(newTable, removedTables); renamed != nil {
				records = append(records, models.ChangeRecord{
					Kind:     models.ChangeKindRenameSuspected,
					Path:     models.NewTablePath(new.DatabaseName, renamed.Name),
					Severity: models.SeverityMedium,
					OldValue: renamed.Name,
					NewValue: newTable.Name,
					Suggestion: fmt.Sprintf("table %q appears renamed to %q; re-resolve mappings against the new name",
						renamed.Name, newTable.Name),
					DetectedAt: now,
				})
				removedTables = removeTable(removedTables, renamed)
				continue
			}
			records = append(records, models.ChangeRecord{
				Kind:       models.ChangeKindTableAdded,
				Path:       models.NewTablePath(new.DatabaseName, newTable.Name),
				Severity:   models.SeverityLow,
				DetectedAt: now,
			})
			continue
		}
		records = append(records, diffTable(new.DatabaseName, oldTable, newTable, now)...)
	}

	for _, t := range removedTables {
		records = append(records, models.ChangeRecord{
			Kind:       models.ChangeKindTableRemoved,
			Path:       models.NewTablePath(old.DatabaseName, t.Name),
			Severity:   models.SeverityBreaking,
			DetectedAt: now,
		})
	}

	return records
}

// diffTable diffs the column sets of one table present in both snapshots.
func diffTable(database string, oldTable, newTable *models.TableInfo, now time.Time) []models.ChangeRecord {
	var records []models.ChangeRecord

	oldCols := columnsByName(oldTable)
	newCols := columnsByName(newTable)

	var removed []*models.ColumnInfo
	for name, c := range oldCols {
		if _, ok := newCols[name]; !ok {
			removed = append(removed, c)
		}
	}

	for name, newCol := range newCols {
		oldCol, ok := oldCols[name]
		if !ok {
			if renamed := matchRenamedColumn(newCol, removed); renamed != nil {
				records = append(records, models.ChangeRecord{
					Kind:     models.ChangeKindRenameSuspected,
					Path:     models.NewColumnPath(database, newTable.Name, renamed.Name),
					Severity: models.SeverityMedium,
					OldValue: renamed.Name,
					NewValue: newCol.Name,
					Suggestion: fmt.Sprintf("column %q appears renamed to %q in table %q",
						renamed.Name, newCol.Name, newTable.Name),
					DetectedAt: now,
				})
				removed = removeColumn(removed, renamed)
				continue
			}
			records = append(records, models.ChangeRecord{
				Kind:       models.ChangeKindColumnAdded,
				Path:       models.NewColumnPath(database, newTable.Name, newCol.Name),
				Severity:   models.SeverityLow,
				DetectedAt: now,
			})
			continue
		}
		if !sameType(oldCol.DataType, newCol.DataType) {
			records = append(records, models.ChangeRecord{
				Kind:       models.ChangeKindTypeChanged,
				Path:       models.NewColumnPath(database, newTable.Name, newCol.Name),
				Severity:   typeChangeSeverity(oldCol.DataType, newCol.DataType),
				OldValue:   oldCol.DataType,
				NewValue:   newCol.DataType,
				DetectedAt: now,
			})
		}
	}

	for _, c := range removed {
		records = append(records, models.ChangeRecord{
			Kind:       models.ChangeKindColumnRemoved,
			Path:       models.NewColumnPath(database, newTable.Name, c.Name),
			Severity:   models.SeverityBreaking,
			DetectedAt: now,
		})
	}

	return records
}

// matchRenamedTable finds a removed table with the identical column signature.
func matchRenamedTable(added *models.TableInfo, removed []*models.TableInfo) *models.TableInfo {
	if len(added.Columns) == 0 {
		return nil
	}
	sig := added.ColumnSignature()
	for _, t := range removed {
		if t.ColumnSignature() == sig {
			return t
		}
	}
	return nil
}

// matchRenamedColumn finds a removed column of identical type whose name is
// similar enough to the added one to suspect a rename.
func matchRenamedColumn(added *models.ColumnInfo, removed []*models.ColumnInfo) *models.ColumnInfo {
	jw := metrics.NewJaroWinkler()
	var best *models.ColumnInfo
	bestScore := renameSimilarityFloor
	for _, c := range removed {
		if !sameType(c.DataType, added.DataType) {
			continue
		}
		score := strutil.Similarity(c.Name, added.Name, jw)
		if score >= bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// typeChangeSeverity classifies a type change: widening within a family is
// tolerable, anything else risks breaking consumers of cached mappings.
func typeChangeSeverity(oldType, newType string) string {
	if typeFamily(oldType) == typeFamily(newType) {
		return models.SeverityHigh
	}
	return models.SeverityBreaking
}

func typeFamily(dataType string) string {
	switch normalizeType(dataType) {
	case "smallint", "int", "integer", "bigint", "tinyint":
		return "integer"
	case "numeric", "decimal", "money", "real", "float", "double precision":
		return "decimal"
	case "char", "varchar", "nvarchar", "text", "character", "character varying":
		return "text"
	case "date", "time", "timestamp", "timestamptz", "datetime", "datetime2", "smalldatetime",
		"timestamp without time zone", "timestamp with time zone":
		return "temporal"
	default:
		return normalizeType(dataType)
	}
}

func sameType(a, b string) bool {
	return normalizeType(a) == normalizeType(b)
}

// normalizeType strips length/precision qualifiers: "varchar(255)" and
// "varchar" compare equal.
func normalizeType(dataType string) string {
	if i := strings.IndexByte(dataType, '('); i >= 0 {
		dataType = dataType[:i]
	}
	return strings.ToLower(strings.TrimSpace(dataType))
}

func tablesByName(s *models.SchemaSnapshot) map[string]*models.TableInfo {
	m := make(map[string]*models.TableInfo, len(s.Tables))
	for i := range s.Tables {
		m[s.Tables[i].Name] = &s.Tables[i]
	}
	return m
}

func columnsByName(t *models.TableInfo) map[string]*models.ColumnInfo {
	m := make(map[string]*models.ColumnInfo, len(t.Columns))
	for i := range t.Columns {
		m[t.Columns[i].Name] = &t.Columns[i]
	}
	return m
}

func removeTable(list []*models.TableInfo, t *models.TableInfo) []*models.TableInfo {
	out := list[:0]
	for _, x := range list {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}

func removeColumn(list []*models.ColumnInfo, c *models.ColumnInfo) []*models.ColumnInfo {
	out := list[:0]
	for _, x := range list {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}
