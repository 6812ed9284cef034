package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// SemanticType classifies what a column means to a business user, as opposed
// to its declared SQL type.
const (
	SemanticTypeMetric     = "metric"     // Numeric measures (amounts, counts, totals)
	SemanticTypeDimension  = "dimension"  // Categorical attributes used for grouping
	SemanticTypeDate       = "date"       // Dates and timestamps
	SemanticTypeIdentifier = "identifier" // Primary/foreign keys and external IDs
	SemanticTypeUnknown    = "unknown"
)

// Table purpose tags inferred during discovery.
const (
	PurposeTransactional = "transactional" // Event/fact tables with timestamps
	PurposeReference     = "reference"     // Static lookup tables
	PurposeReporting     = "reporting"     // Pre-aggregated reporting tables
	PurposeJunction      = "junction"      // Many-to-many link tables
)

// ColumnInfo describes a single discovered column.
type ColumnInfo struct {
	Name         string   `json:"name" yaml:"name"`
	DataType     string   `json:"data_type" yaml:"data_type"`
	IsNullable   bool     `json:"is_nullable" yaml:"is_nullable"`
	IsPrimaryKey bool     `json:"is_primary_key" yaml:"is_primary_key"`
	SemanticType string   `json:"semantic_type" yaml:"semantic_type"`
	Comment      string   `json:"comment,omitempty" yaml:"comment,omitempty"`
	SampleValues []string `json:"sample_values,omitempty" yaml:"sample_values,omitempty"`
	Confidence   float64  `json:"confidence" yaml:"confidence"`
}

// IndexInfo describes a discovered index, used for optimization hints.
type IndexInfo struct {
	Name     string   `json:"name" yaml:"name"`
	Columns  []string `json:"columns" yaml:"columns"`
	IsUnique bool     `json:"is_unique" yaml:"is_unique"`
}

// ForeignKey describes a discovered foreign key relationship.
type ForeignKey struct {
	Column           string `json:"column" yaml:"column"`
	ReferencedTable  string `json:"referenced_table" yaml:"referenced_table"`
	ReferencedColumn string `json:"referenced_column" yaml:"referenced_column"`
}

// TableInfo describes a single discovered table. TableInfo values are owned
// by their SchemaSnapshot and are never mutated after discovery.
type TableInfo struct {
	Name        string       `json:"name" yaml:"name"`
	SchemaName  string       `json:"schema_name,omitempty" yaml:"schema_name,omitempty"`
	DisplayName string       `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Columns     []ColumnInfo `json:"columns" yaml:"columns"`
	Indexes     []IndexInfo  `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
	PurposeTags []string     `json:"purpose_tags,omitempty" yaml:"purpose_tags,omitempty"`
	RowCount    int64        `json:"row_count" yaml:"row_count"`
	FreshAt     time.Time    `json:"fresh_at" yaml:"fresh_at"`
}

// Column returns the column with the given name, or nil.
func (t *TableInfo) Column(name string) *ColumnInfo {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasIndexOn reports whether any index covers the given column as its
// leading column.
func (t *TableInfo) HasIndexOn(column string) bool {
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && strings.EqualFold(idx.Columns[0], column) {
			return true
		}
	}
	return false
}

// SchemaSnapshot is an immutable view of a database's structure at a point in
// time. Snapshots are replaced wholesale on refresh, never mutated.
type SchemaSnapshot struct {
	DatabaseName string      `json:"database_name" yaml:"database_name"`
	Tables       []TableInfo `json:"tables" yaml:"tables"`
	DiscoveredAt time.Time   `json:"discovered_at" yaml:"discovered_at"`
	Fingerprint  string      `json:"fingerprint" yaml:"fingerprint"`
	// Confidence is 1.0 for a complete discovery pass, lower when some
	// tables could not be read.
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Table returns the table with the given name, or nil. The name may be
// schema-qualified ("public.orders") or bare ("orders").
func (s *SchemaSnapshot) Table(name string) *TableInfo {
	schemaName := ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		schemaName, name = name[:i], name[i+1:]
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		if !strings.EqualFold(t.Name, name) {
			continue
		}
		if schemaName == "" || strings.EqualFold(t.SchemaName, schemaName) {
			return t
		}
	}
	return nil
}

// Age returns how long ago the snapshot was discovered.
func (s *SchemaSnapshot) Age() time.Duration {
	return time.Since(s.DiscoveredAt)
}

// ComputeFingerprint returns a stable hash over the snapshot's structural
// content (table names, column names, types, nullability). Two snapshots with
// equal fingerprints are structurally interchangeable for mapping purposes.
// Sample values, row counts, and timestamps do not affect the fingerprint.
func (s *SchemaSnapshot) ComputeFingerprint() string {
	tables := make([]string, 0, len(s.Tables))
	for i := range s.Tables {
		tables = append(tables, tableSignature(&s.Tables[i]))
	}
	sort.Strings(tables)

	h := xxhash.New()
	_, _ = h.WriteString(s.DatabaseName)
	for _, sig := range tables {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(sig)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// tableSignature returns the structural signature of a single table.
func tableSignature(t *TableInfo) string {
	var b strings.Builder
	b.WriteString(t.SchemaName)
	b.WriteByte('.')
	b.WriteString(t.Name)
	for _, c := range t.Columns {
		b.WriteByte('\x01')
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(strings.ToLower(c.DataType))
		if c.IsNullable {
			b.WriteString(":null")
		}
	}
	return b.String()
}

// ColumnSignature returns the structural signature of a table's columns only,
// independent of the table name. Used for rename detection.
func (t *TableInfo) ColumnSignature() string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, c.Name+":"+strings.ToLower(c.DataType))
	}
	sort.Strings(cols)
	return strings.Join(cols, "\x01")
}

// SchemaPath identifies a schema object as "database.table" or
// "database.table.column".
type SchemaPath string

// NewTablePath builds a table-level schema path.
func NewTablePath(database, table string) SchemaPath {
	return SchemaPath(database + "." + table)
}

// NewColumnPath builds a column-level schema path.
func NewColumnPath(database, table, column string) SchemaPath {
	return SchemaPath(database + "." + table + "." + column)
}

// Parts splits the path into database, table, and column. Column is empty for
// table-level paths.
func (p SchemaPath) Parts() (database, table, column string, err error) {
	parts := strings.Split(string(p), ".")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("invalid schema path %q", string(p))
	}
}

// Table returns the table component of the path, or "" if the path is malformed.
func (p SchemaPath) Table() string {
	_, table, _, err := p.Parts()
	if err != nil {
		return ""
	}
	return table
}

// Column returns the column component, or "" for table-level paths.
func (p SchemaPath) Column() string {
	_, _, column, err := p.Parts()
	if err != nil {
		return ""
	}
	return column
}

// IsTableLevel reports whether the path addresses a table rather than a column.
func (p SchemaPath) IsTableLevel() bool {
	return strings.Count(string(p), ".") == 1
}
