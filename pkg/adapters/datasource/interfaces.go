// Package datasource defines the metadata access boundary to the backing
// relational store. Adapters issue read-only catalog queries and never mutate
// the datasource.
package datasource

import "context"

// CatalogReader reads catalog metadata from a relational store.
// Each implementation owns its connection and must be closed when done.
type CatalogReader interface {
	// ListDatabases returns the databases visible to the connection.
	// Databases the caller cannot access are silently excluded.
	ListDatabases(ctx context.Context) ([]string, error)

	// ListTables returns all user tables in the database (system schemas
	// excluded). Tables the caller cannot access are silently excluded.
	ListTables(ctx context.Context, database string) ([]TableMeta, error)

	// GetColumns returns column metadata for a table in ordinal order.
	GetColumns(ctx context.Context, database, schemaName, tableName string) ([]ColumnMeta, error)

	// GetIndexes returns index metadata for a table.
	GetIndexes(ctx context.Context, database, schemaName, tableName string) ([]IndexMeta, error)

	// GetForeignKeys returns outgoing foreign keys for a table.
	GetForeignKeys(ctx context.Context, database, schemaName, tableName string) ([]ForeignKeyMeta, error)

	// SampleColumnValues returns up to limit distinct non-null values from
	// a column, as strings. Used to attach bounded example values to
	// discovered columns.
	SampleColumnValues(ctx context.Context, database, schemaName, tableName, columnName string, limit int) ([]string, error)

	// Close releases the catalog connection.
	Close() error
}

// TableMeta is a discovered table as reported by the catalog.
type TableMeta struct {
	SchemaName string
	TableName  string
	Comment    string
	RowCount   int64
}

// ColumnMeta is a discovered column as reported by the catalog.
type ColumnMeta struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
	Comment         string
	DefaultValue    *string
}

// IndexMeta is a discovered index.
type IndexMeta struct {
	IndexName string
	Columns   []string
	IsUnique  bool
}

// ForeignKeyMeta is a discovered foreign key constraint.
type ForeignKeyMeta struct {
	ConstraintName string
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
}
