package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	"github.com/ekaya-inc/schemalens/pkg/logging"
)

// mssqlPermissionDenied is the SQL Server error number for object access denial.
const mssqlPermissionDenied = 229

// CatalogReader provides read-only SQL Server catalog access.
type CatalogReader struct {
	db     *sql.DB
	cfg    *Config
	logger *zap.Logger
}

// NewCatalogReader connects to SQL Server and returns a catalog reader.
// If logger is nil, a no-op logger is used.
func NewCatalogReader(ctx context.Context, cfg *Config, logger *zap.Logger) (*CatalogReader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %s", logging.SanitizeError(err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlserver: %s", logging.SanitizeError(err))
	}

	return &CatalogReader{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the database connection.
func (r *CatalogReader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// isPermissionDenied reports whether err is an object access denial.
func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if mssqlErr, ok := err.(mssqldb.Error); ok {
		return mssqlErr.Number == mssqlPermissionDenied
	}
	return strings.Contains(strings.ToLower(err.Error()), "permission was denied")
}

// ListDatabases returns databases visible to the login.
func (r *CatalogReader) ListDatabases(ctx context.Context) ([]string, error) {
	const query = `
	SELECT name
	FROM sys.databases
	WHERE state = 0  -- ONLINE only
	  AND HAS_DBACCESS(name) = 1
	ORDER BY CASE WHEN name = DB_NAME() THEN 0 ELSE 1 END, name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query databases: %w", err)
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database: %w", err)
		}
		databases = append(databases, name)
	}
	return databases, rows.Err()
}

// ListTables returns all user tables with comments and row counts.
func (r *CatalogReader) ListTables(ctx context.Context, database string) ([]datasource.TableMeta, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    ISNULL(CAST(ep.value AS nvarchar(4000)), '') AS comment,
	    ISNULL(SUM(p.rows), 0) AS row_count
	FROM sys.tables t
	LEFT JOIN sys.partitions p ON t.object_id = p.object_id AND p.index_id IN (0, 1)
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	WHERE t.is_ms_shipped = 0
	GROUP BY t.schema_id, t.name, CAST(ep.value AS nvarchar(4000))
	ORDER BY table_schema, table_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMeta
	for rows.Next() {
		var t datasource.TableMeta
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.Comment, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// GetColumns returns column metadata for a table in ordinal order.
func (r *CatalogReader) GetColumns(ctx context.Context, database, schemaName, tableName string) ([]datasource.ColumnMeta, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    ty.name AS data_type,
	    c.is_nullable,
	    ISNULL(ix.is_primary_key, 0) AS is_primary_key,
	    c.column_id AS ordinal_position,
	    ISNULL(CAST(ep.value AS nvarchar(4000)), '') AS comment,
	    dc.definition AS column_default
	FROM sys.columns c
	JOIN sys.tables t ON t.object_id = c.object_id
	JOIN sys.types ty ON ty.user_type_id = c.user_type_id
	LEFT JOIN sys.default_constraints dc ON dc.object_id = c.default_object_id
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id, CAST(1 AS bit) AS is_primary_key
	    FROM sys.index_columns ic
	    JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
	    WHERE i.is_primary_key = 1
	) ix ON ix.object_id = c.object_id AND ix.column_id = c.column_id
	WHERE SCHEMA_NAME(t.schema_id) = @p1 AND t.name = @p2
	ORDER BY c.column_id
	`

	rows, err := r.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMeta
	for rows.Next() {
		var c datasource.ColumnMeta
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition, &c.Comment, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// GetIndexes returns index metadata for a table.
func (r *CatalogReader) GetIndexes(ctx context.Context, database, schemaName, tableName string) ([]datasource.IndexMeta, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    i.name AS index_name,
	    c.name AS column_name,
	    i.is_unique
	FROM sys.indexes i
	JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
	JOIN sys.tables t ON t.object_id = i.object_id
	WHERE SCHEMA_NAME(t.schema_id) = @p1 AND t.name = @p2
	  AND i.name IS NOT NULL
	ORDER BY i.name, ic.key_ordinal
	`

	rows, err := r.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	// Group the per-column rows into one IndexMeta per index, keeping
	// key-ordinal order within each index.
	var indexes []datasource.IndexMeta
	byName := make(map[string]int)
	for rows.Next() {
		var indexName, columnName string
		var isUnique bool
		if err := rows.Scan(&indexName, &columnName, &isUnique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if pos, ok := byName[indexName]; ok {
			indexes[pos].Columns = append(indexes[pos].Columns, columnName)
			continue
		}
		byName[indexName] = len(indexes)
		indexes = append(indexes, datasource.IndexMeta{
			IndexName: indexName,
			Columns:   []string{columnName},
			IsUnique:  isUnique,
		})
	}
	return indexes, rows.Err()
}

// GetForeignKeys returns outgoing foreign keys for a table.
func (r *CatalogReader) GetForeignKeys(ctx context.Context, database, schemaName, tableName string) ([]datasource.ForeignKeyMeta, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    fk.name AS constraint_name,
	    pc.name AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    rt.name AS target_table,
	    rc.name AS target_column
	FROM sys.foreign_keys fk
	JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
	JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
	JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
	JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
	JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
	WHERE SCHEMA_NAME(pt.schema_id) = @p1 AND pt.name = @p2
	ORDER BY fk.name
	`

	rows, err := r.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMeta
	for rows.Next() {
		var fk datasource.ForeignKeyMeta
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceColumn, &fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// SampleColumnValues returns up to limit distinct non-null values as strings.
func (r *CatalogReader) SampleColumnValues(ctx context.Context, database, schemaName, tableName, columnName string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT TOP (%d) CAST(%s AS nvarchar(400)) AS v FROM %s WHERE %s IS NOT NULL ORDER BY v",
		limit, quoteIdentifier(columnName), qualifiedTableName(schemaName, tableName), quoteIdentifier(columnName),
	)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sample values for %s.%s.%s: %w", schemaName, tableName, columnName, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// quoteIdentifier brackets a SQL Server identifier, escaping closing brackets.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// qualifiedTableName returns a bracketed [schema].[table] reference.
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return quoteIdentifier(tableName)
	}
	return quoteIdentifier(schemaName) + "." + quoteIdentifier(tableName)
}

var _ datasource.CatalogReader = (*CatalogReader)(nil)
