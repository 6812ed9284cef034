package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	"github.com/ekaya-inc/schemalens/pkg/logging"
)

// pgInsufficientPrivilege is the SQLSTATE for permission-denied errors.
const pgInsufficientPrivilege = "42501"

// CatalogReader provides read-only PostgreSQL catalog access.
type CatalogReader struct {
	pool   *pgxpool.Pool
	cfg    *Config
	logger *zap.Logger
}

// NewCatalogReader connects to PostgreSQL and returns a catalog reader.
// If logger is nil, a no-op logger is used.
func NewCatalogReader(ctx context.Context, cfg *Config, logger *zap.Logger) (*CatalogReader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connStr := buildConnectionString(cfg)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %s", logging.SanitizeError(err))
	}

	return &CatalogReader{pool: pool, cfg: cfg, logger: logger}, nil
}

// Close releases the connection pool.
func (r *CatalogReader) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// isPermissionDenied reports whether err is a catalog permission error.
// Objects the connection cannot read are silently excluded from discovery.
func isPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege
}

// qualifiedTableName returns a properly quoted "schema"."table" reference.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// ListDatabases returns databases the connection may access. PostgreSQL
// connections are bound to one database, so discovery uses the configured
// database; the rest are reported for completeness.
func (r *CatalogReader) ListDatabases(ctx context.Context) ([]string, error) {
	const query = `
		SELECT datname
		FROM pg_database
		WHERE datistemplate = false
		  AND has_database_privilege(datname, 'CONNECT')
		ORDER BY (datname = current_database()) DESC, datname
	`

	rows, err := r.pool.Query(ctx, query)
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

// ListTables returns all user tables with comments and estimated row counts.
func (r *CatalogReader) ListTables(ctx context.Context, database string) ([]datasource.TableMeta, error) {
	const query = `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(obj_description(c.oid, 'pg_class'), '') AS comment,
			COALESCE(c.reltuples::bigint, 0) AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := r.pool.Query(ctx, query)
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

// GetColumns returns column metadata for a table in ordinal order, including
// column comments and primary key detection via pg_index (which correctly
// identifies PKs created as unique indexes by ORMs).
func (r *CatalogReader) GetColumns(ctx context.Context, database, schemaName, tableName string) ([]datasource.ColumnMeta, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			c.ordinal_position,
			COALESCE(col_description(cls.oid, c.ordinal_position), '') AS comment,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN pg_namespace ns ON ns.nspname = c.table_schema
		LEFT JOIN pg_class cls ON cls.relname = c.table_name AND cls.relnamespace = ns.oid
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := r.pool.Query(ctx, query, schemaName, tableName)
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
		SELECT
			i.relname AS index_name,
			array_agg(a.attname ORDER BY k.ord) AS columns,
			ix.indisunique AS is_unique
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname
	`

	rows, err := r.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		if isPermissionDenied(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []datasource.IndexMeta
	for rows.Next() {
		var idx datasource.IndexMeta
		if err := rows.Scan(&idx.IndexName, &idx.Columns, &idx.IsUnique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// GetForeignKeys returns outgoing foreign keys for a table.
func (r *CatalogReader) GetForeignKeys(ctx context.Context, database, schemaName, tableName string) ([]datasource.ForeignKeyMeta, error) {
	const query = `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_schema AS target_schema,
			ccu.table_name AS target_table,
			ccu.column_name AS target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY tc.constraint_name
	`

	rows, err := r.pool.Query(ctx, query, schemaName, tableName)
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

	quotedColumn := pgx.Identifier{columnName}.Sanitize()
	query := fmt.Sprintf(
		"SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT $1",
		quotedColumn, qualifiedTableName(schemaName, tableName), quotedColumn,
	)

	rows, err := r.pool.Query(ctx, query, limit)
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

var _ datasource.CatalogReader = (*CatalogReader)(nil)
