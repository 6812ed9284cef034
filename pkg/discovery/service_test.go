package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// ============================================================================
// Mock catalog reader
// ============================================================================

type mockReader struct {
	tables      []datasource.TableMeta
	columns     map[string][]datasource.ColumnMeta
	columnsErr  map[string]error
	indexes     map[string][]datasource.IndexMeta
	foreignKeys map[string][]datasource.ForeignKeyMeta
	samples     map[string][]string

	listCalls int64
	blockList bool
}

func (m *mockReader) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"finance"}, nil
}

func (m *mockReader) ListTables(ctx context.Context, database string) ([]datasource.TableMeta, error) {
	atomic.AddInt64(&m.listCalls, 1)
	if m.blockList {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.tables, nil
}

func (m *mockReader) GetColumns(ctx context.Context, database, schemaName, tableName string) ([]datasource.ColumnMeta, error) {
	if err := m.columnsErr[tableName]; err != nil {
		return nil, err
	}
	return m.columns[tableName], nil
}

func (m *mockReader) GetIndexes(ctx context.Context, database, schemaName, tableName string) ([]datasource.IndexMeta, error) {
	return m.indexes[tableName], nil
}

func (m *mockReader) GetForeignKeys(ctx context.Context, database, schemaName, tableName string) ([]datasource.ForeignKeyMeta, error) {
	return m.foreignKeys[tableName], nil
}

func (m *mockReader) SampleColumnValues(ctx context.Context, database, schemaName, tableName, columnName string, limit int) ([]string, error) {
	return m.samples[tableName+"."+columnName], nil
}

func (m *mockReader) Close() error { return nil }

var _ datasource.CatalogReader = (*mockReader)(nil)

func financeReader() *mockReader {
	return &mockReader{
		tables: []datasource.TableMeta{
			{SchemaName: "public", TableName: "revenue_monthly", RowCount: 1200},
		},
		columns: map[string][]datasource.ColumnMeta{
			"revenue_monthly": {
				{ColumnName: "period_date", DataType: "date", OrdinalPosition: 1},
				{ColumnName: "amount", DataType: "numeric", OrdinalPosition: 2},
				{ColumnName: "region", DataType: "text", OrdinalPosition: 3},
			},
		},
		indexes: map[string][]datasource.IndexMeta{
			"revenue_monthly": {{IndexName: "idx_period", Columns: []string{"period_date"}}},
		},
		samples: map[string][]string{
			"revenue_monthly.region": {"EMEA", "APAC"},
		},
	}
}

func discoveryRuntime(t *testing.T, timeout time.Duration) *config.Runtime {
	t.Helper()
	r, err := config.NewRuntime(config.Options{
		TTL:                 5 * time.Minute,
		SimilarityThreshold: 0.7,
		MaxSuggestions:      3,
		DiscoveryTimeout:    timeout,
		StaleCeiling:        time.Hour,
	})
	require.NoError(t, err)
	return r
}

// ============================================================================
// Discovery
// ============================================================================

func TestDiscover_BuildsClassifiedSnapshot(t *testing.T) {
	s := NewService(financeReader(), cache.New(nil), discoveryRuntime(t, 30*time.Second), 5, nil)

	snap, err := s.Discover(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "finance", snap.DatabaseName)
	assert.Equal(t, 1.0, snap.Confidence)
	assert.NotEmpty(t, snap.Fingerprint)
	require.Len(t, snap.Tables, 1)

	table := snap.Tables[0]
	assert.Equal(t, "revenue monthly", table.DisplayName)
	assert.Equal(t, int64(1200), table.RowCount)
	assert.True(t, table.HasIndexOn("period_date"))

	require.Len(t, table.Columns, 3)
	assert.Equal(t, models.SemanticTypeDate, table.Columns[0].SemanticType)
	assert.Equal(t, models.SemanticTypeMetric, table.Columns[1].SemanticType)
	assert.Equal(t, models.SemanticTypeDimension, table.Columns[2].SemanticType)
	assert.Equal(t, []string{"EMEA", "APAC"}, table.Columns[2].SampleValues)
}

func TestDiscover_IdempotentWithinTTL(t *testing.T) {
	reader := financeReader()
	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	_, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	_, err = s.Discover(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&reader.listCalls),
		"second discovery within TTL must be served from cache")
}

func TestDiscover_ForceRefreshBypassesCache(t *testing.T) {
	reader := financeReader()
	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	_, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	_, err = s.Discover(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&reader.listCalls))
}

func TestDiscover_PartialFailureDegradesConfidence(t *testing.T) {
	reader := financeReader()
	reader.tables = append(reader.tables, datasource.TableMeta{SchemaName: "public", TableName: "broken"})
	reader.columnsErr = map[string]error{"broken": errors.New("permission denied for relation broken")}

	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	snap, err := s.Discover(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, snap.Tables, 1)
	assert.Equal(t, 0.5, snap.Confidence)
}

func TestDiscover_AllTablesUnreadable(t *testing.T) {
	reader := financeReader()
	reader.columnsErr = map[string]error{"revenue_monthly": errors.New("permission denied")}

	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	_, err := s.Discover(context.Background(), false)
	assert.ErrorIs(t, err, apperrors.ErrDiscoveryPartialFailure)
}

func TestDiscover_PermissionExcludedTableSkipped(t *testing.T) {
	reader := financeReader()
	// Adapters report permission-excluded tables as empty column sets.
	reader.tables = append(reader.tables, datasource.TableMeta{SchemaName: "public", TableName: "restricted"})

	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	snap, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, snap.Tables, 1)
	assert.Equal(t, 1.0, snap.Confidence, "permission exclusion is not a failure")
}

func TestDiscover_Timeout(t *testing.T) {
	reader := financeReader()
	reader.blockList = true

	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 50*time.Millisecond), 0, nil)

	_, err := s.Discover(context.Background(), false)
	assert.ErrorIs(t, err, apperrors.ErrDiscoveryTimeout)
}

func TestSnapshot_SameAsDiscover(t *testing.T) {
	reader := financeReader()
	s := NewService(reader, cache.New(nil), discoveryRuntime(t, 30*time.Second), 0, nil)

	a, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	b, err := s.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

// ============================================================================
// Classification
// ============================================================================

func TestClassifyColumn(t *testing.T) {
	tests := []struct {
		name     string
		dataType string
		isPK     bool
		want     string
	}{
		{"id", "bigint", true, models.SemanticTypeIdentifier},
		{"customer_id", "bigint", false, models.SemanticTypeIdentifier},
		{"session_key", "text", false, models.SemanticTypeIdentifier},
		{"created_at", "timestamptz", false, models.SemanticTypeDate},
		{"invoice_date", "varchar", false, models.SemanticTypeDate},
		{"total_amount", "numeric", false, models.SemanticTypeMetric},
		{"quantity", "integer", false, models.SemanticTypeMetric},
		{"region", "text", false, models.SemanticTypeDimension},
		{"is_active", "boolean", false, models.SemanticTypeDimension},
		{"payload", "jsonb", false, models.SemanticTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, confidence := classifyColumn(tt.name, tt.dataType, tt.isPK)
			assert.Equal(t, tt.want, got)
			assert.Greater(t, confidence, 0.0)
			assert.LessOrEqual(t, confidence, 1.0)
		})
	}
}

func TestClassifyTable(t *testing.T) {
	reporting := &models.TableInfo{Name: "revenue_monthly"}
	assert.Contains(t, classifyTable(reporting), models.PurposeReporting)

	transactional := &models.TableInfo{
		Name: "payments",
		Columns: []models.ColumnInfo{
			{Name: "paid_at", SemanticType: models.SemanticTypeDate},
			{Name: "amount", SemanticType: models.SemanticTypeMetric},
		},
	}
	assert.Contains(t, classifyTable(transactional), models.PurposeTransactional)

	junction := &models.TableInfo{
		Name: "account_tags",
		Columns: []models.ColumnInfo{
			{Name: "account_id", SemanticType: models.SemanticTypeIdentifier},
			{Name: "tag_id", SemanticType: models.SemanticTypeIdentifier},
		},
	}
	assert.Contains(t, classifyTable(junction), models.PurposeJunction)

	reference := &models.TableInfo{
		Name:     "currencies",
		RowCount: 40,
		Columns: []models.ColumnInfo{
			{Name: "code", SemanticType: models.SemanticTypeDimension},
		},
	}
	assert.Contains(t, classifyTable(reference), models.PurposeReference)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "revenue monthly", displayName("revenue_monthly"))
	assert.Equal(t, "customer", displayName("customers"))
}
