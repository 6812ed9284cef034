package mapper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// ============================================================================
// Mocks and fixtures
// ============================================================================

type stubSnapshots struct {
	snap  *models.SchemaSnapshot
	err   error
	calls int64
}

func (s *stubSnapshots) Snapshot(ctx context.Context) (*models.SchemaSnapshot, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func financeSnapshot() *models.SchemaSnapshot {
	snap := &models.SchemaSnapshot{
		DatabaseName: "finance",
		Tables: []models.TableInfo{
			{
				Name:       "revenue_monthly",
				SchemaName: "public",
				Columns: []models.ColumnInfo{
					{Name: "period_date", DataType: "date", SemanticType: models.SemanticTypeDate, Confidence: 0.95},
					{Name: "amount", DataType: "numeric", SemanticType: models.SemanticTypeMetric, Confidence: 0.9},
				},
			},
			{
				Name:       "customers",
				SchemaName: "public",
				Columns: []models.ColumnInfo{
					{Name: "id", DataType: "bigint", SemanticType: models.SemanticTypeIdentifier, IsPrimaryKey: true, Confidence: 0.95},
					{Name: "region", DataType: "text", SemanticType: models.SemanticTypeDimension, Confidence: 0.7},
				},
			},
		},
		DiscoveredAt: time.Now(),
	}
	snap.Fingerprint = snap.ComputeFingerprint()
	return snap
}

func testRuntime(t *testing.T) *config.Runtime {
	t.Helper()
	r, err := config.NewRuntime(config.Options{
		TTL:                 5 * time.Minute,
		SimilarityThreshold: 0.7,
		MaxSuggestions:      3,
		DiscoveryTimeout:    30 * time.Second,
		StaleCeiling:        time.Hour,
	})
	require.NoError(t, err)
	return r
}

func newTestMapper(t *testing.T, snap *models.SchemaSnapshot) (*Mapper, *stubSnapshots, *MemoryStore) {
	t.Helper()
	src := &stubSnapshots{snap: snap}
	store := NewMemoryStore()
	m := New(src, store, cache.New(nil), testRuntime(t), nil)
	return m, src, store
}

// ============================================================================
// Resolution
// ============================================================================

func TestMapTerm_MetricResolvesToColumn(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	mappings, err := m.MapTerm(context.Background(), "revenue", "")
	require.NoError(t, err)
	require.NotEmpty(t, mappings)

	// The metric term must reach the measure column with usable confidence,
	// either as the primary mapping or as an alternative.
	var found *models.SemanticMapping
	for i := range mappings {
		if mappings[i].SchemaPath == "finance.revenue_monthly.amount" {
			found = &mappings[i]
		}
	}
	require.NotNil(t, found, "expected a mapping to revenue_monthly.amount, got %v", mappings)
	assert.GreaterOrEqual(t, found.Confidence, 0.7)
	assert.Equal(t, models.MappingKindDerived, found.MappingKind)
}

func TestMapTerm_ExactTableMatch(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	mappings, err := m.MapTerm(context.Background(), "Customers", "")
	require.NoError(t, err)
	require.NotEmpty(t, mappings)

	assert.Equal(t, models.SchemaPath("finance.customers"), mappings[0].SchemaPath)
	assert.Equal(t, models.MappingKindExact, mappings[0].MappingKind)
	assert.Equal(t, 1.0, mappings[0].Confidence)
}

func TestMapTerm_OrderedAndAboveThreshold(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	mappings, err := m.MapTerm(context.Background(), "revenue", "")
	require.NoError(t, err)

	for i := range mappings {
		assert.GreaterOrEqual(t, mappings[i].Confidence, 0.7)
		if i > 0 {
			assert.LessOrEqual(t, mappings[i].Confidence, mappings[i-1].Confidence)
		}
	}
	assert.LessOrEqual(t, len(mappings), 3)
}

func TestMapTerm_NoMatch(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	_, err := m.MapTerm(context.Background(), "quarterly payroll forecast", "")
	assert.ErrorIs(t, err, apperrors.ErrNoMappingFound)
}

func TestMapTerm_EmptyTerm(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	_, err := m.MapTerm(context.Background(), "   ", "")
	assert.ErrorIs(t, err, apperrors.ErrNoMappingFound)
}

func TestMapTerm_AmbiguousYearTables(t *testing.T) {
	snap := &models.SchemaSnapshot{
		DatabaseName: "finance",
		Tables: []models.TableInfo{
			{Name: "cash_flow_2023", Columns: []models.ColumnInfo{
				{Name: "flow_date", DataType: "date", SemanticType: models.SemanticTypeDate},
				{Name: "net_amount", DataType: "numeric", SemanticType: models.SemanticTypeMetric},
			}},
			{Name: "cash_flow_2024", Columns: []models.ColumnInfo{
				{Name: "flow_date", DataType: "date", SemanticType: models.SemanticTypeDate},
				{Name: "net_amount", DataType: "numeric", SemanticType: models.SemanticTypeMetric},
			}},
		},
	}
	snap.Fingerprint = snap.ComputeFingerprint()
	m, _, _ := newTestMapper(t, snap)

	mappings, err := m.MapTerm(context.Background(), "cash flow", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(mappings), 2)

	// Both year tables score identically; neither may be auto-selected.
	assert.True(t, Ambiguous(mappings))
	tables := map[string]bool{}
	for _, c := range mappings {
		tables[c.SchemaPath.Table()] = true
	}
	assert.True(t, tables["cash_flow_2023"])
	assert.True(t, tables["cash_flow_2024"])
}

func TestMapTerm_AlternativesOnPrimary(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	mappings, err := m.MapTerm(context.Background(), "revenue", "")
	require.NoError(t, err)
	require.Greater(t, len(mappings), 1)

	assert.Equal(t, len(mappings)-1, len(mappings[0].Alternatives))
}

// ============================================================================
// Learned mappings
// ============================================================================

func TestMapTerm_LearnedMappingShortCircuits(t *testing.T) {
	snap := financeSnapshot()
	m, _, store := newTestMapper(t, snap)
	ctx := context.Background()

	learned := models.SemanticMapping{
		Term:        "revenue",
		SchemaPath:  "finance.revenue_monthly.amount",
		MappingKind: models.MappingKindDerived,
		Confidence:  0.94,
		Fingerprint: snap.Fingerprint,
	}
	require.NoError(t, m.LearnFromSuccess(ctx, "Revenues", learned))

	mappings, err := m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, learned.SchemaPath, mappings[0].SchemaPath)

	// Use counting proves the learned path was taken: LearnFromSuccess
	// stores count 1, the resolution bumps it.
	rec, err := store.Get(ctx, "revenue")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.UseCount)
}

func TestMapTerm_LearnedMappingInvalidatedOnDrift(t *testing.T) {
	snap := financeSnapshot()
	m, _, store := newTestMapper(t, snap)
	ctx := context.Background()

	stale := models.SemanticMapping{
		Term:        "revenue",
		SchemaPath:  "finance.old_revenue.amount",
		MappingKind: models.MappingKindExact,
		Confidence:  1.0,
		Fingerprint: "deadbeef", // does not match the live snapshot
	}
	require.NoError(t, store.Put(ctx, &models.LearnedMapping{Term: "revenue", Mapping: stale}))

	mappings, err := m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)
	assert.NotEqual(t, stale.SchemaPath, mappings[0].SchemaPath)

	// The stale association must be purged, not just skipped.
	_, err = store.Get(ctx, "revenue")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLearnFromSuccess_TakesEffectImmediately(t *testing.T) {
	snap := financeSnapshot()
	m, _, _ := newTestMapper(t, snap)
	ctx := context.Background()

	// Prime the similarity cache.
	first, err := m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	learned := models.SemanticMapping{
		SchemaPath:  "finance.revenue_monthly.amount",
		MappingKind: models.MappingKindDerived,
		Confidence:  0.94,
		Fingerprint: snap.Fingerprint,
	}
	require.NoError(t, m.LearnFromSuccess(ctx, "revenue", learned))

	mappings, err := m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, learned.SchemaPath, mappings[0].SchemaPath)
}

// ============================================================================
// FindSimilar and normalization
// ============================================================================

func TestFindSimilar_CustomThreshold(t *testing.T) {
	m, _, _ := newTestMapper(t, financeSnapshot())

	strict, err := m.FindSimilar(context.Background(), "revenue", 0.95)
	require.NoError(t, err)
	loose, err := m.FindSimilar(context.Background(), "revenue", 0.3)
	require.NoError(t, err)

	assert.Greater(t, len(loose), len(strict))
	for _, c := range strict {
		assert.GreaterOrEqual(t, c.Confidence, 0.95)
	}
}

func TestNormalizeTerm(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Revenues", "revenue"},
		{"cash_flow", "cash flow"},
		{" Cash-Flow ", "cash flow"},
		{"CUSTOMERS", "customer"},
		{"monthly_revenues", "monthly revenue"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTerm(tt.in), "NormalizeTerm(%q)", tt.in)
	}
}

func TestImpliedSemanticType(t *testing.T) {
	assert.Equal(t, models.SemanticTypeDate, impliedSemanticType("invoice date"))
	assert.Equal(t, models.SemanticTypeIdentifier, impliedSemanticType("customer id"))
	assert.Equal(t, models.SemanticTypeMetric, impliedSemanticType("revenue"))
	assert.Equal(t, models.SemanticTypeMetric, impliedSemanticType("net profit margin"))
	assert.Empty(t, impliedSemanticType("region"))
	assert.Empty(t, impliedSemanticType(""))
}

func TestMapTerm_ResultsCachedWithinTTL(t *testing.T) {
	snap := financeSnapshot()
	src := &stubSnapshots{snap: snap}
	c := cache.New(nil)
	m := New(src, NewMemoryStore(), c, testRuntime(t), nil)
	ctx := context.Background()

	_, err := m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)
	refreshesAfterFirst := c.Stats().Refreshes

	_, err = m.MapTerm(ctx, "revenue", "")
	require.NoError(t, err)

	assert.Equal(t, refreshesAfterFirst, c.Stats().Refreshes,
		"second resolution within TTL must hit the cache")
}
