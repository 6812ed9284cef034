package changedetect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/schemalens/pkg/models"
)

func baseSnapshot() *models.SchemaSnapshot {
	snap := &models.SchemaSnapshot{
		DatabaseName: "finance",
		Tables: []models.TableInfo{
			{
				Name: "revenue_monthly",
				Columns: []models.ColumnInfo{
					{Name: "period_date", DataType: "date"},
					{Name: "amount", DataType: "numeric"},
				},
			},
		},
		DiscoveredAt: time.Now(),
	}
	snap.Fingerprint = snap.ComputeFingerprint()
	return snap
}

func recompute(s *models.SchemaSnapshot) *models.SchemaSnapshot {
	s.Fingerprint = s.ComputeFingerprint()
	return s
}

func findRecord(records []models.ChangeRecord, kind string) *models.ChangeRecord {
	for i := range records {
		if records[i].Kind == kind {
			return &records[i]
		}
	}
	return nil
}

func TestDetectChanges_FingerprintFastPath(t *testing.T) {
	a := baseSnapshot()
	b := baseSnapshot()
	// Same structure, different discovery time: fast path, no records.
	b.DiscoveredAt = b.DiscoveredAt.Add(time.Hour)

	assert.Nil(t, DetectChanges(a, b))
}

func TestDetectChanges_TableAddedIsLow(t *testing.T) {
	old := baseSnapshot()
	new := baseSnapshot()
	new.Tables = append(new.Tables, models.TableInfo{
		Name:    "customers",
		Columns: []models.ColumnInfo{{Name: "id", DataType: "bigint"}},
	})
	recompute(new)

	records := DetectChanges(old, new)
	require.Len(t, records, 1)
	assert.Equal(t, models.ChangeKindTableAdded, records[0].Kind)
	assert.Equal(t, models.SeverityLow, records[0].Severity)
	assert.False(t, records[0].IsDisruptive())
}

func TestDetectChanges_TableRemovedIsBreaking(t *testing.T) {
	old := baseSnapshot()
	new := recompute(&models.SchemaSnapshot{DatabaseName: "finance"})

	records := DetectChanges(old, new)
	require.Len(t, records, 1)
	assert.Equal(t, models.ChangeKindTableRemoved, records[0].Kind)
	assert.Equal(t, models.SeverityBreaking, records[0].Severity)
	assert.True(t, records[0].IsDisruptive())
}

func TestDetectChanges_TableRenameSuspected(t *testing.T) {
	old := baseSnapshot()
	new := baseSnapshot()
	// Identical columns under a new name: rename, not remove+add.
	new.Tables[0].Name = "revenue_report"
	recompute(new)

	records := DetectChanges(old, new)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, models.ChangeKindRenameSuspected, r.Kind)
	assert.Equal(t, models.SeverityMedium, r.Severity)
	assert.Equal(t, "revenue_monthly", r.OldValue)
	assert.Equal(t, "revenue_report", r.NewValue)
	assert.Contains(t, r.Suggestion, "revenue_report")
	assert.True(t, r.IsDisruptive())
}

func TestDetectChanges_ColumnAddedAndRemoved(t *testing.T) {
	old := baseSnapshot()
	new := baseSnapshot()
	new.Tables[0].Columns = []models.ColumnInfo{
		{Name: "period_date", DataType: "date"},
		{Name: "region", DataType: "text"}, // added; amount removed
	}
	recompute(new)

	records := DetectChanges(old, new)
	require.Len(t, records, 2)

	added := findRecord(records, models.ChangeKindColumnAdded)
	require.NotNil(t, added)
	assert.Equal(t, models.SeverityLow, added.Severity)
	assert.Equal(t, models.SchemaPath("finance.revenue_monthly.region"), added.Path)

	removed := findRecord(records, models.ChangeKindColumnRemoved)
	require.NotNil(t, removed)
	assert.Equal(t, models.SeverityBreaking, removed.Severity)
	assert.Equal(t, models.SchemaPath("finance.revenue_monthly.amount"), removed.Path)
}

func TestDetectChanges_ColumnRenameSuspected(t *testing.T) {
	old := baseSnapshot()
	new := baseSnapshot()
	// Same type, similar name: the heuristic flags a rename suggestion.
	new.Tables[0].Columns[1].Name = "amount_usd"
	recompute(new)

	records := DetectChanges(old, new)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, models.ChangeKindRenameSuspected, r.Kind)
	assert.Equal(t, models.SeverityMedium, r.Severity)
	assert.Equal(t, "amount", r.OldValue)
	assert.Equal(t, "amount_usd", r.NewValue)
}

func TestDetectChanges_NoRenameAcrossTypes(t *testing.T) {
	old := baseSnapshot()
	new := baseSnapshot()
	// Similar name but a different type is a remove plus an add.
	new.Tables[0].Columns[1] = models.ColumnInfo{Name: "amount_usd", DataType: "text"}
	recompute(new)

	records := DetectChanges(old, new)
	assert.Nil(t, findRecord(records, models.ChangeKindRenameSuspected))
	assert.NotNil(t, findRecord(records, models.ChangeKindColumnAdded))
	assert.NotNil(t, findRecord(records, models.ChangeKindColumnRemoved))
}

func TestDetectChanges_TypeChanges(t *testing.T) {
	tests := []struct {
		name     string
		newType  string
		severity string
	}{
		{"widening within family", "decimal", models.SeverityHigh},
		{"cross family", "text", models.SeverityBreaking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseSnapshot()
			new := baseSnapshot()
			new.Tables[0].Columns[1].DataType = tt.newType
			recompute(new)

			records := DetectChanges(old, new)
			require.Len(t, records, 1)
			assert.Equal(t, models.ChangeKindTypeChanged, records[0].Kind)
			assert.Equal(t, tt.severity, records[0].Severity)
			assert.Equal(t, "numeric", records[0].OldValue)
			assert.Equal(t, tt.newType, records[0].NewValue)
		})
	}
}

func TestDetectChanges_LengthQualifierIgnored(t *testing.T) {
	old := baseSnapshot()
	old.Tables[0].Columns[1].DataType = "numeric(10,2)"
	recompute(old)
	new := baseSnapshot()
	new.Tables[0].Columns[1].DataType = "numeric(12,2)"
	recompute(new)

	// Fingerprints differ, but the normalized types match.
	records := DetectChanges(old, new)
	assert.Nil(t, findRecord(records, models.ChangeKindTypeChanged))
}

func TestDetectChanges_NilSnapshots(t *testing.T) {
	assert.Nil(t, DetectChanges(nil, baseSnapshot()))
	assert.Nil(t, DetectChanges(baseSnapshot(), nil))
}
