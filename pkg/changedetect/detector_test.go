package changedetect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

type scriptedDiscovery struct {
	snapshots []*models.SchemaSnapshot
	err       error
	calls     int
}

func (s *scriptedDiscovery) Discover(ctx context.Context, forceRefresh bool) (*models.SchemaSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	s.calls++
	return s.snapshots[i], nil
}

func detectorRuntime(t *testing.T) *config.Runtime {
	t.Helper()
	r, err := config.NewRuntime(config.Options{
		TTL:                 time.Minute,
		SimilarityThreshold: 0.7,
		MaxSuggestions:      3,
		DiscoveryTimeout:    time.Second,
		StaleCeiling:        time.Hour,
	})
	require.NoError(t, err)
	return r
}

func TestCheck_BaselineThenDisruptiveChange(t *testing.T) {
	old := baseSnapshot()
	renamed := baseSnapshot()
	renamed.Tables[0].Name = "revenue_report"
	recompute(renamed)

	c := cache.New(nil)
	c.Set("mapping:revenue", "cached", time.Minute)
	c.Set("schema:snapshot", old, time.Minute)

	d := NewDetector(&scriptedDiscovery{snapshots: []*models.SchemaSnapshot{old, renamed}}, c, detectorRuntime(t), nil)

	var notified [][]models.ChangeRecord
	id := d.Subscribe(ChangeHandlerFunc(func(records []models.ChangeRecord) {
		notified = append(notified, records)
	}))

	// First check only establishes the baseline.
	require.NoError(t, d.Check(context.Background()))
	assert.Empty(t, notified)
	_, ok := c.Get("mapping:revenue")
	assert.True(t, ok)

	// Second check sees the rename: mappings invalidated, subscriber told.
	require.NoError(t, d.Check(context.Background()))
	require.Len(t, notified, 1)
	assert.Equal(t, models.ChangeKindRenameSuspected, notified[0][0].Kind)

	_, ok = c.Get("mapping:revenue")
	assert.False(t, ok, "disruptive change must invalidate cached term mappings")
	_, ok = c.Get("schema:snapshot")
	assert.True(t, ok, "snapshot entry is not a mapping key")

	d.Unsubscribe(id)
}

func TestCheck_NonDisruptiveChangeKeepsMappings(t *testing.T) {
	old := baseSnapshot()
	grown := baseSnapshot()
	grown.Tables = append(grown.Tables, models.TableInfo{
		Name:    "customers",
		Columns: []models.ColumnInfo{{Name: "id", DataType: "bigint"}},
	})
	recompute(grown)

	c := cache.New(nil)
	c.Set("mapping:revenue", "cached", time.Minute)

	d := NewDetector(&scriptedDiscovery{snapshots: []*models.SchemaSnapshot{old, grown}}, c, detectorRuntime(t), nil)

	var notified int
	d.Subscribe(ChangeHandlerFunc(func(records []models.ChangeRecord) { notified++ }))

	require.NoError(t, d.Check(context.Background()))
	require.NoError(t, d.Check(context.Background()))

	// Additions are broadcast but do not invalidate anything.
	assert.Equal(t, 1, notified)
	_, ok := c.Get("mapping:revenue")
	assert.True(t, ok)
}

func TestCheck_DiscoveryErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	d := NewDetector(&scriptedDiscovery{err: boom}, cache.New(nil), detectorRuntime(t), nil)

	assert.ErrorIs(t, d.Check(context.Background()), boom)
}

func TestUnsubscribe_StopsNotifications(t *testing.T) {
	old := baseSnapshot()
	changed := baseSnapshot()
	changed.Tables[0].Name = "revenue_report"
	recompute(changed)

	d := NewDetector(&scriptedDiscovery{snapshots: []*models.SchemaSnapshot{old, changed}}, cache.New(nil), detectorRuntime(t), nil)

	var notified int
	id := d.Subscribe(ChangeHandlerFunc(func(records []models.ChangeRecord) { notified++ }))
	d.Unsubscribe(id)

	require.NoError(t, d.Check(context.Background()))
	require.NoError(t, d.Check(context.Background()))
	assert.Zero(t, notified)
}

func TestRun_TriggerForcesImmediateCheck(t *testing.T) {
	old := baseSnapshot()
	d := NewDetector(&scriptedDiscovery{snapshots: []*models.SchemaSnapshot{old}}, cache.New(nil), detectorRuntime(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// The interval is TTL/2 (30s); only the trigger can cause a check
	// within the test timeout.
	d.Trigger()
	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.previous != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
