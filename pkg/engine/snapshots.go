package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/discovery"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// SnapshotManager wraps discovery with the Normal/Degraded fallback chain:
// live discovery, then the last cached snapshot served stale, then the
// configured fallback schema. It is the SnapshotSource for the mapper and
// query builder, so term resolution keeps working while the datasource is
// down.
type SnapshotManager struct {
	discovery *discovery.Service
	cache     *cache.Cache
	runtime   *config.Runtime
	logger    *zap.Logger

	mu       sync.RWMutex
	degraded bool
	fallback *models.SchemaSnapshot
}

// NewSnapshotManager creates a snapshot manager in the Normal state.
func NewSnapshotManager(disc *discovery.Service, c *cache.Cache, runtime *config.Runtime, logger *zap.Logger) *SnapshotManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotManager{
		discovery: disc,
		cache:     c,
		runtime:   runtime,
		logger:    logger,
	}
}

// LoadFallbackSchema loads a minimal built-in schema from a YAML file. It is
// served only when discovery fails and no cached snapshot exists.
func (sm *SnapshotManager) LoadFallbackSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fallback schema: %w", err)
	}

	var snap models.SchemaSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse fallback schema: %w", err)
	}
	if snap.Fingerprint == "" {
		snap.Fingerprint = snap.ComputeFingerprint()
	}

	sm.mu.Lock()
	sm.fallback = &snap
	sm.mu.Unlock()

	sm.logger.Info("Loaded fallback schema",
		zap.String("path", path),
		zap.String("database", snap.DatabaseName),
		zap.Int("tables", len(snap.Tables)))
	return nil
}

// GetSnapshot returns the current snapshot and whether it is stale.
//
// A successful discovery transitions back to Normal and returns stale=false.
// On failure the last cached snapshot is served with stale=true and the state
// becomes Degraded; with no cached snapshot the fallback schema is served,
// also stale; with neither, ErrNoSchemaAvailable.
func (sm *SnapshotManager) GetSnapshot(ctx context.Context, forceRefresh bool) (*models.SchemaSnapshot, bool, error) {
	snap, err := sm.discovery.Discover(ctx, forceRefresh)
	if err == nil {
		sm.setDegraded(false)
		return snap, false, nil
	}

	sm.logger.Warn("Discovery failed, attempting fallback", zap.Error(err))

	if v, age, ok := sm.cache.GetStale(discovery.SnapshotCacheKey); ok {
		sm.setDegraded(true)
		cached := v.(*models.SchemaSnapshot)
		if ceiling := sm.runtime.Snapshot().StaleCeiling; age > ceiling {
			sm.logger.Warn("Serving snapshot past stale ceiling",
				zap.Duration("age", age),
				zap.Duration("ceiling", ceiling))
		}
		return cached, true, nil
	}

	sm.mu.RLock()
	fallback := sm.fallback
	sm.mu.RUnlock()
	if fallback != nil {
		sm.setDegraded(true)
		sm.logger.Warn("Serving fallback schema", zap.String("database", fallback.DatabaseName))
		return fallback, true, nil
	}

	sm.setDegraded(true)
	return nil, false, fmt.Errorf("%w: discovery failed and no cached or fallback schema exists: %s",
		apperrors.ErrNoSchemaAvailable, err)
}

// Snapshot returns the current snapshot through the fallback chain, dropping
// the staleness flag. Satisfies the mapper's and builder's SnapshotSource.
func (sm *SnapshotManager) Snapshot(ctx context.Context) (*models.SchemaSnapshot, error) {
	snap, _, err := sm.GetSnapshot(ctx, false)
	return snap, err
}

// State reports the current fallback state.
func (sm *SnapshotManager) State() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.degraded {
		return StateDegraded
	}
	return StateNormal
}

func (sm *SnapshotManager) setDegraded(degraded bool) {
	sm.mu.Lock()
	changed := sm.degraded != degraded
	sm.degraded = degraded
	sm.mu.Unlock()

	if changed {
		if degraded {
			sm.logger.Warn("Entering degraded state: serving stale or fallback schema")
		} else {
			sm.logger.Info("Recovered to normal state: discovery healthy")
		}
	}
}
