// Package engine composes discovery, mapping, query building, and drift
// detection behind the caller-facing surface, and manages the Normal/Degraded
// fallback state machine.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/changedetect"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/mapper"
	"github.com/ekaya-inc/schemalens/pkg/models"
	"github.com/ekaya-inc/schemalens/pkg/querybuilder"
)

// Engine states. Degraded means discovery is failing and snapshots are served
// from cache or the fallback schema.
const (
	StateNormal   = "normal"
	StateDegraded = "degraded"
)

// Engine is the caller-facing facade. All methods are safe for concurrent use.
type Engine struct {
	snapshots *SnapshotManager
	mapper    *mapper.Mapper
	builder   *querybuilder.Builder
	detector  *changedetect.Detector
	cache     *cache.Cache
	runtime   *config.Runtime
	logger    *zap.Logger
}

// New wires an engine from its components. The dependency graph is strictly
// acyclic: discovery and cache are leaves, the snapshot manager wraps
// discovery with the fallback chain, mapper and builder read through it, and
// the detector writes only cache invalidations.
func New(
	snapshots *SnapshotManager,
	m *mapper.Mapper,
	builder *querybuilder.Builder,
	detector *changedetect.Detector,
	c *cache.Cache,
	runtime *config.Runtime,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		snapshots: snapshots,
		mapper:    m,
		builder:   builder,
		detector:  detector,
		cache:     c,
		runtime:   runtime,
		logger:    logger,
	}
}

// ResolveTerm maps a business term to ranked schema candidates.
func (e *Engine) ResolveTerm(ctx context.Context, term, termContext string) ([]models.SemanticMapping, error) {
	return e.mapper.MapTerm(ctx, term, termContext)
}

// LearnFromSuccess records that a mapping was used successfully.
func (e *Engine) LearnFromSuccess(ctx context.Context, term string, mapping models.SemanticMapping) error {
	return e.mapper.LearnFromSuccess(ctx, term, mapping)
}

// BuildQuery produces a validated query plan. When mappings is empty the
// intent's metric is resolved first.
func (e *Engine) BuildQuery(ctx context.Context, intent *models.QueryIntent, mappings []models.SemanticMapping) (*models.QueryPlan, error) {
	if len(mappings) == 0 {
		if intent == nil || intent.Metric == "" {
			return nil, fmt.Errorf("intent must name a metric")
		}
		resolved, err := e.mapper.MapTerm(ctx, intent.Metric, "")
		if err != nil {
			return nil, err
		}
		mappings = resolved
	}
	return e.builder.Build(ctx, intent, mappings)
}

// GetSnapshot returns the current schema snapshot and whether it is stale.
func (e *Engine) GetSnapshot(ctx context.Context, forceRefresh bool) (*models.SchemaSnapshot, bool, error) {
	return e.snapshots.GetSnapshot(ctx, forceRefresh)
}

// Subscribe registers a schema change handler.
func (e *Engine) Subscribe(handler changedetect.ChangeHandler) uuid.UUID {
	return e.detector.Subscribe(handler)
}

// Unsubscribe removes a schema change subscription.
func (e *Engine) Unsubscribe(id uuid.UUID) {
	e.detector.Unsubscribe(id)
}

// ApplyOptions hot-reloads the runtime tunables. Invalid options are rejected
// without touching the current configuration.
func (e *Engine) ApplyOptions(opts config.Options) error {
	if err := e.runtime.Apply(opts); err != nil {
		return err
	}
	e.logger.Info("Applied runtime options",
		zap.Duration("ttl", opts.TTL),
		zap.Float64("similarity_threshold", opts.SimilarityThreshold),
		zap.Int("max_suggestions", opts.MaxSuggestions))
	return nil
}

// Options returns the current runtime tunables.
func (e *Engine) Options() config.Options {
	return e.runtime.Snapshot()
}

// State reports the current fallback state.
func (e *Engine) State() string {
	return e.snapshots.State()
}

// CacheStats exposes cache effectiveness for observability endpoints.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}
