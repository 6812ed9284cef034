package changedetect

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// ChangeHandler receives schema change notifications. Handlers are invoked
// synchronously from the detector's goroutine and must return quickly.
type ChangeHandler interface {
	OnSchemaChanged(records []models.ChangeRecord)
}

// ChangeHandlerFunc adapts a function to the ChangeHandler interface.
type ChangeHandlerFunc func(records []models.ChangeRecord)

func (f ChangeHandlerFunc) OnSchemaChanged(records []models.ChangeRecord) {
	f(records)
}

// DiscoverySource performs a discovery pass. forceRefresh bypasses the cache
// so the detector always compares against the live catalog.
type DiscoverySource interface {
	Discover(ctx context.Context, forceRefresh bool) (*models.SchemaSnapshot, error)
}

// Detector watches for schema drift on a fixed interval or external trigger.
// Disruptive changes invalidate cached term mappings and are broadcast to
// subscribers.
type Detector struct {
	discovery DiscoverySource
	cache     *cache.Cache
	runtime   *config.Runtime
	logger    *zap.Logger

	trigger chan struct{}

	mu          sync.RWMutex
	previous    *models.SchemaSnapshot
	subscribers map[uuid.UUID]ChangeHandler
}

// NewDetector creates a change detector. The detector does not start watching
// until Run is called.
func NewDetector(discovery DiscoverySource, c *cache.Cache, runtime *config.Runtime, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		discovery:   discovery,
		cache:       c,
		runtime:     runtime,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
		subscribers: make(map[uuid.UUID]ChangeHandler),
	}
}

// Subscribe registers a handler for change notifications and returns its
// subscription ID.
func (d *Detector) Subscribe(handler ChangeHandler) uuid.UUID {
	id := uuid.New()
	d.mu.Lock()
	d.subscribers[id] = handler
	d.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (d *Detector) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}

// Trigger requests an immediate check, e.g. on a notification from the data
// source. Non-blocking; coalesces with a pending trigger.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run watches for schema drift until ctx is cancelled. The check interval is
// half the cache TTL, re-read each cycle so config reloads take effect.
func (d *Detector) Run(ctx context.Context) {
	for {
		interval := d.runtime.Snapshot().TTL / 2
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.trigger:
			timer.Stop()
		case <-timer.C:
		}

		if err := d.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("Schema drift check failed", zap.Error(err))
		}
	}
}

// Check performs one drift check: fresh discovery, diff against the previous
// snapshot, invalidation and broadcast when anything changed. The first check
// only establishes the baseline.
func (d *Detector) Check(ctx context.Context) error {
	snap, err := d.discovery.Discover(ctx, true)
	if err != nil {
		return err
	}

	d.mu.Lock()
	previous := d.previous
	d.previous = snap
	d.mu.Unlock()

	if previous == nil {
		d.logger.Debug("Drift baseline established", zap.String("fingerprint", snap.Fingerprint))
		return nil
	}

	records := DetectChanges(previous, snap)
	if len(records) == 0 {
		return nil
	}

	disruptive := 0
	for i := range records {
		if records[i].IsDisruptive() {
			disruptive++
		}
	}

	d.logger.Info("Schema drift detected",
		zap.Int("changes", len(records)),
		zap.Int("disruptive", disruptive),
		zap.String("old_fingerprint", previous.Fingerprint),
		zap.String("new_fingerprint", snap.Fingerprint))

	if disruptive > 0 {
		removed, err := d.cache.Invalidate("mapping:*")
		if err != nil {
			d.logger.Warn("Failed to invalidate term mappings", zap.Error(err))
		} else if removed > 0 {
			d.logger.Info("Invalidated cached term mappings", zap.Int("removed", removed))
		}
	}

	d.broadcast(records)
	return nil
}

func (d *Detector) broadcast(records []models.ChangeRecord) {
	d.mu.RLock()
	handlers := make([]ChangeHandler, 0, len(d.subscribers))
	for _, h := range d.subscribers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h.OnSchemaChanged(records)
	}
}
