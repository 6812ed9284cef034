package config

import (
	"sync"
	"time"
)

// Options are the hot-reloadable tunables. Components read a snapshot per
// operation through a Runtime, so an update takes effect on the next call
// without restarting in-flight work.
type Options struct {
	TTL                 time.Duration
	SimilarityThreshold float64
	MaxSuggestions      int
	DiscoveryTimeout    time.Duration
	StaleCeiling        time.Duration
}

// Validate checks each option against its allowed range, returning the named
// error for the first violation.
func (o Options) Validate() error {
	if o.TTL <= 0 {
		return ErrInvalidTTL
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		return ErrInvalidThreshold
	}
	if o.MaxSuggestions <= 0 {
		return ErrInvalidSuggestions
	}
	if o.DiscoveryTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if o.StaleCeiling < o.TTL {
		return ErrInvalidStaleCeiling
	}
	return nil
}

// Runtime holds the current Options snapshot behind a mutex so callers can
// hot-reload tunables while other goroutines keep reading.
type Runtime struct {
	mu   sync.RWMutex
	opts Options
}

// NewRuntime creates a Runtime with validated initial options.
func NewRuntime(opts Options) (*Runtime, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{opts: opts}, nil
}

// Snapshot returns the current options by value.
func (r *Runtime) Snapshot() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Apply validates and installs new options atomically. Invalid options leave
// the current snapshot untouched.
func (r *Runtime) Apply(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
	return nil
}
