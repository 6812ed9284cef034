package mapper

import (
	"context"
	"sync"
	"time"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// MappingStore persists learned term associations. Implementations must be
// safe for concurrent use; the store is one of the two pieces of shared
// mutable state in the system (the schema cache is the other).
type MappingStore interface {
	// Get returns the learned mapping for a normalized term, or
	// apperrors.ErrNotFound.
	Get(ctx context.Context, term string) (*models.LearnedMapping, error)

	// Put inserts or replaces the learned mapping for its term.
	Put(ctx context.Context, m *models.LearnedMapping) error

	// RecordUse bumps the use counter and last-used timestamp for a term.
	RecordUse(ctx context.Context, term string) error

	// Delete removes the learned mapping for a term. Deleting an absent
	// term is not an error.
	Delete(ctx context.Context, term string) error
}

// MemoryStore is the in-process MappingStore used when no persistent store is
// configured. Learning does not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]models.LearnedMapping
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[string]models.LearnedMapping)}
}

func (s *MemoryStore) Get(ctx context.Context, term string) (*models.LearnedMapping, error) {
	s.mu.RLock()
	m, ok := s.mappings[term]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) Put(ctx context.Context, m *models.LearnedMapping) error {
	s.mu.Lock()
	s.mappings[m.Term] = *m
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RecordUse(ctx context.Context, term string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[term]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.UseCount++
	m.LastUsedAt = time.Now().UTC()
	s.mappings[term] = m
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, term string) error {
	s.mu.Lock()
	delete(s.mappings, term)
	s.mu.Unlock()
	return nil
}

var _ MappingStore = (*MemoryStore)(nil)
