// Package repositories provides Postgres-backed persistence for learned
// mappings, so term associations survive process restarts.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/database"
	"github.com/ekaya-inc/schemalens/pkg/mapper"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

type mappingRepository struct {
	db *database.DB
}

// NewMappingRepository creates a Postgres-backed mapper.MappingStore.
func NewMappingRepository(db *database.DB) mapper.MappingStore {
	return &mappingRepository{db: db}
}

var _ mapper.MappingStore = (*mappingRepository)(nil)

func (r *mappingRepository) Get(ctx context.Context, term string) (*models.LearnedMapping, error) {
	query := `
		SELECT term, schema_path, mapping_kind, confidence, fingerprint,
		       validation_rules, use_count, learned_at, last_used_at
		FROM lens_learned_mappings
		WHERE term = $1`

	var (
		m         models.LearnedMapping
		path      string
		rulesJSON []byte
	)
	err := r.db.QueryRow(ctx, query, term).Scan(
		&m.Term,
		&path,
		&m.Mapping.MappingKind,
		&m.Mapping.Confidence,
		&m.Mapping.Fingerprint,
		&rulesJSON,
		&m.UseCount,
		&m.LearnedAt,
		&m.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get learned mapping: %w", err)
	}

	m.Mapping.Term = m.Term
	m.Mapping.SchemaPath = models.SchemaPath(path)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &m.Mapping.ValidationRules); err != nil {
			return nil, fmt.Errorf("failed to decode validation rules: %w", err)
		}
	}
	return &m, nil
}

func (r *mappingRepository) Put(ctx context.Context, m *models.LearnedMapping) error {
	rulesJSON, err := json.Marshal(m.Mapping.ValidationRules)
	if err != nil {
		return fmt.Errorf("failed to encode validation rules: %w", err)
	}
	if m.Mapping.ValidationRules == nil {
		rulesJSON = []byte("[]")
	}

	query := `
		INSERT INTO lens_learned_mappings (
			term, schema_path, mapping_kind, confidence, fingerprint,
			validation_rules, use_count, learned_at, last_used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (term) DO UPDATE SET
			schema_path = EXCLUDED.schema_path,
			mapping_kind = EXCLUDED.mapping_kind,
			confidence = EXCLUDED.confidence,
			fingerprint = EXCLUDED.fingerprint,
			validation_rules = EXCLUDED.validation_rules,
			use_count = lens_learned_mappings.use_count + 1,
			last_used_at = EXCLUDED.last_used_at`

	_, err = r.db.Exec(ctx, query,
		m.Term,
		string(m.Mapping.SchemaPath),
		m.Mapping.MappingKind,
		m.Mapping.Confidence,
		m.Mapping.Fingerprint,
		rulesJSON,
		m.UseCount,
		m.LearnedAt,
		m.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert learned mapping: %w", err)
	}
	return nil
}

func (r *mappingRepository) RecordUse(ctx context.Context, term string) error {
	query := `
		UPDATE lens_learned_mappings
		SET use_count = use_count + 1, last_used_at = $2
		WHERE term = $1`

	tag, err := r.db.Exec(ctx, query, term, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record mapping use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *mappingRepository) Delete(ctx context.Context, term string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM lens_learned_mappings WHERE term = $1`, term)
	if err != nil {
		return fmt.Errorf("failed to delete learned mapping: %w", err)
	}
	return nil
}
