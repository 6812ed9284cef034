// Package mapper resolves business terms to concrete schema objects with
// ranked, confidence-scored candidates.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/models"
)

// AmbiguityWindow is the score gap under which two candidates are considered
// indistinguishable. When the top candidates fall within the window, none is
// auto-selected; the caller must disambiguate.
const AmbiguityWindow = 0.05

// termCacheKeyPrefix namespaces per-term lookups in the schema cache, so the
// change detector can invalidate them with a single glob.
const termCacheKeyPrefix = "mapping:"

// SnapshotSource supplies the current schema snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.SchemaSnapshot, error)
}

// Mapper maps business terms onto tables and columns of the live schema.
type Mapper struct {
	snapshots SnapshotSource
	store     MappingStore
	cache     *cache.Cache
	runtime   *config.Runtime
	logger    *zap.Logger
}

// New creates a mapper. The store holds learned mappings and may be the
// in-memory implementation; the cache holds per-term resolution results.
func New(snapshots SnapshotSource, store MappingStore, c *cache.Cache, runtime *config.Runtime, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		snapshots: snapshots,
		store:     store,
		cache:     c,
		runtime:   runtime,
		logger:    logger,
	}
}

// MapTerm resolves a business term to ranked mapping candidates. The optional
// context string biases scoring toward tables it mentions. Candidates are
// sorted descending by confidence; none falls below the similarity threshold.
// Returns apperrors.ErrNoMappingFound when nothing qualifies.
func (m *Mapper) MapTerm(ctx context.Context, term, termContext string) ([]models.SemanticMapping, error) {
	opts := m.runtime.Snapshot()
	norm := NormalizeTerm(term)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty term", apperrors.ErrNoMappingFound)
	}

	snap, err := m.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", term, err)
	}

	// Learned mappings win outright while the schema shape they were
	// learned against still holds.
	if learned, err := m.store.Get(ctx, norm); err == nil {
		if learned.Mapping.Fingerprint == snap.Fingerprint {
			if err := m.store.RecordUse(ctx, norm); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				m.logger.Warn("Failed to record mapping use", zap.String("term", norm), zap.Error(err))
			}
			return []models.SemanticMapping{learned.Mapping}, nil
		}
		// The schema drifted since this was learned; drop it lazily.
		if err := m.store.Delete(ctx, norm); err != nil {
			m.logger.Warn("Failed to purge stale learned mapping", zap.String("term", norm), zap.Error(err))
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		m.logger.Warn("Learned-mapping store unavailable, falling back to similarity scoring",
			zap.String("term", norm), zap.Error(err))
	}

	key := termCacheKey(norm, termContext)
	v, err := m.cache.GetOrLoad(ctx, key, opts.TTL, func(ctx context.Context) (any, error) {
		candidates := m.score(snap, norm, NormalizeTerm(termContext), opts.SimilarityThreshold)
		if len(candidates) > opts.MaxSuggestions {
			candidates = candidates[:opts.MaxSuggestions]
		}
		return candidates, nil
	})
	if err != nil {
		return nil, err
	}

	candidates := v.([]models.SemanticMapping)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrNoMappingFound, term)
	}

	// The primary candidate carries the rest as alternatives; callers that
	// only keep the head still see the ranked options.
	result := make([]models.SemanticMapping, len(candidates))
	copy(result, candidates)
	if len(result) > 1 {
		result[0].Alternatives = append([]models.SemanticMapping(nil), result[1:]...)
	}
	return result, nil
}

// FindSimilar returns all candidates for a term above the given threshold,
// bypassing the learned store and the result cache. Used for disambiguation
// prompts and rename suggestions.
func (m *Mapper) FindSimilar(ctx context.Context, term string, threshold float64) ([]models.SemanticMapping, error) {
	snap, err := m.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.score(snap, NormalizeTerm(term), "", threshold), nil
}

// LearnFromSuccess records that a caller used a mapping successfully. The
// association is checked first on future resolutions and is invalidated
// automatically when the schema fingerprint changes.
func (m *Mapper) LearnFromSuccess(ctx context.Context, term string, mapping models.SemanticMapping) error {
	norm := NormalizeTerm(term)
	if norm == "" {
		return fmt.Errorf("cannot learn empty term")
	}

	now := time.Now().UTC()
	mapping.Term = norm
	mapping.Alternatives = nil
	if err := m.store.Put(ctx, &models.LearnedMapping{
		Term:       norm,
		Mapping:    mapping,
		UseCount:   1,
		LearnedAt:  now,
		LastUsedAt: now,
	}); err != nil {
		return fmt.Errorf("persist learned mapping for %q: %w", norm, err)
	}

	// Drop cached similarity results so the learned mapping takes effect
	// immediately, not after TTL expiry.
	if _, err := m.cache.Invalidate(termCacheKeyPrefix + norm + "*"); err != nil {
		m.logger.Warn("Failed to invalidate term cache", zap.String("term", norm), zap.Error(err))
	}

	m.logger.Info("Learned mapping",
		zap.String("term", norm),
		zap.String("path", string(mapping.SchemaPath)),
		zap.Float64("confidence", mapping.Confidence))
	return nil
}

// score computes every table and column candidate above threshold, sorted
// descending by confidence and deduplicated by schema path.
func (m *Mapper) score(snap *models.SchemaSnapshot, norm, normContext string, threshold float64) []models.SemanticMapping {
	implied := impliedSemanticType(norm)
	best := make(map[models.SchemaPath]models.SemanticMapping)

	consider := func(c models.SemanticMapping) {
		if c.Confidence < threshold {
			return
		}
		if prev, ok := best[c.SchemaPath]; !ok || c.Confidence > prev.Confidence {
			best[c.SchemaPath] = c
		}
	}

	for i := range snap.Tables {
		table := &snap.Tables[i]
		tableNorm := NormalizeTerm(table.Name)

		tableScore := similarity(norm, tableNorm)
		kind := models.MappingKindFuzzy
		if tableScore == 1.0 {
			kind = models.MappingKindExact
		} else if hasSubstring(tableNorm, norm) {
			tableScore = clamp(tableScore + substringBoost)
		}
		if normContext != "" && hasSubstring(tableNorm, normContext) {
			tableScore = clamp(tableScore + contextBoost)
		}

		consider(models.SemanticMapping{
			Term:        norm,
			SchemaPath:  models.NewTablePath(snap.DatabaseName, table.Name),
			MappingKind: kind,
			Confidence:  round3(tableScore),
			Fingerprint: snap.Fingerprint,
		})

		// A strong table match for a metric-flavored term derives a
		// mapping to the table's most plausible measure column.
		if tableScore >= threshold && implied == models.SemanticTypeMetric {
			if col := bestMetricColumn(table); col != nil {
				consider(models.SemanticMapping{
					Term:        norm,
					SchemaPath:  models.NewColumnPath(snap.DatabaseName, table.Name, col.Name),
					MappingKind: models.MappingKindDerived,
					Confidence:  round3(tableScore * 0.95),
					Fingerprint: snap.Fingerprint,
				})
			}
		}

		for j := range table.Columns {
			col := &table.Columns[j]
			colNorm := NormalizeTerm(col.Name)

			score := similarity(norm, colNorm)
			colKind := models.MappingKindFuzzy
			if score == 1.0 {
				colKind = models.MappingKindExact
			} else {
				if hasSubstring(colNorm, norm) {
					score = clamp(score + substringBoost)
				}
				if col.Comment != "" {
					if cs := similarity(norm, NormalizeTerm(col.Comment)) * 0.9; cs > score {
						score = cs
					}
				}
			}
			if implied != "" && implied == col.SemanticType {
				score = clamp(score + semanticTypeBoost)
			}
			if normContext != "" && hasSubstring(tableNorm, normContext) {
				score = clamp(score + contextBoost)
			}

			consider(models.SemanticMapping{
				Term:        norm,
				SchemaPath:  models.NewColumnPath(snap.DatabaseName, table.Name, col.Name),
				MappingKind: colKind,
				Confidence:  round3(score),
				Fingerprint: snap.Fingerprint,
			})
		}
	}

	candidates := make([]models.SemanticMapping, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	models.SortMappings(candidates)
	return candidates
}

// bestMetricColumn picks the most plausible measure column of a table:
// highest classification confidence among metric-typed columns.
func bestMetricColumn(table *models.TableInfo) *models.ColumnInfo {
	var best *models.ColumnInfo
	for i := range table.Columns {
		c := &table.Columns[i]
		if c.SemanticType != models.SemanticTypeMetric {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// Ambiguous reports whether the top candidates score within the ambiguity
// window of each other, meaning no single one may be auto-selected.
func Ambiguous(candidates []models.SemanticMapping) bool {
	return len(candidates) >= 2 && candidates[0].Confidence-candidates[1].Confidence < AmbiguityWindow
}

func termCacheKey(norm, termContext string) string {
	if termContext == "" {
		return termCacheKeyPrefix + norm
	}
	return termCacheKeyPrefix + norm + "?ctx=" + NormalizeTerm(termContext)
}

func clamp(score float64) float64 {
	if score > 0.99 {
		return 0.99
	}
	return score
}

func round3(score float64) float64 {
	return float64(int(score*1000+0.5)) / 1000
}
