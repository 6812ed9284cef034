// Package discovery builds normalized schema snapshots from the live catalog.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	"github.com/ekaya-inc/schemalens/pkg/apperrors"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/logging"
	"github.com/ekaya-inc/schemalens/pkg/models"
	"github.com/ekaya-inc/schemalens/pkg/retry"
)

// SnapshotCacheKey is where the current snapshot lives in the schema cache.
const SnapshotCacheKey = "schema:snapshot"

// maxSampledColumns bounds how many columns per table get example values.
const maxSampledColumns = 8

// Service discovers the structural shape of the datasource. It performs only
// read-only metadata queries and never mutates the source.
type Service struct {
	reader       datasource.CatalogReader
	cache        *cache.Cache
	runtime      *config.Runtime
	sampleValues int
	logger       *zap.Logger
}

// NewService creates a discovery service. sampleValues is how many example
// values to collect per column (0 disables sampling).
func NewService(reader datasource.CatalogReader, c *cache.Cache, runtime *config.Runtime, sampleValues int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		reader:       reader,
		cache:        c,
		runtime:      runtime,
		sampleValues: sampleValues,
		logger:       logger,
	}
}

// Discover returns the current schema snapshot. Within the TTL window a
// cached snapshot is returned without touching the datasource; concurrent
// callers on a cold cache share a single discovery pass. forceRefresh always
// performs a fresh pass and replaces the cached snapshot.
func (s *Service) Discover(ctx context.Context, forceRefresh bool) (*models.SchemaSnapshot, error) {
	opts := s.runtime.Snapshot()

	if forceRefresh {
		snap, err := s.discover(ctx, opts.DiscoveryTimeout)
		if err != nil {
			return nil, err
		}
		s.cache.Set(SnapshotCacheKey, snap, opts.TTL)
		return snap, nil
	}

	v, err := s.cache.GetOrLoad(ctx, SnapshotCacheKey, opts.TTL, func(ctx context.Context) (any, error) {
		return s.discover(ctx, opts.DiscoveryTimeout)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SchemaSnapshot), nil
}

// Snapshot returns the current snapshot, discovering if necessary. It
// satisfies the SnapshotSource interfaces of the mapper and query builder.
func (s *Service) Snapshot(ctx context.Context) (*models.SchemaSnapshot, error) {
	return s.Discover(ctx, false)
}

// discover runs one full discovery pass bounded by timeout.
func (s *Service) discover(ctx context.Context, timeout time.Duration) (*models.SchemaSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	databases, err := retry.DoWithResult(ctx, nil, func() ([]string, error) {
		return s.reader.ListDatabases(ctx)
	})
	if err != nil {
		return nil, s.wrapDiscoveryError("list databases", err)
	}
	if len(databases) == 0 {
		return nil, fmt.Errorf("%w: no accessible databases", apperrors.ErrNoSchemaAvailable)
	}
	// The connection is bound to one database; adapters list it first.
	database := databases[0]

	tables, err := retry.DoWithResult(ctx, nil, func() ([]datasource.TableMeta, error) {
		return s.reader.ListTables(ctx, database)
	})
	if err != nil {
		return nil, s.wrapDiscoveryError("list tables", err)
	}

	snap := &models.SchemaSnapshot{
		DatabaseName: database,
		DiscoveredAt: time.Now().UTC(),
	}

	failed := 0
	for _, tm := range tables {
		table, err := s.discoverTable(ctx, database, tm)
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.wrapDiscoveryError("discover table "+tm.TableName, ctx.Err())
			}
			failed++
			s.logger.Warn("Skipping unreadable table",
				zap.String("schema", tm.SchemaName),
				zap.String("table", tm.TableName),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		if table == nil {
			// Permission-excluded object; not an error.
			continue
		}
		snap.Tables = append(snap.Tables, *table)
	}

	if len(snap.Tables) == 0 {
		if failed > 0 {
			return nil, fmt.Errorf("%w: all %d tables unreadable", apperrors.ErrDiscoveryPartialFailure, failed)
		}
		// An empty database is a valid, if useless, snapshot.
	}

	total := len(snap.Tables) + failed
	snap.Confidence = 1.0
	if total > 0 && failed > 0 {
		snap.Confidence = float64(len(snap.Tables)) / float64(total)
	}
	snap.Fingerprint = snap.ComputeFingerprint()

	s.logger.Info("Schema discovery complete",
		zap.String("database", database),
		zap.Int("tables", len(snap.Tables)),
		zap.Int("failed", failed),
		zap.Float64("confidence", snap.Confidence),
		zap.String("fingerprint", snap.Fingerprint),
		zap.Duration("elapsed", time.Since(start)))

	return snap, nil
}

// discoverTable reads columns, indexes, and foreign keys for one table and
// classifies its columns. Returns (nil, nil) when the table is permission-
// excluded.
func (s *Service) discoverTable(ctx context.Context, database string, tm datasource.TableMeta) (*models.TableInfo, error) {
	columns, err := s.reader.GetColumns(ctx, database, tm.SchemaName, tm.TableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	table := &models.TableInfo{
		Name:        tm.TableName,
		SchemaName:  tm.SchemaName,
		DisplayName: displayName(tm.TableName),
		Description: tm.Comment,
		RowCount:    tm.RowCount,
		FreshAt:     time.Now().UTC(),
	}

	for _, cm := range columns {
		semanticType, confidence := classifyColumn(cm.ColumnName, cm.DataType, cm.IsPrimaryKey)
		table.Columns = append(table.Columns, models.ColumnInfo{
			Name:         cm.ColumnName,
			DataType:     cm.DataType,
			IsNullable:   cm.IsNullable,
			IsPrimaryKey: cm.IsPrimaryKey,
			SemanticType: semanticType,
			Comment:      cm.Comment,
			Confidence:   confidence,
		})
	}

	// Indexes and foreign keys are best-effort: a failure degrades hints
	// and joins but does not exclude the table.
	if indexes, err := s.reader.GetIndexes(ctx, database, tm.SchemaName, tm.TableName); err == nil {
		for _, im := range indexes {
			table.Indexes = append(table.Indexes, models.IndexInfo{
				Name:     im.IndexName,
				Columns:  im.Columns,
				IsUnique: im.IsUnique,
			})
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if fks, err := s.reader.GetForeignKeys(ctx, database, tm.SchemaName, tm.TableName); err == nil {
		for _, fk := range fks {
			table.ForeignKeys = append(table.ForeignKeys, models.ForeignKey{
				Column:           fk.SourceColumn,
				ReferencedTable:  fk.TargetTable,
				ReferencedColumn: fk.TargetColumn,
			})
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.sampleColumns(ctx, database, table)
	table.PurposeTags = classifyTable(table)

	return table, nil
}

// sampleColumns attaches bounded example values to dimension columns, which
// the mapper uses for comment-style matching. Sampling is best-effort.
func (s *Service) sampleColumns(ctx context.Context, database string, table *models.TableInfo) {
	if s.sampleValues <= 0 {
		return
	}

	sampled := 0
	for i := range table.Columns {
		if sampled >= maxSampledColumns {
			return
		}
		c := &table.Columns[i]
		if c.SemanticType != models.SemanticTypeDimension {
			continue
		}
		values, err := s.reader.SampleColumnValues(ctx, database, table.SchemaName, table.Name, c.Name, s.sampleValues)
		if err != nil {
			continue
		}
		c.SampleValues = values
		sampled++
	}
}

// wrapDiscoveryError maps context deadline errors onto the discovery timeout
// sentinel and sanitizes anything that might echo credentials.
func (s *Service) wrapDiscoveryError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", apperrors.ErrDiscoveryTimeout, op)
	}
	return fmt.Errorf("%s: %s", op, logging.SanitizeError(err))
}
