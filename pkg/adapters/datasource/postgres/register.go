package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Catalog discovery for PostgreSQL 12+",
		},
		CatalogReaderFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.CatalogReader, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewCatalogReader(ctx, cfg, logger)
		},
	})
}
