package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CatalogReaderFactory creates catalog readers from the registry.
type CatalogReaderFactory interface {
	// NewCatalogReader creates a catalog reader for the given datasource type.
	NewCatalogReader(ctx context.Context, dsType string, config map[string]any) (CatalogReader, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewCatalogReaderFactory returns a factory backed by the global registry.
func NewCatalogReaderFactory(logger *zap.Logger) CatalogReaderFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewCatalogReader(ctx context.Context, dsType string, config map[string]any) (CatalogReader, error) {
	factory := GetCatalogReaderFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return factory(ctx, config, f.logger)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

var _ CatalogReaderFactory = (*registryFactory)(nil)
