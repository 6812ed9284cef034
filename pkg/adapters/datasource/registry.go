package datasource

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered catalog adapter type.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "sqlserver"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// AdapterRegistration contains info plus the factory for creating a reader.
type AdapterRegistration struct {
	Info                 AdapterInfo
	CatalogReaderFactory func(ctx context.Context, config map[string]any, logger *zap.Logger) (CatalogReader, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all compiled-in adapters.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// GetCatalogReaderFactory returns the factory for a datasource type.
// Returns nil if the type is not registered (not compiled in).
func GetCatalogReaderFactory(dsType string) func(ctx context.Context, config map[string]any, logger *zap.Logger) (CatalogReader, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.CatalogReaderFactory
	}
	return nil
}
