package datasource

import (
	"context"
	"fmt"
	"sync"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Dialect     Dialect `json:"dialect"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description"`
}

// AdapterRegistration contains info plus the factory for creating adapters.
// The factory receives the connection manager so adapters share pools.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, cfg Config, connMgr *ConnectionManager) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Dialect]AdapterRegistration)
)

// Register is called by each adapter's init function. Thread-safe for
// concurrent init calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Dialect] = reg
}

// RegisteredAdapters returns info for all registered adapters.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// Open creates an adapter for the config's dialect via the registry.
func Open(ctx context.Context, cfg Config, connMgr *ConnectionManager) (Adapter, error) {
	registryMu.RLock()
	reg, ok := registry[cfg.Dialect]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter registered for dialect %q", cfg.Dialect)
	}
	return reg.Factory(ctx, cfg, connMgr)
}

// IsRegistered checks if an adapter is available for the dialect.
func IsRegistered(d Dialect) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[d]
	return ok
}
