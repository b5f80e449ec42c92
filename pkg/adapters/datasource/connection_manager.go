package datasource

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes   int
	PoolMaxConns int
	PoolMinConns int
}

// ConnectionManager manages database/sql pools with TTL-based reaping. One
// pool exists per distinct (dialect, host, port, database, user) tuple;
// adapters check out from it on each state-machine entry.
type ConnectionManager struct {
	mu           sync.RWMutex
	pools        map[string]*managedPool // key: Handle.PoolKey()
	ttl          time.Duration
	poolMaxConns int
	poolMinConns int
	stopped      bool
	stopChan     chan struct{}
	logger       *zap.Logger
}

type managedPool struct {
	db       *sql.DB
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager and starts a background
// cleanup goroutine that runs until Close is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	m := &ConnectionManager{
		pools:        make(map[string]*managedPool),
		ttl:          time.Duration(cfg.TTLMinutes) * time.Minute,
		poolMaxConns: cfg.PoolMaxConns,
		poolMinConns: cfg.PoolMinConns,
		stopChan:     make(chan struct{}),
		logger:       logger.Named("conn-manager"),
	}

	go m.cleanupExpired()
	return m
}

// GetOrCreatePool returns the pool for the key, creating it from driverName
// and dsn on first use. Unhealthy pools are recreated.
func (m *ConnectionManager) GetOrCreatePool(ctx context.Context, key, driverName, dsn string) (*sql.DB, error) {
	m.mu.RLock()
	managed, exists := m.pools[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.db.PingContext(healthCtx)
		})
		cancel()

		if err != nil {
			m.logger.Warn("pool unhealthy, recreating",
				zap.String("key", key),
				zap.Error(err))
			managed.mu.Unlock()
			m.removePool(key)
			return m.createPool(ctx, key, driverName, dsn)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.db, nil
	}

	return m.createPool(ctx, key, driverName, dsn)
}

func (m *ConnectionManager) createPool(ctx context.Context, key, driverName, dsn string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if managed, exists := m.pools[key]; exists && managed != nil {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.db, nil
	}

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*sql.DB, error) {
		d, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, err
		}
		d.SetMaxOpenConns(m.poolMaxConns)
		d.SetMaxIdleConns(m.poolMinConns)
		d.SetConnMaxIdleTime(m.ttl)
		if err := d.PingContext(ctx); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	})
	if err != nil {
		m.logger.Error("failed to create pool",
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	m.pools[key] = &managedPool{db: db, lastUsed: time.Now()}
	m.logger.Info("created connection pool", zap.String("key", key))
	return db, nil
}

func (m *ConnectionManager) removePool(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[key]; exists && managed != nil {
		if managed.db != nil {
			managed.db.Close()
		}
		delete(m.pools, key)
		m.logger.Debug("removed pool", zap.String("key", key))
	}
}

// Release closes the pool for a key. Called on disconnect.
func (m *ConnectionManager) Release(key string) {
	m.removePool(key)
}

func (m *ConnectionManager) cleanupExpired() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []string
	for key, managed := range m.pools {
		managed.mu.Lock()
		if now.Sub(managed.lastUsed) > m.ttl {
			expired = append(expired, key)
		}
		managed.mu.Unlock()
	}

	for _, key := range expired {
		if managed := m.pools[key]; managed != nil && managed.db != nil {
			managed.db.Close()
		}
		delete(m.pools, key)
	}

	if len(expired) > 0 {
		m.logger.Info("reaped idle pools",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.pools)))
	}
}

// Stats reports the current pool count. Safe for concurrent use.
func (m *ConnectionManager) Stats() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Close closes all pools and stops the cleanup goroutine. Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.pools {
		if managed != nil && managed.db != nil {
			managed.db.Close()
		}
	}
	m.pools = make(map[string]*managedPool)
	m.logger.Info("connection manager closed")
	return nil
}
