// Package database provides read-only GORM connections to the named
// monitoring stores (workflow execution store and task instance store).
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a StoreConfig.
type DialectorFactory func(cfg StoreConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given store type.
func RegisterDialector(storeType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[storeType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", storeType)
	}
	dialectorRegistry[storeType] = factory
}

func init() {
	RegisterDialector("mysql", func(cfg StoreConfig) (gorm.Dialector, error) {
		return mysql.Open(cfg.DSN()), nil
	})
	// sqlite is used for local development against an Airflow metadata copy.
	RegisterDialector("sqlite", func(cfg StoreConfig) (gorm.Dialector, error) {
		return sqlite.Open(cfg.DSN()), nil
	})
}

func getDialectorFactory(storeType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[storeType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for store type: %s", storeType)
	}
	return factory, nil
}

// StoreProvider resolves named store connections lazily and caches them.
type StoreProvider struct {
	cfg         *config.Config
	connections map[string]*gorm.DB
	mu          sync.RWMutex
}

// NewStoreProvider creates a StoreProvider over the configured stores.
func NewStoreProvider(cfg *config.Config) *StoreProvider {
	return &StoreProvider{
		cfg:         cfg,
		connections: make(map[string]*gorm.DB),
	}
}

// Get retrieves an existing connection for the named store or opens a new one.
func (p *StoreProvider) Get(name string) (*gorm.DB, error) {
	p.mu.RLock()
	db, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check (DCL)
	if db, ok = p.connections[name]; ok {
		return db, nil
	}

	var storeCfg StoreConfig
	rawConfig, ok := p.cfg.Sentry.StoreConfigs[name]
	if !ok {
		return nil, fmt.Errorf("store configuration '%s' not found in database configs", name)
	}
	if err := mapstructure.Decode(rawConfig, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode store config for '%s': %w", name, err)
	}

	db, err := p.connect(storeCfg)
	if err != nil {
		return nil, err
	}

	p.connections[name] = db
	logger.Infof("Established store connection: %s (%s)", name, storeCfg.Type)
	return db, nil
}

// Ping verifies the named store connection is still usable.
func (p *StoreProvider) Ping(ctx context.Context, name string) error {
	db, err := p.Get(name)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *StoreProvider) connect(storeCfg StoreConfig) (*gorm.DB, error) {
	factory, err := getDialectorFactory(storeCfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", storeCfg.Type, err)
	}

	gormConfig := &gorm.Config{
		Logger: NewGormLogger(string(config.LogLevelSilent)),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if storeCfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(storeCfg.Pool.MaxOpenConns)
	}
	if storeCfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(storeCfg.Pool.MaxIdleConns)
	}
	if storeCfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(storeCfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return db, nil
}

// CloseAll closes every connection managed by this provider.
func (p *StoreProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, db := range p.connections {
		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}
		if err := sqlDB.Close(); err != nil {
			logger.Errorf("Failed to close store connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

// Stores bundles the two monitoring store handles consumed by the tool layer.
type Stores struct {
	// Workflow holds WORKFLOW_RUN_INSTANCE execution records.
	Workflow *gorm.DB
	// Task holds Airflow task_instance records.
	Task *gorm.DB
}

// NewStores resolves the two named stores from the provider.
func NewStores(p *StoreProvider) (*Stores, error) {
	workflow, err := p.Get("workflow")
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow store: %w", err)
	}
	task, err := p.Get("task")
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	return &Stores{Workflow: workflow, Task: task}, nil
}
