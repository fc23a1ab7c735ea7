// Package gorm opens named GORM connections from the database section of the
// configuration. Dialects register themselves from the mysql, postgres and sqlite
// subpackages.
package gorm

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	"github.com/tigerroll/pagebatch/pkg/batch/core/config"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// DialectorFactory creates a gorm.Dialector from a DatabaseConfig.
type DialectorFactory func(cfg database.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory returns the DialectorFactory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Provider opens and caches one *gorm.DB per configured database name.
type Provider struct {
	cfg *config.Config

	mu          sync.Mutex
	connections map[string]*gorm.DB
	configs     map[string]database.DatabaseConfig
}

// NewProvider creates a Provider over cfg's database section.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{
		cfg:         cfg,
		connections: make(map[string]*gorm.DB),
		configs:     make(map[string]database.DatabaseConfig),
	}
}

// GetConnection returns the connection for name, opening it on first use.
func (p *Provider) GetConnection(name string) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.connections[name]; ok {
		return db, nil
	}
	dbConfig, err := database.Lookup(p.cfg, name)
	if err != nil {
		return nil, err
	}
	db, err := Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("database '%s': %w", name, err)
	}
	p.connections[name] = db
	p.configs[name] = dbConfig
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return db, nil
}

// GetSQLDB returns the *sql.DB behind the connection for name.
func (p *Provider) GetSQLDB(name string) (*sql.DB, error) {
	db, err := p.GetConnection(name)
	if err != nil {
		return nil, err
	}
	return db.DB()
}

// DatabaseType returns the configured type of the connection name ("mysql", ...).
func (p *Provider) DatabaseType(name string) (string, error) {
	if _, err := p.GetConnection(name); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configs[name].Type, nil
}

// CloseAll closes every open connection.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result error
	for name, db := range p.connections {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result
}

// Open opens a GORM connection with the registered dialector and applies pool settings.
func Open(dbConfig database.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(string(config.LogLevelSilent))})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
