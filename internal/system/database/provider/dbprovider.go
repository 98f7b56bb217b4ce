package provider

import (
	"fmt"
	"sync"

	"github.com/medgrid/health-exchange/internal/system/database"
	"github.com/medgrid/health-exchange/internal/system/log"
)

// DBProviderInterface defines the interface for getting database clients.
type DBProviderInterface interface {
	GetExchangeDBClient() (DBClientInterface, error)
}

// DBProviderCloser is a separate interface for closing the provider.
// Only the lifecycle manager should use this interface.
type DBProviderCloser interface {
	Close() error
}

// dbProvider is the implementation of DBProviderInterface.
type dbProvider struct {
	exchangeClient DBClientInterface
	exchangeMutex  sync.RWMutex
	db             *database.DB
}

var (
	instance *dbProvider
	once     sync.Once
)

// InitDBProvider initializes the singleton instance of DBProvider with the database connection.
func InitDBProvider(db *database.DB) {
	once.Do(func() {
		instance = &dbProvider{
			db: db,
		}
		instance.initializeClient()
	})
}

// GetDBProvider returns the instance of DBProvider.
func GetDBProvider() DBProviderInterface {
	if instance == nil {
		panic("DBProvider not initialized. Call InitDBProvider first.")
	}
	return instance
}

// GetDBProviderCloser returns the DBProvider with closing capability.
func GetDBProviderCloser() DBProviderCloser {
	if instance == nil {
		panic("DBProvider not initialized. Call InitDBProvider first.")
	}
	return instance
}

// GetExchangeDBClient returns a database client for the exchange datasource.
// The returned client manages its own connection pool and needs no manual close.
func (d *dbProvider) GetExchangeDBClient() (DBClientInterface, error) {
	d.exchangeMutex.RLock()
	defer d.exchangeMutex.RUnlock()

	if d.exchangeClient == nil {
		return nil, fmt.Errorf("exchange DB client not initialized")
	}
	return d.exchangeClient, nil
}

func (d *dbProvider) initializeClient() {
	d.exchangeMutex.Lock()
	defer d.exchangeMutex.Unlock()

	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "DBProvider"))

	if d.db == nil {
		logger.Fatal("Database connection is nil")
		return
	}

	d.exchangeClient = NewDBClient(d.db, "mysql")
	logger.Debug("Exchange DB client initialized")
}

// Close closes the database connections. Called by the lifecycle manager during shutdown.
func (d *dbProvider) Close() error {
	d.exchangeMutex.Lock()
	defer d.exchangeMutex.Unlock()

	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "DBProvider"))
	logger.Debug("Closing database connections")

	d.exchangeClient = nil
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
