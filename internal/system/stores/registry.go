package stores

import (
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/log"
)

// StoreRegistry holds references to all stores in the application.
// Each store is held as interface{} to avoid circular dependencies;
// services type-assert to their needed store interfaces.
type StoreRegistry struct {
	dbClient provider.DBClientInterface

	AccessRole  interface{} // accessledger.RoleStore
	Account     interface{} // accountrules.AccountStore
	Node        interface{} // noderules.NodeStore
	Consent     interface{} // consent.ConsentStore
	Marketplace interface{} // marketplace.MarketplaceStore
	Patient     interface{} // directory.PatientStore
	Researcher  interface{} // directory.ResearcherStore
	Ledger      interface{} // ledger.LedgerStore
}

// NewStoreRegistry creates a new store registry backed by the given client.
func NewStoreRegistry(dbClient provider.DBClientInterface) *StoreRegistry {
	return &StoreRegistry{
		dbClient: dbClient,
	}
}

// DBClient exposes the underlying database client for store construction.
func (r *StoreRegistry) DBClient() provider.DBClientInterface {
	return r.dbClient
}

// ExecuteTransaction executes multiple store operations in a single transaction.
// Operations are composed functionally; the first failure rolls everything back.
func (r *StoreRegistry) ExecuteTransaction(queries []func(tx dbmodel.TxInterface) error) error {
	logger := log.GetLogger()
	logger.Debug("Starting transaction", log.Int("query_count", len(queries)))

	tx, err := r.dbClient.BeginTx()
	if err != nil {
		logger.Error("Failed to begin transaction", log.Error(err))
		return err
	}

	for i, query := range queries {
		if err := query(tx); err != nil {
			logger.Warn("Transaction query failed, rolling back",
				log.Error(err),
				log.Int("failed_query_index", i),
			)
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", log.Error(err))
		return err
	}

	logger.Debug("Transaction committed successfully", log.Int("query_count", len(queries)))
	return nil
}
