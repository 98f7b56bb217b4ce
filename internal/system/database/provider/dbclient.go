// Package provider provides functionality for managing database clients.
package provider

import (
	"fmt"

	"github.com/medgrid/health-exchange/internal/system/database"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/log"
)

// DBClientInterface defines the interface used by stores for database access.
type DBClientInterface interface {
	// Query executes a read query and returns the rows as generic maps.
	Query(query dbmodel.DBQueryInterface, args ...interface{}) ([]map[string]interface{}, error)
	// Execute runs a mutating statement and returns the affected row count.
	Execute(query dbmodel.DBQueryInterface, args ...interface{}) (int64, error)
	// BeginTx starts a transaction for multi-statement atomic operations.
	BeginTx() (dbmodel.TxInterface, error)
	// DBType returns the configured database dialect.
	DBType() string
}

// dbClient implements DBClientInterface on top of the shared connection.
type dbClient struct {
	db     *database.DB
	dbType string
}

// NewDBClient creates a database client for the given dialect.
func NewDBClient(db *database.DB, dbType string) DBClientInterface {
	return &dbClient{
		db:     db,
		dbType: dbType,
	}
}

func (c *dbClient) Query(query dbmodel.DBQueryInterface, args ...interface{}) ([]map[string]interface{}, error) {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "DBClient"))

	rows, err := c.db.Queryx(query.GetQuery(c.dbType), args...)
	if err != nil {
		logger.Error("Query failed", log.String("query_id", query.GetID()), log.Error(err))
		return nil, fmt.Errorf("query %s failed: %w", query.GetID(), err)
	}
	defer rows.Close()

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("query %s scan failed: %w", query.GetID(), err)
		}
		normalizeRow(row)
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s iteration failed: %w", query.GetID(), err)
	}

	return results, nil
}

func (c *dbClient) Execute(query dbmodel.DBQueryInterface, args ...interface{}) (int64, error) {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "DBClient"))

	result, err := c.db.Exec(query.GetQuery(c.dbType), args...)
	if err != nil {
		logger.Error("Execute failed", log.String("query_id", query.GetID()), log.Error(err))
		return 0, fmt.Errorf("execute %s failed: %w", query.GetID(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("execute %s rows affected: %w", query.GetID(), err)
	}
	return affected, nil
}

func (c *dbClient) BeginTx() (dbmodel.TxInterface, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return dbmodel.NewTx(tx), nil
}

func (c *dbClient) DBType() string {
	return c.dbType
}

// normalizeRow converts driver byte slices to strings so store mappers can
// assert on string values regardless of the driver's scan behavior.
func normalizeRow(row map[string]interface{}) {
	for key, value := range row {
		if b, ok := value.([]byte); ok {
			row[key] = string(b)
		}
	}
}
