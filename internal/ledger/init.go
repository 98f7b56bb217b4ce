package ledger

import (
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewStore creates the ledger store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newLedgerStore(dbClient)
}

// Initialize registers the ledger routes and returns the service for
// cross-module wiring.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService) LedgerService {
	service := newLedgerService(registry, authz)
	handler := newLedgerHandler(service)

	balances := rg.Group("/ledger")
	{
		balances.GET("/balances/:address", handler.getBalance)
		balances.POST("/mint", handler.mint)
	}

	return service
}
