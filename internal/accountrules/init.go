package accountrules

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewStore creates the account store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newAccountStore(dbClient)
}

// Initialize hydrates the account rules engine from persisted state,
// registers its routes and seeds the bootstrap admin on a fresh deployment.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService, bootstrapAdmin *common.Address) AccountRulesService {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "AccountRules"))

	engine := newAccountRulesEngine(registry, authz)
	if err := engine.loadFromStore(); err != nil {
		logger.Fatal("Failed to load account allowlist", log.Error(err))
	}

	if bootstrapAdmin != nil && engine.Count() == 0 {
		if err := engine.bootstrap(*bootstrapAdmin); err != nil {
			logger.Fatal("Failed to seed bootstrap admin account", log.Error(err))
		}
	}

	handler := newAccountHandler(engine)

	accounts := rg.Group("/admission/accounts")
	{
		accounts.GET("", handler.listAccounts)
		accounts.POST("", handler.addAccount)
		accounts.POST("/batch", handler.addAccountBatch)
		accounts.GET("/:address", handler.getAccount)
		accounts.GET("/:address/allowed", handler.isAllowed)
		accounts.PUT("/:address/type", handler.updateAccountType)
		accounts.DELETE("/:address", handler.removeAccount)
	}

	return engine
}
