package noderules

import (
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/config"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewStore creates the node store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newNodeStore(dbClient)
}

// Initialize hydrates the node rules engine from persisted state, registers
// its routes and seeds the bootstrap validator on a fresh deployment.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService, bootstrap *config.BootstrapValidatorEntry) NodeRulesService {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "NodeRules"))

	engine := newNodeRulesEngine(registry, authz)
	if err := engine.loadFromStore(); err != nil {
		logger.Fatal("Failed to load node allowlist", log.Error(err))
	}

	if bootstrap != nil && engine.Count() == 0 {
		high, low, ok := bootstrap.Identity()
		if !ok {
			logger.Fatal("Bootstrap validator identity is malformed")
		}
		if err := engine.bootstrap(high, low, bootstrap.OrganizationName); err != nil {
			logger.Fatal("Failed to seed bootstrap validator", log.Error(err))
		}
	}

	handler := newNodeHandler(engine)

	nodes := rg.Group("/admission/nodes")
	{
		nodes.GET("", handler.listNodes)
		nodes.POST("", handler.addNode)
		nodes.GET("/allowed", handler.isAllowed)
		nodes.GET("/lookup", handler.getNode)
		nodes.GET("/validators", handler.listValidators)
		nodes.POST("/remove", handler.removeNode)
		nodes.POST("/deactivate", handler.deactivateNode)
		nodes.POST("/reactivate", handler.reactivateNode)
	}

	return engine
}
