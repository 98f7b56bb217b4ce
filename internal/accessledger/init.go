package accessledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// NewStore creates the role store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newRoleStore(dbClient)
}

// Initialize sets up the access ledger module and registers routes.
// If no admin role exists yet and a bootstrap admin is configured, it is
// seeded directly so the first privileged call can pass authorization.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, bootstrapAdmin *common.Address) RoleService {
	service := newRoleService(registry)
	handler := newRoleHandler(service)

	if bootstrapAdmin != nil {
		seedBootstrapAdmin(registry, *bootstrapAdmin)
	}

	rg.POST("/roles", handler.grantRole)
	rg.DELETE("/roles", handler.revokeRole)
	rg.GET("/roles/:holder", handler.listRoles)

	return service
}

func seedBootstrapAdmin(registry *stores.StoreRegistry, admin common.Address) {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "AccessLedger"))
	store := registry.AccessRole.(RoleStore)

	count, err := store.CountRole(RoleAdmin)
	if err != nil {
		logger.Error("Failed to check admin role count during bootstrap", log.Error(err))
		return
	}
	if count > 0 {
		return
	}

	if err := store.GrantRole(admin, RoleAdmin, admin, utils.GetCurrentTimeMillis()); err != nil {
		logger.Error("Failed to seed bootstrap admin", log.Error(err))
		return
	}
	logger.Info("Bootstrap admin seeded", log.String("admin", admin.Hex()))
}
