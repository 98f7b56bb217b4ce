package consent

import (
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewStore creates the consent store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newConsentStore(dbClient)
}

// Initialize registers the consent ledger routes and returns the service for
// cross-module wiring.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService) ConsentService {
	service := newConsentService(registry, authz)
	handler := newConsentHandler(service)

	consents := rg.Group("/consents")
	{
		consents.POST("", handler.grantConsent)
		consents.POST("/from-template", handler.grantFromTemplate)
		consents.POST("/revoke", handler.revokeConsent)
		consents.POST("/record-access", handler.recordAccess)
		consents.GET("/valid", handler.checkConsent)
		consents.GET("/lookup", handler.getConsent)
		consents.GET("/patient/:patientId", handler.listByPatient)
		consents.GET("/researcher/:researcherId", handler.listByResearcher)
		consents.GET("/preferences/:patientId", handler.getPreference)
		consents.PUT("/preferences/:patientId/opt-out", handler.setOptOut)
		consents.PUT("/preferences/:patientId/min-price", handler.setMinPrice)
	}

	templates := rg.Group("/consent-templates")
	{
		templates.GET("", handler.listTemplates)
		templates.POST("", handler.registerTemplate)
	}

	return service
}
