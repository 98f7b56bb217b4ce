package marketplace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewStore creates the marketplace store (exported for registry wiring).
func NewStore(dbClient provider.DBClientInterface) interface{} {
	return newMarketplaceStore(dbClient)
}

// Initialize registers the marketplace routes with its collaborators injected
// and returns the service.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService,
	patients PatientDirectory, researchers ResearcherDirectory, consents ConsentGate,
	payments PaymentLedger, platformAccount common.Address, platformFeeBps int64) MarketplaceService {
	service := newMarketplaceService(registry, authz, patients, researchers, consents, payments,
		platformAccount, platformFeeBps)
	handler := newMarketplaceHandler(service)

	market := rg.Group("/marketplace")
	{
		market.POST("/listings", handler.createListing)
		market.GET("/listings/:listingId", handler.getListing)
		market.GET("/listings/patient/:patientId", handler.listListingsByPatient)

		market.POST("/requests", handler.requestAccess)
		market.GET("/requests/:requestId", handler.getRequest)
		market.GET("/requests/researcher/:researcherId", handler.listRequestsByResearcher)
		market.POST("/requests/:requestId/approve", handler.approveAccess)
		market.POST("/requests/:requestId/complete", handler.completeAccess)
		market.POST("/requests/:requestId/reject", handler.rejectAccess)
	}

	return service
}
