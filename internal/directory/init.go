package directory

import (
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// NewPatientStore creates the patient store (exported for registry wiring).
func NewPatientStore(dbClient provider.DBClientInterface) interface{} {
	return newPatientStore(dbClient)
}

// NewResearcherStore creates the researcher store (exported for registry wiring).
func NewResearcherStore(dbClient provider.DBClientInterface) interface{} {
	return newResearcherStore(dbClient)
}

// Initialize registers the directory routes and returns both services for
// cross-module wiring.
func Initialize(rg *gin.RouterGroup, registry *stores.StoreRegistry, authz accessledger.RoleService) (PatientService, ResearcherService) {
	patients := newPatientService(registry, authz)
	researchers := newResearcherService(registry, authz)
	handler := newDirectoryHandler(patients, researchers)

	dir := rg.Group("/directory")
	{
		dir.POST("/patients", handler.registerPatient)
		dir.GET("/patients/:patientId", handler.getPatient)
		dir.POST("/patients/:patientId/verify", handler.verifyPatient)

		dir.POST("/researchers", handler.registerResearcher)
		dir.GET("/researchers/:researcherId", handler.getResearcher)
		dir.POST("/researchers/:researcherId/verify", handler.verifyResearcher)
		dir.GET("/researchers/:researcherId/categories", handler.listCategories)
		dir.POST("/researchers/:researcherId/categories", handler.grantCategory)
		dir.POST("/researchers/:researcherId/categories/revoke", handler.revokeCategory)
	}

	return patients, researchers
}
