package directory

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type directoryHandler struct {
	patients    PatientService
	researchers ResearcherService
}

func newDirectoryHandler(patients PatientService, researchers ResearcherService) *directoryHandler {
	return &directoryHandler{
		patients:    patients,
		researchers: researchers,
	}
}

type registerPatientRequest struct {
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	Wallet    string `json:"wallet"`
}

type registerResearcherRequest struct {
	ResearcherID string `json:"researcherId"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Wallet       string `json:"wallet"`
}

type verifyResearcherRequest struct {
	AccessTier int64 `json:"accessTier"`
}

type categoryRequest struct {
	DataCategory string `json:"dataCategory"`
}

// registerPatient handles POST /directory/patients
func (h *directoryHandler) registerPatient(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req registerPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateHash("patientId", req.PatientID); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}
	if err := utils.ValidateAddress("wallet", req.Wallet); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	serviceErr = h.patients.Register(actor, common.HexToHash(req.PatientID), req.Name, common.HexToAddress(req.Wallet))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusCreated)
}

// verifyPatient handles POST /directory/patients/:patientId/verify
func (h *directoryHandler) verifyPatient(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	patientID, serviceErr := hashFromPath(c, "patientId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	if serviceErr := h.patients.Verify(actor, patientID); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// getPatient handles GET /directory/patients/:patientId
func (h *directoryHandler) getPatient(c *gin.Context) {
	patientID, serviceErr := hashFromPath(c, "patientId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	patient, serviceErr := h.patients.Get(patientID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, patient.ToAPIView())
}

// registerResearcher handles POST /directory/researchers
func (h *directoryHandler) registerResearcher(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req registerResearcherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateHash("researcherId", req.ResearcherID); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}
	if err := utils.ValidateAddress("wallet", req.Wallet); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	serviceErr = h.researchers.Register(actor, common.HexToHash(req.ResearcherID),
		req.Name, req.Organization, common.HexToAddress(req.Wallet))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusCreated)
}

// verifyResearcher handles POST /directory/researchers/:researcherId/verify
func (h *directoryHandler) verifyResearcher(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	researcherID, serviceErr := hashFromPath(c, "researcherId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req verifyResearcherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	if serviceErr := h.researchers.Verify(actor, researcherID, req.AccessTier); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// getResearcher handles GET /directory/researchers/:researcherId
func (h *directoryHandler) getResearcher(c *gin.Context) {
	researcherID, serviceErr := hashFromPath(c, "researcherId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	researcher, serviceErr := h.researchers.Get(researcherID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, researcher.ToAPIView())
}

// grantCategory handles POST /directory/researchers/:researcherId/categories
func (h *directoryHandler) grantCategory(c *gin.Context) {
	h.mutateCategory(c, h.researchers.GrantCategory, http.StatusCreated)
}

// revokeCategory handles POST /directory/researchers/:researcherId/categories/revoke
func (h *directoryHandler) revokeCategory(c *gin.Context) {
	h.mutateCategory(c, h.researchers.RevokeCategory, http.StatusNoContent)
}

func (h *directoryHandler) mutateCategory(c *gin.Context, op func(common.Address, common.Hash, common.Hash) *serviceerror.ServiceError, successStatus int) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	researcherID, serviceErr := hashFromPath(c, "researcherId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateHash("dataCategory", req.DataCategory); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	if serviceErr := op(actor, researcherID, common.HexToHash(req.DataCategory)); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(successStatus)
}

// listCategories handles GET /directory/researchers/:researcherId/categories
func (h *directoryHandler) listCategories(c *gin.Context) {
	researcherID, serviceErr := hashFromPath(c, "researcherId")
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	categories, serviceErr := h.researchers.ListCategories(researcherID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	hexCategories := make([]string, 0, len(categories))
	for _, category := range categories {
		hexCategories = append(hexCategories, category.Hex())
	}
	c.JSON(http.StatusOK, gin.H{"categories": hexCategories, "count": len(hexCategories)})
}

func hashFromPath(c *gin.Context, name string) (common.Hash, *serviceerror.ServiceError) {
	raw := c.Param(name)
	if err := utils.ValidateHash(name, raw); err != nil {
		return common.Hash{}, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	return common.HexToHash(raw), nil
}
