package consent

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/consent/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type consentHandler struct {
	service ConsentService
}

func newConsentHandler(service ConsentService) *consentHandler {
	return &consentHandler{
		service: service,
	}
}

type consentKeyRequest struct {
	PatientID    string `json:"patientId"`
	ResearcherID string `json:"researcherId"`
	DataCategory string `json:"dataCategory"`
}

type grantConsentRequest struct {
	consentKeyRequest
	Price                int64  `json:"price"`
	DurationSeconds      int64  `json:"durationSeconds"`
	Purpose              string `json:"purpose"`
	AllowDerivativeWorks bool   `json:"allowDerivativeWorks"`
	AllowCommercialUse   bool   `json:"allowCommercialUse"`
	RequireNotification  bool   `json:"requireNotification"`
	MaxAccessCount       int64  `json:"maxAccessCount"`
}

type grantFromTemplateRequest struct {
	consentKeyRequest
	Price        int64  `json:"price"`
	TemplateName string `json:"templateName"`
}

type optOutRequest struct {
	GlobalOptOut bool `json:"globalOptOut"`
}

type minPriceRequest struct {
	MinPrice int64 `json:"minPrice"`
}

type registerTemplateRequest struct {
	Name                 string `json:"name"`
	DurationSeconds      int64  `json:"durationSeconds"`
	Purpose              string `json:"purpose"`
	AllowDerivativeWorks bool   `json:"allowDerivativeWorks"`
	AllowCommercialUse   bool   `json:"allowCommercialUse"`
	RequireNotification  bool   `json:"requireNotification"`
	MaxAccessCount       int64  `json:"maxAccessCount"`
}

func parseConsentKey(req consentKeyRequest) (model.ConsentKey, *serviceerror.ServiceError) {
	if utils.ValidateHash("patientId", req.PatientID) != nil ||
		utils.ValidateHash("researcherId", req.ResearcherID) != nil ||
		utils.ValidateHash("dataCategory", req.DataCategory) != nil {
		return model.ConsentKey{}, serviceerror.CustomServiceError(serviceerror.ValidationError,
			"patientId, researcherId and dataCategory must be 32-byte hex identifiers")
	}
	return model.ConsentKey{
		PatientID:    common.HexToHash(req.PatientID),
		ResearcherID: common.HexToHash(req.ResearcherID),
		DataCategory: common.HexToHash(req.DataCategory),
	}, nil
}

func consentKeyFromQuery(c *gin.Context) (model.ConsentKey, *serviceerror.ServiceError) {
	return parseConsentKey(consentKeyRequest{
		PatientID:    c.Query("patientId"),
		ResearcherID: c.Query("researcherId"),
		DataCategory: c.Query("dataCategory"),
	})
}

// grantConsent handles POST /consents
func (h *consentHandler) grantConsent(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req grantConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	key, serviceErr := parseConsentKey(req.consentKeyRequest)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	terms := model.GrantTerms{
		Price:                req.Price,
		DurationSeconds:      req.DurationSeconds,
		Purpose:              req.Purpose,
		AllowDerivativeWorks: req.AllowDerivativeWorks,
		AllowCommercialUse:   req.AllowCommercialUse,
		RequireNotification:  req.RequireNotification,
		MaxAccessCount:       req.MaxAccessCount,
	}
	if serviceErr := h.service.Grant(actor, key, terms); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusCreated)
}

// grantFromTemplate handles POST /consents/from-template
func (h *consentHandler) grantFromTemplate(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req grantFromTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	key, serviceErr := parseConsentKey(req.consentKeyRequest)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	if serviceErr := h.service.GrantFromTemplate(actor, key, req.Price, req.TemplateName); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusCreated)
}

// revokeConsent handles POST /consents/revoke
func (h *consentHandler) revokeConsent(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req consentKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	key, serviceErr := parseConsentKey(req)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	if serviceErr := h.service.Revoke(actor, key); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// recordAccess handles POST /consents/record-access
func (h *consentHandler) recordAccess(c *gin.Context) {
	var req consentKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	key, serviceErr := parseConsentKey(req)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	valid, price, serviceErr := h.service.RecordAccess(key)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid, "price": price})
}

// checkConsent handles GET /consents/valid
func (h *consentHandler) checkConsent(c *gin.Context) {
	key, serviceErr := consentKeyFromQuery(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	valid, serviceErr := h.service.IsValid(key)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// getConsent handles GET /consents/lookup
func (h *consentHandler) getConsent(c *gin.Context) {
	key, serviceErr := consentKeyFromQuery(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	consent, serviceErr := h.service.Get(key)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, consent.ToAPIView())
}

// listByPatient handles GET /consents/patient/:patientId
func (h *consentHandler) listByPatient(c *gin.Context) {
	h.listConsents(c, c.Param("patientId"), h.service.ListByPatient)
}

// listByResearcher handles GET /consents/researcher/:researcherId
func (h *consentHandler) listByResearcher(c *gin.Context) {
	h.listConsents(c, c.Param("researcherId"), h.service.ListByResearcher)
}

func (h *consentHandler) listConsents(c *gin.Context, rawID string, list func(common.Hash) ([]model.Consent, *serviceerror.ServiceError)) {
	if err := utils.ValidateHash("id", rawID); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "id must be a 32-byte hex identifier"))
		return
	}

	consents, serviceErr := list(common.HexToHash(rawID))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	views := make([]model.APIView, 0, len(consents))
	for i := range consents {
		views = append(views, consents[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{"consents": views, "count": len(views)})
}

// setOptOut handles PUT /consents/preferences/:patientId/opt-out
func (h *consentHandler) setOptOut(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	patientID, serviceErr := patientIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req optOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	if serviceErr := h.service.SetGlobalOptOut(actor, patientID, req.GlobalOptOut); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// setMinPrice handles PUT /consents/preferences/:patientId/min-price
func (h *consentHandler) setMinPrice(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	patientID, serviceErr := patientIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req minPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	if serviceErr := h.service.SetMinPrice(actor, patientID, req.MinPrice); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// getPreference handles GET /consents/preferences/:patientId
func (h *consentHandler) getPreference(c *gin.Context) {
	patientID, serviceErr := patientIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	pref, serviceErr := h.service.GetPreference(patientID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patientId":    pref.PatientID.Hex(),
		"globalOptOut": pref.GlobalOptOut,
		"minPrice":     pref.MinPrice,
	})
}

// registerTemplate handles POST /consent-templates
func (h *consentHandler) registerTemplate(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req registerTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	template := model.Template{
		Name:                 req.Name,
		DurationSeconds:      req.DurationSeconds,
		Purpose:              req.Purpose,
		AllowDerivativeWorks: req.AllowDerivativeWorks,
		AllowCommercialUse:   req.AllowCommercialUse,
		RequireNotification:  req.RequireNotification,
		MaxAccessCount:       req.MaxAccessCount,
	}
	if serviceErr := h.service.RegisterTemplate(actor, template); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusCreated)
}

// listTemplates handles GET /consent-templates
func (h *consentHandler) listTemplates(c *gin.Context) {
	templates := h.service.ListTemplates()
	views := make([]model.TemplateAPIView, 0, len(templates))
	for i := range templates {
		views = append(views, templates[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{"templates": views, "count": len(views)})
}

func patientIDFromPath(c *gin.Context) (common.Hash, *serviceerror.ServiceError) {
	raw := c.Param("patientId")
	if err := utils.ValidateHash("patientId", raw); err != nil {
		return common.Hash{}, serviceerror.CustomServiceError(serviceerror.ValidationError,
			"patientId must be a 32-byte hex identifier")
	}
	return common.HexToHash(raw), nil
}
