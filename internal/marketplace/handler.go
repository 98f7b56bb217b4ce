package marketplace

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/marketplace/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type marketplaceHandler struct {
	service MarketplaceService
}

func newMarketplaceHandler(service MarketplaceService) *marketplaceHandler {
	return &marketplaceHandler{
		service: service,
	}
}

type createListingRequest struct {
	ListingID    string `json:"listingId"`
	PatientID    string `json:"patientId"`
	DataCategory string `json:"dataCategory"`
	Price        int64  `json:"price"`
}

type requestAccessRequest struct {
	RequestID    string `json:"requestId"`
	ResearcherID string `json:"researcherId"`
	ListingID    string `json:"listingId"`
	OfferedPrice int64  `json:"offeredPrice"`
}

type approveAccessRequest struct {
	DecryptionKeyRef string `json:"decryptionKeyRef"`
}

type rejectAccessRequest struct {
	Reason string `json:"reason"`
}

// createListing handles POST /marketplace/listings
func (h *marketplaceHandler) createListing(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if utils.ValidateHash("listingId", req.ListingID) != nil ||
		utils.ValidateHash("patientId", req.PatientID) != nil ||
		utils.ValidateHash("dataCategory", req.DataCategory) != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError,
			"listingId, patientId and dataCategory must be 32-byte hex identifiers"))
		return
	}

	serviceErr = h.service.CreateListing(actor,
		common.HexToHash(req.ListingID), common.HexToHash(req.PatientID),
		common.HexToHash(req.DataCategory), req.Price)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusCreated)
}

// requestAccess handles POST /marketplace/requests
func (h *marketplaceHandler) requestAccess(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req requestAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if utils.ValidateHash("requestId", req.RequestID) != nil ||
		utils.ValidateHash("researcherId", req.ResearcherID) != nil ||
		utils.ValidateHash("listingId", req.ListingID) != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError,
			"requestId, researcherId and listingId must be 32-byte hex identifiers"))
		return
	}

	serviceErr = h.service.RequestAccess(actor,
		common.HexToHash(req.RequestID), common.HexToHash(req.ResearcherID),
		common.HexToHash(req.ListingID), req.OfferedPrice)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusCreated)
}

// approveAccess handles POST /marketplace/requests/:requestId/approve
func (h *marketplaceHandler) approveAccess(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	requestID, serviceErr := requestIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req approveAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	if serviceErr := h.service.ApproveAccess(actor, requestID, req.DecryptionKeyRef); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// completeAccess handles POST /marketplace/requests/:requestId/complete
func (h *marketplaceHandler) completeAccess(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	requestID, serviceErr := requestIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	if serviceErr := h.service.CompleteAccess(actor, requestID); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// rejectAccess handles POST /marketplace/requests/:requestId/reject
func (h *marketplaceHandler) rejectAccess(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	requestID, serviceErr := requestIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	var req rejectAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	if serviceErr := h.service.RejectAccess(actor, requestID, req.Reason); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// getListing handles GET /marketplace/listings/:listingId
func (h *marketplaceHandler) getListing(c *gin.Context) {
	raw := c.Param("listingId")
	if err := utils.ValidateHash("listingId", raw); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	listing, serviceErr := h.service.GetListing(common.HexToHash(raw))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, listing.ToAPIView())
}

// listListingsByPatient handles GET /marketplace/listings/patient/:patientId
func (h *marketplaceHandler) listListingsByPatient(c *gin.Context) {
	raw := c.Param("patientId")
	if err := utils.ValidateHash("patientId", raw); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	listings, serviceErr := h.service.ListListingsByPatient(common.HexToHash(raw))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	views := make([]model.ListingAPIView, 0, len(listings))
	for i := range listings {
		views = append(views, listings[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{"listings": views, "count": len(views)})
}

// getRequest handles GET /marketplace/requests/:requestId
func (h *marketplaceHandler) getRequest(c *gin.Context) {
	requestID, serviceErr := requestIDFromPath(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	request, serviceErr := h.service.GetRequest(requestID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, request.ToAPIView())
}

// listRequestsByResearcher handles GET /marketplace/requests/researcher/:researcherId
func (h *marketplaceHandler) listRequestsByResearcher(c *gin.Context) {
	raw := c.Param("researcherId")
	if err := utils.ValidateHash("researcherId", raw); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	requests, serviceErr := h.service.ListRequestsByResearcher(common.HexToHash(raw))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	views := make([]model.RequestAPIView, 0, len(requests))
	for i := range requests {
		views = append(views, requests[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{"requests": views, "count": len(views)})
}

func requestIDFromPath(c *gin.Context) (common.Hash, *serviceerror.ServiceError) {
	raw := c.Param("requestId")
	if err := utils.ValidateHash("requestId", raw); err != nil {
		return common.Hash{}, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	return common.HexToHash(raw), nil
}
