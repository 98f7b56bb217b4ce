package accountrules

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accountrules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type accountHandler struct {
	service AccountRulesService
}

func newAccountHandler(service AccountRulesService) *accountHandler {
	return &accountHandler{
		service: service,
	}
}

type addAccountRequest struct {
	Address     string `json:"address"`
	AccountType string `json:"accountType"`
}

type addAccountBatchRequest struct {
	Addresses    []string `json:"addresses"`
	AccountTypes []string `json:"accountTypes"`
}

type updateTypeRequest struct {
	AccountType string `json:"accountType"`
}

// isAllowed handles GET /admission/accounts/:address/allowed — the predicate
// endpoint the network layer polls per candidate transaction sender.
func (h *accountHandler) isAllowed(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		// The predicate never fails: malformed identities are simply not allowed.
		c.JSON(http.StatusOK, gin.H{"allowed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": h.service.IsAllowed(common.HexToAddress(address))})
}

// addAccount handles POST /admission/accounts
func (h *accountHandler) addAccount(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	accountType, err := model.ParseAccountType(req.AccountType)
	if err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}
	if !common.IsHexAddress(req.Address) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "address is not a valid address"))
		return
	}

	if serviceErr := h.service.Add(actor, common.HexToAddress(req.Address), accountType); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"address": common.HexToAddress(req.Address).Hex()})
}

// addAccountBatch handles POST /admission/accounts/batch
func (h *accountHandler) addAccountBatch(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req addAccountBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}

	addresses := make([]common.Address, len(req.Addresses))
	for i, raw := range req.Addresses {
		// Malformed entries map to the null address and are skipped by the
		// engine, preserving batch idempotence.
		if common.IsHexAddress(raw) {
			addresses[i] = common.HexToAddress(raw)
		}
	}
	types := make([]model.AccountType, len(req.AccountTypes))
	for i, raw := range req.AccountTypes {
		accountType, err := model.ParseAccountType(raw)
		if err != nil {
			utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
			return
		}
		types[i] = accountType
	}

	if serviceErr := h.service.AddBatch(actor, addresses, types); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// removeAccount handles DELETE /admission/accounts/:address
func (h *accountHandler) removeAccount(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	address := c.Param("address")
	if !common.IsHexAddress(address) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "address is not a valid address"))
		return
	}

	if serviceErr := h.service.Remove(actor, common.HexToAddress(address)); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// updateAccountType handles PUT /admission/accounts/:address/type
func (h *accountHandler) updateAccountType(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	address := c.Param("address")
	if !common.IsHexAddress(address) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "address is not a valid address"))
		return
	}

	var req updateTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	accountType, err := model.ParseAccountType(req.AccountType)
	if err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	if serviceErr := h.service.UpdateType(actor, common.HexToAddress(address), accountType); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// listAccounts handles GET /admission/accounts
func (h *accountHandler) listAccounts(c *gin.Context) {
	accounts := h.service.List()
	views := make([]model.APIView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accounts[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts":   views,
		"count":      len(views),
		"adminCount": h.service.AdminCount(),
	})
}

// getAccount handles GET /admission/accounts/:address
func (h *accountHandler) getAccount(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "address is not a valid address"))
		return
	}

	account, serviceErr := h.service.Get(common.HexToAddress(address))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, account.ToAPIView())
}
