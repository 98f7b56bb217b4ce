package ledger

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type ledgerHandler struct {
	service LedgerService
}

func newLedgerHandler(service LedgerService) *ledgerHandler {
	return &ledgerHandler{
		service: service,
	}
}

type mintRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// getBalance handles GET /ledger/balances/:address
func (h *ledgerHandler) getBalance(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "address is not a valid address"))
		return
	}

	balance, serviceErr := h.service.BalanceOf(common.HexToAddress(address))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": common.HexToAddress(address).Hex(),
		"balance": balance,
	})
}

// mint handles POST /ledger/mint
func (h *ledgerHandler) mint(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if !common.IsHexAddress(req.Account) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "account is not a valid address"))
		return
	}

	if serviceErr := h.service.Mint(actor, common.HexToAddress(req.Account), req.Amount); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.Status(http.StatusNoContent)
}
