package accessledger

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type roleHandler struct {
	service RoleService
}

func newRoleHandler(service RoleService) *roleHandler {
	return &roleHandler{
		service: service,
	}
}

type roleRequest struct {
	Holder string `json:"holder"`
	Role   string `json:"role"`
}

// grantRole handles POST /roles
func (h *roleHandler) grantRole(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateAddress("holder", req.Holder); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	if serviceErr := h.service.GrantRole(actor, common.HexToAddress(req.Holder), req.Role); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"holder": req.Holder, "role": req.Role})
}

// revokeRole handles DELETE /roles
func (h *roleHandler) revokeRole(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateAddress("holder", req.Holder); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	if serviceErr := h.service.RevokeRole(actor, common.HexToAddress(req.Holder), req.Role); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// listRoles handles GET /roles/:holder
func (h *roleHandler) listRoles(c *gin.Context) {
	holder := c.Param("holder")
	if err := utils.ValidateAddress("holder", holder); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	roles, serviceErr := h.service.ListRoles(common.HexToAddress(holder))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{"holder": common.HexToAddress(holder).Hex(), "roles": roles})
}
