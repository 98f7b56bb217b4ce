package noderules

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/noderules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

type nodeHandler struct {
	service NodeRulesService
}

func newNodeHandler(service NodeRulesService) *nodeHandler {
	return &nodeHandler{
		service: service,
	}
}

type nodeIdentityRequest struct {
	PubkeyHigh string `json:"pubkeyHigh"`
	PubkeyLow  string `json:"pubkeyLow"`
}

type addNodeRequest struct {
	PubkeyHigh       string `json:"pubkeyHigh"`
	PubkeyLow        string `json:"pubkeyLow"`
	NodeType         string `json:"nodeType"`
	OrganizationName string `json:"organizationName"`
}

// isAllowed handles GET /admission/nodes/allowed — the predicate endpoint the
// network layer polls per inbound connection attempt. Host and port are
// accepted but ignored.
func (h *nodeHandler) isAllowed(c *gin.Context) {
	high := c.Query("pubkeyHigh")
	low := c.Query("pubkeyLow")
	if utils.ValidateHash("pubkeyHigh", high) != nil || utils.ValidateHash("pubkeyLow", low) != nil {
		// The predicate never fails: malformed identities are simply not allowed.
		c.JSON(http.StatusOK, gin.H{"allowed": false})
		return
	}
	port, _ := strconv.Atoi(c.Query("port"))
	allowed := h.service.IsAllowed(common.HexToHash(high), common.HexToHash(low), c.Query("host"), port)
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// addNode handles POST /admission/nodes
func (h *nodeHandler) addNode(c *gin.Context) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req addNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if err := utils.ValidateHash("pubkeyHigh", req.PubkeyHigh); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}
	if err := utils.ValidateHash("pubkeyLow", req.PubkeyLow); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}
	nodeType, err := model.ParseNodeType(req.NodeType)
	if err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error()))
		return
	}

	high := common.HexToHash(req.PubkeyHigh)
	low := common.HexToHash(req.PubkeyLow)
	if serviceErr := h.service.Add(actor, high, low, nodeType, req.OrganizationName); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"nodeId": model.DeriveNodeID(high, low).Hex()})
}

// removeNode handles POST /admission/nodes/remove
func (h *nodeHandler) removeNode(c *gin.Context) {
	h.mutateNode(c, h.service.Remove)
}

// deactivateNode handles POST /admission/nodes/deactivate
func (h *nodeHandler) deactivateNode(c *gin.Context) {
	h.mutateNode(c, h.service.Deactivate)
}

// reactivateNode handles POST /admission/nodes/reactivate
func (h *nodeHandler) reactivateNode(c *gin.Context) {
	h.mutateNode(c, h.service.Reactivate)
}

func (h *nodeHandler) mutateNode(c *gin.Context, op func(common.Address, common.Hash, common.Hash) *serviceerror.ServiceError) {
	actor, serviceErr := utils.ActorFromHeader(c)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	var req nodeIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, "Invalid request body"))
		return
	}
	if utils.ValidateHash("pubkeyHigh", req.PubkeyHigh) != nil || utils.ValidateHash("pubkeyLow", req.PubkeyLow) != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "node identity halves must be 32-byte hex values"))
		return
	}

	if serviceErr := op(actor, common.HexToHash(req.PubkeyHigh), common.HexToHash(req.PubkeyLow)); serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// getNode handles GET /admission/nodes/lookup
func (h *nodeHandler) getNode(c *gin.Context) {
	high := c.Query("pubkeyHigh")
	low := c.Query("pubkeyLow")
	if utils.ValidateHash("pubkeyHigh", high) != nil || utils.ValidateHash("pubkeyLow", low) != nil {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.ValidationError, "node identity halves must be 32-byte hex values"))
		return
	}

	node, serviceErr := h.service.Get(common.HexToHash(high), common.HexToHash(low))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	c.JSON(http.StatusOK, node.ToAPIView())
}

// listNodes handles GET /admission/nodes
func (h *nodeHandler) listNodes(c *gin.Context) {
	nodes := h.service.List()
	views := make([]model.APIView, 0, len(nodes))
	for i := range nodes {
		views = append(views, nodes[i].ToAPIView())
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes":                views,
		"count":                len(views),
		"activeCount":          h.service.ActiveCount(),
		"validatorCount":       h.service.ValidatorCount(),
		"activeValidatorCount": h.service.ActiveValidatorCount(),
	})
}

// listValidators handles GET /admission/nodes/validators — returns the raw
// validator index, which may include deactivated entries.
func (h *nodeHandler) listValidators(c *gin.Context) {
	ids := h.service.ValidatorNodeIDs()
	hexIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		hexIDs = append(hexIDs, id.Hex())
	}
	c.JSON(http.StatusOK, gin.H{
		"validatorNodeIds":     hexIDs,
		"validatorCount":       len(hexIDs),
		"activeValidatorCount": h.service.ActiveValidatorCount(),
	})
}
