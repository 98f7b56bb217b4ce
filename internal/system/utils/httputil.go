package utils

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/constants"
	"github.com/medgrid/health-exchange/internal/system/error/apierror"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
)

// SendError writes a ServiceError as an HTTP response with the appropriate status code.
func SendError(c *gin.Context, err *serviceerror.ServiceError) {
	statusCode := http.StatusInternalServerError
	if err.Type == serviceerror.ClientErrorType {
		switch err.Code {
		case serviceerror.ResourceNotFoundError.Code:
			statusCode = http.StatusNotFound
		case serviceerror.ConflictError.Code:
			statusCode = http.StatusConflict
		case serviceerror.UnauthorizedError.Code:
			statusCode = http.StatusForbidden
		case serviceerror.InvariantViolationError.Code:
			statusCode = http.StatusUnprocessableEntity
		default:
			statusCode = http.StatusBadRequest
		}
	}

	c.JSON(statusCode, apierror.NewErrorResponse(err.Error, err.ErrorDescription))
}

// ActorFromHeader extracts and validates the acting identity from the request.
// Authorization is checked before any other validation, so a missing or
// malformed actor is reported as unauthorized rather than invalid input.
func ActorFromHeader(c *gin.Context) (common.Address, *serviceerror.ServiceError) {
	raw := c.GetHeader(constants.ActorAddressHeaderName)
	if raw == "" {
		return common.Address{}, serviceerror.CustomServiceError(
			serviceerror.UnauthorizedError, "actor address header is required")
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, serviceerror.CustomServiceError(
			serviceerror.UnauthorizedError, "actor address is not a valid address")
	}
	return common.HexToAddress(raw), nil
}
