package serviceerror

type ServiceErrorType string

const (
	ClientErrorType ServiceErrorType = "client_error"
	ServerErrorType ServiceErrorType = "server_error"
)

type ServiceError struct {
	Code             string           `json:"code"`
	Type             ServiceErrorType `json:"type"`
	Error            string           `json:"error"`
	ErrorDescription string           `json:"error_description,omitempty"`
}

var (
	InternalServerError = ServiceError{
		Type:             ServerErrorType,
		Code:             "HSE-5000",
		Error:            "internal_server_error",
		ErrorDescription: "An unexpected error occurred",
	}

	DatabaseError = ServiceError{
		Type:             ServerErrorType,
		Code:             "HSE-5001",
		Error:            "database_error",
		ErrorDescription: "A database error occurred",
	}

	InvalidRequestError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4000",
		Error:            "invalid_request",
		ErrorDescription: "The request is invalid",
	}

	ValidationError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4001",
		Error:            "validation_error",
		ErrorDescription: "Validation failed",
	}

	UnauthorizedError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4003",
		Error:            "unauthorized",
		ErrorDescription: "Caller lacks the required role",
	}

	ResourceNotFoundError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4004",
		Error:            "resource_not_found",
		ErrorDescription: "Resource not found",
	}

	ConflictError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4009",
		Error:            "conflict",
		ErrorDescription: "Request conflicts with current state",
	}

	// InvariantViolationError is the base for policy-protection rejections
	// (last admin, last validator). Kept distinct from ValidationError so
	// operators can tell "policy blocked this" from "bad input".
	InvariantViolationError = ServiceError{
		Type:             ClientErrorType,
		Code:             "HCE-4022",
		Error:            "invariant_protected",
		ErrorDescription: "Operation would violate a protected invariant",
	}
)

func CustomServiceError(baseError ServiceError, description string) *ServiceError {
	return &ServiceError{
		Type:             baseError.Type,
		Code:             baseError.Code,
		Error:            baseError.Error,
		ErrorDescription: description,
	}
}

// Named creates a variant of baseError with a specific error token, keeping
// the base code and type. Domain modules use this for their named rejection
// reasons (duplicate_account, last_validator_protected, ...).
func Named(baseError ServiceError, errorToken, description string) *ServiceError {
	return &ServiceError{
		Type:             baseError.Type,
		Code:             baseError.Code,
		Error:            errorToken,
		ErrorDescription: description,
	}
}
