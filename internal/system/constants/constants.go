package constants

const (
	AuthorizationHeaderName = "Authorization"
	ContentTypeHeaderName   = "Content-Type"
	CorrelationIDHeaderName = "X-Correlation-ID"
	ActorAddressHeaderName  = "X-Actor-Address"
	ContentTypeJSON         = "application/json"

	APIBasePath = "/api/v1"

	DefaultPageSize = 30
	MaxPageSize     = 100

	// Basis-point scale used for fee arithmetic. 10000 bps = 100%.
	BasisPointsDenominator = 10000
	// MaxPlatformFeeBps caps the configurable platform fee at 15%.
	MaxPlatformFeeBps = 1500
)
