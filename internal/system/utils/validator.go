package utils

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateRequired validates a field is not empty.
func ValidateRequired(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > 255 {
		return fmt.Errorf("%s too long (max 255 chars)", fieldName)
	}
	return nil
}

// ValidateAddress validates a hex wallet address.
func ValidateAddress(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%s is not a valid address", fieldName)
	}
	return nil
}

// ValidateHash validates a 32-byte hex identifier (0x-prefixed or bare).
func ValidateHash(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	trimmed := value
	if len(trimmed) >= 2 && (trimmed[:2] == "0x" || trimmed[:2] == "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 2*common.HashLength {
		return fmt.Errorf("%s must be a 32-byte hex value", fieldName)
	}
	for _, r := range trimmed {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return fmt.Errorf("%s must be a 32-byte hex value", fieldName)
		}
	}
	return nil
}
