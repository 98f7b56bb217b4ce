package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountType classifies an admitted transaction-sender address.
type AccountType int

const (
	AccountTypeUnknown AccountType = iota
	AccountTypeAdmin
	AccountTypeHospital
	AccountTypeResearchInstitution
	AccountTypeRegulator
	AccountTypePatient
	AccountTypeServiceAccount
)

var accountTypeNames = map[AccountType]string{
	AccountTypeUnknown:             "unknown",
	AccountTypeAdmin:               "admin",
	AccountTypeHospital:            "hospital",
	AccountTypeResearchInstitution: "research_institution",
	AccountTypeRegulator:           "regulator",
	AccountTypePatient:             "patient",
	AccountTypeServiceAccount:      "service_account",
}

func (t AccountType) String() string {
	if name, ok := accountTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether the value is a defined account type.
func (t AccountType) IsValid() bool {
	_, ok := accountTypeNames[t]
	return ok
}

// ParseAccountType parses a type name into its enum value.
func ParseAccountType(name string) (AccountType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range accountTypeNames {
		if n == normalized {
			return t, nil
		}
	}
	return AccountTypeUnknown, fmt.Errorf("unknown account type '%s'", name)
}

// Account is an entry in the transaction-sender allowlist.
type Account struct {
	Address   common.Address `json:"address"`
	Type      AccountType    `json:"-"`
	Allowed   bool           `json:"allowed"`
	UpdatedAt int64          `json:"updatedAt"`
}

// APIView is the wire representation of an account entry.
type APIView struct {
	Address     string `json:"address"`
	AccountType string `json:"accountType"`
	Allowed     bool   `json:"allowed"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// ToAPIView converts the account to its wire representation.
func (a *Account) ToAPIView() APIView {
	return APIView{
		Address:     a.Address.Hex(),
		AccountType: a.Type.String(),
		Allowed:     a.Allowed,
		UpdatedAt:   a.UpdatedAt,
	}
}
