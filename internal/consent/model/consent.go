package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ConsentStatus is the lifecycle state of a consent record.
type ConsentStatus int

const (
	StatusNotSet ConsentStatus = iota
	StatusGranted
	StatusRevoked
	StatusExpired
)

var consentStatusNames = map[ConsentStatus]string{
	StatusNotSet:  "not_set",
	StatusGranted: "granted",
	StatusRevoked: "revoked",
	StatusExpired: "expired",
}

func (s ConsentStatus) String() string {
	if name, ok := consentStatusNames[s]; ok {
		return name
	}
	return "not_set"
}

// ConsentKey is the composite identity of a consent record. All three parts
// are opaque 32-byte identifiers.
type ConsentKey struct {
	PatientID    common.Hash
	ResearcherID common.Hash
	DataCategory common.Hash
}

func (k ConsentKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.PatientID.Hex(), k.ResearcherID.Hex(), k.DataCategory.Hex())
}

// Consent is one record of the consent ledger. A new grant overwrites the
// record at its key unconditionally, resetting counters and expiry.
// Granted→Expired is computed lazily: the stored status only flips to Expired
// when an access is recorded past ExpiresAt, never by a background sweep.
type Consent struct {
	PatientID            common.Hash
	ResearcherID         common.Hash
	DataCategory         common.Hash
	Status               ConsentStatus
	GrantedAt            int64
	ExpiresAt            int64
	RevokedAt            int64
	Purpose              string
	AllowDerivativeWorks bool
	AllowCommercialUse   bool
	RequireNotification  bool
	// MaxAccessCount caps successful accesses; 0 means unlimited.
	MaxAccessCount     int64
	CurrentAccessCount int64
	AgreedPrice        int64
}

// Key returns the record's composite identity.
func (c *Consent) Key() ConsentKey {
	return ConsentKey{
		PatientID:    c.PatientID,
		ResearcherID: c.ResearcherID,
		DataCategory: c.DataCategory,
	}
}

// GrantTerms are the per-grant parameters a caller (or a template) supplies.
type GrantTerms struct {
	Price                int64
	DurationSeconds      int64
	Purpose              string
	AllowDerivativeWorks bool
	AllowCommercialUse   bool
	RequireNotification  bool
	MaxAccessCount       int64
}

// Template is a named preset of grant terms. Price is always caller-supplied;
// everything else comes from the template.
type Template struct {
	Name                 string
	DurationSeconds      int64
	Purpose              string
	AllowDerivativeWorks bool
	AllowCommercialUse   bool
	RequireNotification  bool
	MaxAccessCount       int64
}

// NormalizeTemplateName canonicalizes a template name for lookup.
func NormalizeTemplateName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PatientPreference holds a patient's grant-time overrides. Both fields are
// checked only when a grant is made, never retroactively against existing
// consents.
type PatientPreference struct {
	PatientID    common.Hash
	GlobalOptOut bool
	MinPrice     int64
}

// APIView is the wire representation of a consent record.
type APIView struct {
	PatientID            string `json:"patientId"`
	ResearcherID         string `json:"researcherId"`
	DataCategory         string `json:"dataCategory"`
	Status               string `json:"status"`
	GrantedAt            int64  `json:"grantedAt"`
	ExpiresAt            int64  `json:"expiresAt"`
	RevokedAt            int64  `json:"revokedAt,omitempty"`
	Purpose              string `json:"purpose"`
	AllowDerivativeWorks bool   `json:"allowDerivativeWorks"`
	AllowCommercialUse   bool   `json:"allowCommercialUse"`
	RequireNotification  bool   `json:"requireNotification"`
	MaxAccessCount       int64  `json:"maxAccessCount"`
	CurrentAccessCount   int64  `json:"currentAccessCount"`
	AgreedPrice          int64  `json:"agreedPrice"`
}

// ToAPIView converts the consent to its wire representation.
func (c *Consent) ToAPIView() APIView {
	return APIView{
		PatientID:            c.PatientID.Hex(),
		ResearcherID:         c.ResearcherID.Hex(),
		DataCategory:         c.DataCategory.Hex(),
		Status:               c.Status.String(),
		GrantedAt:            c.GrantedAt,
		ExpiresAt:            c.ExpiresAt,
		RevokedAt:            c.RevokedAt,
		Purpose:              c.Purpose,
		AllowDerivativeWorks: c.AllowDerivativeWorks,
		AllowCommercialUse:   c.AllowCommercialUse,
		RequireNotification:  c.RequireNotification,
		MaxAccessCount:       c.MaxAccessCount,
		CurrentAccessCount:   c.CurrentAccessCount,
		AgreedPrice:          c.AgreedPrice,
	}
}

// TemplateAPIView is the wire representation of a consent template.
type TemplateAPIView struct {
	Name                 string `json:"name"`
	DurationSeconds      int64  `json:"durationSeconds"`
	Purpose              string `json:"purpose"`
	AllowDerivativeWorks bool   `json:"allowDerivativeWorks"`
	AllowCommercialUse   bool   `json:"allowCommercialUse"`
	RequireNotification  bool   `json:"requireNotification"`
	MaxAccessCount       int64  `json:"maxAccessCount"`
}

// ToAPIView converts the template to its wire representation.
func (t *Template) ToAPIView() TemplateAPIView {
	return TemplateAPIView{
		Name:                 t.Name,
		DurationSeconds:      t.DurationSeconds,
		Purpose:              t.Purpose,
		AllowDerivativeWorks: t.AllowDerivativeWorks,
		AllowCommercialUse:   t.AllowCommercialUse,
		RequireNotification:  t.RequireNotification,
		MaxAccessCount:       t.MaxAccessCount,
	}
}
