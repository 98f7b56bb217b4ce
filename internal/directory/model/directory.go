package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Patient is a registered data subject. Verification is a verifier-role
// action; unverified patients cannot list data on the marketplace.
type Patient struct {
	ID            common.Hash
	Name          string
	Wallet        common.Address
	Verified      bool
	DatasetCount  int64
	TotalEarnings int64
	RegisteredAt  int64
}

// Researcher is a registered data consumer. AccessTier is assigned at
// verification time; category access is granted per data category.
type Researcher struct {
	ID            common.Hash
	Name          string
	Organization  string
	Wallet        common.Address
	Verified      bool
	AccessTier    int64
	TotalAccesses int64
	TotalSpent    int64
	RegisteredAt  int64
}

// PatientAPIView is the wire representation of a patient record.
type PatientAPIView struct {
	PatientID     string `json:"patientId"`
	Name          string `json:"name"`
	Wallet        string `json:"wallet"`
	Verified      bool   `json:"verified"`
	DatasetCount  int64  `json:"datasetCount"`
	TotalEarnings int64  `json:"totalEarnings"`
	RegisteredAt  int64  `json:"registeredAt"`
}

// ToAPIView converts the patient to its wire representation.
func (p *Patient) ToAPIView() PatientAPIView {
	return PatientAPIView{
		PatientID:     p.ID.Hex(),
		Name:          p.Name,
		Wallet:        p.Wallet.Hex(),
		Verified:      p.Verified,
		DatasetCount:  p.DatasetCount,
		TotalEarnings: p.TotalEarnings,
		RegisteredAt:  p.RegisteredAt,
	}
}

// ResearcherAPIView is the wire representation of a researcher record.
type ResearcherAPIView struct {
	ResearcherID  string `json:"researcherId"`
	Name          string `json:"name"`
	Organization  string `json:"organization"`
	Wallet        string `json:"wallet"`
	Verified      bool   `json:"verified"`
	AccessTier    int64  `json:"accessTier"`
	TotalAccesses int64  `json:"totalAccesses"`
	TotalSpent    int64  `json:"totalSpent"`
	RegisteredAt  int64  `json:"registeredAt"`
}

// ToAPIView converts the researcher to its wire representation.
func (r *Researcher) ToAPIView() ResearcherAPIView {
	return ResearcherAPIView{
		ResearcherID:  r.ID.Hex(),
		Name:          r.Name,
		Organization:  r.Organization,
		Wallet:        r.Wallet.Hex(),
		Verified:      r.Verified,
		AccessTier:    r.AccessTier,
		TotalAccesses: r.TotalAccesses,
		TotalSpent:    r.TotalSpent,
		RegisteredAt:  r.RegisteredAt,
	}
}
