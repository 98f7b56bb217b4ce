package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus is the lifecycle state of an access request. The reachable
// transitions are Pending→Approved→Completed and Pending→Rejected; Cancelled
// exists in storage for completeness but no operation produces it.
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestApproved
	RequestRejected
	RequestCompleted
	RequestCancelled
)

var requestStatusNames = map[RequestStatus]string{
	RequestPending:   "pending",
	RequestApproved:  "approved",
	RequestRejected:  "rejected",
	RequestCompleted: "completed",
	RequestCancelled: "cancelled",
}

func (s RequestStatus) String() string {
	if name, ok := requestStatusNames[s]; ok {
		return name
	}
	return "pending"
}

// Listing is a patient's offer of a data category at a base price.
type Listing struct {
	ID             common.Hash
	PatientID      common.Hash
	DataCategory   common.Hash
	Price          int64
	Active         bool
	TotalAccesses  int64
	TotalEarnings  int64
	CreatedAt      int64
}

// AccessRequest is a researcher's bid against a listing. DecryptionKeyRef is
// an opaque off-platform reference attached at approval.
type AccessRequest struct {
	ID               common.Hash
	ResearcherID     common.Hash
	ListingID        common.Hash
	OfferedPrice     int64
	Status           RequestStatus
	DecryptionKeyRef string
	RejectReason     string
	CreatedAt        int64
	UpdatedAt        int64
}

// ListingAPIView is the wire representation of a listing.
type ListingAPIView struct {
	ListingID     string `json:"listingId"`
	PatientID     string `json:"patientId"`
	DataCategory  string `json:"dataCategory"`
	Price         int64  `json:"price"`
	Active        bool   `json:"active"`
	TotalAccesses int64  `json:"totalAccesses"`
	TotalEarnings int64  `json:"totalEarnings"`
	CreatedAt     int64  `json:"createdAt"`
}

// ToAPIView converts the listing to its wire representation.
func (l *Listing) ToAPIView() ListingAPIView {
	return ListingAPIView{
		ListingID:     l.ID.Hex(),
		PatientID:     l.PatientID.Hex(),
		DataCategory:  l.DataCategory.Hex(),
		Price:         l.Price,
		Active:        l.Active,
		TotalAccesses: l.TotalAccesses,
		TotalEarnings: l.TotalEarnings,
		CreatedAt:     l.CreatedAt,
	}
}

// RequestAPIView is the wire representation of an access request.
type RequestAPIView struct {
	RequestID        string `json:"requestId"`
	ResearcherID     string `json:"researcherId"`
	ListingID        string `json:"listingId"`
	OfferedPrice     int64  `json:"offeredPrice"`
	Status           string `json:"status"`
	DecryptionKeyRef string `json:"decryptionKeyRef,omitempty"`
	RejectReason     string `json:"rejectReason,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// ToAPIView converts the request to its wire representation.
func (r *AccessRequest) ToAPIView() RequestAPIView {
	return RequestAPIView{
		RequestID:        r.ID.Hex(),
		ResearcherID:     r.ResearcherID.Hex(),
		ListingID:        r.ListingID.Hex(),
		OfferedPrice:     r.OfferedPrice,
		Status:           r.Status.String(),
		DecryptionKeyRef: r.DecryptionKeyRef,
		RejectReason:     r.RejectReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
