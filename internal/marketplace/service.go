package marketplace

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/ledger"
	"github.com/medgrid/health-exchange/internal/marketplace/model"
	"github.com/medgrid/health-exchange/internal/system/constants"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// PatientDirectory is the patient-side collaborator the orchestrator consults
// and settles against.
type PatientDirectory interface {
	IsVerified(patientID common.Hash) (bool, error)
	WalletOf(patientID common.Hash) (common.Address, error)
	IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error
	RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error
}

// ResearcherDirectory is the researcher-side collaborator.
type ResearcherDirectory interface {
	IsVerified(researcherID common.Hash) (bool, error)
	HasCategoryAccess(researcherID, category common.Hash) (bool, error)
	WalletOf(researcherID common.Hash) (common.Address, error)
	RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error
}

// ConsentGate is the consent ledger as the orchestrator sees it: a pre-check
// for approval and a tx-composed check-and-increment for completion.
type ConsentGate interface {
	IsConsentValid(patientID, researcherID, category common.Hash) (bool, error)
	RecordAccessTx(tx dbmodel.TxInterface, patientID, researcherID, category common.Hash) (bool, int64, error)
}

// PaymentLedger executes token transfers inside the orchestrator's
// transaction.
type PaymentLedger interface {
	TransferFromTx(tx dbmodel.TxInterface, payer, payee common.Address, amount int64) error
}

// MarketplaceService is the listing → request → approve → complete state
// machine. CompleteAccess is the only multi-party settlement path and is
// all-or-nothing: the consent accounting, both transfers, every counter and
// the status transition commit in a single transaction or not at all.
type MarketplaceService interface {
	CreateListing(actor common.Address, listingID, patientID, category common.Hash, price int64) *serviceerror.ServiceError
	RequestAccess(actor common.Address, requestID, researcherID, listingID common.Hash, offeredPrice int64) *serviceerror.ServiceError
	ApproveAccess(actor common.Address, requestID common.Hash, decryptionKeyRef string) *serviceerror.ServiceError
	CompleteAccess(actor common.Address, requestID common.Hash) *serviceerror.ServiceError
	RejectAccess(actor common.Address, requestID common.Hash, reason string) *serviceerror.ServiceError

	GetListing(listingID common.Hash) (*model.Listing, *serviceerror.ServiceError)
	ListListingsByPatient(patientID common.Hash) ([]model.Listing, *serviceerror.ServiceError)
	GetRequest(requestID common.Hash) (*model.AccessRequest, *serviceerror.ServiceError)
	ListRequestsByResearcher(researcherID common.Hash) ([]model.AccessRequest, *serviceerror.ServiceError)
}

type marketplaceService struct {
	// inFlight guards CompleteAccess per request for the duration of the
	// call, so a reentrant invocation cannot race the settlement.
	inFlightMu sync.Mutex
	inFlight   map[common.Hash]struct{}

	patients    PatientDirectory
	researchers ResearcherDirectory
	consents    ConsentGate
	payments    PaymentLedger

	platformAccount common.Address
	platformFeeBps  int64

	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newMarketplaceService(registry *stores.StoreRegistry, authz accessledger.RoleService,
	patients PatientDirectory, researchers ResearcherDirectory, consents ConsentGate,
	payments PaymentLedger, platformAccount common.Address, platformFeeBps int64) *marketplaceService {
	return &marketplaceService{
		inFlight:        make(map[common.Hash]struct{}),
		patients:        patients,
		researchers:     researchers,
		consents:        consents,
		payments:        payments,
		platformAccount: platformAccount,
		platformFeeBps:  platformFeeBps,
		authz:           authz,
		stores:          registry,
		logger:          log.GetLogger().With(log.String(log.LoggerKeyComponentName, "Marketplace")),
	}
}

func (s *marketplaceService) marketplaceStore() MarketplaceStore {
	return s.stores.Marketplace.(MarketplaceStore)
}

// CreateListing publishes a verified patient's data category at a base price.
// The listing insert and the patient's dataset counter commit together.
func (s *marketplaceService) CreateListing(actor common.Address, listingID, patientID, category common.Hash, price int64) *serviceerror.ServiceError {
	if listingID == (common.Hash{}) || patientID == (common.Hash{}) || category == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			"listing id, patient id and data category must all be non-zero")
	}
	if price <= 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "listing price must be positive")
	}

	verified, err := s.patients.IsVerified(patientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !verified {
		return serviceerror.Named(serviceerror.ConflictError, "patient_not_verified",
			fmt.Sprintf("patient %s is not verified", patientID.Hex()))
	}

	store := s.marketplaceStore()
	existing, err := store.GetListing(listingID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if existing != nil {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_listing",
			fmt.Sprintf("listing %s already exists", listingID.Hex()))
	}

	listing := &model.Listing{
		ID:           listingID,
		PatientID:    patientID,
		DataCategory: category,
		Price:        price,
		Active:       true,
		CreatedAt:    utils.GetCurrentTimeMillis(),
	}
	txErr := s.stores.ExecuteTransaction([]func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			return store.InsertListingTx(tx, listing)
		},
		func(tx dbmodel.TxInterface) error {
			return s.patients.IncrementDatasetsTx(tx, patientID)
		},
	})
	if txErr != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, txErr.Error())
	}

	s.logger.Info("Listing created",
		log.String("listing_id", listingID.Hex()),
		log.String("patient_id", patientID.Hex()),
		log.Int64("price", price),
		log.String("actor", actor.Hex()))
	return nil
}

// RequestAccess records a researcher's bid against an active listing.
func (s *marketplaceService) RequestAccess(actor common.Address, requestID, researcherID, listingID common.Hash, offeredPrice int64) *serviceerror.ServiceError {
	if requestID == (common.Hash{}) || researcherID == (common.Hash{}) || listingID == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			"request id, researcher id and listing id must all be non-zero")
	}

	store := s.marketplaceStore()
	listing, err := store.GetListing(listingID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if listing == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "listing_not_found",
			fmt.Sprintf("no listing at %s", listingID.Hex()))
	}
	if !listing.Active {
		return serviceerror.Named(serviceerror.ConflictError, "listing_inactive",
			fmt.Sprintf("listing %s is not active", listingID.Hex()))
	}

	verified, err := s.researchers.IsVerified(researcherID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !verified {
		return serviceerror.Named(serviceerror.ConflictError, "researcher_not_verified",
			fmt.Sprintf("researcher %s is not verified", researcherID.Hex()))
	}
	hasAccess, err := s.researchers.HasCategoryAccess(researcherID, listing.DataCategory)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !hasAccess {
		return serviceerror.Named(serviceerror.ConflictError, "category_access_denied",
			fmt.Sprintf("researcher %s has no access to category %s", researcherID.Hex(), listing.DataCategory.Hex()))
	}

	if offeredPrice < listing.Price {
		return serviceerror.Named(serviceerror.ValidationError, "price_too_low",
			fmt.Sprintf("offered price %d is below the listing price %d", offeredPrice, listing.Price))
	}

	existing, err := store.GetRequest(requestID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if existing != nil {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_request",
			fmt.Sprintf("request %s already exists", requestID.Hex()))
	}

	now := utils.GetCurrentTimeMillis()
	request := &model.AccessRequest{
		ID:           requestID,
		ResearcherID: researcherID,
		ListingID:    listingID,
		OfferedPrice: offeredPrice,
		Status:       model.RequestPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.InsertRequest(request); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Access requested",
		log.String("request_id", requestID.Hex()),
		log.String("researcher_id", researcherID.Hex()),
		log.String("listing_id", listingID.Hex()),
		log.Int64("offered_price", offeredPrice),
		log.String("actor", actor.Hex()))
	return nil
}

// ApproveAccess transitions a pending request to Approved, re-checking the
// consent at approval time and attaching the opaque decryption-key reference.
// Operator only.
func (s *marketplaceService) ApproveAccess(actor common.Address, requestID common.Hash, decryptionKeyRef string) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleOperator); err != nil {
		return err
	}
	if err := utils.ValidateRequired("decryptionKeyRef", decryptionKeyRef); err != nil {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	store := s.marketplaceStore()
	request, err := store.GetRequest(requestID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if request == nil || request.Status != model.RequestPending {
		return serviceerror.Named(serviceerror.ConflictError, "request_not_pending",
			fmt.Sprintf("request %s is not pending", requestID.Hex()))
	}

	listing, err := store.GetListing(request.ListingID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if listing == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "listing_not_found",
			fmt.Sprintf("no listing at %s", request.ListingID.Hex()))
	}

	valid, err := s.consents.IsConsentValid(listing.PatientID, request.ResearcherID, listing.DataCategory)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !valid {
		return serviceerror.Named(serviceerror.ConflictError, "consent_not_valid",
			"no valid consent covers this request")
	}

	approved, err := store.ApproveRequest(requestID, decryptionKeyRef, utils.GetCurrentTimeMillis())
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !approved {
		return serviceerror.Named(serviceerror.ConflictError, "request_not_pending",
			fmt.Sprintf("request %s is not pending", requestID.Hex()))
	}

	s.logger.Info("Access approved",
		log.String("request_id", requestID.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// CompleteAccess settles an approved request: consent check-and-increment,
// payout and platform-fee transfers, listing/directory counters and the
// Completed transition, all inside one transaction. Any failure rolls back
// every write. Operator only.
func (s *marketplaceService) CompleteAccess(actor common.Address, requestID common.Hash) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleOperator); err != nil {
		return err
	}

	if !s.acquireRequest(requestID) {
		return serviceerror.Named(serviceerror.ConflictError, "request_in_flight",
			fmt.Sprintf("request %s is already being completed", requestID.Hex()))
	}
	defer s.releaseRequest(requestID)

	store := s.marketplaceStore()
	request, err := store.GetRequest(requestID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if request == nil || request.Status != model.RequestApproved {
		return serviceerror.Named(serviceerror.ConflictError, "request_not_approved",
			fmt.Sprintf("request %s is not approved", requestID.Hex()))
	}

	listing, err := store.GetListing(request.ListingID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if listing == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "listing_not_found",
			fmt.Sprintf("no listing at %s", request.ListingID.Hex()))
	}

	patientWallet, err := s.patients.WalletOf(listing.PatientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	researcherWallet, err := s.researchers.WalletOf(request.ResearcherID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	tx, err := s.stores.DBClient().BeginTx()
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	serviceErr := s.settle(tx, request, listing, researcherWallet, patientWallet)
	if serviceErr != nil {
		tx.Rollback()
		return serviceErr
	}
	if err := tx.Commit(); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Access completed",
		log.String("request_id", requestID.Hex()),
		log.String("listing_id", listing.ID.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// settle performs every write of CompleteAccess against the open transaction.
// The caller commits or rolls back based on the result.
func (s *marketplaceService) settle(tx dbmodel.TxInterface, request *model.AccessRequest,
	listing *model.Listing, researcherWallet, patientWallet common.Address) *serviceerror.ServiceError {
	valid, consentPrice, err := s.consents.RecordAccessTx(tx, listing.PatientID, request.ResearcherID, listing.DataCategory)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !valid {
		return serviceerror.Named(serviceerror.ConflictError, "consent_no_longer_valid",
			"consent is no longer valid for this request")
	}

	finalPrice := request.OfferedPrice
	if consentPrice > finalPrice {
		finalPrice = consentPrice
	}
	fee := finalPrice * s.platformFeeBps / constants.BasisPointsDenominator
	payout := finalPrice - fee

	if err := s.payments.TransferFromTx(tx, researcherWallet, patientWallet, payout); err != nil {
		return transferError(err)
	}
	if err := s.payments.TransferFromTx(tx, researcherWallet, s.platformAccount, fee); err != nil {
		return transferError(err)
	}

	store := s.marketplaceStore()
	if err := store.UpdateListingStatsTx(tx, listing.ID, finalPrice); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if err := s.patients.RecordEarningsTx(tx, listing.PatientID, payout); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if err := s.researchers.RecordDataAccessTx(tx, request.ResearcherID, finalPrice); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	completed, err := store.CompleteRequestTx(tx, request.ID, utils.GetCurrentTimeMillis())
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !completed {
		return serviceerror.Named(serviceerror.ConflictError, "request_not_approved",
			fmt.Sprintf("request %s is not approved", request.ID.Hex()))
	}
	return nil
}

func transferError(err error) *serviceerror.ServiceError {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return serviceerror.Named(serviceerror.ConflictError, "insufficient_funds", err.Error())
	}
	return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
}

// RejectAccess transitions a pending request to Rejected with a reason.
// Operator only.
func (s *marketplaceService) RejectAccess(actor common.Address, requestID common.Hash, reason string) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleOperator); err != nil {
		return err
	}

	rejected, err := s.marketplaceStore().RejectRequest(requestID, reason, utils.GetCurrentTimeMillis())
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !rejected {
		return serviceerror.Named(serviceerror.ConflictError, "request_not_pending",
			fmt.Sprintf("request %s is not pending", requestID.Hex()))
	}

	s.logger.Info("Access rejected",
		log.String("request_id", requestID.Hex()),
		log.String("reason", reason),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *marketplaceService) GetListing(listingID common.Hash) (*model.Listing, *serviceerror.ServiceError) {
	listing, err := s.marketplaceStore().GetListing(listingID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if listing == nil {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "listing_not_found",
			fmt.Sprintf("no listing at %s", listingID.Hex()))
	}
	return listing, nil
}

func (s *marketplaceService) ListListingsByPatient(patientID common.Hash) ([]model.Listing, *serviceerror.ServiceError) {
	listings, err := s.marketplaceStore().ListListingsByPatient(patientID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return listings, nil
}

func (s *marketplaceService) GetRequest(requestID common.Hash) (*model.AccessRequest, *serviceerror.ServiceError) {
	request, err := s.marketplaceStore().GetRequest(requestID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if request == nil {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "request_not_found",
			fmt.Sprintf("no request at %s", requestID.Hex()))
	}
	return request, nil
}

func (s *marketplaceService) ListRequestsByResearcher(researcherID common.Hash) ([]model.AccessRequest, *serviceerror.ServiceError) {
	requests, err := s.marketplaceStore().ListRequestsByResearcher(researcherID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return requests, nil
}

func (s *marketplaceService) acquireRequest(requestID common.Hash) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[requestID]; busy {
		return false
	}
	s.inFlight[requestID] = struct{}{}
	return true
}

func (s *marketplaceService) releaseRequest(requestID common.Hash) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, requestID)
}
