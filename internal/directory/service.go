package directory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/directory/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// PatientService manages the patient directory. The tx-composed counter
// methods let the marketplace commit directory accounting atomically with its
// own state.
type PatientService interface {
	Register(actor common.Address, patientID common.Hash, name string, wallet common.Address) *serviceerror.ServiceError
	Verify(actor common.Address, patientID common.Hash) *serviceerror.ServiceError
	Get(patientID common.Hash) (*model.Patient, *serviceerror.ServiceError)

	IsVerified(patientID common.Hash) (bool, error)
	WalletOf(patientID common.Hash) (common.Address, error)
	IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error
	RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error
}

// ResearcherService manages the researcher directory and category grants.
type ResearcherService interface {
	Register(actor common.Address, researcherID common.Hash, name, organization string, wallet common.Address) *serviceerror.ServiceError
	Verify(actor common.Address, researcherID common.Hash, accessTier int64) *serviceerror.ServiceError
	GrantCategory(actor common.Address, researcherID, category common.Hash) *serviceerror.ServiceError
	RevokeCategory(actor common.Address, researcherID, category common.Hash) *serviceerror.ServiceError
	Get(researcherID common.Hash) (*model.Researcher, *serviceerror.ServiceError)
	ListCategories(researcherID common.Hash) ([]common.Hash, *serviceerror.ServiceError)

	IsVerified(researcherID common.Hash) (bool, error)
	HasCategoryAccess(researcherID, category common.Hash) (bool, error)
	WalletOf(researcherID common.Hash) (common.Address, error)
	AccessTier(researcherID common.Hash) (int64, error)
	RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error
}

type patientService struct {
	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newPatientService(registry *stores.StoreRegistry, authz accessledger.RoleService) PatientService {
	return &patientService{
		authz:  authz,
		stores: registry,
		logger: log.GetLogger().With(log.String(log.LoggerKeyComponentName, "PatientDirectory")),
	}
}

func (s *patientService) patientStore() PatientStore {
	return s.stores.Patient.(PatientStore)
}

// Register creates an unverified patient record.
func (s *patientService) Register(actor common.Address, patientID common.Hash, name string, wallet common.Address) *serviceerror.ServiceError {
	if patientID == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "patient id must not be zero")
	}
	if err := utils.ValidateRequired("name", name); err != nil {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if wallet == (common.Address{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "wallet is the null address")
	}

	store := s.patientStore()
	existing, err := store.Get(patientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if existing != nil {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_patient",
			fmt.Sprintf("patient %s is already registered", patientID.Hex()))
	}

	patient := &model.Patient{
		ID:           patientID,
		Name:         name,
		Wallet:       wallet,
		RegisteredAt: utils.GetCurrentTimeMillis(),
	}
	if err := store.Insert(patient); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Patient registered",
		log.String("patient_id", patientID.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// Verify marks a patient as verified. Verifier role required.
func (s *patientService) Verify(actor common.Address, patientID common.Hash) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleVerifier); err != nil {
		return err
	}

	store := s.patientStore()
	patient, err := store.Get(patientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if patient == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "patient_not_found",
			fmt.Sprintf("no patient registered at %s", patientID.Hex()))
	}

	if err := store.SetVerified(patientID, true); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Patient verified",
		log.String("patient_id", patientID.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *patientService) Get(patientID common.Hash) (*model.Patient, *serviceerror.ServiceError) {
	patient, err := s.patientStore().Get(patientID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if patient == nil {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "patient_not_found",
			fmt.Sprintf("no patient registered at %s", patientID.Hex()))
	}
	return patient, nil
}

func (s *patientService) IsVerified(patientID common.Hash) (bool, error) {
	patient, err := s.patientStore().Get(patientID)
	if err != nil {
		return false, err
	}
	return patient != nil && patient.Verified, nil
}

func (s *patientService) WalletOf(patientID common.Hash) (common.Address, error) {
	patient, err := s.patientStore().Get(patientID)
	if err != nil {
		return common.Address{}, err
	}
	if patient == nil {
		return common.Address{}, fmt.Errorf("no patient registered at %s", patientID.Hex())
	}
	return patient.Wallet, nil
}

func (s *patientService) IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error {
	return s.patientStore().IncrementDatasetsTx(tx, patientID)
}

func (s *patientService) RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error {
	return s.patientStore().RecordEarningsTx(tx, patientID, amount)
}

type researcherService struct {
	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newResearcherService(registry *stores.StoreRegistry, authz accessledger.RoleService) ResearcherService {
	return &researcherService{
		authz:  authz,
		stores: registry,
		logger: log.GetLogger().With(log.String(log.LoggerKeyComponentName, "ResearcherDirectory")),
	}
}

func (s *researcherService) researcherStore() ResearcherStore {
	return s.stores.Researcher.(ResearcherStore)
}

// Register creates an unverified researcher record.
func (s *researcherService) Register(actor common.Address, researcherID common.Hash, name, organization string, wallet common.Address) *serviceerror.ServiceError {
	if researcherID == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "researcher id must not be zero")
	}
	if err := utils.ValidateRequired("name", name); err != nil {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if err := utils.ValidateRequired("organization", organization); err != nil {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if wallet == (common.Address{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "wallet is the null address")
	}

	store := s.researcherStore()
	existing, err := store.Get(researcherID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if existing != nil {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_researcher",
			fmt.Sprintf("researcher %s is already registered", researcherID.Hex()))
	}

	researcher := &model.Researcher{
		ID:           researcherID,
		Name:         name,
		Organization: organization,
		Wallet:       wallet,
		RegisteredAt: utils.GetCurrentTimeMillis(),
	}
	if err := store.Insert(researcher); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Researcher registered",
		log.String("researcher_id", researcherID.Hex()),
		log.String("organization", organization),
		log.String("actor", actor.Hex()))
	return nil
}

// Verify marks a researcher as verified at the given access tier. Verifier
// role required.
func (s *researcherService) Verify(actor common.Address, researcherID common.Hash, accessTier int64) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleVerifier); err != nil {
		return err
	}
	if accessTier < 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "access tier must not be negative")
	}

	store := s.researcherStore()
	researcher, err := store.Get(researcherID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if researcher == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "researcher_not_found",
			fmt.Sprintf("no researcher registered at %s", researcherID.Hex()))
	}

	if err := store.SetVerified(researcherID, true, accessTier); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Researcher verified",
		log.String("researcher_id", researcherID.Hex()),
		log.Int64("access_tier", accessTier),
		log.String("actor", actor.Hex()))
	return nil
}

// GrantCategory allows a researcher to request access to listings in a data
// category. Verifier role required.
func (s *researcherService) GrantCategory(actor common.Address, researcherID, category common.Hash) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleVerifier); err != nil {
		return err
	}
	if category == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "data category must not be zero")
	}

	store := s.researcherStore()
	researcher, err := store.Get(researcherID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if researcher == nil {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "researcher_not_found",
			fmt.Sprintf("no researcher registered at %s", researcherID.Hex()))
	}

	if err := store.GrantCategory(researcherID, category, utils.GetCurrentTimeMillis()); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Category access granted",
		log.String("researcher_id", researcherID.Hex()),
		log.String("category", category.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// RevokeCategory withdraws a researcher's category access. Verifier role
// required.
func (s *researcherService) RevokeCategory(actor common.Address, researcherID, category common.Hash) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleVerifier); err != nil {
		return err
	}

	removed, err := s.researcherStore().RevokeCategory(researcherID, category)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !removed {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "category_not_granted",
			fmt.Sprintf("researcher %s has no access to category %s", researcherID.Hex(), category.Hex()))
	}

	s.logger.Info("Category access revoked",
		log.String("researcher_id", researcherID.Hex()),
		log.String("category", category.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *researcherService) Get(researcherID common.Hash) (*model.Researcher, *serviceerror.ServiceError) {
	researcher, err := s.researcherStore().Get(researcherID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if researcher == nil {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "researcher_not_found",
			fmt.Sprintf("no researcher registered at %s", researcherID.Hex()))
	}
	return researcher, nil
}

func (s *researcherService) ListCategories(researcherID common.Hash) ([]common.Hash, *serviceerror.ServiceError) {
	categories, err := s.researcherStore().ListCategories(researcherID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return categories, nil
}

func (s *researcherService) IsVerified(researcherID common.Hash) (bool, error) {
	researcher, err := s.researcherStore().Get(researcherID)
	if err != nil {
		return false, err
	}
	return researcher != nil && researcher.Verified, nil
}

func (s *researcherService) HasCategoryAccess(researcherID, category common.Hash) (bool, error) {
	return s.researcherStore().HasCategory(researcherID, category)
}

func (s *researcherService) WalletOf(researcherID common.Hash) (common.Address, error) {
	researcher, err := s.researcherStore().Get(researcherID)
	if err != nil {
		return common.Address{}, err
	}
	if researcher == nil {
		return common.Address{}, fmt.Errorf("no researcher registered at %s", researcherID.Hex())
	}
	return researcher.Wallet, nil
}

func (s *researcherService) AccessTier(researcherID common.Hash) (int64, error) {
	researcher, err := s.researcherStore().Get(researcherID)
	if err != nil {
		return 0, err
	}
	if researcher == nil {
		return 0, nil
	}
	return researcher.AccessTier, nil
}

func (s *researcherService) RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error {
	return s.researcherStore().RecordDataAccessTx(tx, researcherID, amount)
}
