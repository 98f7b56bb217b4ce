package directory

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/directory/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

var (
	testVerifier = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testStranger = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	testWallet   = common.HexToAddress("0x0000000000000000000000000000000000000011")

	patientID    = common.BytesToHash([]byte{0x0A})
	researcherID = common.BytesToHash([]byte{0x0B})
	categoryID   = common.BytesToHash([]byte{0x0C})
)

// fakeRoles satisfies accessledger.RoleService with a fixed verifier set.
type fakeRoles struct {
	verifiers map[common.Address]bool
}

func newFakeRoles(verifiers ...common.Address) *fakeRoles {
	f := &fakeRoles{verifiers: make(map[common.Address]bool)}
	for _, verifier := range verifiers {
		f.verifiers[verifier] = true
	}
	return f
}

func (f *fakeRoles) GrantRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	return nil
}

func (f *fakeRoles) RevokeRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	return nil
}

func (f *fakeRoles) HasRole(holder common.Address, role string) (bool, *serviceerror.ServiceError) {
	return role == accessledger.RoleVerifier && f.verifiers[holder], nil
}

func (f *fakeRoles) ListRoles(holder common.Address) ([]string, *serviceerror.ServiceError) {
	return nil, nil
}

func (f *fakeRoles) RequireRole(actor common.Address, role string) *serviceerror.ServiceError {
	if has, _ := f.HasRole(actor, role); !has {
		return serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			fmt.Sprintf("actor %s lacks required role '%s'", actor.Hex(), role))
	}
	return nil
}

type fakePatientStore struct {
	records map[common.Hash]*model.Patient
}

func newFakePatientStore() *fakePatientStore {
	return &fakePatientStore{records: make(map[common.Hash]*model.Patient)}
}

func (f *fakePatientStore) Insert(patient *model.Patient) error {
	copied := *patient
	f.records[patient.ID] = &copied
	return nil
}

func (f *fakePatientStore) Get(patientID common.Hash) (*model.Patient, error) {
	patient, ok := f.records[patientID]
	if !ok {
		return nil, nil
	}
	copied := *patient
	return &copied, nil
}

func (f *fakePatientStore) SetVerified(patientID common.Hash, verified bool) error {
	f.records[patientID].Verified = verified
	return nil
}

func (f *fakePatientStore) IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error {
	f.records[patientID].DatasetCount++
	return nil
}

func (f *fakePatientStore) RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error {
	f.records[patientID].TotalEarnings += amount
	return nil
}

type fakeResearcherStore struct {
	records    map[common.Hash]*model.Researcher
	categories map[common.Hash]map[common.Hash]bool
}

func newFakeResearcherStore() *fakeResearcherStore {
	return &fakeResearcherStore{
		records:    make(map[common.Hash]*model.Researcher),
		categories: make(map[common.Hash]map[common.Hash]bool),
	}
}

func (f *fakeResearcherStore) Insert(researcher *model.Researcher) error {
	copied := *researcher
	f.records[researcher.ID] = &copied
	return nil
}

func (f *fakeResearcherStore) Get(researcherID common.Hash) (*model.Researcher, error) {
	researcher, ok := f.records[researcherID]
	if !ok {
		return nil, nil
	}
	copied := *researcher
	return &copied, nil
}

func (f *fakeResearcherStore) SetVerified(researcherID common.Hash, verified bool, accessTier int64) error {
	f.records[researcherID].Verified = verified
	f.records[researcherID].AccessTier = accessTier
	return nil
}

func (f *fakeResearcherStore) RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error {
	f.records[researcherID].TotalAccesses++
	f.records[researcherID].TotalSpent += amount
	return nil
}

func (f *fakeResearcherStore) GrantCategory(researcherID, category common.Hash, grantedAt int64) error {
	if f.categories[researcherID] == nil {
		f.categories[researcherID] = make(map[common.Hash]bool)
	}
	f.categories[researcherID][category] = true
	return nil
}

func (f *fakeResearcherStore) RevokeCategory(researcherID, category common.Hash) (bool, error) {
	if !f.categories[researcherID][category] {
		return false, nil
	}
	delete(f.categories[researcherID], category)
	return true, nil
}

func (f *fakeResearcherStore) HasCategory(researcherID, category common.Hash) (bool, error) {
	return f.categories[researcherID][category], nil
}

func (f *fakeResearcherStore) ListCategories(researcherID common.Hash) ([]common.Hash, error) {
	categories := make([]common.Hash, 0, len(f.categories[researcherID]))
	for category := range f.categories[researcherID] {
		categories = append(categories, category)
	}
	return categories, nil
}

func newTestDirectory(t *testing.T) (PatientService, ResearcherService) {
	t.Helper()
	registry := stores.NewStoreRegistry(nil)
	registry.Patient = newFakePatientStore()
	registry.Researcher = newFakeResearcherStore()
	authz := newFakeRoles(testVerifier)
	return newPatientService(registry, authz), newResearcherService(registry, authz)
}

func TestPatientRegisterAndVerify(t *testing.T) {
	patients, _ := newTestDirectory(t)

	require.Nil(t, patients.Register(testStranger, patientID, "Jane Doe", testWallet))

	verified, err := patients.IsVerified(patientID)
	require.NoError(t, err)
	assert.False(t, verified)

	serviceErr := patients.Verify(testStranger, patientID)
	require.NotNil(t, serviceErr)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, serviceErr.Code)

	require.Nil(t, patients.Verify(testVerifier, patientID))
	verified, err = patients.IsVerified(patientID)
	require.NoError(t, err)
	assert.True(t, verified)

	wallet, err := patients.WalletOf(patientID)
	require.NoError(t, err)
	assert.Equal(t, testWallet, wallet)
}

func TestPatientRegisterValidation(t *testing.T) {
	patients, _ := newTestDirectory(t)

	err := patients.Register(testStranger, common.Hash{}, "Jane Doe", testWallet)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	err = patients.Register(testStranger, patientID, "", testWallet)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	err = patients.Register(testStranger, patientID, "Jane Doe", common.Address{})
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	require.Nil(t, patients.Register(testStranger, patientID, "Jane Doe", testWallet))
	err = patients.Register(testStranger, patientID, "Jane Doe", testWallet)
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_patient", err.Error)
}

func TestPatientVerifyUnknown(t *testing.T) {
	patients, _ := newTestDirectory(t)

	err := patients.Verify(testVerifier, patientID)
	require.NotNil(t, err)
	assert.Equal(t, "patient_not_found", err.Error)
}

func TestResearcherRegisterAndVerifyTier(t *testing.T) {
	_, researchers := newTestDirectory(t)

	require.Nil(t, researchers.Register(testStranger, researcherID, "Dr. Smith", "State University", testWallet))

	err := researchers.Verify(testVerifier, researcherID, -1)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	require.Nil(t, researchers.Verify(testVerifier, researcherID, 2))
	verified, plainErr := researchers.IsVerified(researcherID)
	require.NoError(t, plainErr)
	assert.True(t, verified)

	tier, plainErr := researchers.AccessTier(researcherID)
	require.NoError(t, plainErr)
	assert.Equal(t, int64(2), tier)
}

func TestResearcherCategoryGrants(t *testing.T) {
	_, researchers := newTestDirectory(t)
	require.Nil(t, researchers.Register(testStranger, researcherID, "Dr. Smith", "State University", testWallet))

	has, err := researchers.HasCategoryAccess(researcherID, categoryID)
	require.NoError(t, err)
	assert.False(t, has)

	serviceErr := researchers.GrantCategory(testStranger, researcherID, categoryID)
	require.NotNil(t, serviceErr)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, serviceErr.Code)

	require.Nil(t, researchers.GrantCategory(testVerifier, researcherID, categoryID))
	has, err = researchers.HasCategoryAccess(researcherID, categoryID)
	require.NoError(t, err)
	assert.True(t, has)

	categories, serviceErr := researchers.ListCategories(researcherID)
	require.Nil(t, serviceErr)
	assert.Equal(t, []common.Hash{categoryID}, categories)

	require.Nil(t, researchers.RevokeCategory(testVerifier, researcherID, categoryID))
	serviceErr = researchers.RevokeCategory(testVerifier, researcherID, categoryID)
	require.NotNil(t, serviceErr)
	assert.Equal(t, "category_not_granted", serviceErr.Error)
}

func TestResearcherGrantCategoryUnknownResearcher(t *testing.T) {
	_, researchers := newTestDirectory(t)

	err := researchers.GrantCategory(testVerifier, researcherID, categoryID)
	require.NotNil(t, err)
	assert.Equal(t, "researcher_not_found", err.Error)
}

func TestDirectoryCounters(t *testing.T) {
	patients, researchers := newTestDirectory(t)
	require.Nil(t, patients.Register(testStranger, patientID, "Jane Doe", testWallet))
	require.Nil(t, researchers.Register(testStranger, researcherID, "Dr. Smith", "State University", testWallet))

	require.NoError(t, patients.IncrementDatasetsTx(nil, patientID))
	require.NoError(t, patients.RecordEarningsTx(nil, patientID, 95))
	require.NoError(t, researchers.RecordDataAccessTx(nil, researcherID, 100))

	patient, serviceErr := patients.Get(patientID)
	require.Nil(t, serviceErr)
	assert.Equal(t, int64(1), patient.DatasetCount)
	assert.Equal(t, int64(95), patient.TotalEarnings)

	researcher, serviceErr := researchers.Get(researcherID)
	require.Nil(t, serviceErr)
	assert.Equal(t, int64(1), researcher.TotalAccesses)
	assert.Equal(t, int64(100), researcher.TotalSpent)
}
