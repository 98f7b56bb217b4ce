package consent

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/consent/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

var (
	testAdmin   = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testPatient = common.HexToAddress("0x00000000000000000000000000000000000000CC")
)

// fakeRoles satisfies accessledger.RoleService with a fixed admin set.
type fakeRoles struct {
	admins map[common.Address]bool
}

func newFakeRoles(admins ...common.Address) *fakeRoles {
	f := &fakeRoles{admins: make(map[common.Address]bool)}
	for _, admin := range admins {
		f.admins[admin] = true
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
	return role == accessledger.RoleAdmin && f.admins[holder], nil
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

type auditEntry struct {
	key   model.ConsentKey
	from  model.ConsentStatus
	to    model.ConsentStatus
	actor string
}

// fakeConsentStore reproduces the guarded-update semantics of the SQL store
// in memory.
type fakeConsentStore struct {
	consents map[string]*model.Consent
	prefs    map[common.Hash]*model.PatientPreference
	audits   []auditEntry
}

func newFakeConsentStore() *fakeConsentStore {
	return &fakeConsentStore{
		consents: make(map[string]*model.Consent),
		prefs:    make(map[common.Hash]*model.PatientPreference),
	}
}

func (f *fakeConsentStore) Upsert(consent *model.Consent) error {
	copied := *consent
	key := model.ConsentKey{
		PatientID:    consent.PatientID,
		ResearcherID: consent.ResearcherID,
		DataCategory: consent.DataCategory,
	}
	f.consents[key.String()] = &copied
	return nil
}

func (f *fakeConsentStore) Get(key model.ConsentKey) (*model.Consent, error) {
	consent, ok := f.consents[key.String()]
	if !ok {
		return nil, nil
	}
	copied := *consent
	return &copied, nil
}

func (f *fakeConsentStore) ListByPatient(patientID common.Hash) ([]model.Consent, error) {
	consents := make([]model.Consent, 0)
	for _, consent := range f.consents {
		if consent.PatientID == patientID {
			consents = append(consents, *consent)
		}
	}
	return consents, nil
}

func (f *fakeConsentStore) ListByResearcher(researcherID common.Hash) ([]model.Consent, error) {
	consents := make([]model.Consent, 0)
	for _, consent := range f.consents {
		if consent.ResearcherID == researcherID {
			consents = append(consents, *consent)
		}
	}
	return consents, nil
}

func (f *fakeConsentStore) UpdateStatus(key model.ConsentKey, status model.ConsentStatus, revokedAt int64) error {
	if consent, ok := f.consents[key.String()]; ok {
		consent.Status = status
		consent.RevokedAt = revokedAt
	}
	return nil
}

func (f *fakeConsentStore) MarkExpired(key model.ConsentKey) (bool, error) {
	consent, ok := f.consents[key.String()]
	if !ok || consent.Status != model.StatusGranted {
		return false, nil
	}
	consent.Status = model.StatusExpired
	return true, nil
}

func (f *fakeConsentStore) IncrementAccessCount(key model.ConsentKey, now int64) (bool, error) {
	consent, ok := f.consents[key.String()]
	if !ok || consent.Status != model.StatusGranted || now > consent.ExpiresAt {
		return false, nil
	}
	if consent.MaxAccessCount > 0 && consent.CurrentAccessCount >= consent.MaxAccessCount {
		return false, nil
	}
	consent.CurrentAccessCount++
	return true, nil
}

func (f *fakeConsentStore) IncrementAccessCountTx(tx dbmodel.TxInterface, key model.ConsentKey, now int64) (bool, error) {
	return f.IncrementAccessCount(key, now)
}

func (f *fakeConsentStore) GetPreference(patientID common.Hash) (*model.PatientPreference, error) {
	pref, ok := f.prefs[patientID]
	if !ok {
		return nil, nil
	}
	copied := *pref
	return &copied, nil
}

func (f *fakeConsentStore) UpsertPreference(pref *model.PatientPreference) error {
	copied := *pref
	f.prefs[pref.PatientID] = &copied
	return nil
}

func (f *fakeConsentStore) AppendStatusAudit(key model.ConsentKey, from, to model.ConsentStatus, actor string) error {
	f.audits = append(f.audits, auditEntry{key: key, from: from, to: to, actor: actor})
	return nil
}

func newTestConsentService(t *testing.T) (*consentService, *fakeConsentStore) {
	t.Helper()
	store := newFakeConsentStore()
	registry := stores.NewStoreRegistry(nil)
	registry.Consent = store
	return newConsentService(registry, newFakeRoles(testAdmin)), store
}

func testKey(suffix byte) model.ConsentKey {
	return model.ConsentKey{
		PatientID:    common.BytesToHash([]byte{0x0A, suffix}),
		ResearcherID: common.BytesToHash([]byte{0x0B, suffix}),
		DataCategory: common.BytesToHash([]byte{0x0C, suffix}),
	}
}

func standardTerms() model.GrantTerms {
	return model.GrantTerms{
		Price:           100,
		DurationSeconds: 3600,
		Purpose:         "Diabetes study",
		MaxAccessCount:  0,
	}
}

func TestConsentGrantAndIsValid(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	require.Nil(t, svc.Grant(testPatient, key, standardTerms()))

	valid, serviceErr := svc.IsValid(key)
	require.Nil(t, serviceErr)
	assert.True(t, valid)

	consent, serviceErr := svc.Get(key)
	require.Nil(t, serviceErr)
	assert.Equal(t, model.StatusGranted, consent.Status)
	assert.Equal(t, int64(100), consent.AgreedPrice)
	assert.Equal(t, consent.GrantedAt+3600*1000, consent.ExpiresAt)

	require.Len(t, store.audits, 1)
	assert.Equal(t, model.StatusNotSet, store.audits[0].from)
	assert.Equal(t, model.StatusGranted, store.audits[0].to)
}

func TestConsentGrantValidation(t *testing.T) {
	svc, _ := newTestConsentService(t)

	err := svc.Grant(testPatient, model.ConsentKey{}, standardTerms())
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	terms := standardTerms()
	terms.DurationSeconds = 0
	err = svc.Grant(testPatient, testKey(1), terms)
	require.NotNil(t, err)
	assert.Equal(t, "invalid_duration", err.Error)

	terms = standardTerms()
	terms.Price = -1
	err = svc.Grant(testPatient, testKey(1), terms)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)
}

func TestConsentGrantRespectsPatientPreferences(t *testing.T) {
	svc, _ := newTestConsentService(t)
	key := testKey(1)

	require.Nil(t, svc.SetMinPrice(testPatient, key.PatientID, 500))
	terms := standardTerms()
	err := svc.Grant(testPatient, key, terms)
	require.NotNil(t, err)
	assert.Equal(t, "price_below_minimum", err.Error)

	terms.Price = 500
	require.Nil(t, svc.Grant(testPatient, key, terms))

	require.Nil(t, svc.SetGlobalOptOut(testPatient, key.PatientID, true))
	err = svc.Grant(testPatient, key, terms)
	require.NotNil(t, err)
	assert.Equal(t, "patient_opted_out", err.Error)

	// The existing consent is not re-evaluated against the new preference.
	valid, serviceErr := svc.IsValid(key)
	require.Nil(t, serviceErr)
	assert.True(t, valid)
}

func TestConsentRevoke(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	err := svc.Revoke(testPatient, key)
	require.NotNil(t, err)
	assert.Equal(t, "consent_not_granted", err.Error)

	require.Nil(t, svc.Grant(testPatient, key, standardTerms()))
	require.Nil(t, svc.Revoke(testPatient, key))

	valid, serviceErr := svc.IsValid(key)
	require.Nil(t, serviceErr)
	assert.False(t, valid)

	consent := store.consents[key.String()]
	assert.Equal(t, model.StatusRevoked, consent.Status)
	assert.NotZero(t, consent.RevokedAt)

	err = svc.Revoke(testPatient, key)
	require.NotNil(t, err)
	assert.Equal(t, "consent_not_granted", err.Error)
}

func TestConsentRecordAccessEnforcesCap(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	terms := standardTerms()
	terms.MaxAccessCount = 1
	require.Nil(t, svc.Grant(testPatient, key, terms))

	granted, price, serviceErr := svc.RecordAccess(key)
	require.Nil(t, serviceErr)
	assert.True(t, granted)
	assert.Equal(t, int64(100), price)

	// The cap is exhausted; further accesses are refused softly.
	granted, price, serviceErr = svc.RecordAccess(key)
	require.Nil(t, serviceErr)
	assert.False(t, granted)
	assert.Zero(t, price)
	assert.Equal(t, int64(1), store.consents[key.String()].CurrentAccessCount)

	valid, serviceErr := svc.IsValid(key)
	require.Nil(t, serviceErr)
	assert.False(t, valid)
}

func TestConsentRecordAccessOnMissingConsent(t *testing.T) {
	svc, _ := newTestConsentService(t)

	granted, price, serviceErr := svc.RecordAccess(testKey(7))
	require.Nil(t, serviceErr)
	assert.False(t, granted)
	assert.Zero(t, price)
}

func TestConsentLazyExpiry(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	// Seed a record whose expiry is in the past but whose stored status is
	// still Granted, as it would be after the wall clock passed ExpiresAt.
	expired := &model.Consent{
		PatientID:    key.PatientID,
		ResearcherID: key.ResearcherID,
		DataCategory: key.DataCategory,
		Status:       model.StatusGranted,
		GrantedAt:    1000,
		ExpiresAt:    utils.GetCurrentTimeMillis() - 60_000,
		AgreedPrice:  100,
	}
	require.NoError(t, store.Upsert(expired))

	// IsValid reads the expiry without persisting anything.
	valid, serviceErr := svc.IsValid(key)
	require.Nil(t, serviceErr)
	assert.False(t, valid)
	assert.Equal(t, model.StatusGranted, store.consents[key.String()].Status)

	// RecordAccess persists the Granted → Expired transition.
	granted, _, serviceErr := svc.RecordAccess(key)
	require.Nil(t, serviceErr)
	assert.False(t, granted)
	assert.Equal(t, model.StatusExpired, store.consents[key.String()].Status)

	require.Len(t, store.audits, 1)
	assert.Equal(t, model.StatusExpired, store.audits[0].to)
	assert.Equal(t, "system", store.audits[0].actor)

	// The transition is recorded once; replays stay silent.
	granted, _, serviceErr = svc.RecordAccess(key)
	require.Nil(t, serviceErr)
	assert.False(t, granted)
	assert.Len(t, store.audits, 1)
}

func TestConsentRegrantResetsAccounting(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	terms := standardTerms()
	terms.MaxAccessCount = 2
	require.Nil(t, svc.Grant(testPatient, key, terms))

	granted, _, serviceErr := svc.RecordAccess(key)
	require.Nil(t, serviceErr)
	require.True(t, granted)

	require.Nil(t, svc.Grant(testPatient, key, terms))
	assert.Equal(t, int64(0), store.consents[key.String()].CurrentAccessCount)
}

func TestConsentTemplates(t *testing.T) {
	svc, _ := newTestConsentService(t)
	key := testKey(1)

	err := svc.GrantFromTemplate(testPatient, key, 100, "No Such Template")
	require.NotNil(t, err)
	assert.Equal(t, "template_not_found", err.Error)

	require.Nil(t, svc.GrantFromTemplate(testPatient, key, 100, "one-time access"))
	consent, serviceErr := svc.Get(key)
	require.Nil(t, serviceErr)
	assert.Equal(t, int64(1), consent.MaxAccessCount)
	assert.Equal(t, int64(100), consent.AgreedPrice)
	assert.True(t, consent.RequireNotification)

	assert.Len(t, svc.ListTemplates(), 4)
}

func TestConsentRegisterTemplate(t *testing.T) {
	svc, _ := newTestConsentService(t)

	custom := model.Template{
		Name:            "Pilot Program",
		DurationSeconds: 30 * 24 * 3600,
		Purpose:         "Pilot data sharing program",
		MaxAccessCount:  10,
	}

	err := svc.RegisterTemplate(testPatient, custom)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)

	require.Nil(t, svc.RegisterTemplate(testAdmin, custom))
	assert.Len(t, svc.ListTemplates(), 5)

	err = svc.RegisterTemplate(testAdmin, custom)
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_template", err.Error)

	// Built-in presets cannot be shadowed, regardless of casing.
	builtin := custom
	builtin.Name = "BASIC RESEARCH"
	err = svc.RegisterTemplate(testAdmin, builtin)
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_template", err.Error)
}

func TestConsentPreferenceDefaults(t *testing.T) {
	svc, _ := newTestConsentService(t)
	patientID := common.BytesToHash([]byte{0x0A, 0x01})

	pref, serviceErr := svc.GetPreference(patientID)
	require.Nil(t, serviceErr)
	assert.False(t, pref.GlobalOptOut)
	assert.Zero(t, pref.MinPrice)

	require.Nil(t, svc.SetMinPrice(testPatient, patientID, 250))
	require.Nil(t, svc.SetGlobalOptOut(testPatient, patientID, true))

	pref, serviceErr = svc.GetPreference(patientID)
	require.Nil(t, serviceErr)
	assert.True(t, pref.GlobalOptOut)
	assert.Equal(t, int64(250), pref.MinPrice)

	err := svc.SetMinPrice(testPatient, patientID, -5)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)
}

func TestConsentRecordAccessTxSkipsExpiryWrite(t *testing.T) {
	svc, store := newTestConsentService(t)
	key := testKey(1)

	expired := &model.Consent{
		PatientID:    key.PatientID,
		ResearcherID: key.ResearcherID,
		DataCategory: key.DataCategory,
		Status:       model.StatusGranted,
		ExpiresAt:    utils.GetCurrentTimeMillis() - 60_000,
		AgreedPrice:  100,
	}
	require.NoError(t, store.Upsert(expired))

	granted, price, err := svc.RecordAccessTx(nil, key)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Zero(t, price)
	// The tx variant never persists the expiry transition on its own.
	assert.Equal(t, model.StatusGranted, store.consents[key.String()].Status)
	assert.Empty(t, store.audits)
}
