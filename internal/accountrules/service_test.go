package accountrules

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/accountrules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

var (
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testStranger = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

// fakeRoles satisfies accessledger.RoleService with a fixed role table.
type fakeRoles struct {
	roles map[common.Address][]string
}

func newFakeRoles(admins ...common.Address) *fakeRoles {
	f := &fakeRoles{roles: make(map[common.Address][]string)}
	for _, admin := range admins {
		f.roles[admin] = append(f.roles[admin], accessledger.RoleAdmin)
	}
	return f
}

func (f *fakeRoles) GrantRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	f.roles[holder] = append(f.roles[holder], role)
	return nil
}

func (f *fakeRoles) RevokeRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	return nil
}

func (f *fakeRoles) HasRole(holder common.Address, role string) (bool, *serviceerror.ServiceError) {
	for _, r := range f.roles[holder] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRoles) ListRoles(holder common.Address) ([]string, *serviceerror.ServiceError) {
	return f.roles[holder], nil
}

func (f *fakeRoles) RequireRole(actor common.Address, role string) *serviceerror.ServiceError {
	has, _ := f.HasRole(actor, role)
	if !has {
		return serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			fmt.Sprintf("actor %s lacks required role '%s'", actor.Hex(), role))
	}
	return nil
}

// fakeAccountStore keeps upserted records in memory, including soft deletes.
type fakeAccountStore struct {
	records map[common.Address]model.Account
	failing bool
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{records: make(map[common.Address]model.Account)}
}

func (f *fakeAccountStore) Upsert(account *model.Account) error {
	if f.failing {
		return fmt.Errorf("store unavailable")
	}
	f.records[account.Address] = *account
	return nil
}

func (f *fakeAccountStore) ListAllowed() ([]model.Account, error) {
	accounts := make([]model.Account, 0, len(f.records))
	for _, account := range f.records {
		if account.Allowed {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func newTestEngine(t *testing.T) (*engine, *fakeAccountStore) {
	t.Helper()
	store := newFakeAccountStore()
	registry := stores.NewStoreRegistry(nil)
	registry.Account = store
	return newAccountRulesEngine(registry, newFakeRoles(testAdmin)), store
}

func addr(suffix byte) common.Address {
	return common.BytesToAddress([]byte{suffix})
}

func TestAccountAddAndIsAllowed(t *testing.T) {
	eng, store := newTestEngine(t)

	hospital := addr(0x01)
	require.Nil(t, eng.Add(testAdmin, hospital, model.AccountTypeHospital))

	assert.True(t, eng.IsAllowed(hospital))
	assert.False(t, eng.IsAllowed(addr(0x02)))
	assert.Equal(t, 1, eng.Count())

	persisted, ok := store.records[hospital]
	require.True(t, ok)
	assert.True(t, persisted.Allowed)
	assert.Equal(t, model.AccountTypeHospital, persisted.Type)
}

func TestAccountAddRejectsUnauthorizedActor(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.Add(testStranger, addr(0x01), model.AccountTypeHospital)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)
	assert.False(t, eng.IsAllowed(addr(0x01)))
}

func TestAccountAddRejectsNullAddressAndDuplicates(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.Add(testAdmin, common.Address{}, model.AccountTypePatient)
	require.NotNil(t, err)
	assert.Equal(t, "invalid_address", err.Error)

	patient := addr(0x03)
	require.Nil(t, eng.Add(testAdmin, patient, model.AccountTypePatient))
	err = eng.Add(testAdmin, patient, model.AccountTypePatient)
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_account", err.Error)
	assert.Equal(t, 1, eng.Count())
}

func TestAccountAddRejectsInvalidType(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.Add(testAdmin, addr(0x01), model.AccountType(99))
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)
}

func TestAccountAddBatchIsReplayable(t *testing.T) {
	eng, _ := newTestEngine(t)

	addresses := []common.Address{addr(0x01), common.Address{}, addr(0x02)}
	types := []model.AccountType{model.AccountTypeHospital, model.AccountTypePatient, model.AccountTypeRegulator}

	require.Nil(t, eng.AddBatch(testAdmin, addresses, types))
	assert.Equal(t, 2, eng.Count())

	// Replaying the same batch skips every entry without error.
	require.Nil(t, eng.AddBatch(testAdmin, addresses, types))
	assert.Equal(t, 2, eng.Count())
}

func TestAccountAddBatchLengthMismatch(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.AddBatch(testAdmin, []common.Address{addr(0x01)}, nil)
	require.NotNil(t, err)
	assert.Equal(t, "length_mismatch", err.Error)
}

func TestAccountRemoveSoftDeletes(t *testing.T) {
	eng, store := newTestEngine(t)

	hospital := addr(0x01)
	require.Nil(t, eng.Add(testAdmin, hospital, model.AccountTypeHospital))
	require.Nil(t, eng.Remove(testAdmin, hospital))

	assert.False(t, eng.IsAllowed(hospital))
	assert.Equal(t, 0, eng.Count())

	persisted := store.records[hospital]
	assert.False(t, persisted.Allowed)
}

func TestAccountRemoveUnknownAddress(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.Remove(testAdmin, addr(0x44))
	require.NotNil(t, err)
	assert.Equal(t, "account_not_found", err.Error)
}

func TestAccountLastAdminCannotBeRemoved(t *testing.T) {
	eng, _ := newTestEngine(t)

	adminAccount := addr(0x10)
	require.Nil(t, eng.Add(testAdmin, adminAccount, model.AccountTypeAdmin))
	require.Equal(t, 1, eng.AdminCount())

	err := eng.Remove(testAdmin, adminAccount)
	require.NotNil(t, err)
	assert.Equal(t, "last_admin_protected", err.Error)
	assert.Equal(t, serviceerror.InvariantViolationError.Code, err.Code)
	assert.True(t, eng.IsAllowed(adminAccount))

	// A second admin lifts the protection.
	require.Nil(t, eng.Add(testAdmin, addr(0x11), model.AccountTypeAdmin))
	require.Nil(t, eng.Remove(testAdmin, adminAccount))
	assert.Equal(t, 1, eng.AdminCount())
}

func TestAccountLastAdminCannotBeDemoted(t *testing.T) {
	eng, _ := newTestEngine(t)

	adminAccount := addr(0x10)
	require.Nil(t, eng.Add(testAdmin, adminAccount, model.AccountTypeAdmin))

	err := eng.UpdateType(testAdmin, adminAccount, model.AccountTypeHospital)
	require.NotNil(t, err)
	assert.Equal(t, "last_admin_protected", err.Error)

	entry, serviceErr := eng.Get(adminAccount)
	require.Nil(t, serviceErr)
	assert.Equal(t, model.AccountTypeAdmin, entry.Type)
}

func TestAccountUpdateTypeTracksAdminCount(t *testing.T) {
	eng, _ := newTestEngine(t)

	hospital := addr(0x01)
	require.Nil(t, eng.Add(testAdmin, hospital, model.AccountTypeHospital))
	assert.Equal(t, 0, eng.AdminCount())

	require.Nil(t, eng.UpdateType(testAdmin, hospital, model.AccountTypeAdmin))
	assert.Equal(t, 1, eng.AdminCount())

	// Demoting is allowed once another admin exists.
	require.Nil(t, eng.Add(testAdmin, addr(0x02), model.AccountTypeAdmin))
	require.Nil(t, eng.UpdateType(testAdmin, hospital, model.AccountTypeRegulator))
	assert.Equal(t, 1, eng.AdminCount())
}

func TestAccountListSurvivesSwapAndPop(t *testing.T) {
	eng, _ := newTestEngine(t)

	for suffix := byte(1); suffix <= 4; suffix++ {
		require.Nil(t, eng.Add(testAdmin, addr(suffix), model.AccountTypePatient))
	}
	require.Nil(t, eng.Remove(testAdmin, addr(2)))

	listed := eng.List()
	require.Len(t, listed, 3)
	seen := make(map[common.Address]bool)
	for _, account := range listed {
		seen[account.Address] = true
	}
	assert.True(t, seen[addr(1)])
	assert.False(t, seen[addr(2)])
	assert.True(t, seen[addr(3)])
	assert.True(t, seen[addr(4)])
}

func TestAccountLoadFromStoreHydratesEngine(t *testing.T) {
	store := newFakeAccountStore()
	store.records[addr(0x01)] = model.Account{Address: addr(0x01), Type: model.AccountTypeAdmin, Allowed: true}
	store.records[addr(0x02)] = model.Account{Address: addr(0x02), Type: model.AccountTypeHospital, Allowed: true}
	store.records[addr(0x03)] = model.Account{Address: addr(0x03), Type: model.AccountTypePatient, Allowed: false}

	registry := stores.NewStoreRegistry(nil)
	registry.Account = store
	eng := newAccountRulesEngine(registry, newFakeRoles(testAdmin))
	require.NoError(t, eng.loadFromStore())

	assert.Equal(t, 2, eng.Count())
	assert.Equal(t, 1, eng.AdminCount())
	assert.True(t, eng.IsAllowed(addr(0x01)))
	assert.False(t, eng.IsAllowed(addr(0x03)))
}

func TestAccountBootstrapOnlySeedsEmptyEngine(t *testing.T) {
	eng, _ := newTestEngine(t)

	genesis := addr(0x77)
	require.NoError(t, eng.bootstrap(genesis))
	assert.Equal(t, 1, eng.AdminCount())
	assert.True(t, eng.IsAllowed(genesis))

	// A populated engine ignores further bootstrap calls.
	other := addr(0x78)
	require.NoError(t, eng.bootstrap(other))
	assert.False(t, eng.IsAllowed(other))
}

func TestAccountStoreFailureLeavesEngineUnchanged(t *testing.T) {
	eng, store := newTestEngine(t)
	store.failing = true

	err := eng.Add(testAdmin, addr(0x01), model.AccountTypeHospital)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.DatabaseError.Code, err.Code)
	assert.False(t, eng.IsAllowed(addr(0x01)))
	assert.Equal(t, 0, eng.Count())
}
