package ledger

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/accessledger"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

var (
	testAdmin = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000002")
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

// fakeLedgerStore applies the balance-guarded debit in memory.
type fakeLedgerStore struct {
	balances map[common.Address]int64
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{balances: make(map[common.Address]int64)}
}

func (f *fakeLedgerStore) Credit(account common.Address, amount int64) error {
	f.balances[account] += amount
	return nil
}

func (f *fakeLedgerStore) CreditTx(tx dbmodel.TxInterface, account common.Address, amount int64) error {
	f.balances[account] += amount
	return nil
}

func (f *fakeLedgerStore) DebitTx(tx dbmodel.TxInterface, account common.Address, amount int64) (bool, error) {
	if f.balances[account] < amount {
		return false, nil
	}
	f.balances[account] -= amount
	return true, nil
}

func (f *fakeLedgerStore) BalanceOf(account common.Address) (int64, error) {
	return f.balances[account], nil
}

func newTestLedger(t *testing.T) (LedgerService, *fakeLedgerStore) {
	t.Helper()
	store := newFakeLedgerStore()
	registry := stores.NewStoreRegistry(nil)
	registry.Ledger = store
	return newLedgerService(registry, newFakeRoles(testAdmin)), store
}

func TestLedgerMintAndBalance(t *testing.T) {
	svc, _ := newTestLedger(t)

	require.Nil(t, svc.Mint(testAdmin, alice, 500))
	balance, serviceErr := svc.BalanceOf(alice)
	require.Nil(t, serviceErr)
	assert.Equal(t, int64(500), balance)

	// Unknown accounts read as zero.
	balance, serviceErr = svc.BalanceOf(bob)
	require.Nil(t, serviceErr)
	assert.Zero(t, balance)
}

func TestLedgerMintValidation(t *testing.T) {
	svc, _ := newTestLedger(t)

	err := svc.Mint(alice, bob, 100)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)

	err = svc.Mint(testAdmin, common.Address{}, 100)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	err = svc.Mint(testAdmin, alice, 0)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)
}

func TestLedgerTransferMovesFunds(t *testing.T) {
	svc, store := newTestLedger(t)
	store.balances[alice] = 300

	require.NoError(t, svc.TransferFromTx(nil, alice, bob, 120))
	assert.Equal(t, int64(180), store.balances[alice])
	assert.Equal(t, int64(120), store.balances[bob])
}

func TestLedgerTransferInsufficientFunds(t *testing.T) {
	svc, store := newTestLedger(t)
	store.balances[alice] = 50

	err := svc.TransferFromTx(nil, alice, bob, 120)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// A refused debit leaves both balances untouched.
	assert.Equal(t, int64(50), store.balances[alice])
	assert.Zero(t, store.balances[bob])
}

func TestLedgerTransferEdgeAmounts(t *testing.T) {
	svc, store := newTestLedger(t)
	store.balances[alice] = 50

	require.NoError(t, svc.TransferFromTx(nil, alice, bob, 0))
	assert.Equal(t, int64(50), store.balances[alice])

	err := svc.TransferFromTx(nil, alice, bob, -10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
}
