package accountrules

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/accountrules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// AccountRulesService is the account admission rules engine. IsAllowed is the
// admission predicate the host network layer consults for every candidate
// transaction sender; it is read-only, served from memory and never fails.
type AccountRulesService interface {
	IsAllowed(address common.Address) bool

	Add(actor, address common.Address, accountType model.AccountType) *serviceerror.ServiceError
	AddBatch(actor common.Address, addresses []common.Address, types []model.AccountType) *serviceerror.ServiceError
	Remove(actor, address common.Address) *serviceerror.ServiceError
	UpdateType(actor, address common.Address, newType model.AccountType) *serviceerror.ServiceError

	Get(address common.Address) (*model.Account, *serviceerror.ServiceError)
	List() []model.Account
	Count() int
	AdminCount() int
}

type engine struct {
	mu       sync.RWMutex
	accounts map[common.Address]*model.Account
	// Enumerable address list with a slot index for swap-and-pop removal.
	// Order is not preserved across removals.
	index      []common.Address
	slot       map[common.Address]int
	adminCount int

	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newAccountRulesEngine(registry *stores.StoreRegistry, authz accessledger.RoleService) *engine {
	return &engine{
		accounts: make(map[common.Address]*model.Account),
		slot:     make(map[common.Address]int),
		authz:    authz,
		stores:   registry,
		logger:   log.GetLogger().With(log.String(log.LoggerKeyComponentName, "AccountRules")),
	}
}

func (e *engine) accountStore() AccountStore {
	return e.stores.Account.(AccountStore)
}

// loadFromStore hydrates the in-memory allowlist from persisted state.
func (e *engine) loadFromStore() error {
	accounts, err := e.accountStore().ListAllowed()
	if err != nil {
		return fmt.Errorf("failed to load admitted accounts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range accounts {
		account := accounts[i]
		e.insertLocked(&account)
	}
	e.logger.Info("Account allowlist loaded", log.Int("accounts", len(accounts)))
	return nil
}

// IsAllowed reports whether the address may submit transactions.
// Unknown accounts are not allowed.
func (e *engine) IsAllowed(address common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.accounts[address]
	return ok
}

// Add admits a new account to the allowlist. Admin only.
func (e *engine) Add(actor, address common.Address, accountType model.AccountType) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	if !accountType.IsValid() {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			fmt.Sprintf("invalid account type %d", accountType))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if address == (common.Address{}) {
		return serviceerror.Named(serviceerror.ValidationError, "invalid_address",
			"cannot admit the null address")
	}
	if _, exists := e.accounts[address]; exists {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_account",
			fmt.Sprintf("account %s is already allowed", address.Hex()))
	}

	account := &model.Account{
		Address:   address,
		Type:      accountType,
		Allowed:   true,
		UpdatedAt: utils.GetCurrentTimeMillis(),
	}
	if err := e.accountStore().Upsert(account); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	e.insertLocked(account)

	e.logger.Info("Account admitted",
		log.String("address", address.Hex()),
		log.String("account_type", accountType.String()),
		log.String("actor", actor.Hex()))
	return nil
}

// AddBatch admits multiple accounts at once. Entries that are the null
// address or already allowed are skipped without error so a batch can be
// replayed idempotently.
func (e *engine) AddBatch(actor common.Address, addresses []common.Address, types []model.AccountType) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	if len(addresses) != len(types) {
		return serviceerror.Named(serviceerror.ValidationError, "length_mismatch",
			fmt.Sprintf("%d addresses but %d types", len(addresses), len(types)))
	}
	for i, accountType := range types {
		if !accountType.IsValid() {
			return serviceerror.CustomServiceError(serviceerror.ValidationError,
				fmt.Sprintf("invalid account type %d at index %d", accountType, i))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	now := utils.GetCurrentTimeMillis()
	for i, address := range addresses {
		if address == (common.Address{}) {
			continue
		}
		if _, exists := e.accounts[address]; exists {
			continue
		}

		account := &model.Account{
			Address:   address,
			Type:      types[i],
			Allowed:   true,
			UpdatedAt: now,
		}
		if err := e.accountStore().Upsert(account); err != nil {
			return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
		}
		e.insertLocked(account)
		added++
	}

	e.logger.Info("Account batch admitted",
		log.Int("requested", len(addresses)),
		log.Int("added", added),
		log.String("actor", actor.Hex()))
	return nil
}

// Remove soft-deletes an account from the allowlist. The last allowed
// admin-typed account cannot be removed.
func (e *engine) Remove(actor, address common.Address) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	account, exists := e.accounts[address]
	if !exists {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "account_not_found",
			fmt.Sprintf("account %s is not allowed", address.Hex()))
	}
	if account.Type == model.AccountTypeAdmin && e.adminCount <= 1 {
		return serviceerror.Named(serviceerror.InvariantViolationError, "last_admin_protected",
			"cannot remove the last admin account")
	}

	removed := &model.Account{
		Address:   address,
		Type:      model.AccountTypeUnknown,
		Allowed:   false,
		UpdatedAt: utils.GetCurrentTimeMillis(),
	}
	if err := e.accountStore().Upsert(removed); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	e.dropLocked(account)

	e.logger.Info("Account removed",
		log.String("address", address.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// UpdateType overwrites the classification of an allowed account. Demoting
// the sole remaining admin is rejected so the admin-count invariant cannot be
// weakened through reclassification.
func (e *engine) UpdateType(actor, address common.Address, newType model.AccountType) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	if !newType.IsValid() {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			fmt.Sprintf("invalid account type %d", newType))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	account, exists := e.accounts[address]
	if !exists {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "account_not_found",
			fmt.Sprintf("account %s is not allowed", address.Hex()))
	}
	if account.Type == model.AccountTypeAdmin && newType != model.AccountTypeAdmin && e.adminCount <= 1 {
		return serviceerror.Named(serviceerror.InvariantViolationError, "last_admin_protected",
			"cannot change the type of the last admin account")
	}

	updated := *account
	updated.Type = newType
	updated.UpdatedAt = utils.GetCurrentTimeMillis()
	if err := e.accountStore().Upsert(&updated); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	if account.Type == model.AccountTypeAdmin && newType != model.AccountTypeAdmin {
		e.adminCount--
	} else if account.Type != model.AccountTypeAdmin && newType == model.AccountTypeAdmin {
		e.adminCount++
	}
	*account = updated

	e.logger.Info("Account type updated",
		log.String("address", address.Hex()),
		log.String("account_type", newType.String()),
		log.String("actor", actor.Hex()))
	return nil
}

// Get returns the allowlist entry for an address.
func (e *engine) Get(address common.Address) (*model.Account, *serviceerror.ServiceError) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	account, exists := e.accounts[address]
	if !exists {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "account_not_found",
			fmt.Sprintf("account %s is not allowed", address.Hex()))
	}
	copied := *account
	return &copied, nil
}

// List returns all allowed accounts. Order follows the internal index and is
// not stable across removals.
func (e *engine) List() []model.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts := make([]model.Account, 0, len(e.index))
	for _, address := range e.index {
		accounts = append(accounts, *e.accounts[address])
	}
	return accounts
}

// Count returns the number of allowed accounts.
func (e *engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.index)
}

// AdminCount returns the number of allowed admin-typed accounts.
func (e *engine) AdminCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adminCount
}

// bootstrap seeds the genesis admin account, bypassing authorization.
// Only called when the allowlist is empty.
func (e *engine) bootstrap(address common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.index) > 0 {
		return nil
	}

	account := &model.Account{
		Address:   address,
		Type:      model.AccountTypeAdmin,
		Allowed:   true,
		UpdatedAt: utils.GetCurrentTimeMillis(),
	}
	if err := e.accountStore().Upsert(account); err != nil {
		return err
	}
	e.insertLocked(account)
	e.logger.Info("Bootstrap admin account admitted", log.String("address", address.Hex()))
	return nil
}

// insertLocked adds an account to the map and enumerable index.
// Caller must hold the write lock.
func (e *engine) insertLocked(account *model.Account) {
	e.accounts[account.Address] = account
	e.slot[account.Address] = len(e.index)
	e.index = append(e.index, account.Address)
	if account.Type == model.AccountTypeAdmin {
		e.adminCount++
	}
}

// dropLocked removes an account via swap-and-pop. Caller must hold the write lock.
func (e *engine) dropLocked(account *model.Account) {
	position := e.slot[account.Address]
	last := len(e.index) - 1
	if position != last {
		moved := e.index[last]
		e.index[position] = moved
		e.slot[moved] = position
	}
	e.index = e.index[:last]
	delete(e.slot, account.Address)
	delete(e.accounts, account.Address)
	if account.Type == model.AccountTypeAdmin {
		e.adminCount--
	}
}
