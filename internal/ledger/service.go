package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// ErrInsufficientFunds is returned by TransferFromTx when the payer's balance
// cannot cover the amount. Callers composing transfers into a larger
// transaction map it to their own rejection and roll everything back.
var ErrInsufficientFunds = errors.New("insufficient funds")

// LedgerService is the token accounting collaborator. Transfers only exist in
// transaction-composed form: payments are always part of a larger atomic
// operation and must never commit on their own.
type LedgerService interface {
	TransferFromTx(tx dbmodel.TxInterface, payer, payee common.Address, amount int64) error
	BalanceOf(account common.Address) (int64, *serviceerror.ServiceError)
	Mint(actor common.Address, account common.Address, amount int64) *serviceerror.ServiceError
}

type ledgerService struct {
	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newLedgerService(registry *stores.StoreRegistry, authz accessledger.RoleService) LedgerService {
	return &ledgerService{
		authz:  authz,
		stores: registry,
		logger: log.GetLogger().With(log.String(log.LoggerKeyComponentName, "Ledger")),
	}
}

func (s *ledgerService) ledgerStore() LedgerStore {
	return s.stores.Ledger.(LedgerStore)
}

// TransferFromTx moves tokens from payer to payee inside the caller's
// transaction. The debit is guarded; ErrInsufficientFunds aborts without any
// writes of its own, leaving rollback to the caller.
func (s *ledgerService) TransferFromTx(tx dbmodel.TxInterface, payer, payee common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount must not be negative, got %d", amount)
	}
	if amount == 0 {
		return nil
	}

	store := s.ledgerStore()
	debited, err := store.DebitTx(tx, payer, amount)
	if err != nil {
		return err
	}
	if !debited {
		return fmt.Errorf("payer %s: %w", payer.Hex(), ErrInsufficientFunds)
	}
	return store.CreditTx(tx, payee, amount)
}

func (s *ledgerService) BalanceOf(account common.Address) (int64, *serviceerror.ServiceError) {
	balance, err := s.ledgerStore().BalanceOf(account)
	if err != nil {
		return 0, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return balance, nil
}

// Mint credits freshly created tokens to an account. Admin only.
func (s *ledgerService) Mint(actor common.Address, account common.Address, amount int64) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "account is the null address")
	}
	if amount <= 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "mint amount must be positive")
	}

	if err := s.ledgerStore().Credit(account, amount); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Tokens minted",
		log.String("account", account.Hex()),
		log.Int64("amount", amount),
		log.String("actor", actor.Hex()))
	return nil
}
