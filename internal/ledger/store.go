package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
)

// DBQuery objects for token balance persistence.
var (
	QueryCreditBalance = dbmodel.DBQuery{
		ID: "CREDIT_TOKEN_BALANCE",
		Query: "INSERT INTO TOKEN_BALANCE (ACCOUNT_ADDRESS, BALANCE) VALUES (?, ?) " +
			"ON DUPLICATE KEY UPDATE BALANCE = BALANCE + VALUES(BALANCE)",
	}

	// QueryDebitBalance is guarded: zero affected rows means the payer either
	// does not exist or holds less than the debit amount.
	QueryDebitBalance = dbmodel.DBQuery{
		ID:    "DEBIT_TOKEN_BALANCE",
		Query: "UPDATE TOKEN_BALANCE SET BALANCE = BALANCE - ? WHERE ACCOUNT_ADDRESS = ? AND BALANCE >= ?",
	}

	QueryGetBalance = dbmodel.DBQuery{
		ID:    "GET_TOKEN_BALANCE",
		Query: "SELECT BALANCE FROM TOKEN_BALANCE WHERE ACCOUNT_ADDRESS = ?",
	}
)

// LedgerStore persists token balances. Debits are guarded at the SQL level so
// a balance can never go negative, even under concurrent transfers.
type LedgerStore interface {
	Credit(account common.Address, amount int64) error
	CreditTx(tx dbmodel.TxInterface, account common.Address, amount int64) error
	DebitTx(tx dbmodel.TxInterface, account common.Address, amount int64) (bool, error)
	BalanceOf(account common.Address) (int64, error)
}

type store struct {
	dbClient provider.DBClientInterface
}

func newLedgerStore(dbClient provider.DBClientInterface) LedgerStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) Credit(account common.Address, amount int64) error {
	_, err := s.dbClient.Execute(&QueryCreditBalance, account.Hex(), amount)
	return err
}

func (s *store) CreditTx(tx dbmodel.TxInterface, account common.Address, amount int64) error {
	_, err := tx.Exec(QueryCreditBalance.GetQuery(s.dbClient.DBType()), account.Hex(), amount)
	return err
}

func (s *store) DebitTx(tx dbmodel.TxInterface, account common.Address, amount int64) (bool, error) {
	result, err := tx.Exec(QueryDebitBalance.GetQuery(s.dbClient.DBType()), amount, account.Hex(), amount)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) BalanceOf(account common.Address) (int64, error) {
	rows, err := s.dbClient.Query(&QueryGetBalance, account.Hex())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if balance, ok := rows[0]["BALANCE"].(int64); ok {
		return balance, nil
	}
	return 0, nil
}
