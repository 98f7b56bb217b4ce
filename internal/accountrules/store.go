package accountrules

import (
	"github.com/medgrid/health-exchange/internal/accountrules/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"

	"github.com/ethereum/go-ethereum/common"
)

// DBQuery objects for account admission persistence.
var (
	QueryUpsertAccount = dbmodel.DBQuery{
		ID: "UPSERT_ADMITTED_ACCOUNT",
		Query: "INSERT INTO ADMITTED_ACCOUNT (ADDRESS, ACCOUNT_TYPE, ALLOWED, UPDATED_AT) VALUES (?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE ACCOUNT_TYPE = VALUES(ACCOUNT_TYPE), ALLOWED = VALUES(ALLOWED), UPDATED_AT = VALUES(UPDATED_AT)",
	}

	QueryListAllowedAccounts = dbmodel.DBQuery{
		ID:    "LIST_ALLOWED_ACCOUNTS",
		Query: "SELECT ADDRESS, ACCOUNT_TYPE, ALLOWED, UPDATED_AT FROM ADMITTED_ACCOUNT WHERE ALLOWED = TRUE",
	}
)

// AccountStore persists allowlist state so the in-memory engine survives restarts.
type AccountStore interface {
	Upsert(account *model.Account) error
	ListAllowed() ([]model.Account, error)
}

type store struct {
	dbClient provider.DBClientInterface
}

func newAccountStore(dbClient provider.DBClientInterface) AccountStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) Upsert(account *model.Account) error {
	_, err := s.dbClient.Execute(&QueryUpsertAccount,
		account.Address.Hex(), int(account.Type), account.Allowed, account.UpdatedAt)
	return err
}

func (s *store) ListAllowed() ([]model.Account, error) {
	rows, err := s.dbClient.Query(&QueryListAllowedAccounts)
	if err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, row := range rows {
		account := mapToAccount(row)
		if account != nil {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func mapToAccount(row map[string]interface{}) *model.Account {
	if row == nil {
		return nil
	}

	account := &model.Account{}

	if addr, ok := row["ADDRESS"].(string); ok {
		account.Address = common.HexToAddress(addr)
	}
	if accountType, ok := row["ACCOUNT_TYPE"].(int64); ok {
		account.Type = model.AccountType(accountType)
	}
	switch allowed := row["ALLOWED"].(type) {
	case bool:
		account.Allowed = allowed
	case int64:
		account.Allowed = allowed != 0
	case string:
		account.Allowed = allowed == "1"
	}
	if updated, ok := row["UPDATED_AT"].(int64); ok {
		account.UpdatedAt = updated
	}

	return account
}
