package accessledger

import (
	"github.com/ethereum/go-ethereum/common"

	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
)

// DBQuery objects for role operations.
var (
	QueryGrantRole = dbmodel.DBQuery{
		ID:    "GRANT_ACCESS_ROLE",
		Query: "INSERT INTO ACCESS_ROLE (HOLDER_ADDRESS, ROLE, GRANTED_AT, GRANTED_BY) VALUES (?, ?, ?, ?)",
	}

	QueryRevokeRole = dbmodel.DBQuery{
		ID:    "REVOKE_ACCESS_ROLE",
		Query: "DELETE FROM ACCESS_ROLE WHERE HOLDER_ADDRESS = ? AND ROLE = ?",
	}

	QueryHasRole = dbmodel.DBQuery{
		ID:    "HAS_ACCESS_ROLE",
		Query: "SELECT ROLE FROM ACCESS_ROLE WHERE HOLDER_ADDRESS = ? AND ROLE = ?",
	}

	QueryListRolesByHolder = dbmodel.DBQuery{
		ID:    "LIST_ACCESS_ROLES_BY_HOLDER",
		Query: "SELECT ROLE FROM ACCESS_ROLE WHERE HOLDER_ADDRESS = ?",
	}

	QueryCountRole = dbmodel.DBQuery{
		ID:    "COUNT_ACCESS_ROLE",
		Query: "SELECT COUNT(*) as count FROM ACCESS_ROLE WHERE ROLE = ?",
	}
)

// RoleStore defines the interface for role ownership persistence.
type RoleStore interface {
	GrantRole(holder common.Address, role string, grantedBy common.Address, grantedAt int64) error
	RevokeRole(holder common.Address, role string) (bool, error)
	HasRole(holder common.Address, role string) (bool, error)
	ListRoles(holder common.Address) ([]string, error)
	CountRole(role string) (int, error)
}

type store struct {
	dbClient provider.DBClientInterface
}

func newRoleStore(dbClient provider.DBClientInterface) RoleStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) GrantRole(holder common.Address, role string, grantedBy common.Address, grantedAt int64) error {
	_, err := s.dbClient.Execute(&QueryGrantRole, holder.Hex(), role, grantedAt, grantedBy.Hex())
	return err
}

func (s *store) RevokeRole(holder common.Address, role string) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryRevokeRole, holder.Hex(), role)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) HasRole(holder common.Address, role string) (bool, error) {
	rows, err := s.dbClient.Query(&QueryHasRole, holder.Hex(), role)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *store) ListRoles(holder common.Address) ([]string, error) {
	rows, err := s.dbClient.Query(&QueryListRolesByHolder, holder.Hex())
	if err != nil {
		return nil, err
	}

	roles := make([]string, 0, len(rows))
	for _, row := range rows {
		if role, ok := row["ROLE"].(string); ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (s *store) CountRole(role string) (int, error) {
	rows, err := s.dbClient.Query(&QueryCountRole, role)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if count, ok := rows[0]["count"].(int64); ok {
		return int(count), nil
	}
	return 0, nil
}
