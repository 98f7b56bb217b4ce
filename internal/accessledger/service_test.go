package accessledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

var (
	rootAdmin = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	holder    = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

// fakeRoleStore keeps the role ledger in memory.
type fakeRoleStore struct {
	roles map[common.Address]map[string]bool
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: make(map[common.Address]map[string]bool)}
}

func (f *fakeRoleStore) GrantRole(holder common.Address, role string, grantedBy common.Address, grantedAt int64) error {
	if f.roles[holder] == nil {
		f.roles[holder] = make(map[string]bool)
	}
	f.roles[holder][role] = true
	return nil
}

func (f *fakeRoleStore) RevokeRole(holder common.Address, role string) (bool, error) {
	if !f.roles[holder][role] {
		return false, nil
	}
	delete(f.roles[holder], role)
	return true, nil
}

func (f *fakeRoleStore) HasRole(holder common.Address, role string) (bool, error) {
	return f.roles[holder][role], nil
}

func (f *fakeRoleStore) ListRoles(holder common.Address) ([]string, error) {
	roles := make([]string, 0, len(f.roles[holder]))
	for role := range f.roles[holder] {
		roles = append(roles, role)
	}
	return roles, nil
}

func (f *fakeRoleStore) CountRole(role string) (int, error) {
	count := 0
	for _, roles := range f.roles {
		if roles[role] {
			count++
		}
	}
	return count, nil
}

func newTestRoleService(t *testing.T) (RoleService, *fakeRoleStore) {
	t.Helper()
	store := newFakeRoleStore()
	require.NoError(t, store.GrantRole(rootAdmin, RoleAdmin, rootAdmin, 0))

	registry := stores.NewStoreRegistry(nil)
	registry.AccessRole = store
	return newRoleService(registry), store
}

func TestRoleGrantAndRequire(t *testing.T) {
	svc, _ := newTestRoleService(t)

	require.Nil(t, svc.RequireRole(rootAdmin, RoleAdmin))

	err := svc.RequireRole(holder, RoleOperator)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)

	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleOperator))
	require.Nil(t, svc.RequireRole(holder, RoleOperator))

	// Holding one role grants nothing else.
	err = svc.RequireRole(holder, RoleVerifier)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)
}

func TestRoleGrantValidation(t *testing.T) {
	svc, _ := newTestRoleService(t)

	err := svc.GrantRole(holder, holder, RoleOperator)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)

	err = svc.GrantRole(rootAdmin, holder, "superuser")
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	err = svc.GrantRole(rootAdmin, common.Address{}, RoleOperator)
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleOperator))
	err = svc.GrantRole(rootAdmin, holder, RoleOperator)
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_role", err.Error)
}

func TestRoleRevoke(t *testing.T) {
	svc, _ := newTestRoleService(t)

	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleVerifier))
	require.Nil(t, svc.RevokeRole(rootAdmin, holder, RoleVerifier))

	has, serviceErr := svc.HasRole(holder, RoleVerifier)
	require.Nil(t, serviceErr)
	assert.False(t, has)

	err := svc.RevokeRole(rootAdmin, holder, RoleVerifier)
	require.NotNil(t, err)
	assert.Equal(t, "role_not_found", err.Error)
}

func TestRoleLastAdminProtected(t *testing.T) {
	svc, _ := newTestRoleService(t)

	err := svc.RevokeRole(rootAdmin, rootAdmin, RoleAdmin)
	require.NotNil(t, err)
	assert.Equal(t, "last_admin_protected", err.Error)
	assert.Equal(t, serviceerror.InvariantViolationError.Code, err.Code)

	// A second admin lifts the protection.
	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleAdmin))
	require.Nil(t, svc.RevokeRole(holder, rootAdmin, RoleAdmin))

	has, serviceErr := svc.HasRole(rootAdmin, RoleAdmin)
	require.Nil(t, serviceErr)
	assert.False(t, has)
}

func TestRoleListRoles(t *testing.T) {
	svc, _ := newTestRoleService(t)

	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleOperator))
	require.Nil(t, svc.GrantRole(rootAdmin, holder, RoleVerifier))

	roles, serviceErr := svc.ListRoles(holder)
	require.Nil(t, serviceErr)
	assert.ElementsMatch(t, []string{RoleOperator, RoleVerifier}, roles)
}
