package accessledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// Well-known roles gating privileged operations.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleVerifier = "verifier"
)

// RoleService defines the exported role-ledger interface. RequireRole is the
// authorization check every mutating service operation runs before any other
// validation.
type RoleService interface {
	GrantRole(actor, holder common.Address, role string) *serviceerror.ServiceError
	RevokeRole(actor, holder common.Address, role string) *serviceerror.ServiceError
	HasRole(holder common.Address, role string) (bool, *serviceerror.ServiceError)
	ListRoles(holder common.Address) ([]string, *serviceerror.ServiceError)
	RequireRole(actor common.Address, role string) *serviceerror.ServiceError
}

type roleService struct {
	stores *stores.StoreRegistry
}

func newRoleService(registry *stores.StoreRegistry) RoleService {
	return &roleService{
		stores: registry,
	}
}

func (s *roleService) roleStore() RoleStore {
	return s.stores.AccessRole.(RoleStore)
}

// GrantRole assigns a role to a holder. Admin only.
func (s *roleService) GrantRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	if err := s.RequireRole(actor, RoleAdmin); err != nil {
		return err
	}
	if !isKnownRole(role) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			fmt.Sprintf("unknown role '%s'", role))
	}
	if holder == (common.Address{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "holder address is the null address")
	}

	store := s.roleStore()
	exists, err := store.HasRole(holder, role)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if exists {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_role",
			fmt.Sprintf("holder %s already has role '%s'", holder.Hex(), role))
	}

	if err := store.GrantRole(holder, role, actor, utils.GetCurrentTimeMillis()); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	log.GetLogger().Info("Role granted",
		log.String("holder", holder.Hex()),
		log.String("role", role),
		log.String("actor", actor.Hex()))
	return nil
}

// RevokeRole removes a role from a holder. Admin only. The final admin role
// cannot be revoked; a ledger without admins cannot be administered again.
func (s *roleService) RevokeRole(actor, holder common.Address, role string) *serviceerror.ServiceError {
	if err := s.RequireRole(actor, RoleAdmin); err != nil {
		return err
	}

	store := s.roleStore()
	if role == RoleAdmin {
		count, err := store.CountRole(RoleAdmin)
		if err != nil {
			return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
		}
		has, err := store.HasRole(holder, RoleAdmin)
		if err != nil {
			return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
		}
		if has && count <= 1 {
			return serviceerror.Named(serviceerror.InvariantViolationError, "last_admin_protected",
				"cannot revoke the last admin role")
		}
	}

	removed, err := store.RevokeRole(holder, role)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !removed {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "role_not_found",
			fmt.Sprintf("holder %s does not have role '%s'", holder.Hex(), role))
	}

	log.GetLogger().Info("Role revoked",
		log.String("holder", holder.Hex()),
		log.String("role", role),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *roleService) HasRole(holder common.Address, role string) (bool, *serviceerror.ServiceError) {
	has, err := s.roleStore().HasRole(holder, role)
	if err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return has, nil
}

func (s *roleService) ListRoles(holder common.Address) ([]string, *serviceerror.ServiceError) {
	roles, err := s.roleStore().ListRoles(holder)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return roles, nil
}

// RequireRole checks that the actor holds the given role, returning a hard
// authorization failure otherwise.
func (s *roleService) RequireRole(actor common.Address, role string) *serviceerror.ServiceError {
	has, err := s.roleStore().HasRole(actor, role)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !has {
		return serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			fmt.Sprintf("actor %s lacks required role '%s'", actor.Hex(), role))
	}
	return nil
}

func isKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleVerifier:
		return true
	}
	return false
}
