package noderules

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/noderules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

var (
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testStranger = common.HexToAddress("0x00000000000000000000000000000000000000BB")
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

// fakeNodeStore keeps upserted records in memory.
type fakeNodeStore struct {
	records map[common.Hash]model.Node
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{records: make(map[common.Hash]model.Node)}
}

func (f *fakeNodeStore) Upsert(node *model.Node) error {
	f.records[node.ID] = *node
	return nil
}

func (f *fakeNodeStore) ListAll() ([]model.Node, error) {
	nodes := make([]model.Node, 0, len(f.records))
	for _, node := range f.records {
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func newTestNodeEngine(t *testing.T) (*engine, *fakeNodeStore) {
	t.Helper()
	store := newFakeNodeStore()
	registry := stores.NewStoreRegistry(nil)
	registry.Node = store
	return newNodeRulesEngine(registry, newFakeRoles(testAdmin)), store
}

func pubkey(suffix byte) (common.Hash, common.Hash) {
	return common.BytesToHash([]byte{0x01, suffix}), common.BytesToHash([]byte{0x02, suffix})
}

func TestNodeAddAndIsAllowed(t *testing.T) {
	eng, _ := newTestNodeEngine(t)

	high, low := pubkey(1)
	require.Nil(t, eng.Add(testAdmin, high, low, model.NodeTypeObserver, "City Hospital"))

	// Host and port never influence the decision.
	assert.True(t, eng.IsAllowed(high, low, "10.0.0.1", 30303))
	assert.True(t, eng.IsAllowed(high, low, "", 0))

	otherHigh, otherLow := pubkey(2)
	assert.False(t, eng.IsAllowed(otherHigh, otherLow, "10.0.0.1", 30303))
}

func TestNodeAddValidation(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high, low := pubkey(1)

	err := eng.Add(testStranger, high, low, model.NodeTypeObserver, "City Hospital")
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.UnauthorizedError.Code, err.Code)

	err = eng.Add(testAdmin, high, low, model.NodeType(42), "City Hospital")
	require.NotNil(t, err)
	assert.Equal(t, serviceerror.ValidationError.Code, err.Code)

	err = eng.Add(testAdmin, high, low, model.NodeTypeObserver, "   ")
	require.NotNil(t, err)
	assert.Equal(t, "empty_organization", err.Error)
}

func TestNodeDuplicateActiveIdentityRejected(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high, low := pubkey(1)

	require.Nil(t, eng.Add(testAdmin, high, low, model.NodeTypeObserver, "City Hospital"))
	err := eng.Add(testAdmin, high, low, model.NodeTypeObserver, "City Hospital")
	require.NotNil(t, err)
	assert.Equal(t, "duplicate_node", err.Error)
}

func TestNodeLastActiveValidatorCannotBeRemoved(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high, low := pubkey(1)

	require.Nil(t, eng.Add(testAdmin, high, low, model.NodeTypeValidator, "Genesis Org"))
	require.Equal(t, 1, eng.ActiveValidatorCount())

	err := eng.Remove(testAdmin, high, low)
	require.NotNil(t, err)
	assert.Equal(t, "last_validator_protected", err.Error)
	assert.Equal(t, serviceerror.InvariantViolationError.Code, err.Code)
	assert.True(t, eng.IsAllowed(high, low, "", 0))

	// Observers are never protected.
	obsHigh, obsLow := pubkey(2)
	require.Nil(t, eng.Add(testAdmin, obsHigh, obsLow, model.NodeTypeObserver, "Observer Org"))
	require.Nil(t, eng.Remove(testAdmin, obsHigh, obsLow))
}

func TestNodeLastActiveValidatorCannotBeDeactivated(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high1, low1 := pubkey(1)
	high2, low2 := pubkey(2)

	require.Nil(t, eng.Add(testAdmin, high1, low1, model.NodeTypeValidator, "Org One"))
	require.Nil(t, eng.Add(testAdmin, high2, low2, model.NodeTypeValidator, "Org Two"))
	require.Nil(t, eng.Deactivate(testAdmin, high1, low1))

	// Two validators remain in the index but only one is active; that one is
	// now protected even though the raw index still has two entries.
	assert.Equal(t, 2, eng.ValidatorCount())
	assert.Equal(t, 1, eng.ActiveValidatorCount())

	err := eng.Deactivate(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "last_validator_protected", err.Error)

	err = eng.Remove(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "last_validator_protected", err.Error)
}

func TestNodeDeactivateReactivateRoundTrip(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high1, low1 := pubkey(1)
	high2, low2 := pubkey(2)

	require.Nil(t, eng.Add(testAdmin, high1, low1, model.NodeTypeValidator, "Org One"))
	require.Nil(t, eng.Add(testAdmin, high2, low2, model.NodeTypeValidator, "Org Two"))

	require.Nil(t, eng.Deactivate(testAdmin, high2, low2))
	assert.False(t, eng.IsAllowed(high2, low2, "", 0))
	// Deactivation leaves the validator index untouched.
	assert.Equal(t, 2, eng.ValidatorCount())
	assert.Equal(t, 1, eng.ActiveValidatorCount())
	assert.Equal(t, 1, eng.ActiveCount())

	err := eng.Deactivate(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "node_not_active", err.Error)

	require.Nil(t, eng.Reactivate(testAdmin, high2, low2))
	assert.True(t, eng.IsAllowed(high2, low2, "", 0))
	assert.Equal(t, 2, eng.ActiveValidatorCount())

	err = eng.Reactivate(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "node_already_active", err.Error)
}

func TestNodeRemovalIsPermanent(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high1, low1 := pubkey(1)
	high2, low2 := pubkey(2)

	require.Nil(t, eng.Add(testAdmin, high1, low1, model.NodeTypeValidator, "Org One"))
	require.Nil(t, eng.Add(testAdmin, high2, low2, model.NodeTypeValidator, "Org Two"))
	require.Nil(t, eng.Remove(testAdmin, high2, low2))

	// Removal drops the validator index entry; deactivation would not have.
	assert.Equal(t, 1, eng.ValidatorCount())
	assert.Equal(t, 1, eng.ActiveValidatorCount())

	err := eng.Reactivate(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "node_not_found", err.Error)

	err = eng.Remove(testAdmin, high2, low2)
	require.NotNil(t, err)
	assert.Equal(t, "node_not_found", err.Error)
}

func TestNodeReAddRemovedIdentity(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high1, low1 := pubkey(1)
	high2, low2 := pubkey(2)

	require.Nil(t, eng.Add(testAdmin, high1, low1, model.NodeTypeValidator, "Org One"))
	require.Nil(t, eng.Add(testAdmin, high2, low2, model.NodeTypeValidator, "Org Two"))

	before, serviceErr := eng.Get(high2, low2)
	require.Nil(t, serviceErr)
	originalAddedAt := before.AddedAt

	require.Nil(t, eng.Remove(testAdmin, high2, low2))

	// Re-admitting the same identity as an observer: fresh classification,
	// original admission timestamp.
	require.Nil(t, eng.Add(testAdmin, high2, low2, model.NodeTypeObserver, "Org Two Reborn"))
	after, serviceErr := eng.Get(high2, low2)
	require.Nil(t, serviceErr)
	assert.Equal(t, originalAddedAt, after.AddedAt)
	assert.Equal(t, model.NodeTypeObserver, after.Type)
	assert.True(t, after.IsActive)
	assert.False(t, after.Removed)

	assert.True(t, eng.IsAllowed(high2, low2, "", 0))
	assert.Equal(t, 1, eng.ValidatorCount())
	assert.Equal(t, 2, eng.Count())
}

func TestNodeBootstrapSeedsGenesisValidator(t *testing.T) {
	eng, _ := newTestNodeEngine(t)
	high, low := pubkey(9)

	require.NoError(t, eng.bootstrap(high, low, "Genesis Health Network"))
	assert.True(t, eng.IsAllowed(high, low, "", 0))
	assert.Equal(t, 1, eng.ActiveValidatorCount())

	// A populated engine ignores further bootstrap calls.
	otherHigh, otherLow := pubkey(10)
	require.NoError(t, eng.bootstrap(otherHigh, otherLow, "Second Org"))
	assert.False(t, eng.IsAllowed(otherHigh, otherLow, "", 0))
	assert.Equal(t, 1, eng.Count())
}

func TestNodeLoadFromStoreRebuildsValidatorIndex(t *testing.T) {
	store := newFakeNodeStore()

	seed := func(suffix byte, nodeType model.NodeType, active, removed bool) common.Hash {
		high, low := pubkey(suffix)
		id := model.DeriveNodeID(high, low)
		store.records[id] = model.Node{
			ID: id, PubkeyHigh: high, PubkeyLow: low,
			Type: nodeType, OrganizationName: "Org",
			IsActive: active, Removed: removed, AddedAt: int64(suffix),
		}
		return id
	}
	activeValidator := seed(1, model.NodeTypeValidator, true, false)
	seed(2, model.NodeTypeValidator, false, false) // deactivated, still indexed
	seed(3, model.NodeTypeValidator, false, true)  // removed, not indexed
	seed(4, model.NodeTypeObserver, true, false)

	registry := stores.NewStoreRegistry(nil)
	registry.Node = store
	eng := newNodeRulesEngine(registry, newFakeRoles(testAdmin))
	require.NoError(t, eng.loadFromStore())

	assert.Equal(t, 4, eng.Count())
	assert.Equal(t, 2, eng.ActiveCount())
	assert.Equal(t, 2, eng.ValidatorCount())
	assert.Equal(t, 1, eng.ActiveValidatorCount())
	assert.Contains(t, eng.ValidatorNodeIDs(), activeValidator)
}
