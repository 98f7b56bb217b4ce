package noderules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/noderules/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// NodeRulesService is the peer admission rules engine. IsAllowed is the
// predicate the network layer consults on every inbound connection attempt;
// it is read-only, served from memory and never fails. Host and port are
// accepted for interface compatibility but play no part in the decision —
// only node identity matters.
type NodeRulesService interface {
	IsAllowed(pubkeyHigh, pubkeyLow common.Hash, host string, port int) bool

	Add(actor common.Address, pubkeyHigh, pubkeyLow common.Hash, nodeType model.NodeType, organizationName string) *serviceerror.ServiceError
	Remove(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError
	Deactivate(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError
	Reactivate(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError

	Get(pubkeyHigh, pubkeyLow common.Hash) (*model.Node, *serviceerror.ServiceError)
	List() []model.Node
	Count() int
	ActiveCount() int
	// ValidatorNodeIDs returns the raw validator index: every node added as a
	// validator and not yet removed, including deactivated ones. Callers
	// computing live validator sets must cross-check IsActive.
	ValidatorNodeIDs() []common.Hash
	// ValidatorCount is the raw index length, NOT filtered by IsActive.
	ValidatorCount() int
	// ActiveValidatorCount counts validators that are currently active; this
	// is the figure the last-validator protection is enforced against.
	ActiveValidatorCount() int
}

type engine struct {
	mu    sync.RWMutex
	nodes map[common.Hash]*model.Node
	// ids enumerates every identity ever added (soft-deleted records stay).
	ids []common.Hash
	// validatorIDs tracks "added as validator, not yet removed". Deactivation
	// leaves entries in place; removal swap-and-pops them out.
	validatorIDs         []common.Hash
	validatorSlot        map[common.Hash]int
	activeValidatorCount int

	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newNodeRulesEngine(registry *stores.StoreRegistry, authz accessledger.RoleService) *engine {
	return &engine{
		nodes:         make(map[common.Hash]*model.Node),
		validatorSlot: make(map[common.Hash]int),
		authz:         authz,
		stores:        registry,
		logger:        log.GetLogger().With(log.String(log.LoggerKeyComponentName, "NodeRules")),
	}
}

func (e *engine) nodeStore() NodeStore {
	return e.stores.Node.(NodeStore)
}

// loadFromStore hydrates the in-memory allowlist and validator index from
// persisted state.
func (e *engine) loadFromStore() error {
	nodes, err := e.nodeStore().ListAll()
	if err != nil {
		return fmt.Errorf("failed to load admitted nodes: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range nodes {
		node := nodes[i]
		e.nodes[node.ID] = &node
		e.ids = append(e.ids, node.ID)
		if node.Type == model.NodeTypeValidator && !node.Removed {
			e.appendValidatorLocked(node.ID)
			if node.IsActive {
				e.activeValidatorCount++
			}
		}
	}
	e.logger.Info("Node allowlist loaded", log.Int("nodes", len(nodes)))
	return nil
}

// IsAllowed reports whether the peer identified by the public-key halves may
// connect. Host and port are ignored.
func (e *engine) IsAllowed(pubkeyHigh, pubkeyLow common.Hash, host string, port int) bool {
	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.RLock()
	defer e.mu.RUnlock()
	node, ok := e.nodes[id]
	return ok && node.IsActive
}

// Add admits a new peer. Admin only. Re-adding a previously removed identity
// succeeds with fresh state, but the original admission timestamp is kept.
func (e *engine) Add(actor common.Address, pubkeyHigh, pubkeyLow common.Hash, nodeType model.NodeType, organizationName string) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	if !nodeType.IsValid() {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			fmt.Sprintf("invalid node type %d", nodeType))
	}
	if strings.TrimSpace(organizationName) == "" {
		return serviceerror.Named(serviceerror.ValidationError, "empty_organization",
			"organization name must not be blank")
	}

	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, exists := e.nodes[id]
	if exists && existing.IsActive {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_node",
			fmt.Sprintf("an active node already exists at identity %s", id.Hex()))
	}

	node := &model.Node{
		ID:               id,
		PubkeyHigh:       pubkeyHigh,
		PubkeyLow:        pubkeyLow,
		Type:             nodeType,
		OrganizationName: organizationName,
		IsActive:         true,
		AddedAt:          utils.GetCurrentTimeMillis(),
	}
	if exists {
		// AddedAt is never reset for a known identity.
		node.AddedAt = existing.AddedAt
	}

	if err := e.nodeStore().Upsert(node); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	if exists {
		// Overwriting a soft-deleted record: retire its stale validator
		// index entry before reclassifying.
		if _, indexed := e.validatorSlot[id]; indexed {
			e.dropValidatorLocked(id)
			if existing.IsActive && existing.Type == model.NodeTypeValidator {
				e.activeValidatorCount--
			}
		}
	} else {
		e.ids = append(e.ids, id)
	}
	e.nodes[id] = node
	if nodeType == model.NodeTypeValidator {
		e.appendValidatorLocked(id)
		e.activeValidatorCount++
	}

	e.logger.Info("Node admitted",
		log.String("node_id", id.Hex()),
		log.String("node_type", nodeType.String()),
		log.String("organization", organizationName),
		log.String("actor", actor.Hex()))
	return nil
}

// Remove permanently soft-deletes a peer. Admin only. The last active
// validator cannot be removed.
func (e *engine) Remove(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}

	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, exists := e.nodes[id]
	if !exists || !node.IsActive {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "node_not_found",
			fmt.Sprintf("no active node at identity %s", id.Hex()))
	}
	if node.Type == model.NodeTypeValidator && e.activeValidatorCount <= 1 {
		return serviceerror.Named(serviceerror.InvariantViolationError, "last_validator_protected",
			"cannot remove the last active validator")
	}

	updated := *node
	updated.IsActive = false
	updated.Removed = true
	if err := e.nodeStore().Upsert(&updated); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	*node = updated
	if node.Type == model.NodeTypeValidator {
		e.dropValidatorLocked(id)
		e.activeValidatorCount--
	}

	e.logger.Info("Node removed",
		log.String("node_id", id.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// Deactivate temporarily suspends a peer. Admin only. The validator index is
// deliberately left untouched; it tracks "ever-validator, not yet removed".
func (e *engine) Deactivate(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}

	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, exists := e.nodes[id]
	if !exists || !node.IsActive {
		return serviceerror.Named(serviceerror.ConflictError, "node_not_active",
			fmt.Sprintf("node %s is not active", id.Hex()))
	}
	if node.Type == model.NodeTypeValidator && e.activeValidatorCount <= 1 {
		return serviceerror.Named(serviceerror.InvariantViolationError, "last_validator_protected",
			"cannot deactivate the last active validator")
	}

	updated := *node
	updated.IsActive = false
	if err := e.nodeStore().Upsert(&updated); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	*node = updated
	if node.Type == model.NodeTypeValidator {
		e.activeValidatorCount--
	}

	e.logger.Info("Node deactivated",
		log.String("node_id", id.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// Reactivate resumes a previously deactivated peer. Admin only. Removal is
// permanent: a removed identity reads as never-present here.
func (e *engine) Reactivate(actor common.Address, pubkeyHigh, pubkeyLow common.Hash) *serviceerror.ServiceError {
	if err := e.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}

	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, exists := e.nodes[id]
	if !exists || node.Removed {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "node_not_found",
			fmt.Sprintf("no reactivatable node at identity %s", id.Hex()))
	}
	if node.IsActive {
		return serviceerror.Named(serviceerror.ConflictError, "node_already_active",
			fmt.Sprintf("node %s is already active", id.Hex()))
	}

	updated := *node
	updated.IsActive = true
	if err := e.nodeStore().Upsert(&updated); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	*node = updated
	if node.Type == model.NodeTypeValidator {
		e.activeValidatorCount++
	}

	e.logger.Info("Node reactivated",
		log.String("node_id", id.Hex()),
		log.String("actor", actor.Hex()))
	return nil
}

// Get returns the node record at the given identity.
func (e *engine) Get(pubkeyHigh, pubkeyLow common.Hash) (*model.Node, *serviceerror.ServiceError) {
	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)

	e.mu.RLock()
	defer e.mu.RUnlock()

	node, exists := e.nodes[id]
	if !exists {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "node_not_found",
			fmt.Sprintf("no node at identity %s", id.Hex()))
	}
	copied := *node
	return &copied, nil
}

// List returns every node record, including inactive and removed ones.
func (e *engine) List() []model.Node {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nodes := make([]model.Node, 0, len(e.ids))
	for _, id := range e.ids {
		nodes = append(nodes, *e.nodes[id])
	}
	return nodes
}

// Count returns the total number of known node identities.
func (e *engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

// ActiveCount returns the number of currently active nodes.
func (e *engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := 0
	for _, id := range e.ids {
		if e.nodes[id].IsActive {
			active++
		}
	}
	return active
}

func (e *engine) ValidatorNodeIDs() []common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]common.Hash, len(e.validatorIDs))
	copy(ids, e.validatorIDs)
	return ids
}

func (e *engine) ValidatorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.validatorIDs)
}

func (e *engine) ActiveValidatorCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeValidatorCount
}

// bootstrap seeds the genesis validator, bypassing authorization.
// Only called when the allowlist is empty.
func (e *engine) bootstrap(pubkeyHigh, pubkeyLow common.Hash, organizationName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ids) > 0 {
		return nil
	}

	id := model.DeriveNodeID(pubkeyHigh, pubkeyLow)
	node := &model.Node{
		ID:               id,
		PubkeyHigh:       pubkeyHigh,
		PubkeyLow:        pubkeyLow,
		Type:             model.NodeTypeValidator,
		OrganizationName: organizationName,
		IsActive:         true,
		AddedAt:          utils.GetCurrentTimeMillis(),
	}
	if err := e.nodeStore().Upsert(node); err != nil {
		return err
	}

	e.nodes[id] = node
	e.ids = append(e.ids, id)
	e.appendValidatorLocked(id)
	e.activeValidatorCount++
	e.logger.Info("Bootstrap validator admitted", log.String("node_id", id.Hex()))
	return nil
}

// appendValidatorLocked adds an id to the validator index. Caller must hold
// the write lock.
func (e *engine) appendValidatorLocked(id common.Hash) {
	e.validatorSlot[id] = len(e.validatorIDs)
	e.validatorIDs = append(e.validatorIDs, id)
}

// dropValidatorLocked removes an id from the validator index via
// swap-and-pop. Caller must hold the write lock.
func (e *engine) dropValidatorLocked(id common.Hash) {
	position, indexed := e.validatorSlot[id]
	if !indexed {
		return
	}
	last := len(e.validatorIDs) - 1
	if position != last {
		moved := e.validatorIDs[last]
		e.validatorIDs[position] = moved
		e.validatorSlot[moved] = position
	}
	e.validatorIDs = e.validatorIDs[:last]
	delete(e.validatorSlot, id)
}
