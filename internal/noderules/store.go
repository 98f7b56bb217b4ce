package noderules

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/noderules/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
)

// DBQuery objects for node admission persistence.
var (
	QueryUpsertNode = dbmodel.DBQuery{
		ID: "UPSERT_ADMITTED_NODE",
		Query: "INSERT INTO ADMITTED_NODE (NODE_ID, PUBKEY_HIGH, PUBKEY_LOW, NODE_TYPE, ORG_NAME, IS_ACTIVE, REMOVED, ADDED_AT) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE PUBKEY_HIGH = VALUES(PUBKEY_HIGH), PUBKEY_LOW = VALUES(PUBKEY_LOW), " +
			"NODE_TYPE = VALUES(NODE_TYPE), ORG_NAME = VALUES(ORG_NAME), IS_ACTIVE = VALUES(IS_ACTIVE), " +
			"REMOVED = VALUES(REMOVED), ADDED_AT = VALUES(ADDED_AT)",
	}

	QueryListNodes = dbmodel.DBQuery{
		ID:    "LIST_ADMITTED_NODES",
		Query: "SELECT NODE_ID, PUBKEY_HIGH, PUBKEY_LOW, NODE_TYPE, ORG_NAME, IS_ACTIVE, REMOVED, ADDED_AT FROM ADMITTED_NODE",
	}
)

// NodeStore persists peer allowlist state so the in-memory engine survives restarts.
type NodeStore interface {
	Upsert(node *model.Node) error
	ListAll() ([]model.Node, error)
}

type store struct {
	dbClient provider.DBClientInterface
}

func newNodeStore(dbClient provider.DBClientInterface) NodeStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) Upsert(node *model.Node) error {
	_, err := s.dbClient.Execute(&QueryUpsertNode,
		node.ID.Hex(), node.PubkeyHigh.Hex(), node.PubkeyLow.Hex(),
		int(node.Type), node.OrganizationName, node.IsActive, node.Removed, node.AddedAt)
	return err
}

func (s *store) ListAll() ([]model.Node, error) {
	rows, err := s.dbClient.Query(&QueryListNodes)
	if err != nil {
		return nil, err
	}

	nodes := make([]model.Node, 0, len(rows))
	for _, row := range rows {
		node := mapToNode(row)
		if node != nil {
			nodes = append(nodes, *node)
		}
	}
	return nodes, nil
}

func mapToNode(row map[string]interface{}) *model.Node {
	if row == nil {
		return nil
	}

	node := &model.Node{}

	if id, ok := row["NODE_ID"].(string); ok {
		node.ID = common.HexToHash(id)
	}
	if high, ok := row["PUBKEY_HIGH"].(string); ok {
		node.PubkeyHigh = common.HexToHash(high)
	}
	if low, ok := row["PUBKEY_LOW"].(string); ok {
		node.PubkeyLow = common.HexToHash(low)
	}
	if nodeType, ok := row["NODE_TYPE"].(int64); ok {
		node.Type = model.NodeType(nodeType)
	}
	if org, ok := row["ORG_NAME"].(string); ok {
		node.OrganizationName = org
	}
	node.IsActive = mapToBool(row["IS_ACTIVE"])
	node.Removed = mapToBool(row["REMOVED"])
	if added, ok := row["ADDED_AT"].(int64); ok {
		node.AddedAt = added
	}

	return node
}

func mapToBool(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "1"
	}
	return false
}
