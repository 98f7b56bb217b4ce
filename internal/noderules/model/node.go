package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NodeType classifies an admitted network peer.
type NodeType int

const (
	NodeTypeUnknown NodeType = iota
	NodeTypeValidator
	NodeTypeObserver
	NodeTypeBootnode
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeUnknown:   "unknown",
	NodeTypeValidator: "validator",
	NodeTypeObserver:  "observer",
	NodeTypeBootnode:  "bootnode",
}

func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether the value is a defined node type.
func (t NodeType) IsValid() bool {
	_, ok := nodeTypeNames[t]
	return ok
}

// ParseNodeType parses a type name into its enum value.
func ParseNodeType(name string) (NodeType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range nodeTypeNames {
		if n == normalized {
			return t, nil
		}
	}
	return NodeTypeUnknown, fmt.Errorf("unknown node type '%s'", name)
}

// DeriveNodeID computes a node's identity from the two 32-byte halves of its
// 64-byte public key.
func DeriveNodeID(pubkeyHigh, pubkeyLow common.Hash) common.Hash {
	return crypto.Keccak256Hash(pubkeyHigh.Bytes(), pubkeyLow.Bytes())
}

// Node is an entry in the peer allowlist. Removal and deactivation both clear
// IsActive; only Removed marks the terminal state that reactivation cannot
// undo.
type Node struct {
	ID               common.Hash
	PubkeyHigh       common.Hash
	PubkeyLow        common.Hash
	Type             NodeType
	OrganizationName string
	IsActive         bool
	Removed          bool
	AddedAt          int64
}

// APIView is the wire representation of a node entry.
type APIView struct {
	NodeID           string `json:"nodeId"`
	PubkeyHigh       string `json:"pubkeyHigh"`
	PubkeyLow        string `json:"pubkeyLow"`
	NodeType         string `json:"nodeType"`
	OrganizationName string `json:"organizationName"`
	IsActive         bool   `json:"isActive"`
	AddedAt          int64  `json:"addedAt"`
}

// ToAPIView converts the node to its wire representation.
func (n *Node) ToAPIView() APIView {
	return APIView{
		NodeID:           n.ID.Hex(),
		PubkeyHigh:       n.PubkeyHigh.Hex(),
		PubkeyLow:        n.PubkeyLow.Hex(),
		NodeType:         n.Type.String(),
		OrganizationName: n.OrganizationName,
		IsActive:         n.IsActive,
		AddedAt:          n.AddedAt,
	}
}
