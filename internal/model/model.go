// Package model defines the entities the synchronization engine operates
// on: networks, nodes, records, changes, messages, and remote-id bindings.
package model

import "time"

// Method is the kind of mutation carried by a Change or a Message.
type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// MessageState is a Message's position in the delivery state machine.
//
//	pending -> sent -> {acknowledged, failed}
type MessageState string

const (
	MessageStatePending      MessageState = "pending"
	MessageStateSent         MessageState = "sent"
	MessageStateAcknowledged MessageState = "acknowledged"
	MessageStateFailed       MessageState = "failed"
)

// Network is the replication group configuration. Exactly one exists per
// storage scope; its identity is immutable once created.
type Network struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	FetchBeforeSend bool            `json:"fetch_before_send"`
	Schema          map[string]any  `json:"schema,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Node is a participant in a network, gated by per-method capability flags.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Create    bool      `json:"create"`
	Read      bool      `json:"read"`
	Update    bool      `json:"update"`
	Delete    bool      `json:"delete"`
	CreatedAt time.Time `json:"created_at"`
}

// Authorized reports whether the node's capability flags permit method m.
func (n *Node) Authorized(m Method) bool {
	switch m {
	case MethodCreate:
		return n.Create
	case MethodUpdate:
		return n.Update
	case MethodDelete:
		return n.Delete
	default:
		return false
	}
}

// Record is the logical object being synchronized. It is never hard
// deleted; Deleted plus a terminal Change marks it gone.
type Record struct {
	ID      string `json:"id"`
	HeadID  string `json:"head_id"`
	Deleted bool   `json:"deleted"`
}

// Change is an immutable, append-only payload revision for one Record.
// Version starts at 1 and increases by 1 per accepted mutation, gap-free.
type Change struct {
	ID        string         `json:"id"`
	RecordID  string         `json:"record_id"`
	Version   int            `json:"version"`
	Method    Method         `json:"method"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Message is a single per-destination delivery of a Change.
type Message struct {
	ID            string       `json:"id"`
	OriginID      *string      `json:"origin_id,omitempty"`
	DestinationID string       `json:"destination_id"`
	RecordID      string       `json:"record_id"`
	ChangeID      string       `json:"change_id"`
	Method        Method       `json:"method"`
	RemoteID      *string      `json:"remote_id,omitempty"`
	State         MessageState `json:"state"`
	ParentID      *string      `json:"parent_id,omitempty"`
	Reason        *string      `json:"reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsOrigin reports whether m is the synthetic fan-out anchor, never itself
// delivered to a node.
func (m *Message) IsOrigin() bool {
	return m.ParentID == nil
}

// Remote is the bidirectional (node, record) <-> node-local-id binding.
type Remote struct {
	NodeID   string `json:"node_id"`
	RecordID string `json:"record_id"`
	RemoteID string `json:"remote_id"`
}
