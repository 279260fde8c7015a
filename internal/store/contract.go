// Package store defines the storage-agnostic persistence contract the
// synchronization engine is built against (spec §4.1). Concrete backends
// — an in-memory one for tests, a relational one, and a document-store
// one — all satisfy Store; the engine never type-asserts down to a
// specific backend.
package store

import (
	"context"

	"github.com/syncbroker/syncd/internal/model"
)

// Tx is the unit-of-work a Store hands to Store.WithTx. Every write made
// through a Tx is observed atomically by subsequent reads: either all of
// it commits, or none of it does (spec §4.1, §5).
type Tx interface {
	// GetRecord returns the record, or ok=false if it does not exist.
	GetRecord(recordID string) (rec *model.Record, ok bool, err error)

	// PutRecord creates or updates a Record's head state.
	PutRecord(rec *model.Record) error

	// AppendChange appends an immutable Change. The caller guarantees
	// Version is current+1 for the record.
	AppendChange(ch *model.Change) error

	// ResolveRemote translates a node-local remote id into the engine's
	// record id.
	ResolveRemote(nodeID, remoteID string) (recordID string, ok bool, err error)

	// LookupRemote returns the remote id a node has bound to a record, if
	// any.
	LookupRemote(nodeID, recordID string) (remoteID string, ok bool, err error)

	// BindRemote upserts the (nodeID, recordID) -> remoteID mapping.
	// Returns syncerr.ErrRemoteConflict if remoteID is already bound to a
	// different record for this node.
	BindRemote(nodeID, recordID, remoteID string) error

	// ListNodes returns every node in the network.
	ListNodes() ([]*model.Node, error)

	// GetNode returns a single node, or ok=false if it does not exist.
	GetNode(nodeID string) (n *model.Node, ok bool, err error)

	// SaveMessage persists a new Message (origin or fan-out).
	SaveMessage(msg *model.Message) error

	// SeenChangeIDs returns the set of change ids already pending, sent,
	// or acknowledged for a destination node — i.e. not terminally
	// failed. Sync uses this to skip records that are in flight or
	// already delivered and only re-enqueue ones a prior delivery
	// failed (spec §4.7: "idempotent ... produces no duplicates", "used
	// ... to retry after fail").
	SeenChangeIDs(destinationID string) (map[string]bool, error)

	// ListRecords returns every record in the network, for sync's
	// reseed sweep.
	ListRecords() ([]*model.Record, error)

	// Head returns the latest Change for a record, or ok=false if the
	// record has none yet.
	Head(recordID string) (ch *model.Change, ok bool, err error)
}

// Store is the persistence contract. All methods are safe for concurrent
// use; WithTx provides the serializable-or-better publish transaction
// spec §5 requires, and FetchNextPending provides the compare-and-set
// claim spec §4.1/§4.5 require.
type Store interface {
	// WithTx runs fn inside a transaction covering {Record upsert, Change
	// insert, origin Message insert, fan-out Message inserts}. If fn
	// returns an error the transaction rolls back and no partial state
	// is observable (spec §5: "no Change without fan-out, no orphaned
	// Messages").
	WithTx(ctx context.Context, fn func(Tx) error) error

	// GetNetwork returns the single Network for this storage scope.
	GetNetwork(ctx context.Context) (*model.Network, bool, error)

	// SaveNetwork persists a newly created Network.
	SaveNetwork(ctx context.Context, n *model.Network) error

	// UpdateNetwork persists mutable Network configuration.
	UpdateNetwork(ctx context.Context, n *model.Network) error

	// SaveNode persists a newly created Node.
	SaveNode(ctx context.Context, n *model.Node) error

	// UpdateNode persists mutable Node configuration (capability flags,
	// name).
	UpdateNode(ctx context.Context, n *model.Node) error

	// GetNode returns a single node, or ok=false if it does not exist.
	GetNode(ctx context.Context, nodeID string) (n *model.Node, ok bool, err error)

	// ListNodes returns every node in the network.
	ListNodes(ctx context.Context) ([]*model.Node, error)

	// GetChange returns a single Change by id.
	GetChange(ctx context.Context, changeID string) (*model.Change, bool, error)

	// Head returns the latest Change for a record.
	Head(ctx context.Context, recordID string) (*model.Change, bool, error)

	// GetRecord returns a single Record by id.
	GetRecord(ctx context.Context, recordID string) (*model.Record, bool, error)

	// ListRecords returns every record in the network.
	ListRecords(ctx context.Context) ([]*model.Record, error)

	// GetMessage returns a single Message by id.
	GetMessage(ctx context.Context, messageID string) (*model.Message, bool, error)

	// FetchNextPending atomically transitions the oldest pending message
	// destined to nodeID to "sent" and returns it. Returns ok=false if
	// none is pending. Concurrent callers racing on the same message
	// observe at most one success (spec §4.1, §8 property 4).
	FetchNextPending(ctx context.Context, nodeID string) (msg *model.Message, ok bool, err error)

	// TransitionMessage moves a message from "sent" to a terminal state,
	// recording reason for "failed". It fails with syncerr.ErrNotFound if
	// the message does not exist or is not destined to nodeID, and with
	// syncerr.ErrState if it is not currently in "sent".
	TransitionMessage(ctx context.Context, nodeID, messageID string, to model.MessageState, reason *string) (*model.Message, error)

	// HasPending counts pending messages destined to nodeID.
	HasPending(ctx context.Context, nodeID string) (int, error)

	// BindRemote upserts a (nodeID, recordID) -> remoteID mapping outside
	// of a publish transaction (used by ack). Returns
	// syncerr.ErrRemoteConflict if remoteID is already bound to a
	// different record for this node.
	BindRemote(ctx context.Context, nodeID, recordID, remoteID string) error

	// LookupRemote returns the remote id a node has bound to a record.
	LookupRemote(ctx context.Context, nodeID, recordID string) (remoteID string, ok bool, err error)

	// ResolveRemote translates a node-local remote id into a record id.
	ResolveRemote(ctx context.Context, nodeID, remoteID string) (recordID string, ok bool, err error)

	// Close releases backend resources.
	Close() error
}
