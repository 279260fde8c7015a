// Package queue implements the per-node message delivery queue (spec
// §4.5): fetch claims the oldest pending message and moves it to "sent";
// ack and fail move a sent message to a terminal state. All atomicity
// guarantees come from the underlying store.Store; this package only adds
// the ordering and precondition semantics spec §4.5 names.
package queue

import (
	"context"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// Queue is the per-node delivery queue view over a Store.
type Queue struct {
	store store.Store
}

// New returns a Queue backed by s.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// Fetch returns the oldest pending message destined to nodeID, by
// creation timestamp (ties broken by id), and atomically transitions it
// to "sent". It returns ok=false when the node has no pending messages —
// the transport layer translates that to "no content" (spec §4.5, §6).
func (q *Queue) Fetch(ctx context.Context, nodeID string) (*model.Message, bool, error) {
	return q.store.FetchNextPending(ctx, nodeID)
}

// Ack transitions a "sent" message destined to nodeID to "acknowledged".
// If remoteID is non-empty it binds (nodeID, message.RecordID) ->
// remoteID in the remote-id map (spec §4.4, §4.5).
func (q *Queue) Ack(ctx context.Context, nodeID, messageID string, remoteID *string) (*model.Message, error) {
	msg, err := q.store.TransitionMessage(ctx, nodeID, messageID, model.MessageStateAcknowledged, nil)
	if err != nil {
		return nil, err
	}
	if remoteID != nil && *remoteID != "" {
		if err := q.store.BindRemote(ctx, nodeID, msg.RecordID, *remoteID); err != nil {
			return nil, err
		}
		msg.RemoteID = remoteID
	}
	return msg, nil
}

// Fail transitions a "sent" message destined to nodeID to "failed",
// recording reason. There is no automatic retry; a subsequent sync is the
// retry mechanism (spec §4.5).
func (q *Queue) Fail(ctx context.Context, nodeID, messageID string, reason *string) (*model.Message, error) {
	return q.store.TransitionMessage(ctx, nodeID, messageID, model.MessageStateFailed, reason)
}

// HasPending counts pending messages destined to nodeID (spec §3
// invariant 7).
func (q *Queue) HasPending(ctx context.Context, nodeID string) (int, error) {
	return q.store.HasPending(ctx, nodeID)
}

// EnsureReadable returns syncerr.ErrNotAuthorized if n is not readable —
// the engine calls it before Fetch so the queue never claims work for a
// node with read=false. It does not check that the node exists; the
// caller has already loaded n.
func EnsureReadable(n *model.Node) error {
	if !n.Read {
		return syncerr.NotAuthorized("node %s is not authorized to read", n.ID)
	}
	return nil
}
