// Package engine implements the node controller (spec §4.7): the public
// contract — send, fetch, ack, fail, has_pending, sync — that composes
// the record/change model, the remote-id map, the message queue, and the
// fan-out engine into the operations a transport layer calls.
//
// Every operation takes its network scope implicitly through the Engine
// value (one Engine per storage scope) and its node explicitly as a
// parameter — no ambient "current network" state (spec §9).
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syncbroker/syncd/internal/fanout"
	"github.com/syncbroker/syncd/internal/idgen"
	"github.com/syncbroker/syncd/internal/metrics"
	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/queue"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// Engine is the node controller for one network's storage scope.
type Engine struct {
	store   store.Store
	ids     idgen.Source
	queue   *queue.Queue
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default package logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches a metrics.Metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an Engine over s, minting ids from ids.
func New(s store.Store, ids idgen.Source, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		ids:   ids,
		queue: queue.New(s),
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateNetwork persists the single configuration record for this scope.
func (e *Engine) CreateNetwork(ctx context.Context, n *model.Network) error {
	if n.ID == "" {
		n.ID = e.ids.ID()
	}
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	return e.store.SaveNetwork(ctx, n)
}

// UpdateNetwork mutates the network's configuration (name, policy flags,
// schema).
func (e *Engine) UpdateNetwork(ctx context.Context, n *model.Network) error {
	n.UpdatedAt = time.Now().UTC()
	return e.store.UpdateNetwork(ctx, n)
}

// GetNetwork returns the network for this scope.
func (e *Engine) GetNetwork(ctx context.Context) (*model.Network, error) {
	n, ok, err := e.store.GetNetwork(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.NotFound("network not found")
	}
	return n, nil
}

// CreateNode registers a new participant. Nodes are created explicitly
// and are never auto-destroyed (spec §3).
func (e *Engine) CreateNode(ctx context.Context, n *model.Node) error {
	if n.ID == "" {
		n.ID = e.ids.ID()
	}
	n.CreatedAt = time.Now().UTC()
	return e.store.SaveNode(ctx, n)
}

// UpdateNode mutates a node's name or capability flags.
func (e *Engine) UpdateNode(ctx context.Context, n *model.Node) error {
	return e.store.UpdateNode(ctx, n)
}

// GetNode returns a single node.
func (e *Engine) GetNode(ctx context.Context, nodeID string) (*model.Node, error) {
	n, ok, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.NotFound("node %s not found", nodeID)
	}
	return n, nil
}

// ListNodes returns every node registered in the network.
func (e *Engine) ListNodes(ctx context.Context) ([]*model.Node, error) {
	return e.store.ListNodes(ctx)
}

// Send publishes a mutation from node and returns the synthetic origin
// message (spec §4.7). It validates the node's capability for method,
// enforces fetch_before_send, and resolves the target record per §4.4's
// precedence rule before opening a transaction; it then appends the
// Change, fans it out, and binds the publisher's remote id inside one
// storage transaction, so a failed publish leaves no partial state.
func (e *Engine) Send(ctx context.Context, nodeID string, method model.Method, payload map[string]any, recordID, remoteID *string) (*model.Message, error) {
	node, ok, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.NotFound("node %s not found", nodeID)
	}
	if !node.Authorized(method) {
		return nil, syncerr.NotAuthorized("node %s is not authorized for method %s", nodeID, method)
	}

	net, err := e.GetNetwork(ctx)
	if err != nil {
		return nil, err
	}
	if net.FetchBeforeSend {
		pending, err := e.queue.HasPending(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		if pending > 0 {
			return nil, syncerr.FetchBeforeSend("node %s has %d pending message(s); fetch before sending", nodeID, pending)
		}
	}

	targetRecordID, err := e.resolvePublishTarget(ctx, nodeID, recordID, remoteID)
	if err != nil {
		return nil, err
	}

	var origin *model.Message
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		rec, ch, err := applyChange(tx, e.ids, targetRecordID, method, payload)
		if err != nil {
			return err
		}

		originMsg, recipients, err := fanout.Publish(tx, e.ids, nodeID, rec, ch)
		if err != nil {
			return err
		}

		if remoteID != nil && *remoteID != "" {
			if err := tx.BindRemote(nodeID, rec.ID, *remoteID); err != nil {
				return err
			}
		}

		if e.metrics != nil {
			e.metrics.ObservePublish(len(recipients))
		}
		origin = originMsg
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"node": nodeID, "method": method}).Warn("publish rejected")
		return nil, err
	}

	e.log.WithFields(logrus.Fields{"node": nodeID, "method": method, "record_id": origin.RecordID}).Info("publish accepted")
	return origin, nil
}

// resolvePublishTarget implements spec §4.4's resolution precedence: an
// explicit record_id always wins; otherwise a supplied remote_id resolves
// against the publisher's own remote map; otherwise the publish is a
// creation. If both are supplied and remote_id resolves to a different
// record, that is a RemoteConflictError (spec §9 open question).
func (e *Engine) resolvePublishTarget(ctx context.Context, nodeID string, recordID, remoteID *string) (string, error) {
	if recordID != nil && *recordID != "" {
		if remoteID != nil && *remoteID != "" {
			if resolved, ok, err := e.store.ResolveRemote(ctx, nodeID, *remoteID); err != nil {
				return "", err
			} else if ok && resolved != *recordID {
				return "", syncerr.RemoteConflict("remote id %s resolves to record %s, not %s", *remoteID, resolved, *recordID)
			}
		}
		return *recordID, nil
	}
	if remoteID != nil && *remoteID != "" {
		if resolved, ok, err := e.store.ResolveRemote(ctx, nodeID, *remoteID); err != nil {
			return "", err
		} else if ok {
			return resolved, nil
		}
	}
	return "", nil
}

// Fetch returns the next pending message for node, or nil if none is
// pending (spec §4.5, §4.7).
func (e *Engine) Fetch(ctx context.Context, nodeID string) (*model.Message, error) {
	node, err := e.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := queue.EnsureReadable(node); err != nil {
		return nil, err
	}

	msg, ok, err := e.queue.Fetch(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if e.metrics != nil {
		e.metrics.ObserveFetch()
	}
	return msg, nil
}

// Ack acknowledges delivery of a sent message, optionally binding the
// node's remote id for the record (spec §4.5, §4.7).
func (e *Engine) Ack(ctx context.Context, nodeID, messageID string, remoteID *string) (*model.Message, error) {
	msg, err := e.queue.Ack(ctx, nodeID, messageID, remoteID)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveAck()
	}
	return msg, nil
}

// Fail records a delivery failure for a sent message. There is no
// automatic retry; Sync is the retry mechanism (spec §4.5, §4.7).
func (e *Engine) Fail(ctx context.Context, nodeID, messageID string, reason *string) (*model.Message, error) {
	msg, err := e.queue.Fail(ctx, nodeID, messageID, reason)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveFail()
	}
	return msg, nil
}

// HasPending counts node's pending messages (spec §3 invariant 7, §4.7).
func (e *Engine) HasPending(ctx context.Context, nodeID string) (int, error) {
	return e.queue.HasPending(ctx, nodeID)
}

// Sync reseeds node: every record not already in flight or delivered to
// it gets a fresh pending "create" message carrying the current head
// Change, stamped with node's bound remote id (spec §4.7). Replaying Sync
// while messages are still pending is a no-op for those records
// (idempotence); records a prior Fail left behind are re-enqueued.
func (e *Engine) Sync(ctx context.Context, nodeID string) error {
	node, err := e.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}

	enqueued := 0
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		seen, err := tx.SeenChangeIDs(nodeID)
		if err != nil {
			return err
		}
		records, err := tx.ListRecords()
		if err != nil {
			return err
		}

		ts := time.Now().UTC()
		for _, rec := range records {
			head, ok, err := tx.Head(rec.ID)
			if err != nil {
				return err
			}
			if !ok || seen[head.ID] {
				continue
			}

			var remoteID *string
			if rid, ok, err := tx.LookupRemote(nodeID, rec.ID); err != nil {
				return err
			} else if ok {
				remoteID = &rid
			}

			msg := &model.Message{
				ID:            e.ids.ID(),
				DestinationID: nodeID,
				RecordID:      rec.ID,
				ChangeID:      head.ID,
				Method:        model.MethodCreate,
				RemoteID:      remoteID,
				State:         model.MessageStatePending,
				CreatedAt:     ts,
				UpdatedAt:     ts,
			}
			if err := tx.SaveMessage(msg); err != nil {
				return err
			}
			enqueued++
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"node": node.ID, "enqueued": enqueued}).Info("sync reseed completed")
	return nil
}
