// Package fanout implements the fan-out engine (spec §4.6): on every
// accepted publish it persists the synthetic origin message and then one
// pending message per eligible recipient, stamping each with the
// recipient's bound remote id.
package fanout

import (
	"time"

	"github.com/syncbroker/syncd/internal/idgen"
	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
)

// Publish materializes the origin message and the per-recipient fan-out
// messages for a newly appended Change, inside the caller's publish
// transaction (spec §5: the whole set commits or rolls back together).
//
// originNodeID is the publishing node; rec and ch are the Record/Change
// the publish just produced. The origin message is created with
// ParentID=nil and is immediately terminal (acknowledged) since it is
// never delivered (spec §3 invariant 5, §4.6 step 1).
func Publish(tx store.Tx, ids idgen.Source, originNodeID string, rec *model.Record, ch *model.Change) (origin *model.Message, recipients []*model.Message, err error) {
	ts := time.Now().UTC()

	origin = &model.Message{
		ID:            ids.ID(),
		OriginID:      nil,
		DestinationID: originNodeID,
		RecordID:      rec.ID,
		ChangeID:      ch.ID,
		Method:        ch.Method,
		State:         model.MessageStateAcknowledged,
		ParentID:      nil,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if err := tx.SaveMessage(origin); err != nil {
		return nil, nil, err
	}

	nodes, err := tx.ListNodes()
	if err != nil {
		return nil, nil, err
	}

	originID := origin.ID
	for _, n := range nodes {
		if n.ID == originNodeID || !n.Read {
			// spec §4.6 step 2 / §3 invariant 6: skip the origin and
			// non-readable nodes.
			continue
		}

		var remoteID *string
		if rid, ok, err := tx.LookupRemote(n.ID, rec.ID); err != nil {
			return nil, nil, err
		} else if ok {
			remoteID = &rid
		}

		msg := &model.Message{
			ID:            ids.ID(),
			OriginID:      strPtr(originNodeID),
			DestinationID: n.ID,
			RecordID:      rec.ID,
			ChangeID:      ch.ID,
			Method:        ch.Method,
			RemoteID:      remoteID,
			State:         model.MessageStatePending,
			ParentID:      &originID,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}
		if err := tx.SaveMessage(msg); err != nil {
			return nil, nil, err
		}
		recipients = append(recipients, msg)
	}

	return origin, recipients, nil
}

func strPtr(s string) *string { return &s }
