package docstore

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/syncbroker/syncd/internal/model"
)

// docTx implements store.Tx over a single badger.Txn for the duration of
// one WithTx call.
type docTx struct {
	txn *badger.Txn
}

func (tx *docTx) GetRecord(recordID string) (*model.Record, bool, error) {
	item, err := tx.txn.Get(recordKey(recordID))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec model.Record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (tx *docTx) PutRecord(rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.txn.Set(recordKey(rec.ID), data)
}

func (tx *docTx) AppendChange(ch *model.Change) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := tx.txn.Set(changeKey(ch.ID), data); err != nil {
		return err
	}
	return tx.txn.Set(changeVersionKey(ch.RecordID, ch.Version), []byte(ch.ID))
}

func (tx *docTx) ResolveRemote(nodeID, remoteID string) (string, bool, error) {
	item, err := tx.txn.Get(remoteAliasKey(nodeID, remoteID))
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var recordID string
	if err := item.Value(func(val []byte) error { recordID = string(val); return nil }); err != nil {
		return "", false, err
	}
	return recordID, true, nil
}

func (tx *docTx) LookupRemote(nodeID, recordID string) (string, bool, error) {
	item, err := tx.txn.Get(remotePairKey(nodeID, recordID))
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var remoteID string
	if err := item.Value(func(val []byte) error { remoteID = string(val); return nil }); err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

func (tx *docTx) BindRemote(nodeID, recordID, remoteID string) error {
	return bindRemote(tx.txn, nodeID, recordID, remoteID)
}

func (tx *docTx) ListNodes() ([]*model.Node, error) {
	var out []*model.Node
	err := iteratePrefix(tx.txn, nodeListPrefix(), func(val []byte) error {
		var n model.Node
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		out = append(out, &n)
		return nil
	})
	return out, err
}

func (tx *docTx) GetNode(nodeID string) (*model.Node, bool, error) {
	item, err := tx.txn.Get(nodeKey(nodeID))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var n model.Node
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &n) }); err != nil {
		return nil, false, err
	}
	return &n, true, nil
}

func (tx *docTx) SaveMessage(msg *model.Message) error {
	if err := putMessage(tx.txn, msg); err != nil {
		return err
	}
	if msg.State == model.MessageStatePending {
		key := messagePendingKey(msg.DestinationID, msg.CreatedAt.UnixNano(), msg.ID)
		if err := tx.txn.Set(key, []byte(msg.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *docTx) SeenChangeIDs(destinationID string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := iteratePrefix(tx.txn, messageListPrefix(), func(val []byte) error {
		var m model.Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.DestinationID == destinationID && m.State != model.MessageStateFailed {
			out[m.ChangeID] = true
		}
		return nil
	})
	return out, err
}

func (tx *docTx) ListRecords() ([]*model.Record, error) {
	var out []*model.Record
	err := iteratePrefix(tx.txn, recordListPrefix(), func(val []byte) error {
		var r model.Record
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	return out, err
}

func (tx *docTx) Head(recordID string) (*model.Change, bool, error) {
	id, ok, err := headChangeID(tx.txn, recordID)
	if err != nil || !ok {
		return nil, false, err
	}
	item, err := tx.txn.Get(changeKey(id))
	if err != nil {
		return nil, false, err
	}
	var ch model.Change
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &ch) }); err != nil {
		return nil, false, err
	}
	return &ch, true, nil
}
