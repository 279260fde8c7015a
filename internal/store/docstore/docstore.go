// Package docstore is the embedded document-store Store backend (spec
// §4.1, §6): a BadgerDB database keyed the way the teacher's
// internal/metadata.BadgerStore keys bucket and object metadata, adapted
// to networks, nodes, records, changes, messages, and remote bindings.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// Options configures a DocStore.
type Options struct {
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// DocStore implements store.Store over BadgerDB.
type DocStore struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens (creating if necessary) the badger database under
// opts.DataDir/syncd.
func Open(opts Options) (*DocStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "syncd")
	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogAdapter{opts.Logger}).
		WithSyncWrites(opts.SyncWrites)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	opts.Logger.WithField("path", dbPath).Info("badger store initialized")
	return &DocStore{db: db, log: opts.Logger}, nil
}

func (s *DocStore) Close() error { return s.db.Close() }

// --- Network ---

func (s *DocStore) GetNetwork(ctx context.Context) (*model.Network, bool, error) {
	var n *model.Network
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(networkKey())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n = &model.Network{}
			return json.Unmarshal(val, n)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return n, n != nil, nil
}

func (s *DocStore) SaveNetwork(ctx context.Context, n *model.Network) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(networkKey(), data)
	})
}

func (s *DocStore) UpdateNetwork(ctx context.Context, n *model.Network) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(networkKey()); err == badger.ErrKeyNotFound {
			return syncerr.NotFound("network not found")
		} else if err != nil {
			return err
		}
		return txn.Set(networkKey(), data)
	})
}

// --- Node ---

func (s *DocStore) SaveNode(ctx context.Context, n *model.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(n.ID), data)
	})
}

func (s *DocStore) UpdateNode(ctx context.Context, n *model.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(n.ID)); err == badger.ErrKeyNotFound {
			return syncerr.NotFound("node %s not found", n.ID)
		} else if err != nil {
			return err
		}
		return txn.Set(nodeKey(n.ID), data)
	})
}

func (s *DocStore) GetNode(ctx context.Context, nodeID string) (*model.Node, bool, error) {
	var n *model.Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(nodeID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n = &model.Node{}
			return json.Unmarshal(val, n)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return n, n != nil, nil
}

func (s *DocStore) ListNodes(ctx context.Context) ([]*model.Node, error) {
	var out []*model.Node
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, nodeListPrefix(), func(val []byte) error {
			var n model.Node
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Change / Record reads ---

func (s *DocStore) GetChange(ctx context.Context, changeID string) (*model.Change, bool, error) {
	var ch *model.Change
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(changeKey(changeID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ch = &model.Change{}
			return json.Unmarshal(val, ch)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return ch, ch != nil, nil
}

func (s *DocStore) Head(ctx context.Context, recordID string) (*model.Change, bool, error) {
	var ch *model.Change
	err := s.db.View(func(txn *badger.Txn) error {
		id, ok, err := headChangeID(txn, recordID)
		if err != nil || !ok {
			return err
		}
		item, err := txn.Get(changeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ch = &model.Change{}
			return json.Unmarshal(val, ch)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return ch, ch != nil, nil
}

// headChangeID returns the id stored at the highest change_idx key for
// recordID, i.e. the last entry of the prefix scan (version order).
func headChangeID(txn *badger.Txn, recordID string) (string, bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = changeVersionPrefix(recordID)
	it := txn.NewIterator(opts)
	defer it.Close()

	var id string
	found := false
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return "", false, err
		}
		found = true
	}
	return id, found, nil
}

func (s *DocStore) GetRecord(ctx context.Context, recordID string) (*model.Record, bool, error) {
	var rec *model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(recordID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &model.Record{}
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

func (s *DocStore) ListRecords(ctx context.Context) ([]*model.Record, error) {
	var out []*model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, recordListPrefix(), func(val []byte) error {
			var r model.Record
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Message queue ---

func (s *DocStore) GetMessage(ctx context.Context, messageID string) (*model.Message, bool, error) {
	var m *model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		msg, err := getMessage(txn, messageID)
		m = msg
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return m, m != nil, nil
}

func getMessage(txn *badger.Txn, id string) (*model.Message, error) {
	item, err := txn.Get(messageKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m model.Message
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
		return nil, err
	}
	return &m, nil
}

func putMessage(txn *badger.Txn, m *model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return txn.Set(messageKey(m.ID), data)
}

// FetchNextPending claims the oldest pending message destined to nodeID.
// Badger's transactions use optimistic snapshot isolation, so a handful of
// conflict-and-retry attempts (rather than blocking) is how the teacher's
// BadgerStore-adjacent code is expected to ride out a race on the same
// pending-index key (spec §8 property 4: at most one claimant wins).
func (s *DocStore) FetchNextPending(ctx context.Context, nodeID string) (*model.Message, bool, error) {
	const maxAttempts = 8
	var msg *model.Message
	var ok bool

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			msg, ok = nil, false

			opts := badger.DefaultIteratorOptions
			opts.Prefix = messagePendingPrefix(nodeID)
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Rewind()
			if !it.Valid() {
				return nil
			}
			pendingKey := append([]byte(nil), it.Item().Key()...)
			var id string
			if err := it.Item().Value(func(val []byte) error { id = string(val); return nil }); err != nil {
				return err
			}

			m, err := getMessage(txn, id)
			if err != nil {
				return err
			}
			if m == nil || m.State != model.MessageStatePending {
				return nil
			}

			m.State = model.MessageStateSent
			m.UpdatedAt = time.Now().UTC()
			if err := putMessage(txn, m); err != nil {
				return err
			}
			if err := txn.Delete(pendingKey); err != nil {
				return err
			}

			msg, ok = m, true
			return nil
		})
		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return msg, ok, nil
	}
	return nil, false, fmt.Errorf("fetch next pending: exhausted retries for node %s", nodeID)
}

func (s *DocStore) TransitionMessage(ctx context.Context, nodeID, messageID string, to model.MessageState, reason *string) (*model.Message, error) {
	var result *model.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		m, err := getMessage(txn, messageID)
		if err != nil {
			return err
		}
		if m == nil {
			return syncerr.NotFound("message %s not found", messageID)
		}
		if m.DestinationID != nodeID {
			return syncerr.NotFound("message %s not destined to node %s", messageID, nodeID)
		}
		if m.State != model.MessageStateSent {
			return syncerr.State("message %s is %s, not sent", messageID, m.State)
		}
		m.State = to
		m.Reason = reason
		m.UpdatedAt = time.Now().UTC()
		if err := putMessage(txn, m); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *DocStore) HasPending(ctx context.Context, nodeID string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePendingPrefix(nodeID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// --- Remote map ---

func (s *DocStore) BindRemote(ctx context.Context, nodeID, recordID, remoteID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return bindRemote(txn, nodeID, recordID, remoteID)
	})
}

func bindRemote(txn *badger.Txn, nodeID, recordID, remoteID string) error {
	item, err := txn.Get(remoteAliasKey(nodeID, remoteID))
	if err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err == nil {
		var existing string
		if err := item.Value(func(val []byte) error { existing = string(val); return nil }); err != nil {
			return err
		}
		if existing != recordID {
			return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, existing)
		}
	}

	// A rebind to a new alias for the same (node, record) pair must not
	// leave the old alias resolving to this record.
	pairItem, err := txn.Get(remotePairKey(nodeID, recordID))
	if err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	if err == nil {
		var oldRemoteID string
		if err := pairItem.Value(func(val []byte) error { oldRemoteID = string(val); return nil }); err != nil {
			return err
		}
		if oldRemoteID != remoteID {
			if err := txn.Delete(remoteAliasKey(nodeID, oldRemoteID)); err != nil {
				return err
			}
		}
	}

	if err := txn.Set(remotePairKey(nodeID, recordID), []byte(remoteID)); err != nil {
		return err
	}
	return txn.Set(remoteAliasKey(nodeID, remoteID), []byte(recordID))
}

func (s *DocStore) LookupRemote(ctx context.Context, nodeID, recordID string) (string, bool, error) {
	var remoteID string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(remotePairKey(nodeID, recordID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { remoteID = string(val); return nil })
	})
	return remoteID, found, err
}

func (s *DocStore) ResolveRemote(ctx context.Context, nodeID, remoteID string) (string, bool, error) {
	var recordID string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(remoteAliasKey(nodeID, remoteID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { recordID = string(val); return nil })
	})
	return recordID, found, err
}

// --- Publish transaction ---

// WithTx maps directly onto badger's own optimistic transaction: the
// engine's {Record upsert, Change insert, fan-out Messages} unit of work
// commits or conflicts as one badger.Txn (spec §5).
func (s *DocStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.db.Update(func(btxn *badger.Txn) error {
		return fn(&docTx{txn: btxn})
	})
}

func iteratePrefix(txn *badger.Txn, prefix []byte, visit func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(visit); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogAdapter routes badger's internal logging through logrus, the
// way the teacher's newBadgerLogger does for internal/metadata.BadgerStore.
type badgerLogAdapter struct{ log *logrus.Logger }

func (a badgerLogAdapter) Errorf(f string, args ...interface{})   { a.log.Errorf(f, args...) }
func (a badgerLogAdapter) Warningf(f string, args ...interface{}) { a.log.Warnf(f, args...) }
func (a badgerLogAdapter) Infof(f string, args ...interface{})    { a.log.Infof(f, args...) }
func (a badgerLogAdapter) Debugf(f string, args ...interface{})   { a.log.Debugf(f, args...) }
