package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/syncerr"
)

// MemStore is the in-memory backend, used by the engine's own test suite
// (spec §4.1: "Backends provided externally: in-memory (tests), ...").
// A single mutex serializes every operation, which trivially satisfies the
// serializable-publish and compare-and-set-fetch requirements of spec §5.
type MemStore struct {
	mu sync.Mutex

	network *model.Network
	nodes   map[string]*model.Node
	records map[string]*model.Record
	changes map[string]*model.Change
	// changesByRecord keeps each record's change ids in append order,
	// which is version order.
	changesByRecord map[string][]string
	messages        map[string]*model.Message
	messageOrder    []string // creation order, used to serve FetchNextPending
	remoteByPair    map[string]string // nodeID|recordID -> remoteID
	remoteByAlias   map[string]string // nodeID|remoteID -> recordID
	seq             uint64
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:           make(map[string]*model.Node),
		records:         make(map[string]*model.Record),
		changes:         make(map[string]*model.Change),
		changesByRecord: make(map[string][]string),
		messages:        make(map[string]*model.Message),
		remoteByPair:    make(map[string]string),
		remoteByAlias:   make(map[string]string),
	}
}

func (s *MemStore) Close() error { return nil }

func pairKey(a, b string) string { return a + "|" + b }

// --- Network ---

func (s *MemStore) GetNetwork(ctx context.Context) (*model.Network, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network == nil {
		return nil, false, nil
	}
	cp := *s.network
	return &cp, true, nil
}

func (s *MemStore) SaveNetwork(ctx context.Context, n *model.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.network = &cp
	return nil
}

func (s *MemStore) UpdateNetwork(ctx context.Context, n *model.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network == nil {
		return syncerr.NotFound("network not found")
	}
	cp := *n
	s.network = &cp
	return nil
}

// --- Node ---

func (s *MemStore) SaveNode(ctx context.Context, n *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *MemStore) UpdateNode(ctx context.Context, n *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; !ok {
		return syncerr.NotFound("node %s not found", n.ID)
	}
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *MemStore) GetNode(ctx context.Context, nodeID string) (*model.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, false, nil
	}
	cp := *n
	return &cp, true, nil
}

func (s *MemStore) ListNodes(ctx context.Context) ([]*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listNodesLocked(), nil
}

func (s *MemStore) listNodesLocked() []*model.Node {
	out := make([]*model.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Change / Record reads ---

func (s *MemStore) GetChange(ctx context.Context, changeID string) (*model.Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.changes[changeID]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *MemStore) Head(ctx context.Context, recordID string) (*model.Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headLocked(recordID)
}

func (s *MemStore) headLocked(recordID string) (*model.Change, bool, error) {
	ids := s.changesByRecord[recordID]
	if len(ids) == 0 {
		return nil, false, nil
	}
	c, ok := s.changes[ids[len(ids)-1]]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *MemStore) GetRecord(ctx context.Context, recordID string) (*model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (s *MemStore) ListRecords(ctx context.Context) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Record, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Message queue ---

func (s *MemStore) GetMessage(ctx context.Context, messageID string) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, false, nil
	}
	cp := *m
	return &cp, true, nil
}

func (s *MemStore) FetchNextPending(ctx context.Context, nodeID string) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Message
	for _, id := range s.messageOrder {
		m := s.messages[id]
		if m.DestinationID != nodeID || m.State != model.MessageStatePending {
			continue
		}
		if best == nil || m.CreatedAt.Before(best.CreatedAt) ||
			(m.CreatedAt.Equal(best.CreatedAt) && m.ID < best.ID) {
			best = m
		}
	}
	if best == nil {
		return nil, false, nil
	}
	best.State = model.MessageStateSent
	best.UpdatedAt = now()
	cp := *best
	return &cp, true, nil
}

func (s *MemStore) TransitionMessage(ctx context.Context, nodeID, messageID string, to model.MessageState, reason *string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, syncerr.NotFound("message %s not found", messageID)
	}
	if m.DestinationID != nodeID {
		return nil, syncerr.NotFound("message %s not destined to node %s", messageID, nodeID)
	}
	if m.State != model.MessageStateSent {
		return nil, syncerr.State("message %s is %s, not sent", messageID, m.State)
	}
	m.State = to
	m.Reason = reason
	m.UpdatedAt = now()
	cp := *m
	return &cp, nil
}

func (s *MemStore) HasPending(ctx context.Context, nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.DestinationID == nodeID && m.State == model.MessageStatePending {
			count++
		}
	}
	return count, nil
}

// --- Remote map ---

func (s *MemStore) BindRemote(ctx context.Context, nodeID, recordID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindRemoteLocked(nodeID, recordID, remoteID)
}

func (s *MemStore) bindRemoteLocked(nodeID, recordID, remoteID string) error {
	aliasKey := pairKey(nodeID, remoteID)
	if existingRecord, ok := s.remoteByAlias[aliasKey]; ok && existingRecord != recordID {
		return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, existingRecord)
	}

	pairK := pairKey(nodeID, recordID)
	if oldRemote, ok := s.remoteByPair[pairK]; ok && oldRemote != remoteID {
		delete(s.remoteByAlias, pairKey(nodeID, oldRemote))
	}
	s.remoteByPair[pairK] = remoteID
	s.remoteByAlias[aliasKey] = recordID
	return nil
}

func (s *MemStore) LookupRemote(ctx context.Context, nodeID, recordID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remoteID, ok := s.remoteByPair[pairKey(nodeID, recordID)]
	return remoteID, ok, nil
}

func (s *MemStore) ResolveRemote(ctx context.Context, nodeID, remoteID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recordID, ok := s.remoteByAlias[pairKey(nodeID, remoteID)]
	return recordID, ok, nil
}

// --- Publish transaction ---

// memTx stages writes so a failing publish leaves no trace; WithTx applies
// the stage atomically only once fn returns nil.
type memTx struct {
	s *MemStore

	stagedRecords  map[string]*model.Record
	stagedChanges  []*model.Change
	stagedMessages []*model.Message
	stagedBinds    []remoteBind
}

type remoteBind struct {
	nodeID, recordID, remoteID string
}

func (s *MemStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, stagedRecords: make(map[string]*model.Record)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commitLocked()
	return nil
}

func (tx *memTx) commitLocked() {
	s := tx.s
	for id, rec := range tx.stagedRecords {
		cp := *rec
		s.records[id] = &cp
	}
	for _, ch := range tx.stagedChanges {
		cp := *ch
		s.changes[ch.ID] = &cp
		s.changesByRecord[ch.RecordID] = append(s.changesByRecord[ch.RecordID], ch.ID)
	}
	for _, m := range tx.stagedMessages {
		cp := *m
		s.messages[m.ID] = &cp
		s.messageOrder = append(s.messageOrder, m.ID)
	}
	for _, b := range tx.stagedBinds {
		// Already conflict-checked during staging; apply unconditionally.
		s.remoteByPair[pairKey(b.nodeID, b.recordID)] = b.remoteID
		s.remoteByAlias[pairKey(b.nodeID, b.remoteID)] = b.recordID
	}
}

func (tx *memTx) GetRecord(recordID string) (*model.Record, bool, error) {
	if rec, ok := tx.stagedRecords[recordID]; ok {
		cp := *rec
		return &cp, true, nil
	}
	rec, ok := tx.s.records[recordID]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (tx *memTx) PutRecord(rec *model.Record) error {
	cp := *rec
	tx.stagedRecords[rec.ID] = &cp
	return nil
}

func (tx *memTx) AppendChange(ch *model.Change) error {
	cp := *ch
	tx.stagedChanges = append(tx.stagedChanges, &cp)
	return nil
}

func (tx *memTx) ResolveRemote(nodeID, remoteID string) (string, bool, error) {
	for _, b := range tx.stagedBinds {
		if b.nodeID == nodeID && b.remoteID == remoteID {
			return b.recordID, true, nil
		}
	}
	recordID, ok := tx.s.remoteByAlias[pairKey(nodeID, remoteID)]
	return recordID, ok, nil
}

func (tx *memTx) LookupRemote(nodeID, recordID string) (string, bool, error) {
	for i := len(tx.stagedBinds) - 1; i >= 0; i-- {
		b := tx.stagedBinds[i]
		if b.nodeID == nodeID && b.recordID == recordID {
			return b.remoteID, true, nil
		}
	}
	remoteID, ok := tx.s.remoteByPair[pairKey(nodeID, recordID)]
	return remoteID, ok, nil
}

func (tx *memTx) BindRemote(nodeID, recordID, remoteID string) error {
	if existing, ok := tx.s.remoteByAlias[pairKey(nodeID, remoteID)]; ok && existing != recordID {
		return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, existing)
	}
	for _, b := range tx.stagedBinds {
		if b.nodeID == nodeID && b.remoteID == remoteID && b.recordID != recordID {
			return syncerr.RemoteConflict("remote id %s for node %s is already bound to record %s", remoteID, nodeID, b.recordID)
		}
	}
	tx.stagedBinds = append(tx.stagedBinds, remoteBind{nodeID: nodeID, recordID: recordID, remoteID: remoteID})
	return nil
}

func (tx *memTx) ListNodes() ([]*model.Node, error) {
	return tx.s.listNodesLocked(), nil
}

func (tx *memTx) GetNode(nodeID string) (*model.Node, bool, error) {
	n, ok := tx.s.nodes[nodeID]
	if !ok {
		return nil, false, nil
	}
	cp := *n
	return &cp, true, nil
}

func (tx *memTx) SaveMessage(msg *model.Message) error {
	cp := *msg
	tx.stagedMessages = append(tx.stagedMessages, &cp)
	return nil
}

func (tx *memTx) SeenChangeIDs(destinationID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, m := range tx.s.messages {
		if m.DestinationID == destinationID && m.State != model.MessageStateFailed {
			out[m.ChangeID] = true
		}
	}
	for _, m := range tx.stagedMessages {
		if m.DestinationID == destinationID && m.State != model.MessageStateFailed {
			out[m.ChangeID] = true
		}
	}
	return out, nil
}

func (tx *memTx) ListRecords() ([]*model.Record, error) {
	seen := make(map[string]bool)
	out := make([]*model.Record, 0, len(tx.s.records)+len(tx.stagedRecords))
	for id, r := range tx.stagedRecords {
		cp := *r
		out = append(out, &cp)
		seen[id] = true
	}
	for id, r := range tx.s.records {
		if seen[id] {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) Head(recordID string) (*model.Change, bool, error) {
	var latest *model.Change
	if head, ok, _ := tx.s.headLocked(recordID); ok {
		latest = head
	}
	for _, ch := range tx.stagedChanges {
		if ch.RecordID != recordID {
			continue
		}
		if latest == nil || ch.Version > latest.Version {
			cp := *ch
			latest = &cp
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest, true, nil
}

var timeNowOverride func() time.Time

func now() time.Time {
	if timeNowOverride != nil {
		return timeNowOverride()
	}
	return time.Now().UTC()
}
