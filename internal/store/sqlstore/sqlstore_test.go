package sqlstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "syncd.db")
	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := Open(dbPath, log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNetworkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC()
	n := &model.Network{ID: "net1", Name: "n1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveNetwork(ctx, n))

	got, ok, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n1", got.Name)

	got.Name = "renamed"
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateNetwork(ctx, got))

	got2, _, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got2.Name)
}

func TestNodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &model.Node{ID: "n1", Name: "node-1", Read: true, Create: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveNode(ctx, n))

	got, ok, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.False(t, got.Update)

	list, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPublishTransactionSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNode(ctx, &model.Node{ID: "origin", Read: true, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.SaveNode(ctx, &model.Node{ID: "reader", Read: true, CreatedAt: time.Now().UTC()}))

	now := time.Now().UTC()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.PutRecord(&model.Record{ID: "rec1", HeadID: "ch1"}); err != nil {
			return err
		}
		if err := tx.AppendChange(&model.Change{ID: "ch1", RecordID: "rec1", Version: 1, Method: model.MethodCreate, CreatedAt: now}); err != nil {
			return err
		}
		return tx.SaveMessage(&model.Message{
			ID: "msg1", DestinationID: "reader", RecordID: "rec1", ChangeID: "ch1",
			Method: model.MethodCreate, State: model.MessageStatePending, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	rec, ok, err := s.GetRecord(ctx, "rec1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ch1", rec.HeadID)

	head, ok, err := s.Head(ctx, "rec1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, head.Version)

	msg, ok, err := s.FetchNextPending(ctx, "reader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.MessageStateSent, msg.State)

	acked, err := s.TransitionMessage(ctx, "reader", msg.ID, model.MessageStateAcknowledged, nil)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateAcknowledged, acked.State)

	n, err := s.HasPending(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBindRemoteConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BindRemote(ctx, "n1", "r1", "alias-a"))
	err := s.BindRemote(ctx, "n1", "r2", "alias-a")
	assert.Error(t, err)

	require.NoError(t, s.BindRemote(ctx, "n1", "r1", "alias-b"))
	recordID, ok, err := s.ResolveRemote(ctx, "n1", "alias-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", recordID)

	remoteID, ok, err := s.LookupRemote(ctx, "n1", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alias-b", remoteID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := assert.AnError

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_ = tx.PutRecord(&model.Record{ID: "r1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "a rolled-back transaction must leave no trace")
}
