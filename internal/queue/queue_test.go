package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
)

func seedPending(t *testing.T, s store.Store, id, destinationID string) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.SaveMessage(&model.Message{
			ID:            id,
			DestinationID: destinationID,
			RecordID:      "rec1",
			ChangeID:      "ch1",
			Method:        model.MethodCreate,
			State:         model.MessageStatePending,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
	})
	require.NoError(t, err)
}

func TestFetchAckWithRemoteID(t *testing.T) {
	s := store.NewMemStore()
	q := New(s)
	ctx := context.Background()

	seedPending(t, s, "m1", "n2")

	msg, ok, err := q.Fetch(ctx, "n2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.MessageStateSent, msg.State)

	remoteID := "abcd"
	acked, err := q.Ack(ctx, "n2", msg.ID, &remoteID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateAcknowledged, acked.State)

	bound, ok, err := s.LookupRemote(ctx, "n2", "rec1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abcd", bound)
}

func TestFetchFail(t *testing.T) {
	s := store.NewMemStore()
	q := New(s)
	ctx := context.Background()

	seedPending(t, s, "m1", "n2")

	msg, ok, err := q.Fetch(ctx, "n2")
	require.NoError(t, err)
	require.True(t, ok)

	reason := "network timeout"
	failed, err := q.Fail(ctx, "n2", msg.ID, &reason)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateFailed, failed.State)
	require.NotNil(t, failed.Reason)
	assert.Equal(t, reason, *failed.Reason)
}

func TestFetchEmptyQueueReturnsNotOK(t *testing.T) {
	s := store.NewMemStore()
	q := New(s)

	_, ok, err := q.Fetch(context.Background(), "n2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPending(t *testing.T) {
	s := store.NewMemStore()
	q := New(s)
	ctx := context.Background()

	n, err := q.HasPending(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seedPending(t, s, "m1", "n2")

	n, err = q.HasPending(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsureReadable(t *testing.T) {
	assert.NoError(t, EnsureReadable(&model.Node{Read: true}))
	assert.Error(t, EnsureReadable(&model.Node{Read: false}))
}
