package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbroker/syncd/internal/model"
)

func TestNetworkRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, ok, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	n := &model.Network{ID: "net1", Name: "n1"}
	require.NoError(t, s.SaveNetwork(ctx, n))

	got, ok, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n1", got.Name)

	got.Name = "renamed"
	require.NoError(t, s.UpdateNetwork(ctx, got))

	got2, _, err := s.GetNetwork(ctx)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got2.Name)
}

func TestUpdateNetworkNotFound(t *testing.T) {
	s := NewMemStore()
	err := s.UpdateNetwork(context.Background(), &model.Network{ID: "missing"})
	assert.Error(t, err)
}

// Head returns the highest-version change appended for a record.
func TestHeadReturnsHighestAppendedVersion(t *testing.T) {
	s := NewMemStore()
	recID := "rec1"

	for v := 1; v <= 3; v++ {
		err := s.WithTx(context.Background(), func(tx Tx) error {
			return tx.AppendChange(&model.Change{ID: idFor(v), RecordID: recID, Version: v, Method: model.MethodUpdate, CreatedAt: time.Now()})
		})
		require.NoError(t, err)
	}

	head, ok, err := s.Head(context.Background(), recID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, head.Version)
}

func idFor(v int) string { return "change-" + string(rune('0'+v)) }

// property 3: at most one Remote per (node, record); last bind wins.
func TestBindRemoteLastWriteWins(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.BindRemote(ctx, "n1", "r1", "alias-a"))
	require.NoError(t, s.BindRemote(ctx, "n1", "r1", "alias-b"))

	remoteID, ok, err := s.LookupRemote(ctx, "n1", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alias-b", remoteID)

	// The old alias no longer resolves; only the current one does.
	_, ok, err = s.ResolveRemote(ctx, "n1", "alias-a")
	require.NoError(t, err)
	assert.False(t, ok)

	recordID, ok, err := s.ResolveRemote(ctx, "n1", "alias-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", recordID)
}

func TestBindRemoteConflict(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.BindRemote(ctx, "n1", "r1", "alias-a"))
	err := s.BindRemote(ctx, "n1", "r2", "alias-a")
	assert.Error(t, err)
}

// property 4: k concurrent fetchers against m pending messages each claim
// a distinct message, m total.
func TestFetchNextPendingConcurrentExclusivity(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	const m = 25
	for i := 0; i < m; i++ {
		err := s.WithTx(ctx, func(tx Tx) error {
			return tx.SaveMessage(&model.Message{
				ID:            idFor(i) + "-msg",
				DestinationID: "n2",
				RecordID:      "r1",
				ChangeID:      idFor(i),
				Method:        model.MethodCreate,
				State:         model.MessageStatePending,
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			})
		})
		require.NoError(t, err)
	}

	const k = 8
	results := make(chan string, m*2)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, ok, err := s.FetchNextPending(ctx, "n2")
				require.NoError(t, err)
				if !ok {
					return
				}
				results <- msg.ID
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	count := 0
	for id := range results {
		assert.False(t, seen[id], "message %s claimed more than once", id)
		seen[id] = true
		count++
	}
	assert.Equal(t, m, count)
}

func TestHasPendingCountsOnlyPending(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveMessage(&model.Message{ID: "m1", DestinationID: "n2", State: model.MessageStatePending, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	}))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveMessage(&model.Message{ID: "m2", DestinationID: "n2", State: model.MessageStateAcknowledged, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	}))

	n, err := s.HasPending(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransitionMessageRequiresSentState(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveMessage(&model.Message{ID: "m1", DestinationID: "n2", State: model.MessageStatePending, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	}))

	_, err := s.TransitionMessage(ctx, "n2", "m1", model.MessageStateAcknowledged, nil)
	assert.Error(t, err, "transitioning a pending (not sent) message must fail")

	_, ok, err := s.FetchNextPending(ctx, "n2")
	require.NoError(t, err)
	require.True(t, ok)

	msg, err := s.TransitionMessage(ctx, "n2", "m1", model.MessageStateAcknowledged, nil)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateAcknowledged, msg.State)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	boom := assert.AnError

	err := s.WithTx(ctx, func(tx Tx) error {
		_ = tx.PutRecord(&model.Record{ID: "r1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "a rolled-back transaction must leave no trace")
}
