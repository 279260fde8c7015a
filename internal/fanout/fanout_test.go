package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbroker/syncd/internal/idgen"
	"github.com/syncbroker/syncd/internal/model"
	"github.com/syncbroker/syncd/internal/store"
)

func seedNode(t *testing.T, s store.Store, id string, read bool) {
	t.Helper()
	require.NoError(t, s.SaveNode(context.Background(), &model.Node{ID: id, Read: read, CreatedAt: time.Now()}))
}

// property 1: a publish fans out exactly one pending message per eligible
// (readable, non-origin) node, each carrying the new Change's id.
func TestPublishFansOutToEligibleNodesOnly(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	ids := idgen.New()

	seedNode(t, s, "origin", true)
	seedNode(t, s, "reader1", true)
	seedNode(t, s, "reader2", true)
	seedNode(t, s, "writer-only", false)

	rec := &model.Record{ID: "rec1"}
	ch := &model.Change{ID: "ch1", RecordID: "rec1", Version: 1, Method: model.MethodCreate}

	var origin *model.Message
	var recipients []*model.Message
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		origin, recipients, err = Publish(tx, ids, "origin", rec, ch)
		return err
	})
	require.NoError(t, err)

	assert.True(t, origin.IsOrigin())
	assert.Equal(t, model.MessageStateAcknowledged, origin.State)
	assert.Equal(t, "origin", origin.DestinationID)

	require.Len(t, recipients, 2)
	destinations := map[string]bool{}
	for _, r := range recipients {
		destinations[r.DestinationID] = true
		assert.Equal(t, model.MessageStatePending, r.State)
		assert.Equal(t, ch.ID, r.ChangeID)
		assert.Equal(t, origin.ID, *r.ParentID)
	}
	assert.True(t, destinations["reader1"])
	assert.True(t, destinations["reader2"])
	assert.False(t, destinations["origin"])
	assert.False(t, destinations["writer-only"])
}

func TestPublishStampsRecipientsWithBoundRemoteID(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	ids := idgen.New()

	seedNode(t, s, "origin", true)
	seedNode(t, s, "reader1", true)
	require.NoError(t, s.BindRemote(ctx, "reader1", "rec1", "reader1s-alias"))

	rec := &model.Record{ID: "rec1"}
	ch := &model.Change{ID: "ch1", RecordID: "rec1", Version: 1, Method: model.MethodCreate}

	var recipients []*model.Message
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		_, recipients, err = Publish(tx, ids, "origin", rec, ch)
		return err
	})
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	require.NotNil(t, recipients[0].RemoteID)
	assert.Equal(t, "reader1s-alias", *recipients[0].RemoteID)
}

func TestPublishWithNoOtherReadersProducesNoRecipients(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	ids := idgen.New()

	seedNode(t, s, "origin", true)

	rec := &model.Record{ID: "rec1"}
	ch := &model.Change{ID: "ch1", RecordID: "rec1", Version: 1, Method: model.MethodCreate}

	var recipients []*model.Message
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		_, recipients, err = Publish(tx, ids, "origin", rec, ch)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, recipients)
}
