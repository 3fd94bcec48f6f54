package rights_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/database/dbtest"
	"github.com/iliyamo/ticket-mint-reconciler/internal/rights"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

func testConfig() rights.Config {
	return rights.Config{
		"category": {Public: true},
		"event":    {Editable: true, Counts: map[string]int{"owner": 1}},
		"ticket":   {},
	}
}

func newGate(t *testing.T) *rights.Gate {
	t.Helper()
	return rights.NewGate(store.New(dbtest.Open(t)), testConfig())
}

func TestHasRightsUponPublic(t *testing.T) {
	g := newGate(t)
	assert.NoError(t, g.HasRightsUpon(context.Background(), "anyone", "category", "c-1", "mint"))
}

func TestHasRightsUponUnknownEntity(t *testing.T) {
	g := newGate(t)
	err := g.HasRightsUpon(context.Background(), "alice", "venue", "v-1")
	assert.ErrorIs(t, err, rights.ErrUnknownEntity)
	err = g.Grant(context.Background(), "alice", "venue", "v-1", "owner")
	assert.ErrorIs(t, err, rights.ErrUnknownEntity)
}

func TestHasRightsUponRequiresGrant(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	err := g.HasRightsUpon(ctx, "alice", "event", "e-1", "admin")
	assert.ErrorIs(t, err, rights.ErrUnauthorized)

	require.NoError(t, g.Grant(ctx, "alice", "event", "e-1", "admin"))
	assert.NoError(t, g.HasRightsUpon(ctx, "alice", "event", "e-1", "admin"))
	assert.NoError(t, g.HasRightsUpon(ctx, "alice", "event", "e-1"))

	err = g.HasRightsUpon(ctx, "alice", "event", "e-1", "admin", "withdraw")
	assert.ErrorIs(t, err, rights.ErrUnauthorized)

	err = g.HasRightsUpon(ctx, "alice", "event", "e-2", "admin")
	assert.ErrorIs(t, err, rights.ErrUnauthorized)
	err = g.HasRightsUpon(ctx, "bob", "event", "e-1", "admin")
	assert.ErrorIs(t, err, rights.ErrUnauthorized)
}

func TestGrantMergesEditable(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	require.NoError(t, g.Grant(ctx, "alice", "event", "e-1", "admin"))
	require.NoError(t, g.Grant(ctx, "alice", "event", "e-1", "withdraw"))
	assert.NoError(t, g.HasRightsUpon(ctx, "alice", "event", "e-1", "admin", "withdraw"))
}

func TestGrantNotEditable(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	require.NoError(t, g.Grant(ctx, "alice", "ticket", "t-1", "transfer"))
	err := g.Grant(ctx, "alice", "ticket", "t-1", "burn")
	assert.ErrorIs(t, err, rights.ErrNotEditable)
	assert.ErrorIs(t, g.HasRightsUpon(ctx, "alice", "ticket", "t-1", "burn"), rights.ErrUnauthorized)
}

func TestGrantCountExhausted(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()

	require.NoError(t, g.Grant(ctx, "alice", "event", "e-1", "owner"))
	err := g.Grant(ctx, "bob", "event", "e-1", "owner")
	assert.ErrorIs(t, err, rights.ErrRightsExhausted)

	// The holder itself does not count against the cap.
	require.NoError(t, g.Grant(ctx, "alice", "event", "e-1", "owner", "admin"))
	// Caps are per entity value.
	require.NoError(t, g.Grant(ctx, "bob", "event", "e-2", "owner"))
}

type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) Search(context.Context, store.Schema, store.Query) ([]store.Record, error) {
	return nil, errDown
}

func (failingStore) Create(context.Context, store.Schema, store.Record) (store.Record, error) {
	return nil, errDown
}

func (failingStore) Update(context.Context, store.Schema, store.Query, store.Record, ...store.UpdateOption) error {
	return errDown
}

func TestHasRightsUponFailsClosed(t *testing.T) {
	g := rights.NewGate(failingStore{}, testConfig())
	err := g.HasRightsUpon(context.Background(), "alice", "event", "e-1", "admin")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.NoError(t, g.HasRightsUpon(context.Background(), "alice", "category", "c-1", "mint"))
}
