package reconciler_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/database/dbtest"
	"github.com/iliyamo/ticket-mint-reconciler/internal/ledgerhash"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/reconciler"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

var code = "0x" + strings.Repeat("5a", 31)

type env struct {
	store     *store.Store
	committer *store.Committer
	fx        dbtest.Fixture
	authID    string
}

// newEnv seeds a ticket already bound to an unconsumed authorization, the
// state a ticket is in while its mint transaction is in flight.
func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t)
	st := store.New(db)
	fx := dbtest.Seed(t, st)
	e := &env{store: st, committer: store.NewCommitter(db), fx: fx}
	e.authID = e.authorize(t, dbtest.Owner, dbtest.EventAddress)
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, model.TicketSchema,
		store.Query{"id": fx.Ticket.ID},
		store.Record{"authorization_id": e.authID, "status": model.TicketMinting}))
	return e
}

func (e *env) authorize(t *testing.T, grantee, granter string) string {
	t.Helper()
	exp := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	auth := model.Authorization{
		Grantee:           grantee,
		Granter:           granter,
		Mode:              model.ModeMint,
		Signature:         "0x00",
		Codes:             code,
		Dispatched:        true,
		UserExpiration:    exp,
		BackendExpiration: exp.Add(time.Hour),
	}
	rec, err := e.store.Create(context.Background(), model.AuthorizationSchema, auth.Record())
	require.NoError(t, err)
	return rec.String("id")
}

func (e *env) event() model.LedgerEvent {
	return model.LedgerEvent{
		TicketID:     e.fx.Ticket.ID,
		GroupHash:    dbtest.GroupID,
		CategoryHash: ledgerhash.CategoryHash(dbtest.CategoryName),
		Owner:        dbtest.Owner,
		Code:         code,
		Provenance: model.Provenance{
			BlockHash: "0x" + strings.Repeat("b1", 32),
			TxHash:    "0x" + strings.Repeat("c1", 32),
			LogIndex:  3,
		},
	}
}

// snapshot returns the ticket and authorization rows as stored.
func (e *env) snapshot(t *testing.T) (store.Record, store.Record) {
	t.Helper()
	ctx := context.Background()
	tickets, err := e.store.Search(ctx, model.TicketSchema, store.Query{"id": e.fx.Ticket.ID})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	auths, err := e.store.Search(ctx, model.AuthorizationSchema, store.Query{"id": e.authID})
	require.NoError(t, err)
	require.Len(t, auths, 1)
	return tickets[0], auths[0]
}

func TestConvert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.event()
	ticketBefore, authBefore := e.snapshot(t)

	set, err := reconciler.New(e.store).Convert(ctx, ev)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, e.fx.Ticket.ID, set.TicketID)
	assert.Equal(t, e.authID, set.AuthorizationID)
	assert.Equal(t, dbtest.Owner, set.Owner)
	assert.Equal(t, ev.Provenance, set.Provenance)
	assert.Len(t, set.Forward, 2)
	assert.Len(t, set.Compensate, 2)

	// Conversion alone writes nothing.
	ticketAfter, authAfter := e.snapshot(t)
	assert.Equal(t, ticketBefore, ticketAfter)
	assert.Equal(t, authBefore, authAfter)

	require.NoError(t, e.committer.Commit(ctx, set.Forward))
	assert.Equal(t, model.TicketReady, dbtest.Ticket(t, e.store, e.fx.Ticket.ID).Status)
	assert.True(t, dbtest.Authorization(t, e.store, e.authID).Consumed)

	require.NoError(t, e.committer.Commit(ctx, set.Compensate))
	ticketAfter, authAfter = e.snapshot(t)
	assert.Equal(t, ticketBefore, ticketAfter)
	assert.Equal(t, authBefore, authAfter)
}

func TestConvertForwardAppliesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	set, err := reconciler.New(e.store).Convert(ctx, e.event())
	require.NoError(t, err)

	require.NoError(t, e.committer.Commit(ctx, set.Forward))
	err = e.committer.Commit(ctx, set.Forward)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestConvertCompensateRequiresForward(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	set, err := reconciler.New(e.store).Convert(ctx, e.event())
	require.NoError(t, err)

	ticketBefore, authBefore := e.snapshot(t)
	assert.ErrorIs(t, e.committer.Commit(ctx, set.Compensate), store.ErrConflict)
	ticketAfter, authAfter := e.snapshot(t)
	assert.Equal(t, ticketBefore, ticketAfter)
	assert.Equal(t, authBefore, authAfter)
}

func TestConvertUnknownTicket(t *testing.T) {
	e := newEnv(t)
	ev := e.event()
	ev.TicketID = uuid.NewString()

	set, err := reconciler.New(e.store).Convert(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestConvertCategoryHashIgnoresCase(t *testing.T) {
	e := newEnv(t)
	ev := e.event()
	ev.CategoryHash = "0x" + strings.ToUpper(strings.TrimPrefix(ev.CategoryHash, "0x"))

	set, err := reconciler.New(e.store).Convert(context.Background(), ev)
	require.NoError(t, err)
	assert.NotNil(t, set)
}

func TestConvertRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, e *env, ev *model.LedgerEvent)
		msg    string
	}{
		{
			name:   "malformed ticket id",
			mutate: func(_ *testing.T, _ *env, ev *model.LedgerEvent) { ev.TicketID = "ticket-1" },
			msg:    reconciler.MsgFetchTicket,
		},
		{
			name:   "group mismatch",
			mutate: func(_ *testing.T, _ *env, ev *model.LedgerEvent) { ev.GroupHash = "0x" + strings.Repeat("cd", 32) },
			msg:    reconciler.MsgGroupID,
		},
		{
			name: "missing category",
			mutate: func(t *testing.T, e *env, _ *model.LedgerEvent) {
				e.updateTicket(t, store.Record{"category_id": uuid.NewString()})
			},
			msg: reconciler.MsgCategory,
		},
		{
			name:   "category name mismatch",
			mutate: func(_ *testing.T, _ *env, ev *model.LedgerEvent) { ev.CategoryHash = ledgerhash.CategoryHash("GA") },
			msg:    reconciler.MsgCategoryName,
		},
		{
			name:   "owner mismatch",
			mutate: func(_ *testing.T, _ *env, ev *model.LedgerEvent) { ev.Owner = "0x" + strings.Repeat("99", 20) },
			msg:    reconciler.MsgOwner,
		},
		{
			name: "unresolvable controller",
			mutate: func(t *testing.T, e *env, _ *model.LedgerEvent) {
				require.NoError(t, e.store.Delete(context.Background(), model.DateSchema, store.Query{"id": e.fx.Date.ID}))
			},
			msg: reconciler.MsgGroupController,
		},
		{
			name: "unbound ticket",
			mutate: func(t *testing.T, e *env, _ *model.LedgerEvent) {
				e.updateTicket(t, store.Record{"authorization_id": nil})
			},
			msg: reconciler.MsgAuthorization,
		},
		{
			name: "authorization from another granter",
			mutate: func(t *testing.T, e *env, _ *model.LedgerEvent) {
				other := e.authorize(t, dbtest.Owner, "0x"+strings.Repeat("77", 20))
				e.updateTicket(t, store.Record{"authorization_id": other})
			},
			msg: reconciler.MsgAuthorization,
		},
		{
			name:   "code mismatch",
			mutate: func(_ *testing.T, _ *env, ev *model.LedgerEvent) { ev.Code = "0x" + strings.Repeat("00", 31) },
			msg:    reconciler.MsgAuthorizationCode,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			ev := e.event()
			tc.mutate(t, e, &ev)
			ticketBefore, authBefore := e.snapshot(t)

			set, err := reconciler.New(e.store).Convert(context.Background(), ev)
			require.Error(t, err)
			assert.Nil(t, set)

			var re *reconciler.Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tc.msg, re.Message)
			assert.Equal(t, reconciler.Validation, re.Kind)
			assert.True(t, reconciler.IsValidation(err))

			ticketAfter, authAfter := e.snapshot(t)
			assert.Equal(t, ticketBefore, ticketAfter)
			assert.Equal(t, authBefore, authAfter)
		})
	}
}

func (e *env) updateTicket(t *testing.T, patch store.Record) {
	t.Helper()
	require.NoError(t, e.store.Update(context.Background(), model.TicketSchema, store.Query{"id": e.fx.Ticket.ID}, patch))
}

type brokenStore struct{ reconciler.Store }

func (brokenStore) Search(context.Context, store.Schema, store.Query) ([]store.Record, error) {
	return nil, errors.New("connection reset")
}

func TestConvertUpstreamFailure(t *testing.T) {
	e := newEnv(t)
	_, err := reconciler.New(brokenStore{e.store}).Convert(context.Background(), e.event())

	var re *reconciler.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, reconciler.MsgFetchTicket, re.Message)
	assert.Equal(t, reconciler.Upstream, re.Kind)
	assert.False(t, reconciler.IsValidation(err))
}
