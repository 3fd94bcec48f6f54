package issuer_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/database/dbtest"
	"github.com/iliyamo/ticket-mint-reconciler/internal/issuer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/rights"
	"github.com/iliyamo/ticket-mint-reconciler/internal/signer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

const tokenAddress = "0x00000000000000000000000000000000000000aa"

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	store   *store.Store
	fx      dbtest.Fixture
	keyring *signer.Keyring
	gate    *rights.Gate
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t)
	st := store.New(db)
	fx := dbtest.Seed(t, st)
	kr := signer.NewKeyring()
	_, err := kr.Generate(dbtest.Controller)
	require.NoError(t, err)
	return &env{store: st, fx: fx, keyring: kr, gate: rights.NewGate(st, rights.DefaultConfig())}
}

func (e *env) issuer(sg signer.Signer, currencies issuer.CurrencyResolver) *issuer.Issuer {
	if sg == nil {
		sg = e.keyring
	}
	if currencies == nil {
		currencies = issuer.StaticCurrencies{"T721Token": tokenAddress}
	}
	return issuer.New(e.store, store.NewCommitter(e.store.DB()), sg, currencies, e.gate, issuer.Options{
		Now:  func() time.Time { return fixedNow },
		Rand: bytes.NewReader(bytes.Repeat([]byte{0x01}, 256)),
	})
}

func (e *env) request() issuer.IssueRequest {
	return issuer.IssueRequest{
		Requests: []issuer.CategoryRequest{{
			CategoryID: e.fx.Category.ID,
			Price:      model.Price{Currency: "T721Token", Value: "1000", Fee: "10"},
		}},
		ExpirationWindow: 30 * time.Minute,
		Grantee:          dbtest.Owner,
	}
}

func countAuthorizations(t *testing.T, s *store.Store) int {
	t.Helper()
	recs, err := s.Search(context.Background(), model.AuthorizationSchema, store.Query{})
	require.NoError(t, err)
	return len(recs)
}

func TestIssue(t *testing.T) {
	e := newEnv(t)
	out, err := e.issuer(nil, nil).Issue(context.Background(), e.request())
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, dbtest.EventAddress, got.Granter)
	assert.Equal(t, dbtest.Owner, got.Grantee)
	assert.Equal(t, dbtest.Controller, got.GranterController)
	assert.Equal(t, dbtest.GroupID, got.GroupID)
	assert.Equal(t, e.fx.Category.ID, got.CategoryID)
	assert.Equal(t, dbtest.CategoryName, got.CategoryName)
	assert.Equal(t, "1000", got.Price.Value)
	assert.Equal(t, fixedNow.Add(30*time.Minute), got.Expiration)
	_, err = uuid.Parse(got.AuthorizationID)
	require.NoError(t, err)

	auth := dbtest.Authorization(t, e.store, got.AuthorizationID)
	code := "0x" + strings.Repeat("01", 31)
	assert.Equal(t, model.ModeMint, auth.Mode)
	assert.Equal(t, code, auth.Codes)
	assert.Equal(t, dbtest.EventAddress, auth.Granter)
	assert.False(t, auth.Consumed)
	assert.False(t, auth.Cancelled)
	assert.False(t, auth.Dispatched)
	assert.True(t, auth.UserExpiration.Equal(got.Expiration))
	assert.True(t, auth.BackendExpiration.Equal(got.Expiration.Add(issuer.DefaultSkewWindow)))

	payload := issuer.MintPayload{
		Prices:       []issuer.PayloadPrice{{Token: tokenAddress, Value: big.NewInt(1000), Fee: big.NewInt(10)}},
		GroupID:      dbtest.GroupID,
		CategoryName: dbtest.CategoryName,
		Code:         code,
		Expiration:   got.Expiration,
	}
	enc, err := payload.Encode()
	require.NoError(t, err)
	require.NoError(t, e.keyring.Verify(dbtest.Controller, enc, signer.Signature{Hex: auth.Signature}))
}

func TestIssueEventParentedCategory(t *testing.T) {
	e := newEnv(t)
	cat := model.Category{
		GroupID:    dbtest.GroupID,
		Name:       "GA",
		ParentType: model.ParentEvent,
		ParentID:   e.fx.Event.ID,
	}
	rec, err := e.store.Create(context.Background(), model.CategorySchema, cat.Record())
	require.NoError(t, err)

	req := e.request()
	req.Requests[0].CategoryID = rec.String("id")
	out, err := e.issuer(nil, nil).Issue(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "GA", out[0].CategoryName)
	assert.Equal(t, dbtest.Controller, out[0].GranterController)
}

type failingCurrencies struct{}

func (failingCurrencies) Resolve(context.Context, string) (string, bool, error) {
	return "", false, errors.New("price feed down")
}

func TestIssueFailures(t *testing.T) {
	panicking := signer.SignerFunc(func(context.Context, string, []byte) (signer.Signature, error) {
		panic("hsm unplugged")
	})
	refusing := signer.SignerFunc(func(context.Context, string, []byte) (signer.Signature, error) {
		return signer.Signature{}, errors.New("refused")
	})

	cases := []struct {
		name       string
		signer     signer.Signer
		currencies issuer.CurrencyResolver
		mutate     func(t *testing.T, e *env, req *issuer.IssueRequest)
		want       issuer.Code
	}{
		{
			name: "unknown category",
			mutate: func(_ *testing.T, _ *env, req *issuer.IssueRequest) {
				req.Requests[0].CategoryID = uuid.NewString()
			},
			want: issuer.CodeCategoryNotFound,
		},
		{
			name: "unknown currency",
			mutate: func(_ *testing.T, _ *env, req *issuer.IssueRequest) {
				req.Requests[0].Price.Currency = "DOGE"
			},
			want: issuer.CodeCategoryNotFound,
		},
		{
			name:       "currency lookup error",
			currencies: failingCurrencies{},
			want:       issuer.CodeCategoriesFetch,
		},
		{
			name: "invalid category id",
			mutate: func(_ *testing.T, _ *env, req *issuer.IssueRequest) {
				req.Requests[0].CategoryID = "not-a-key"
			},
			want: issuer.CodeCategoriesFetch,
		},
		{
			name: "missing date",
			mutate: func(t *testing.T, e *env, req *issuer.IssueRequest) {
				req.Requests[0].CategoryID = orphanCategory(t, e, model.ParentDate)
			},
			want: issuer.CodeDateNotFound,
		},
		{
			name: "missing event",
			mutate: func(t *testing.T, e *env, req *issuer.IssueRequest) {
				req.Requests[0].CategoryID = orphanCategory(t, e, model.ParentEvent)
			},
			want: issuer.CodeEventNotFound,
		},
		{
			name: "category name over one word",
			mutate: func(t *testing.T, e *env, req *issuer.IssueRequest) {
				cat := e.fx.Category
				cat.ID = ""
				cat.Name = strings.Repeat("n", 37)
				rec, err := e.store.Create(context.Background(), model.CategorySchema, cat.Record())
				require.NoError(t, err)
				req.Requests[0].CategoryID = rec.String("id")
			},
			want: issuer.CodeInvalidPayload,
		},
		{
			name:   "signer panics",
			signer: panicking,
			want:   issuer.CodeSignatureFailure,
		},
		{
			name:   "signer refuses",
			signer: refusing,
			want:   issuer.CodeSignatureFailure,
		},
		{
			name: "second request fails",
			mutate: func(_ *testing.T, _ *env, req *issuer.IssueRequest) {
				req.Requests = append(req.Requests, issuer.CategoryRequest{CategoryID: uuid.NewString()})
			},
			want: issuer.CodeCategoryNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			req := e.request()
			if tc.mutate != nil {
				tc.mutate(t, e, &req)
			}
			out, err := e.issuer(tc.signer, tc.currencies).Issue(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tc.want, issuer.CodeOf(err))
			assert.Zero(t, countAuthorizations(t, e.store))
		})
	}
}

func orphanCategory(t *testing.T, e *env, parentType string) string {
	t.Helper()
	cat := model.Category{
		GroupID:    dbtest.GroupID,
		Name:       "orphan",
		ParentType: parentType,
		ParentID:   uuid.NewString(),
	}
	rec, err := e.store.Create(context.Background(), model.CategorySchema, cat.Record())
	require.NoError(t, err)
	return rec.String("id")
}

func TestIssueUnauthorized(t *testing.T) {
	e := newEnv(t)
	e.gate = rights.NewGate(e.store, rights.Config{"category": {}})

	_, err := e.issuer(nil, nil).Issue(context.Background(), e.request())
	assert.Equal(t, issuer.CodeUnauthorized, issuer.CodeOf(err))
	assert.ErrorIs(t, err, rights.ErrUnauthorized)

	require.NoError(t, e.gate.Grant(context.Background(), dbtest.Owner, "category", e.fx.Category.ID, "mint"))
	_, err = e.issuer(nil, nil).Issue(context.Background(), e.request())
	require.NoError(t, err)
}

func TestBind(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iss := e.issuer(nil, nil)
	out, err := iss.Issue(ctx, e.request())
	require.NoError(t, err)
	authID := out[0].AuthorizationID

	require.NoError(t, iss.Bind(ctx, e.fx.Ticket.ID, authID))

	ticket := dbtest.Ticket(t, e.store, e.fx.Ticket.ID)
	assert.Equal(t, model.TicketMinting, ticket.Status)
	assert.Equal(t, authID, ticket.AuthorizationID)
	assert.True(t, dbtest.Authorization(t, e.store, authID).Dispatched)

	err = iss.Bind(ctx, e.fx.Ticket.ID, authID)
	assert.Equal(t, issuer.CodeBindFailure, issuer.CodeOf(err))
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestBindIsAtomic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iss := e.issuer(nil, nil)
	out, err := iss.Issue(ctx, e.request())
	require.NoError(t, err)
	authID := out[0].AuthorizationID
	require.NoError(t, iss.Bind(ctx, e.fx.Ticket.ID, authID))

	second := e.fx.Ticket
	second.ID = ""
	rec, err := e.store.Create(ctx, model.TicketSchema, second.Record())
	require.NoError(t, err)
	secondID := rec.String("id")

	// The ticket half of the batch matches, the dispatch half does not.
	err = iss.Bind(ctx, secondID, authID)
	assert.ErrorIs(t, err, store.ErrConflict)

	ticket := dbtest.Ticket(t, e.store, secondID)
	assert.Equal(t, model.TicketPending, ticket.Status)
	assert.Empty(t, ticket.AuthorizationID)
}

func TestBindMissing(t *testing.T) {
	e := newEnv(t)
	iss := e.issuer(nil, nil)

	err := iss.Bind(context.Background(), uuid.NewString(), uuid.NewString())
	assert.Equal(t, issuer.CodeTicketNotFound, issuer.CodeOf(err))

	err = iss.Bind(context.Background(), e.fx.Ticket.ID, uuid.NewString())
	assert.Equal(t, issuer.CodeAuthorizationMissing, issuer.CodeOf(err))
}

func TestIssuePersistsAllOrNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.request()
	req.Requests = append(req.Requests, req.Requests[0])

	// The second insert of the batch fails inside the database.
	_, err := e.store.DB().ExecContext(ctx, `CREATE TRIGGER authorizations_one_only
BEFORE INSERT ON authorizations
WHEN (SELECT COUNT(*) FROM authorizations) >= 1
BEGIN SELECT RAISE(ABORT, 'db gone'); END`)
	require.NoError(t, err)

	out, err := e.issuer(nil, nil).Issue(ctx, req)
	assert.Equal(t, issuer.CodeAuthorizationCreate, issuer.CodeOf(err))
	assert.Empty(t, out)
	assert.Zero(t, countAuthorizations(t, e.store))

	_, err = e.store.DB().ExecContext(ctx, `DROP TRIGGER authorizations_one_only`)
	require.NoError(t, err)
	out, err = e.issuer(nil, nil).Issue(ctx, req)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].AuthorizationID, out[1].AuthorizationID)
	assert.Equal(t, 2, countAuthorizations(t, e.store))
	for _, a := range out {
		assert.Equal(t, a.AuthorizationID, dbtest.Authorization(t, e.store, a.AuthorizationID).ID)
	}
}
