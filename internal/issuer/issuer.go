// Package issuer produces signed, single-use mint authorizations and binds
// them to tickets.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ticket-mint-reconciler/internal/hierarchy"
	"github.com/iliyamo/ticket-mint-reconciler/internal/ledgerhash"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/signer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// codeSize is the width of the random authorization code in bytes.  It fits
// in a single payload word with room to spare.
const codeSize = 31

// DefaultSkewWindow is added to the user facing expiration to obtain the
// backend expiration.
const DefaultSkewWindow = time.Hour

// Store is the subset of the keyed store used by the issuer.
type Store interface {
	Search(ctx context.Context, schema store.Schema, q store.Query) ([]store.Record, error)
	DryCreate(schema store.Schema, r store.Record) (store.Statement, error)
	DryUpdate(schema store.Schema, q store.Query, patch store.Record, opts ...store.UpdateOption) (store.Statement, error)
}

// Committer applies a batch atomically.
type Committer interface {
	Commit(ctx context.Context, stmts []store.Statement) error
}

// RightsChecker is the access gate consulted before issuing.
type RightsChecker interface {
	HasRightsUpon(ctx context.Context, grantee, entityType, entityValue string, required ...string) error
}

// Options tune an Issuer.  Zero values select the defaults.
type Options struct {
	SkewWindow time.Duration
	Now        func() time.Time
	Rand       io.Reader
}

// Issuer issues mint authorizations.
type Issuer struct {
	store      Store
	committer  Committer
	hierarchy  *hierarchy.Resolver
	signer     signer.Signer
	currencies CurrencyResolver
	gate       RightsChecker
	skew       time.Duration
	now        func() time.Time
	rand       io.Reader
}

// New constructs an Issuer.  The signer is wrapped with signer.Safe so that
// a panicking signer surfaces as a signature_failure.
func New(s Store, c Committer, sg signer.Signer, currencies CurrencyResolver, gate RightsChecker, opts Options) *Issuer {
	iss := &Issuer{
		store:      s,
		committer:  c,
		hierarchy:  hierarchy.NewResolver(s),
		signer:     signer.Safe(sg),
		currencies: currencies,
		gate:       gate,
		skew:       opts.SkewWindow,
		now:        opts.Now,
		rand:       opts.Rand,
	}
	if iss.skew <= 0 {
		iss.skew = DefaultSkewWindow
	}
	if iss.now == nil {
		iss.now = time.Now
	}
	if iss.rand == nil {
		iss.rand = rand.Reader
	}
	return iss
}

// CategoryRequest asks for one authorization in a category.  Price is the
// price the buyer is charged for it and is echoed in the result.
type CategoryRequest struct {
	CategoryID string
	Price      model.Price
}

// IssueRequest is the input of Issue.  Prices is the payment price list
// encoded into every signed payload; when empty each request's own price is
// used.
type IssueRequest struct {
	Requests          []CategoryRequest
	Prices            []model.Price
	ExpirationWindow  time.Duration
	Grantee           string
	ReadableSignature bool
}

// IssuedAuthorization summarizes one persisted authorization.
type IssuedAuthorization struct {
	Granter           string      `json:"granter"`
	Grantee           string      `json:"grantee"`
	GranterController string      `json:"granter_controller"`
	GroupID           string      `json:"group_id"`
	Price             model.Price `json:"price"`
	AuthorizationID   string      `json:"authorization_id"`
	CategoryID        string      `json:"category_id"`
	CategoryName      string      `json:"category_name"`
	Expiration        time.Time   `json:"expiration"`
}

// Issue produces one signed authorization per request.  Every request is
// validated and signed first, then all authorizations are inserted in one
// batch: either every one of them is persisted or none is.  The first
// failure aborts the call with its tagged *Error.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) ([]IssuedAuthorization, error) {
	stmts := make([]store.Statement, 0, len(req.Requests))
	out := make([]IssuedAuthorization, 0, len(req.Requests))
	for _, cr := range req.Requests {
		auth, summary, err := i.prepare(ctx, req, cr)
		if err != nil {
			log.Printf("issuer: category %s for %s: %v", cr.CategoryID, req.Grantee, err)
			return nil, err
		}
		auth.ID = uuid.NewString()
		st, err := i.store.DryCreate(model.AuthorizationSchema, auth.Record())
		if err != nil {
			return nil, fail(CodeAuthorizationCreate, err)
		}
		summary.AuthorizationID = auth.ID
		stmts = append(stmts, st)
		out = append(out, summary)
	}
	if err := i.committer.Commit(ctx, stmts); err != nil {
		log.Printf("issuer: persist %d authorizations for %s: %v", len(stmts), req.Grantee, err)
		return nil, fail(CodeAuthorizationCreate, err)
	}
	for _, a := range out {
		log.Printf("issuer: authorization %s issued to %s in category %s", a.AuthorizationID, a.Grantee, a.CategoryID)
	}
	return out, nil
}

func (i *Issuer) prepare(ctx context.Context, req IssueRequest, cr CategoryRequest) (model.Authorization, IssuedAuthorization, error) {
	var none IssuedAuthorization
	if err := i.gate.HasRightsUpon(ctx, req.Grantee, "category", cr.CategoryID, "mint"); err != nil {
		return model.Authorization{}, none, fail(CodeUnauthorized, err)
	}

	prices := req.Prices
	if len(prices) == 0 {
		prices = []model.Price{cr.Price}
	}
	resolved, err := i.resolvePrices(ctx, prices)
	if err != nil {
		return model.Authorization{}, none, err
	}

	category, err := i.hierarchy.Category(ctx, cr.CategoryID)
	if err != nil {
		return model.Authorization{}, none, fail(CodeCategoriesFetch, err)
	}
	if category == nil {
		return model.Authorization{}, none, fail(CodeCategoryNotFound, fmt.Errorf("category %s", cr.CategoryID))
	}

	event, err := i.hierarchy.Event(ctx, *category)
	switch {
	case errors.Is(err, hierarchy.ErrDateNotFound):
		return model.Authorization{}, none, fail(CodeDateNotFound, err)
	case err != nil:
		return model.Authorization{}, none, fail(CodeEventNotFound, err)
	}

	code, err := i.randomCode()
	if err != nil {
		return model.Authorization{}, none, fail(CodeCodeGeneration, err)
	}

	now := i.now().UTC().Truncate(time.Second)
	userExpiration := now.Add(req.ExpirationWindow)
	backendExpiration := userExpiration.Add(i.skew)

	payload := MintPayload{
		Prices:       resolved,
		GroupID:      category.GroupID,
		CategoryName: category.Name,
		Code:         code,
		Expiration:   userExpiration,
	}
	encoded, err := payload.Encode()
	if err != nil {
		return model.Authorization{}, none, fail(CodeInvalidPayload, err)
	}
	sig, err := i.signer.Sign(ctx, event.Controller, encoded)
	if err != nil {
		return model.Authorization{}, none, fail(CodeSignatureFailure, err)
	}

	auth := model.Authorization{
		Grantee:           req.Grantee,
		Granter:           event.Address,
		Mode:              model.ModeMint,
		Signature:         sig.Hex,
		ReadableSignature: req.ReadableSignature,
		Codes:             code,
		Args: map[string]any{
			"prices":        pricesArg(resolved),
			"group_id":      category.GroupID,
			"category_name": category.Name,
			"code":          code,
			"expiration":    userExpiration.Unix(),
			"digest":        ledgerhash.Keccak256Hex(encoded),
		},
		Selectors: map[string]any{
			"category_id": category.ID,
			"event_id":    event.ID,
		},
		UserExpiration:    userExpiration,
		BackendExpiration: backendExpiration,
		CreatedAt:         now,
	}
	summary := IssuedAuthorization{
		Granter:           event.Address,
		Grantee:           req.Grantee,
		GranterController: event.Controller,
		GroupID:           category.GroupID,
		Price:             cr.Price,
		CategoryID:        category.ID,
		CategoryName:      category.Name,
		Expiration:        userExpiration,
	}
	return auth, summary, nil
}

func (i *Issuer) resolvePrices(ctx context.Context, prices []model.Price) ([]PayloadPrice, error) {
	out := make([]PayloadPrice, 0, len(prices))
	for _, p := range prices {
		addr, ok, err := i.currencies.Resolve(ctx, p.Currency)
		if err != nil {
			return nil, fail(CodeCategoriesFetch, fmt.Errorf("resolve currency %s: %w", p.Currency, err))
		}
		if !ok {
			return nil, fail(CodeCategoryNotFound, fmt.Errorf("unknown currency %s", p.Currency))
		}
		value, err := ParseAmount(p.Value)
		if err != nil {
			return nil, fail(CodeInvalidPayload, err)
		}
		fee, err := ParseAmount(p.Fee)
		if err != nil {
			return nil, fail(CodeInvalidPayload, err)
		}
		out = append(out, PayloadPrice{Token: addr, Value: value, Fee: fee})
	}
	return out, nil
}

// randomCode returns codeSize random bytes as 0x-prefixed hex.
func (i *Issuer) randomCode() (string, error) {
	b := make([]byte, codeSize)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// Bind attaches a pending ticket to its authorization: the ticket moves to
// minting and the authorization is flagged as dispatched, in one batch.
func (i *Issuer) Bind(ctx context.Context, ticketID, authorizationID string) error {
	recs, err := i.store.Search(ctx, model.TicketSchema, store.Query{"id": ticketID})
	if err != nil {
		return fail(CodeBindFailure, err)
	}
	if len(recs) == 0 {
		return fail(CodeTicketNotFound, fmt.Errorf("ticket %s", ticketID))
	}
	ticket := model.TicketFromRecord(recs[0])

	recs, err = i.store.Search(ctx, model.AuthorizationSchema, store.Query{
		"id":        authorizationID,
		"grantee":   ticket.Owner,
		"mode":      model.ModeMint,
		"cancelled": false,
		"consumed":  false,
	})
	if err != nil {
		return fail(CodeBindFailure, err)
	}
	if len(recs) == 0 {
		return fail(CodeAuthorizationMissing, fmt.Errorf("authorization %s for %s", authorizationID, ticket.Owner))
	}

	bindTicket, err := i.store.DryUpdate(model.TicketSchema,
		store.Query{"id": ticketID, "status": model.TicketPending},
		store.Record{"authorization_id": authorizationID, "status": model.TicketMinting},
		store.WithGuard())
	if err != nil {
		return fail(CodeBindFailure, err)
	}
	dispatch, err := i.store.DryUpdate(model.AuthorizationSchema,
		store.Query{"id": authorizationID, "dispatched": false},
		store.Record{"dispatched": true},
		store.WithGuard())
	if err != nil {
		return fail(CodeBindFailure, err)
	}
	if err := i.committer.Commit(ctx, []store.Statement{bindTicket, dispatch}); err != nil {
		return fail(CodeBindFailure, err)
	}
	log.Printf("issuer: ticket %s bound to authorization %s", ticketID, authorizationID)
	return nil
}

func pricesArg(prices []PayloadPrice) []map[string]any {
	out := make([]map[string]any, len(prices))
	for n, p := range prices {
		out[n] = map[string]any{
			"token": p.Token,
			"value": p.Value.String(),
			"fee":   p.Fee.String(),
		}
	}
	return out
}
