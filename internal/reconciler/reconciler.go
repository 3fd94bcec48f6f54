// Package reconciler validates confirmed ledger mint events against stored
// state and derives the mutations that apply them, together with the exact
// mutations that undo them.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/iliyamo/ticket-mint-reconciler/internal/hierarchy"
	"github.com/iliyamo/ticket-mint-reconciler/internal/ledgerhash"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// Store is the part of the keyed store the reconciler may use.  It has no
// live write method: conversion only ever builds statements.
type Store interface {
	Search(ctx context.Context, schema store.Schema, q store.Query) ([]store.Record, error)
	DryUpdate(schema store.Schema, q store.Query, patch store.Record, opts ...store.UpdateOption) (store.Statement, error)
}

// MutationSet is the outcome of a successful conversion.  Forward applies
// the event; Compensate restores the state observed during validation.  The
// two are always built together.
type MutationSet struct {
	TicketID        string
	AuthorizationID string
	Owner           string
	Provenance      model.Provenance
	Forward         []store.Statement
	Compensate      []store.Statement
}

// Reconciler converts ledger events.  It holds no mutable state and is safe
// for concurrent use; callers serialize per ticket.
type Reconciler struct {
	store     Store
	hierarchy *hierarchy.Resolver
}

// New returns a Reconciler reading from s.
func New(s Store) *Reconciler {
	return &Reconciler{store: s, hierarchy: hierarchy.NewResolver(s)}
}

// Convert validates ev and returns the mutation pair applying it.  An event
// for an unknown ticket yields (nil, nil).  Every other failure is an
// *Error; nothing is written in any case.
func (r *Reconciler) Convert(ctx context.Context, ev model.LedgerEvent) (*MutationSet, error) {
	recs, err := r.store.Search(ctx, model.TicketSchema, store.Query{"id": ev.TicketID})
	if errors.Is(err, store.ErrInvalidKey) {
		return nil, invalid(MsgFetchTicket, err)
	}
	if err != nil {
		return nil, upstream(MsgFetchTicket, err)
	}
	if len(recs) == 0 {
		log.Printf("reconciler: ticket %s unknown, skipping", ev.TicketID)
		return nil, nil
	}
	ticket := model.TicketFromRecord(recs[0])

	if ticket.GroupID != ev.GroupHash {
		return nil, invalid(MsgGroupID, fmt.Errorf("ticket %s has %s, event has %s", ticket.ID, ticket.GroupID, ev.GroupHash))
	}

	category, err := r.hierarchy.Category(ctx, ticket.CategoryID)
	if err != nil {
		return nil, upstream(MsgCategory, err)
	}
	if category == nil {
		return nil, invalid(MsgCategory, fmt.Errorf("category %s", ticket.CategoryID))
	}

	if !ledgerhash.EqualHex(ledgerhash.CategoryHash(category.Name), ev.CategoryHash) {
		return nil, invalid(MsgCategoryName, fmt.Errorf("category %s does not hash to %s", category.Name, ev.CategoryHash))
	}

	if ticket.Owner != ev.Owner {
		return nil, invalid(MsgOwner, fmt.Errorf("ticket %s is owned by %s, event has %s", ticket.ID, ticket.Owner, ev.Owner))
	}

	event, err := r.hierarchy.Event(ctx, *category)
	if err != nil {
		return nil, invalid(MsgGroupController, err)
	}
	controller := event.Address

	auth, err := r.linkedAuthorization(ctx, ticket, controller)
	if err != nil {
		return nil, err
	}

	if auth.Codes != ev.Code {
		return nil, invalid(MsgAuthorizationCode, fmt.Errorf("authorization %s", auth.ID))
	}

	set, err := r.mutations(ticket, auth)
	if err != nil {
		return nil, invalid(MsgDryPayloads, err)
	}
	set.Provenance = ev.Provenance
	return set, nil
}

func (r *Reconciler) linkedAuthorization(ctx context.Context, ticket model.Ticket, controller string) (model.Authorization, error) {
	if ticket.AuthorizationID == "" {
		return model.Authorization{}, invalid(MsgAuthorization, fmt.Errorf("ticket %s has no authorization", ticket.ID))
	}
	recs, err := r.store.Search(ctx, model.AuthorizationSchema, store.Query{
		"id":      ticket.AuthorizationID,
		"grantee": ticket.Owner,
		"granter": controller,
		"mode":    model.ModeMint,
	})
	if err != nil {
		return model.Authorization{}, upstream(MsgAuthorization, err)
	}
	if len(recs) == 0 {
		return model.Authorization{}, invalid(MsgAuthorization, fmt.Errorf("authorization %s", ticket.AuthorizationID))
	}
	auth, err := model.AuthorizationFromRecord(recs[0])
	if err != nil {
		return model.Authorization{}, upstream(MsgAuthorization, err)
	}
	return auth, nil
}

// mutations builds both sets through the dry builders only.  The
// authorization updates are guarded on the value they flip, so a second
// commit of the same forward set, or a compensation of a set that was never
// applied, aborts its whole batch with store.ErrConflict.
func (r *Reconciler) mutations(ticket model.Ticket, auth model.Authorization) (*MutationSet, error) {
	consume, err := r.store.DryUpdate(model.AuthorizationSchema,
		store.Query{"id": auth.ID, "consumed": false},
		store.Record{"consumed": true},
		store.WithGuard())
	if err != nil {
		return nil, err
	}
	ready, err := r.store.DryUpdate(model.TicketSchema,
		store.Query{"id": ticket.ID},
		store.Record{"status": model.TicketReady})
	if err != nil {
		return nil, err
	}
	release, err := r.store.DryUpdate(model.AuthorizationSchema,
		store.Query{"id": auth.ID, "consumed": true},
		store.Record{"consumed": false},
		store.WithGuard())
	if err != nil {
		return nil, err
	}
	minting, err := r.store.DryUpdate(model.TicketSchema,
		store.Query{"id": ticket.ID},
		store.Record{"status": model.TicketMinting})
	if err != nil {
		return nil, err
	}
	return &MutationSet{
		TicketID:        ticket.ID,
		AuthorizationID: auth.ID,
		Owner:           ticket.Owner,
		Forward:         []store.Statement{consume, ready},
		Compensate:      []store.Statement{release, minting},
	}, nil
}
