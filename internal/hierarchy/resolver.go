// Package hierarchy resolves a category to the event that controls it,
// walking category -> date -> event or category -> event.
package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// ErrDateNotFound is returned when a date-parented category points at a date
// that cannot be loaded.
var ErrDateNotFound = errors.New("cannot resolve date")

// ErrEventNotFound is returned when the event at the top of the hierarchy
// cannot be loaded.
var ErrEventNotFound = errors.New("cannot resolve event")

// ErrUnknownParent is returned for a category whose parent type is neither
// date nor event.
var ErrUnknownParent = errors.New("unknown category parent type")

// Searcher is the read side of the keyed store.
type Searcher interface {
	Search(ctx context.Context, schema store.Schema, q store.Query) ([]store.Record, error)
}

// Resolver walks the grouping hierarchy.
type Resolver struct {
	store Searcher
}

// NewResolver returns a Resolver reading from s.
func NewResolver(s Searcher) *Resolver { return &Resolver{store: s} }

// Category loads a category by id.  It returns (nil, nil) when the category
// does not exist.
func (r *Resolver) Category(ctx context.Context, id string) (*model.Category, error) {
	recs, err := r.store.Search(ctx, model.CategorySchema, store.Query{"id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	c, err := model.CategoryFromRecord(recs[0])
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Event returns the event controlling c.  Failures at the date hop wrap
// ErrDateNotFound and failures at the event hop wrap ErrEventNotFound, so
// callers can map them to distinct error tags.
func (r *Resolver) Event(ctx context.Context, c model.Category) (*model.Event, error) {
	eventID := c.ParentID
	switch c.ParentType {
	case model.ParentEvent:
	case model.ParentDate:
		recs, err := r.store.Search(ctx, model.DateSchema, store.Query{"id": c.ParentID})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDateNotFound, err)
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDateNotFound, c.ParentID)
		}
		eventID = model.DateFromRecord(recs[0]).ParentID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownParent, c.ParentType)
	}
	recs, err := r.store.Search(ctx, model.EventSchema, store.Query{"id": eventID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventNotFound, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	ev := model.EventFromRecord(recs[0])
	return &ev, nil
}
