package model

import (
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// Event is the top of the grouping hierarchy.  Address is the ledger-resident
// authority allowed to grant mint authorizations for the event's group and
// Controller names the key the signer uses on its behalf.
type Event struct {
	ID         string    // events.id
	GroupID    string    // events.group_id
	Name       string    // events.name
	Address    string    // events.address (controlling address)
	Controller string    // events.controller (signer key id)
	Dates      []string  // events.dates (JSON list of date ids)
	CreatedAt  time.Time // events.created_at
}

// EventSchema describes the events table.
var EventSchema = store.Schema{
	Table:      "events",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":         store.Key,
		"group_id":   store.Text,
		"name":       store.Text,
		"address":    store.Text,
		"controller": store.Text,
		"dates":      store.KeyList,
		"created_at": store.Time,
	},
}

// EventFromRecord maps an events row.
func EventFromRecord(r store.Record) Event {
	return Event{
		ID:         r.String("id"),
		GroupID:    r.String("group_id"),
		Name:       r.String("name"),
		Address:    r.String("address"),
		Controller: r.String("controller"),
		Dates:      r.Strings("dates"),
		CreatedAt:  r.Time("created_at"),
	}
}

// Record returns the row form of e.
func (e Event) Record() store.Record {
	dates := make([]any, len(e.Dates))
	for i, d := range e.Dates {
		dates[i] = d
	}
	r := store.Record{
		"group_id":   e.GroupID,
		"name":       e.Name,
		"address":    e.Address,
		"controller": e.Controller,
		"dates":      dates,
	}
	if e.ID != "" {
		r["id"] = e.ID
	}
	if !e.CreatedAt.IsZero() {
		r["created_at"] = e.CreatedAt
	}
	return r
}

// Date is an occurrence of an event.  ParentID points at the event.
type Date struct {
	ID       string    // dates.id
	GroupID  string    // dates.group_id
	ParentID string    // dates.parent_id
	Name     string    // dates.name
	BeginsAt time.Time // dates.begins_at
	EndsAt   time.Time // dates.ends_at
}

// DateSchema describes the dates table.
var DateSchema = store.Schema{
	Table:      "dates",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":        store.Key,
		"group_id":  store.Text,
		"parent_id": store.Key,
		"name":      store.Text,
		"begins_at": store.Time,
		"ends_at":   store.Time,
	},
}

// DateFromRecord maps a dates row.
func DateFromRecord(r store.Record) Date {
	return Date{
		ID:       r.String("id"),
		GroupID:  r.String("group_id"),
		ParentID: r.String("parent_id"),
		Name:     r.String("name"),
		BeginsAt: r.Time("begins_at"),
		EndsAt:   r.Time("ends_at"),
	}
}

// Record returns the row form of d.
func (d Date) Record() store.Record {
	r := store.Record{
		"group_id":  d.GroupID,
		"parent_id": d.ParentID,
		"name":      d.Name,
	}
	if d.ID != "" {
		r["id"] = d.ID
	}
	if !d.BeginsAt.IsZero() {
		r["begins_at"] = d.BeginsAt
	}
	if !d.EndsAt.IsZero() {
		r["ends_at"] = d.EndsAt
	}
	return r
}
