package model

import (
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// Ticket statuses.  A ticket is created pending, moves to minting once its
// authorization has been dispatched to the ledger and to ready when the
// ledger confirms the mint.  A reorg moves it back to minting.
const (
	TicketPending = "pending"
	TicketMinting = "minting"
	TicketReady   = "ready"
)

// Ticket is the purchasable unit whose lifecycle is reconciled against the
// ledger.  Tickets are created outside this service and never deleted by it.
//
// Fields:
//
//	ID              – primary key, also the ledger ticket id.
//	GroupID         – ledger group hash of the owning event.
//	CategoryID      – category the ticket was sold in.
//	AuthorizationID – mint authorization bound to the ticket ("" if unbound).
//	Owner           – address the ticket is minted to.
//	Status          – pending, minting or ready.
//	CreatedAt       – creation timestamp.
type Ticket struct {
	ID              string    // tickets.id
	GroupID         string    // tickets.group_id
	CategoryID      string    // tickets.category_id
	AuthorizationID string    // tickets.authorization_id (nullable)
	Owner           string    // tickets.owner
	Status          string    // tickets.status
	CreatedAt       time.Time // tickets.created_at
}

// TicketSchema describes the tickets table.
var TicketSchema = store.Schema{
	Table:      "tickets",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":               store.Key,
		"group_id":         store.Text,
		"category_id":      store.Key,
		"authorization_id": store.Key,
		"owner":            store.Text,
		"status":           store.Text,
		"created_at":       store.Time,
	},
}

// TicketFromRecord maps a tickets row.
func TicketFromRecord(r store.Record) Ticket {
	return Ticket{
		ID:              r.String("id"),
		GroupID:         r.String("group_id"),
		CategoryID:      r.String("category_id"),
		AuthorizationID: r.String("authorization_id"),
		Owner:           r.String("owner"),
		Status:          r.String("status"),
		CreatedAt:       r.Time("created_at"),
	}
}

// Record returns the row form of t.  Empty optional keys are stored as NULL.
func (t Ticket) Record() store.Record {
	r := store.Record{
		"group_id":    t.GroupID,
		"category_id": t.CategoryID,
		"owner":       t.Owner,
		"status":      t.Status,
	}
	if t.ID != "" {
		r["id"] = t.ID
	}
	if t.AuthorizationID != "" {
		r["authorization_id"] = t.AuthorizationID
	}
	if !t.CreatedAt.IsZero() {
		r["created_at"] = t.CreatedAt
	}
	return r
}
