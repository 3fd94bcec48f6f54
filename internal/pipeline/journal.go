package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// State is the lifecycle of a journaled event.
type State string

const (
	// StateApplied: the event's forward set is in place and owned by it.
	StateApplied State = "applied"
	// StateSuperseded: the same effect was re-confirmed under another
	// provenance, which now owns it.  Orphaning this one undoes nothing.
	StateSuperseded State = "superseded"
	// StateReverted: the event was orphaned.  A later delivery is ignored.
	StateReverted State = "reverted"
)

// Entry is what the driver remembers about an event: enough to recognise a
// redelivery and to undo the effect if the originating transaction is
// orphaned.
type Entry struct {
	TicketID        string            `cbor:"1,keyasint"`
	AuthorizationID string            `cbor:"2,keyasint"`
	Owner           string            `cbor:"3,keyasint"`
	Provenance      model.Provenance  `cbor:"4,keyasint"`
	Compensate      []store.Statement `cbor:"5,keyasint"`
	CommittedAt     time.Time         `cbor:"6,keyasint"`
	State           State             `cbor:"7,keyasint"`
}

// Live reports whether the entry still owns an applied effect.  Entries
// written without a state are applied ones.
func (e Entry) Live() bool {
	return e.State == "" || e.State == StateApplied
}

// ownerKey indexes the provenance currently owning a ticket's minted state.
func ownerKey(ticketID string) string { return "owner:" + ticketID }

// Journal stores entries keyed by provenance.  Get returns (nil, nil) for an
// unknown key.
type Journal interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// MemoryJournal is an in-process Journal used by tests and single-node
// deployments without Redis.  Entries never expire.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryJournal returns an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Entry)}
}

func (j *MemoryJournal) Get(_ context.Context, key string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (j *MemoryJournal) Put(_ context.Context, key string, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key] = e
	return nil
}

func (j *MemoryJournal) Delete(_ context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
