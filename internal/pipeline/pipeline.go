// Package pipeline drives reconciliation: it serializes events per ticket,
// commits forward mutation sets, remembers their compensations by ledger
// provenance and replays them when the ledger orphans a transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/reconciler"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// ErrInvalidProvenance is returned for an event or reorg notice that does
// not identify a ledger log.
var ErrInvalidProvenance = errors.New("invalid provenance")

// Converter turns a confirmed ledger event into a mutation pair.
type Converter interface {
	Convert(ctx context.Context, ev model.LedgerEvent) (*reconciler.MutationSet, error)
}

// Committer applies a batch atomically.
type Committer interface {
	Commit(ctx context.Context, stmts []store.Statement) error
}

// Outcome kinds published by the driver.
const (
	OutcomeMinted   = "ticket.minted"
	OutcomeReverted = "ticket.mint_reverted"
)

// Outcome describes a committed state change.
type Outcome struct {
	Kind            string
	TicketID        string
	AuthorizationID string
	Owner           string
	Provenance      model.Provenance
	At              time.Time
}

// Notifier is told about every committed outcome.  Failures are logged and
// do not undo the commit.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

// Driver wires the reconciler to the committer.
type Driver struct {
	converter Converter
	committer Committer
	journal   Journal
	locker    Locker
	notifier  Notifier
	now       func() time.Time
}

// NewDriver returns a Driver.  notifier may be nil.
func NewDriver(c Converter, committer Committer, j Journal, l Locker, n Notifier) *Driver {
	return &Driver{converter: c, committer: committer, journal: j, locker: l, notifier: n, now: time.Now}
}

func lockKey(ticketID string) string { return "ticket:" + ticketID }

func logLockKey(key string) string { return "log:" + key }

// lockAll takes the locks in order and returns a function releasing them in
// reverse.  Every caller takes the log lock before the ticket lock.
func (d *Driver) lockAll(ctx context.Context, keys ...string) (func(), error) {
	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, k := range keys {
		unlock, err := d.locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, fmt.Errorf("pipeline: lock %s: %w", k, err)
		}
		held = append(held, unlock)
	}
	return release, nil
}

// HandleConfirmation reconciles one confirmed mint.  Redelivery of an event
// already applied is a no-op, so it is safe to call at least once per
// delivery.  An event whose log was already reported orphaned is ignored.
func (d *Driver) HandleConfirmation(ctx context.Context, ev model.LedgerEvent) error {
	if !ev.Provenance.Valid() {
		return fmt.Errorf("%w: ticket %s", ErrInvalidProvenance, ev.TicketID)
	}
	key := ev.Provenance.Key()

	unlock, err := d.lockAll(ctx, logLockKey(key), lockKey(ev.TicketID))
	if err != nil {
		return err
	}
	defer unlock()

	seen, err := d.journal.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if seen != nil {
		if seen.State == StateReverted {
			log.Printf("pipeline: event %s was orphaned, ignoring", key)
		} else {
			log.Printf("pipeline: event %s already applied to ticket %s", key, seen.TicketID)
		}
		return nil
	}

	set, err := d.converter.Convert(ctx, ev)
	if err != nil {
		return err
	}
	if set == nil {
		return nil
	}

	entry := Entry{
		TicketID:        set.TicketID,
		AuthorizationID: set.AuthorizationID,
		Owner:           set.Owner,
		Provenance:      ev.Provenance,
		Compensate:      set.Compensate,
		CommittedAt:     d.now().UTC(),
		State:           StateApplied,
	}

	err = d.committer.Commit(ctx, set.Forward)
	switch {
	case errors.Is(err, store.ErrConflict):
		return d.adopt(ctx, key, entry)
	case err != nil:
		return fmt.Errorf("pipeline: commit ticket %s: %w", set.TicketID, err)
	}

	if err := d.record(ctx, key, entry); err != nil {
		// Without a journal entry a reorg could not be undone, so the
		// forward effect is withdrawn and the event retried.
		if cerr := d.committer.Commit(ctx, set.Compensate); cerr != nil {
			log.Printf("pipeline: ticket %s committed but neither journaled nor compensated: %v", set.TicketID, cerr)
		}
		if derr := d.journal.Delete(ctx, key); derr != nil {
			log.Printf("pipeline: drop partial entry %s: %v", key, derr)
		}
		return fmt.Errorf("pipeline: %w", err)
	}
	log.Printf("pipeline: ticket %s minted by %s", set.TicketID, key)
	d.notify(ctx, OutcomeMinted, entry)
	return nil
}

// record journals entry under key and makes key the owner of the ticket's
// minted state.
func (d *Driver) record(ctx context.Context, key string, e Entry) error {
	if err := d.journal.Put(ctx, key, e); err != nil {
		return err
	}
	return d.journal.Put(ctx, ownerKey(e.TicketID), Entry{
		TicketID:    e.TicketID,
		Provenance:  e.Provenance,
		CommittedAt: e.CommittedAt,
		State:       StateApplied,
	})
}

// owner returns the provenance key owning the ticket's minted state, or ""
// when none is recorded.
func (d *Driver) owner(ctx context.Context, ticketID string) (string, error) {
	o, err := d.journal.Get(ctx, ownerKey(ticketID))
	if err != nil {
		return "", fmt.Errorf("pipeline: %w", err)
	}
	if o == nil {
		return "", nil
	}
	return o.Provenance.Key(), nil
}

// adopt handles a forward set that is already in place.  Either a previous
// attempt for key committed without journaling, or the same transaction was
// confirmed under another provenance (mined again in a new block).  In both
// cases key becomes the owner, and a previous owner is marked superseded so
// that orphaning it no longer undoes the effect.
func (d *Driver) adopt(ctx context.Context, key string, e Entry) error {
	prev, err := d.owner(ctx, e.TicketID)
	if err != nil {
		return err
	}
	if err := d.record(ctx, key, e); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if prev == "" || prev == key {
		log.Printf("pipeline: ticket %s already minted, recording %s", e.TicketID, key)
		return nil
	}
	old, err := d.journal.Get(ctx, prev)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if old != nil && old.Live() {
		old.State = StateSuperseded
		if err := d.journal.Put(ctx, prev, *old); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	log.Printf("pipeline: ticket %s now minted by %s, superseding %s", e.TicketID, key, prev)
	return nil
}

// HandleReorg undoes the effect of the event at p, if it owns one.  The log
// is remembered as orphaned in every case, so a confirmation delivered
// afterwards is not applied.
func (d *Driver) HandleReorg(ctx context.Context, p model.Provenance) error {
	if !p.Valid() {
		return ErrInvalidProvenance
	}
	key := p.Key()

	unlockLog, err := d.lockAll(ctx, logLockKey(key))
	if err != nil {
		return err
	}
	defer unlockLog()

	entry, err := d.journal.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if entry == nil {
		tomb := Entry{Provenance: p, CommittedAt: d.now().UTC(), State: StateReverted}
		if err := d.journal.Put(ctx, key, tomb); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		log.Printf("pipeline: reorg of %s: nothing applied", key)
		return nil
	}
	if entry.State == StateReverted {
		return nil
	}

	unlock, err := d.lockAll(ctx, lockKey(entry.TicketID))
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the ticket lock: a confirmation may have superseded it.
	entry, err = d.journal.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if entry == nil || entry.State == StateReverted {
		return nil
	}
	owner, err := d.owner(ctx, entry.TicketID)
	if err != nil {
		return err
	}

	reverted := false
	if entry.Live() && (owner == "" || owner == key) {
		err = d.committer.Commit(ctx, entry.Compensate)
		reverted = err == nil
		if errors.Is(err, store.ErrConflict) {
			log.Printf("pipeline: ticket %s already compensated for %s", entry.TicketID, key)
		} else if err != nil {
			return fmt.Errorf("pipeline: compensate ticket %s: %w", entry.TicketID, err)
		}
		if owner == key {
			if err := d.journal.Delete(ctx, ownerKey(entry.TicketID)); err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
		}
	} else {
		log.Printf("pipeline: reorg of %s: ticket %s is owned by %s, keeping it", key, entry.TicketID, owner)
	}

	tomb := *entry
	tomb.State = StateReverted
	tomb.Compensate = nil
	if err := d.journal.Put(ctx, key, tomb); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if reverted {
		log.Printf("pipeline: ticket %s reverted by reorg of %s", entry.TicketID, key)
		d.notify(ctx, OutcomeReverted, *entry)
	}
	return nil
}

func (d *Driver) notify(ctx context.Context, kind string, e Entry) {
	if d.notifier == nil {
		return
	}
	o := Outcome{
		Kind:            kind,
		TicketID:        e.TicketID,
		AuthorizationID: e.AuthorizationID,
		Owner:           e.Owner,
		Provenance:      e.Provenance,
		At:              d.now().UTC(),
	}
	if err := d.notifier.Notify(ctx, o); err != nil {
		log.Printf("pipeline: notify %s for ticket %s: %v", kind, e.TicketID, err)
	}
}

// Retryable reports whether a failed event should be delivered again.
// Validation failures and malformed events never succeed on retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if reconciler.IsValidation(err) || errors.Is(err, ErrInvalidProvenance) {
		return false
	}
	return true
}
