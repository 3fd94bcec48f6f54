// Package rights implements the access-rights gate consulted before
// mutating operations.  Rights are stored as grants on (entity type, entity
// value) pairs and each entity type carries its own configuration.
package rights

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// ErrUnauthorized is returned when the grantee holds no matching grant.
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnknownEntity is returned for an entity type with no configuration.
var ErrUnknownEntity = errors.New("unknown entity type")

// ErrRightsExhausted is returned by Grant when a right already has as many
// holders as its count allows.
var ErrRightsExhausted = errors.New("rights exhausted")

// ErrNotEditable is returned by Grant when the grantee already holds a grant
// on an entity type whose grants cannot be edited.
var ErrNotEditable = errors.New("rights not editable")

// EntityConfig configures one entity type.  Public entities are open to
// everyone.  Editable allows an existing grant to be extended.  Counts caps
// the number of distinct holders of a right per entity value (0 = no cap).
type EntityConfig struct {
	Public   bool           `yaml:"public"`
	Editable bool           `yaml:"editable"`
	Counts   map[string]int `yaml:"counts"`
}

// Config maps entity types to their configuration.
type Config map[string]EntityConfig

// DefaultConfig is the configuration used by the service.  Categories are
// public so any buyer may request a mint authorization; events and groups
// are restricted to their administrators.
func DefaultConfig() Config {
	return Config{
		"category": {Public: true},
		"event":    {Editable: true, Counts: map[string]int{"owner": 1}},
		"group":    {Editable: true, Counts: map[string]int{"owner": 1}},
	}
}

// Store is the subset of the keyed store the gate needs.
type Store interface {
	Search(ctx context.Context, schema store.Schema, q store.Query) ([]store.Record, error)
	Create(ctx context.Context, schema store.Schema, r store.Record) (store.Record, error)
	Update(ctx context.Context, schema store.Schema, q store.Query, patch store.Record, opts ...store.UpdateOption) error
}

// Gate answers rights questions.
type Gate struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewGate returns a Gate using cfg.
func NewGate(s Store, cfg Config) *Gate {
	return &Gate{store: s, config: cfg, now: time.Now}
}

// HasRightsUpon returns nil when grantee may act on (entityType,
// entityValue).  Public entity types short-circuit.  Otherwise a grant must
// exist and hold every right listed in required.  It fails closed: a store
// error is reported as an error, never as success.
func (g *Gate) HasRightsUpon(ctx context.Context, grantee, entityType, entityValue string, required ...string) error {
	cfg, ok := g.config[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	if cfg.Public {
		return nil
	}
	grant, err := g.find(ctx, grantee, entityType, entityValue)
	if err != nil {
		return err
	}
	if grant == nil {
		return ErrUnauthorized
	}
	for _, r := range required {
		if !grant.Rights[r] {
			return fmt.Errorf("%w: missing %q on %s %s", ErrUnauthorized, r, entityType, entityValue)
		}
	}
	return nil
}

// Grant gives grantee the listed rights on (entityType, entityValue).
func (g *Gate) Grant(ctx context.Context, grantee, entityType, entityValue string, rights ...string) error {
	cfg, ok := g.config[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	for _, r := range rights {
		limit := cfg.Counts[r]
		if limit <= 0 {
			continue
		}
		holders, err := g.holders(ctx, entityType, entityValue, r, grantee)
		if err != nil {
			return err
		}
		if holders >= limit {
			return fmt.Errorf("%w: %q on %s %s", ErrRightsExhausted, r, entityType, entityValue)
		}
	}
	existing, err := g.find(ctx, grantee, entityType, entityValue)
	if err != nil {
		return err
	}
	if existing == nil {
		set := make(map[string]bool, len(rights))
		for _, r := range rights {
			set[r] = true
		}
		_, err := g.store.Create(ctx, model.RightSchema, store.Record{
			"grantee":      grantee,
			"entity_type":  entityType,
			"entity_value": entityValue,
			"rights":       set,
			"created_at":   g.now().UTC(),
		})
		if err != nil {
			return err
		}
		log.Printf("rights: granted %v on %s %s to %s", rights, entityType, entityValue, grantee)
		return nil
	}
	if !cfg.Editable {
		return fmt.Errorf("%w: %s", ErrNotEditable, entityType)
	}
	merged := make(map[string]bool, len(existing.Rights)+len(rights))
	for r, v := range existing.Rights {
		merged[r] = v
	}
	for _, r := range rights {
		merged[r] = true
	}
	return g.store.Update(ctx, model.RightSchema, store.Query{"id": existing.ID}, store.Record{"rights": merged})
}

func (g *Gate) find(ctx context.Context, grantee, entityType, entityValue string) (*model.Right, error) {
	recs, err := g.store.Search(ctx, model.RightSchema, store.Query{
		"grantee":      grantee,
		"entity_type":  entityType,
		"entity_value": entityValue,
	})
	if err != nil {
		return nil, fmt.Errorf("rights: search: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	r, err := model.RightFromRecord(recs[0])
	if err != nil {
		return nil, fmt.Errorf("rights: decode: %w", err)
	}
	return &r, nil
}

// holders counts the grantees other than exclude that hold right on the
// entity.
func (g *Gate) holders(ctx context.Context, entityType, entityValue, right, exclude string) (int, error) {
	recs, err := g.store.Search(ctx, model.RightSchema, store.Query{
		"entity_type":  entityType,
		"entity_value": entityValue,
	})
	if err != nil {
		return 0, fmt.Errorf("rights: search: %w", err)
	}
	n := 0
	for _, rec := range recs {
		r, err := model.RightFromRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("rights: decode: %w", err)
		}
		if r.Grantee != exclude && r.Rights[right] {
			n++
		}
	}
	return n, nil
}
