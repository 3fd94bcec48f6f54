package model

import (
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// ModeMint is the only authorization mode issued and reconciled here.
const ModeMint = "mint"

// Authorization is a single-use, signed, time-bounded permission allowing
// Grantee to mint a ticket in a group controlled by Granter.  Codes is the
// random token embedded in the signed payload; the ledger echoes it back in
// the mint event.  Consumed is the only field the reconciler mutates.
type Authorization struct {
	ID                string         // authorizations.id
	Grantee           string         // authorizations.grantee (owner address)
	Granter           string         // authorizations.granter (controlling address)
	Mode              string         // authorizations.mode
	Signature         string         // authorizations.signature
	ReadableSignature bool           // authorizations.readable_signature
	Codes             string         // authorizations.codes
	Args              map[string]any // authorizations.args (JSON)
	Selectors         map[string]any // authorizations.selectors (JSON)
	Consumed          bool           // authorizations.consumed
	Cancelled         bool           // authorizations.cancelled
	Dispatched        bool           // authorizations.dispatched
	UserExpiration    time.Time      // authorizations.user_expiration
	BackendExpiration time.Time      // authorizations.backend_expiration
	CreatedAt         time.Time      // authorizations.created_at
}

// AuthorizationSchema describes the authorizations table.
var AuthorizationSchema = store.Schema{
	Table:      "authorizations",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":                 store.Key,
		"grantee":            store.Text,
		"granter":            store.Text,
		"mode":               store.Text,
		"signature":          store.Text,
		"readable_signature": store.Bool,
		"codes":              store.Text,
		"args":               store.JSON,
		"selectors":          store.JSON,
		"consumed":           store.Bool,
		"cancelled":          store.Bool,
		"dispatched":         store.Bool,
		"user_expiration":    store.Time,
		"backend_expiration": store.Time,
		"created_at":         store.Time,
	},
}

// AuthorizationFromRecord maps an authorizations row.
func AuthorizationFromRecord(r store.Record) (Authorization, error) {
	a := Authorization{
		ID:                r.String("id"),
		Grantee:           r.String("grantee"),
		Granter:           r.String("granter"),
		Mode:              r.String("mode"),
		Signature:         r.String("signature"),
		ReadableSignature: r.Bool("readable_signature"),
		Codes:             r.String("codes"),
		Consumed:          r.Bool("consumed"),
		Cancelled:         r.Bool("cancelled"),
		Dispatched:        r.Bool("dispatched"),
		UserExpiration:    r.Time("user_expiration"),
		BackendExpiration: r.Time("backend_expiration"),
		CreatedAt:         r.Time("created_at"),
	}
	if err := r.Decode("args", &a.Args); err != nil {
		return Authorization{}, err
	}
	if err := r.Decode("selectors", &a.Selectors); err != nil {
		return Authorization{}, err
	}
	return a, nil
}

// Record returns the row form of a.
func (a Authorization) Record() store.Record {
	r := store.Record{
		"grantee":            a.Grantee,
		"granter":            a.Granter,
		"mode":               a.Mode,
		"signature":          a.Signature,
		"readable_signature": a.ReadableSignature,
		"codes":              a.Codes,
		"args":               a.Args,
		"selectors":          a.Selectors,
		"consumed":           a.Consumed,
		"cancelled":          a.Cancelled,
		"dispatched":         a.Dispatched,
		"user_expiration":    a.UserExpiration,
		"backend_expiration": a.BackendExpiration,
	}
	if a.ID != "" {
		r["id"] = a.ID
	}
	if !a.CreatedAt.IsZero() {
		r["created_at"] = a.CreatedAt
	}
	return r
}
