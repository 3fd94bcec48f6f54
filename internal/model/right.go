package model

import (
	"time"

	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// Right is a grant of named rights (e.g. "owner", "mint") held by Grantee on
// a single entity, identified by its type and value.
type Right struct {
	ID          string          // rights.id
	Grantee     string          // rights.grantee
	EntityType  string          // rights.entity_type
	EntityValue string          // rights.entity_value
	Rights      map[string]bool // rights.rights (JSON)
	CreatedAt   time.Time       // rights.created_at
}

// RightSchema describes the rights table.
var RightSchema = store.Schema{
	Table:      "rights",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":           store.Key,
		"grantee":      store.Text,
		"entity_type":  store.Text,
		"entity_value": store.Text,
		"rights":       store.JSON,
		"created_at":   store.Time,
	},
}

// RightFromRecord maps a rights row.
func RightFromRecord(r store.Record) (Right, error) {
	g := Right{
		ID:          r.String("id"),
		Grantee:     r.String("grantee"),
		EntityType:  r.String("entity_type"),
		EntityValue: r.String("entity_value"),
		CreatedAt:   r.Time("created_at"),
	}
	if err := r.Decode("rights", &g.Rights); err != nil {
		return Right{}, err
	}
	return g, nil
}
