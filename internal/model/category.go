package model

import "github.com/iliyamo/ticket-mint-reconciler/internal/store"

// Category parent types.  A category hangs either off a single date of an
// event or off the event itself (global categories).
const (
	ParentDate  = "date"
	ParentEvent = "event"
)

// Price is one entry of a category price list.  Currency is the symbol
// resolved to a token address at issuance, Value and Fee are base-10
// integers in the token's smallest unit.
type Price struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
	Fee      string `json:"fee,omitempty"`
}

// Category is read-only from the point of view of this service.
type Category struct {
	ID            string  // categories.id
	GroupID       string  // categories.group_id
	Name          string  // categories.name (at most 32 bytes, encoded on-chain)
	ParentType    string  // categories.parent_type (date or event)
	ParentID      string  // categories.parent_id
	SeatCount     int64   // categories.seat_count
	ReservedCount int64   // categories.reserved_count
	Prices        []Price // categories.prices (JSON)
}

// CategorySchema describes the categories table.
var CategorySchema = store.Schema{
	Table:      "categories",
	PrimaryKey: "id",
	Fields: map[string]store.FieldType{
		"id":             store.Key,
		"group_id":       store.Text,
		"name":           store.Text,
		"parent_type":    store.Text,
		"parent_id":      store.Key,
		"seat_count":     store.Int,
		"reserved_count": store.Int,
		"prices":         store.JSON,
	},
}

// CategoryFromRecord maps a categories row.
func CategoryFromRecord(r store.Record) (Category, error) {
	c := Category{
		ID:            r.String("id"),
		GroupID:       r.String("group_id"),
		Name:          r.String("name"),
		ParentType:    r.String("parent_type"),
		ParentID:      r.String("parent_id"),
		SeatCount:     r.Int("seat_count"),
		ReservedCount: r.Int("reserved_count"),
	}
	if err := r.Decode("prices", &c.Prices); err != nil {
		return Category{}, err
	}
	return c, nil
}

// Record returns the row form of c.
func (c Category) Record() store.Record {
	r := store.Record{
		"group_id":       c.GroupID,
		"name":           c.Name,
		"parent_type":    c.ParentType,
		"parent_id":      c.ParentID,
		"seat_count":     c.SeatCount,
		"reserved_count": c.ReservedCount,
		"prices":         c.Prices,
	}
	if c.ID != "" {
		r["id"] = c.ID
	}
	return r
}
