// Package dbtest provides a migrated SQLite database and a seeded grouping
// hierarchy for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/database"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/store"
)

// Open returns a freshly migrated SQLite database living in t.TempDir.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

// Fixture is a seeded event -> date -> category chain with one pending
// ticket.
type Fixture struct {
	Event    model.Event
	Date     model.Date
	Category model.Category
	Ticket   model.Ticket
}

// Well known values used by the seeded fixture.
var (
	GroupID      = "0x" + strings.Repeat("ab", 32)
	EventAddress = "0x" + strings.Repeat("0e", 20)
	Controller   = "controller-1"
	Owner        = "0x" + strings.Repeat("0f", 20)
	CategoryName = "VIP"
)

// Seed inserts the fixture through s.
func Seed(t testing.TB, s *store.Store) Fixture {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	ev := model.Event{
		GroupID:    GroupID,
		Name:       "concert",
		Address:    EventAddress,
		Controller: Controller,
		CreatedAt:  created,
	}
	rec, err := s.Create(ctx, model.EventSchema, ev.Record())
	require.NoError(t, err)
	ev.ID = rec.String("id")

	date := model.Date{
		GroupID:  GroupID,
		ParentID: ev.ID,
		Name:     "first night",
		BeginsAt: created.Add(24 * time.Hour),
		EndsAt:   created.Add(27 * time.Hour),
	}
	rec, err = s.Create(ctx, model.DateSchema, date.Record())
	require.NoError(t, err)
	date.ID = rec.String("id")

	require.NoError(t, s.Update(ctx, model.EventSchema, store.Query{"id": ev.ID}, store.Record{"dates": []string{date.ID}}))
	ev.Dates = []string{date.ID}

	cat := model.Category{
		GroupID:    GroupID,
		Name:       CategoryName,
		ParentType: model.ParentDate,
		ParentID:   date.ID,
		SeatCount:  100,
		Prices:     []model.Price{{Currency: "T721Token", Value: "1000", Fee: "10"}},
	}
	rec, err = s.Create(ctx, model.CategorySchema, cat.Record())
	require.NoError(t, err)
	cat.ID = rec.String("id")

	ticket := model.Ticket{
		GroupID:    GroupID,
		CategoryID: cat.ID,
		Owner:      Owner,
		Status:     model.TicketPending,
		CreatedAt:  created,
	}
	rec, err = s.Create(ctx, model.TicketSchema, ticket.Record())
	require.NoError(t, err)
	ticket.ID = rec.String("id")

	return Fixture{Event: ev, Date: date, Category: cat, Ticket: ticket}
}

// Ticket reloads a ticket by id.
func Ticket(t testing.TB, s *store.Store, id string) model.Ticket {
	t.Helper()
	recs, err := s.Search(context.Background(), model.TicketSchema, store.Query{"id": id})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return model.TicketFromRecord(recs[0])
}

// Authorization reloads an authorization by id.
func Authorization(t testing.TB, s *store.Store, id string) model.Authorization {
	t.Helper()
	recs, err := s.Search(context.Background(), model.AuthorizationSchema, store.Query{"id": id})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	a, err := model.AuthorizationFromRecord(recs[0])
	require.NoError(t, err)
	return a
}
