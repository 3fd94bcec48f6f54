package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store executes statements against a SQL database.  It is safe for
// concurrent use; all state lives in the *sql.DB pool.
type Store struct {
	db *sql.DB
}

// New returns a Store bound to db.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying pool, used by the committer and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Create inserts r and returns the stored record (with a generated primary
// key when none was supplied).
func (s *Store) Create(ctx context.Context, schema Schema, r Record) (Record, error) {
	st, stored, err := buildInsert(schema, r)
	if err != nil {
		return nil, fmt.Errorf("store: create %s: %w", schema.Table, err)
	}
	if _, err := s.db.ExecContext(ctx, st.Query, st.Args...); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", schema.Table, err)
	}
	return stored, nil
}

// Search returns the rows matching q.  An empty result is not an error; the
// returned slice is then nil.
func (s *Store) Search(ctx context.Context, schema Schema, q Query) ([]Record, error) {
	st, err := DrySearch(schema, q)
	if err != nil {
		return nil, fmt.Errorf("store: search %s: %w", schema.Table, err)
	}
	rows, err := s.db.QueryContext(ctx, st.Query, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("store: search %s: %w", schema.Table, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(schema, rows)
		if err != nil {
			return nil, fmt.Errorf("store: search %s: %w", schema.Table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search %s: %w", schema.Table, err)
	}
	return out, nil
}

// Update applies patch to the rows matched by q.  A guarded update that
// matches nothing returns ErrConflict.
func (s *Store) Update(ctx context.Context, schema Schema, q Query, patch Record, opts ...UpdateOption) error {
	st, err := DryUpdate(schema, q, patch, opts...)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", schema.Table, err)
	}
	if err := execStatement(ctx, s.db, st); err != nil {
		return fmt.Errorf("store: update %s: %w", schema.Table, err)
	}
	return nil
}

// Delete removes the rows matched by q.
func (s *Store) Delete(ctx context.Context, schema Schema, q Query) error {
	st, err := DryDelete(schema, q)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", schema.Table, err)
	}
	if err := execStatement(ctx, s.db, st); err != nil {
		return fmt.Errorf("store: delete %s: %w", schema.Table, err)
	}
	return nil
}

// DryCreate, DrySearch, DryUpdate and DryDelete are exposed as methods too so
// that callers can depend on a single interface for both paths.

func (s *Store) DryCreate(schema Schema, r Record) (Statement, error) { return DryCreate(schema, r) }

func (s *Store) DrySearch(schema Schema, q Query) (Statement, error) { return DrySearch(schema, q) }

func (s *Store) DryUpdate(schema Schema, q Query, patch Record, opts ...UpdateOption) (Statement, error) {
	return DryUpdate(schema, q, patch, opts...)
}

func (s *Store) DryDelete(schema Schema, q Query) (Statement, error) { return DryDelete(schema, q) }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execStatement(ctx context.Context, ex execer, st Statement) error {
	res, err := ex.ExecContext(ctx, st.Query, st.Args...)
	if err != nil {
		return err
	}
	if !st.Guarded {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// scanRecord reads the current row using one typed destination per column
// and converts typed keys back to strings.
func scanRecord(schema Schema, rows *sql.Rows) (Record, error) {
	cols := schema.columns()
	dests := make([]any, len(cols))
	for i, c := range cols {
		switch schema.Fields[c] {
		case Int:
			dests[i] = new(sql.NullInt64)
		case Bool:
			dests[i] = new(sql.NullBool)
		case Time:
			dests[i] = new(sql.NullTime)
		case Key:
			dests[i] = new(uuid.NullUUID)
		default:
			dests[i] = new(sql.NullString)
		}
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	rec := make(Record, len(cols))
	for i, c := range cols {
		switch d := dests[i].(type) {
		case *sql.NullInt64:
			if d.Valid {
				rec[c] = d.Int64
			} else {
				rec[c] = nil
			}
		case *sql.NullBool:
			rec[c] = d.Valid && d.Bool
		case *sql.NullTime:
			if d.Valid {
				rec[c] = d.Time.UTC()
			} else {
				rec[c] = nil
			}
		case *uuid.NullUUID:
			rec[c] = *d
		case *sql.NullString:
			v, err := decodeText(schema.Fields[c], *d)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", c, err)
			}
			rec[c] = v
		}
	}
	return CoerceOut(rec).(Record), nil
}

func decodeText(ft FieldType, ns sql.NullString) (any, error) {
	if !ns.Valid {
		return nil, nil
	}
	switch ft {
	case JSON:
		if ns.String == "" {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
			return nil, err
		}
		return v, nil
	case KeyList:
		if ns.String == "" {
			return []uuid.UUID{}, nil
		}
		var keys []uuid.UUID
		if err := json.Unmarshal([]byte(ns.String), &keys); err != nil {
			return nil, err
		}
		return keys, nil
	}
	return ns.String, nil
}
