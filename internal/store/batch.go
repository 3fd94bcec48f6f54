package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Committer applies an ordered list of statements as one atomic unit.
type Committer struct {
	db *sql.DB
}

// NewCommitter returns a Committer bound to db.
func NewCommitter(db *sql.DB) *Committer { return &Committer{db: db} }

// Commit runs every statement inside a single transaction.  Either all of
// them take effect or none do: any execution error, a guarded statement that
// matched no rows, or a failed commit rolls the transaction back and the
// error is returned.  Callers must never assume partial effects.  An empty
// batch is a no-op.
func (c *Committer) Commit(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: commit: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for i, st := range stmts {
		if err := execStatement(ctx, tx, st); err != nil {
			return fmt.Errorf("store: commit: statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	committed = true
	return nil
}
