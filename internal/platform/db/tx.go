package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBTxKey      contextKey = "db_tx"
	DBJournalKey contextKey = "db_journal"
)

// Transactor runs fn as one unit of work. Nested calls join the outer unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext retrieves the active pgx transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// PGTransactor runs units of work inside a Postgres transaction.
type PGTransactor struct {
	pool *pgxpool.Pool
}

func NewPGTransactor(pool *pgxpool.Pool) *PGTransactor {
	return &PGTransactor{pool: pool}
}

func (t *PGTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	if t.pool == nil {
		return errors.New("no database pool configured")
	}

	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	j := &journal{}
	txCtx := context.WithValue(ctx, DBTxKey, tx)
	txCtx = context.WithValue(txCtx, DBJournalKey, j)

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	j.committed(ctx)
	return nil
}

// MemoryTransactor gives in-memory repositories all-or-nothing semantics:
// every write inside a unit registers an undo step, and a failed unit runs
// them in reverse. Outermost units run one at a time so an undo never
// clobbers another unit's write.
type MemoryTransactor struct {
	mu sync.Mutex
}

func NewMemoryTransactor() *MemoryTransactor { return &MemoryTransactor{} }

func (t *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if journalFromContext(ctx) != nil {
		return fn(ctx)
	}
	j := &journal{}
	t.mu.Lock()
	if err := fn(context.WithValue(ctx, DBJournalKey, j)); err != nil {
		j.rollback()
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	j.committed(ctx)
	return nil
}

type journal struct {
	mu          sync.Mutex
	undo        []func()
	afterCommit []func(context.Context)
}

func journalFromContext(ctx context.Context) *journal {
	j, _ := ctx.Value(DBJournalKey).(*journal)
	return j
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

func (j *journal) committed(ctx context.Context) {
	j.mu.Lock()
	hooks := j.afterCommit
	j.afterCommit = nil
	j.undo = nil
	j.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

// RecordUndo registers a compensating step for the current unit of work.
// Outside a unit the write is final and the step is dropped.
func RecordUndo(ctx context.Context, fn func()) {
	if j := journalFromContext(ctx); j != nil {
		j.mu.Lock()
		j.undo = append(j.undo, fn)
		j.mu.Unlock()
	}
}

// AfterCommit defers fn until the outermost unit of work commits. Outside a
// unit fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if j := journalFromContext(ctx); j != nil {
		j.mu.Lock()
		j.afterCommit = append(j.afterCommit, fn)
		j.mu.Unlock()
		return
	}
	fn(ctx)
}
