package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMemoryTransactor_RollsBackInReverse(t *testing.T) {
	tx := NewMemoryTransactor()
	var undone []int
	boom := errors.New("boom")

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		RecordUndo(ctx, func() { undone = append(undone, 1) })
		RecordUndo(ctx, func() { undone = append(undone, 2) })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(undone) != 2 || undone[0] != 2 || undone[1] != 1 {
		t.Errorf("expected undo in reverse order, got %v", undone)
	}
}

func TestMemoryTransactor_CommitRunsAfterCommitHooks(t *testing.T) {
	tx := NewMemoryTransactor()
	var undone, published bool

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		RecordUndo(ctx, func() { undone = true })
		AfterCommit(ctx, func(context.Context) { published = true })
		if published {
			t.Error("hook must wait for commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if undone || !published {
		t.Errorf("undone=%v published=%v", undone, published)
	}
}

func TestMemoryTransactor_NestedJoinsOuter(t *testing.T) {
	tx := NewMemoryTransactor()
	var undone, published bool

	_ = tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if err := tx.WithinTx(ctx, func(ctx context.Context) error {
			RecordUndo(ctx, func() { undone = true })
			AfterCommit(ctx, func(context.Context) { published = true })
			return nil
		}); err != nil {
			return err
		}
		if published {
			t.Error("inner unit must not commit on its own")
		}
		return errors.New("outer fails")
	})
	if !undone || published {
		t.Errorf("expected inner write undone and nothing published, got undone=%v published=%v", undone, published)
	}
}

func TestMemoryTransactor_UnitsDoNotInterleave(t *testing.T) {
	tx := NewMemoryTransactor()
	var inside, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tx.WithinTx(context.Background(), func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				defer atomic.AddInt32(&inside, -1)
				return tx.WithinTx(ctx, func(context.Context) error { return nil })
			})
		}()
	}
	wg.Wait()
	if overlaps != 0 {
		t.Errorf("expected units to run one at a time, got %d overlaps", overlaps)
	}
}

func TestAfterCommit_OutsideUnitRunsNow(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Error("expected hook to run immediately")
	}
	RecordUndo(context.Background(), func() { t.Error("undo outside a unit must never run") })
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx")
	}
}

func TestPGTransactor_NoPool(t *testing.T) {
	err := NewPGTransactor(nil).WithinTx(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Error("expected error without a pool")
	}
}
