package txn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/storage/wal"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(filepath.Join(dir, "test.wal"), page.DefaultSize)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return NewManager(w)
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m := openManager(t)
	t1, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t2, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if t2.ID <= t1.ID {
		t.Fatalf("t2.ID %d should be > t1.ID %d", t2.ID, t1.ID)
	}
	if t1.State != StateActive {
		t.Fatalf("new transaction state = %s, want ACTIVE", t1.State)
	}
}

func TestSharedLocksAreCompatible(t *testing.T) {
	m := openManager(t)
	t1, _ := m.Begin()
	t2, _ := m.Begin()

	ctx := context.Background()
	ok, err := m.LockPage(ctx, t1, page.ID(5), Shared)
	if err != nil || !ok {
		t.Fatalf("t1 shared lock: ok=%v err=%v", ok, err)
	}
	ok, err = m.LockPage(ctx, t2, page.ID(5), Shared)
	if err != nil || !ok {
		t.Fatalf("t2 shared lock should not conflict: ok=%v err=%v", ok, err)
	}
}

func TestExclusiveLockConflictTimesOut(t *testing.T) {
	m := openManager(t)
	t1, _ := m.Begin()
	t2, _ := m.Begin()

	ctx := context.Background()
	if ok, _ := m.LockPage(ctx, t1, page.ID(9), Exclusive); !ok {
		t.Fatal("t1 should acquire the uncontended X lock")
	}

	start := time.Now()
	ok, err := m.LockWithTimeout(t2, page.ID(9), Exclusive, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("LockWithTimeout: %v", err)
	}
	if ok {
		t.Fatal("t2's conflicting X lock should have timed out, not succeeded")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("timeout fired too early: %v", elapsed)
	}
}

func TestCommitReleasesLocksAndWakesWaiter(t *testing.T) {
	m := openManager(t)
	t1, _ := m.Begin()
	t2, _ := m.Begin()

	ctx := context.Background()
	if ok, _ := m.LockPage(ctx, t1, page.ID(3), Exclusive); !ok {
		t.Fatal("t1 should acquire the uncontended X lock")
	}

	done := make(chan bool, 1)
	go func() {
		ok, _ := m.LockWithTimeout(t2, page.ID(3), Exclusive, 2*time.Second)
		done <- ok
	}()

	// Give the goroutine time to enqueue as a waiter before releasing.
	time.Sleep(20 * time.Millisecond)
	if err := m.Commit(t1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("t2 should have been granted the lock after t1 committed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("t2 was never granted the lock after commit released it")
	}
}

func TestAbortAppliesUndoInReverseOrder(t *testing.T) {
	m := openManager(t)
	t1, _ := m.Begin()

	var applied []UndoKind
	m.AddUndoRecord(t1, UndoRecord{Kind: UndoInsert, PageID: 1, Slot: 0})
	m.AddUndoRecord(t1, UndoRecord{Kind: UndoUpdate, PageID: 1, Slot: 1, Before: []byte("old")})
	m.AddUndoRecord(t1, UndoRecord{Kind: UndoDelete, PageID: 1, Slot: 2, Before: []byte("restored")})

	err := m.Abort(t1, func(rec UndoRecord) error {
		applied = append(applied, rec.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	want := []UndoKind{UndoDelete, UndoUpdate, UndoInsert}
	if len(applied) != len(want) {
		t.Fatalf("applied %d undo records, want %d", len(applied), len(want))
	}
	for i, k := range want {
		if applied[i] != k {
			t.Fatalf("applied[%d] = %v, want %v", i, applied[i], k)
		}
	}
	if t1.State != StateAborted {
		t.Fatalf("state = %s, want ABORTED", t1.State)
	}
}

func TestCannotCommitTerminalTransaction(t *testing.T) {
	m := openManager(t)
	t1, _ := m.Begin()
	if err := m.Commit(t1); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := m.Commit(t1); err == nil {
		t.Fatal("expected second Commit on a COMMITTED transaction to fail")
	}
}
