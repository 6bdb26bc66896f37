// Package txn implements the TransactionManager: transaction lifecycle,
// a page-granularity two-phase lock table, and an in-memory undo log for
// rollback.
//
// Grounded in idiom on tinySQL's storage.MVCCManager (atomic id counter,
// mutex-guarded active-transaction map, per-transaction state enum) but
// not in algorithm: the spec rules out snapshot isolation, so there is no
// version chain here. Locking instead follows tinySQL's
// ConcurrencyManager/WorkerPool style of context-aware, timeout-bounded
// blocking — a lock wait is a goroutine selecting on a per-waiter
// channel against a timer, the same shape as processWithTimeout.
package txn

import (
	"context"
	"time"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/storage/wal"
)

// LockMode is the granted access mode on a page lock.
type LockMode uint8

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// State is a transaction's position in the IDLE -> ACTIVE -> terminal
// state machine.
type State uint8

const (
	StateIdle State = iota
	StateActive
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "IDLE"
	}
}

// UndoKind identifies which inverse operation an UndoRecord describes.
type UndoKind uint8

const (
	// UndoInsert undoes an INSERT: the row must be deleted.
	UndoInsert UndoKind = iota
	// UndoUpdate undoes an UPDATE: Before must be restored as the payload.
	UndoUpdate
	// UndoDelete undoes a DELETE: the row (Before) must be re-inserted.
	UndoDelete
)

// UndoRecord captures enough information to reverse one row-level change.
// The txn package stores these opaquely; applying the inverse is the
// caller's responsibility since it requires access to the table heap.
type UndoRecord struct {
	Kind   UndoKind
	Table  string // table the record belongs to, so Abort can route it back
	PageID page.ID
	Slot   int
	Before []byte // pre-image; also set for UndoInsert so indexes can be unwound
}

// Transaction is one unit of work tracked by the Manager.
type Transaction struct {
	ID    ids.TransactionID
	State State

	locks map[page.ID]LockMode
	undo  []UndoRecord
}

// Locks returns a snapshot of the pages this transaction currently holds
// locks on, for diagnostics.
func (t *Transaction) Locks() map[page.ID]LockMode {
	out := make(map[page.ID]LockMode, len(t.locks))
	for k, v := range t.locks {
		out[k] = v
	}
	return out
}

// waiter is one blocked lock request in a page's FCFS queue.
type waiter struct {
	txn   ids.TransactionID
	mode  LockMode
	grant chan struct{}
}

// pageLock is the lock-table entry for a single page.
type pageLock struct {
	holders map[ids.TransactionID]LockMode
	waiters []*waiter
}

// Manager is the TransactionManager: it owns transaction bookkeeping and
// the page lock table, and appends BEGIN/COMMIT/ABORT records to the WAL.
type Manager struct {
	mu     chan struct{} // binary semaphore; see lock()/unlock() below
	wal    *wal.WAL
	nextID uint64
	txns   map[ids.TransactionID]*Transaction
	locks  map[page.ID]*pageLock
}

// NewManager creates a TransactionManager writing BEGIN/COMMIT/ABORT
// records to w.
func NewManager(w *wal.WAL) *Manager {
	return &Manager{
		mu:    make(chan struct{}, 1),
		wal:   w,
		txns:  make(map[ids.TransactionID]*Transaction),
		locks: make(map[page.ID]*pageLock),
	}
}

func (m *Manager) lock()   { m.mu <- struct{}{} }
func (m *Manager) unlock() { <-m.mu }

// Begin starts a new transaction: IDLE -> ACTIVE.
func (m *Manager) Begin() (*Transaction, error) {
	m.lock()
	m.nextID++
	id := ids.TransactionID(m.nextID)
	txn := &Transaction{ID: id, State: StateActive, locks: make(map[page.ID]LockMode)}
	m.txns[id] = txn
	m.unlock()

	if _, err := m.wal.Append(wal.Record{Type: wal.RecordBegin, TxnID: id}); err != nil {
		return nil, err
	}
	return txn, nil
}

// GetTransaction looks up a transaction by id.
func (m *Manager) GetTransaction(id ids.TransactionID) (*Transaction, bool) {
	m.lock()
	defer m.unlock()
	t, ok := m.txns[id]
	return t, ok
}

// AddUndoRecord appends an undo entry to txn's undo log. Entries are
// applied in reverse order on Abort.
func (m *Manager) AddUndoRecord(txn *Transaction, rec UndoRecord) {
	m.lock()
	defer m.unlock()
	txn.undo = append(txn.undo, rec)
}

// compatible reports whether mode can be granted given the page's
// current holders, for a requester that does not already hold the lock.
func compatible(holders map[ids.TransactionID]LockMode, requester ids.TransactionID, mode LockMode) bool {
	for holder, held := range holders {
		if holder == requester {
			continue
		}
		if mode == Exclusive || held == Exclusive {
			return false
		}
	}
	return true
}

// LockPage acquires mode on pageID for txn, blocking up to timeout. It
// returns false (never an error) on a timeout or context cancellation;
// per spec that is the caller's signal to abort the transaction.
func (m *Manager) LockPage(ctx context.Context, txn *Transaction, pageID page.ID, mode LockMode) (bool, error) {
	m.lock()
	if held, ok := txn.locks[pageID]; ok && (held == mode || held == Exclusive) {
		m.unlock()
		return true, nil
	}

	pl := m.locks[pageID]
	if pl == nil {
		pl = &pageLock{holders: make(map[ids.TransactionID]LockMode)}
		m.locks[pageID] = pl
	}

	if len(pl.waiters) == 0 && compatible(pl.holders, txn.ID, mode) {
		pl.holders[txn.ID] = upgrade(pl.holders[txn.ID], mode)
		txn.locks[pageID] = pl.holders[txn.ID]
		m.unlock()
		return true, nil
	}

	w := &waiter{txn: txn.ID, mode: mode, grant: make(chan struct{})}
	pl.waiters = append(pl.waiters, w)
	m.unlock()

	select {
	case <-w.grant:
		m.lock()
		txn.locks[pageID] = pl.holders[txn.ID]
		m.unlock()
		return true, nil
	case <-ctx.Done():
		m.cancelWaiterLocked(pageID, w)
		return false, nil
	}
}

func upgrade(current, requested LockMode) LockMode {
	if current == Exclusive || requested == Exclusive {
		return Exclusive
	}
	return Shared
}

// cancelWaiterLocked removes w from pageID's waiter queue if it is still
// there (it may have just been granted concurrently, in which case its
// grant channel has already fired and this is a no-op).
func (m *Manager) cancelWaiterLocked(pageID page.ID, w *waiter) {
	m.lock()
	defer m.unlock()
	pl := m.locks[pageID]
	if pl == nil {
		return
	}
	for i, other := range pl.waiters {
		if other == w {
			pl.waiters = append(pl.waiters[:i], pl.waiters[i+1:]...)
			return
		}
	}
}

// UnlockPage releases txn's lock on a single page and wakes the front of
// that page's waiter queue as far as compatibility allows. Exposed for
// the Read Committed protocol's "release S after the read completes"
// rule; commit/abort use releaseAllLocked instead.
func (m *Manager) UnlockPage(txn *Transaction, pageID page.ID) bool {
	m.lock()
	defer m.unlock()
	if _, ok := txn.locks[pageID]; !ok {
		return false
	}
	delete(txn.locks, pageID)
	pl := m.locks[pageID]
	if pl == nil {
		return true
	}
	delete(pl.holders, txn.ID)
	m.wakeWaitersLocked(pl)
	return true
}

// wakeWaitersLocked grants as many front-of-queue waiters as the
// compatibility matrix allows, in FCFS order. Caller holds m.mu.
func (m *Manager) wakeWaitersLocked(pl *pageLock) {
	for len(pl.waiters) > 0 {
		w := pl.waiters[0]
		if !compatible(pl.holders, w.txn, w.mode) {
			break
		}
		pl.holders[w.txn] = upgrade(pl.holders[w.txn], w.mode)
		pl.waiters = pl.waiters[1:]
		close(w.grant)
		if w.mode == Exclusive {
			break
		}
	}
}

func (m *Manager) releaseAllLocked(txn *Transaction) {
	for pageID := range txn.locks {
		pl := m.locks[pageID]
		if pl == nil {
			continue
		}
		delete(pl.holders, txn.ID)
		m.wakeWaitersLocked(pl)
	}
	txn.locks = make(map[page.ID]LockMode)
}

// Commit appends a COMMIT record, flushes the WAL through it, releases
// every lock txn holds, and discards its undo log.
func (m *Manager) Commit(txn *Transaction) error {
	if txn.State != StateActive {
		return dberr.Newf(dberr.Unknown, "cannot commit transaction %d in state %s", txn.ID, txn.State)
	}
	lsn, err := m.wal.Append(wal.Record{Type: wal.RecordCommit, TxnID: txn.ID})
	if err != nil {
		return err
	}
	if err := m.wal.FlushUntil(lsn); err != nil {
		return err
	}

	m.lock()
	m.releaseAllLocked(txn)
	m.unlock()

	txn.undo = nil
	txn.State = StateCommitted
	return nil
}

// Abort applies every undo record in reverse order via apply, appends an
// ABORT record, releases locks, and marks the transaction terminal. apply
// is supplied by the caller (the executor/table heap) since reversing a
// row change requires access to storage the txn package does not own.
func (m *Manager) Abort(txn *Transaction, apply func(UndoRecord) error) error {
	if txn.State != StateActive {
		return dberr.Newf(dberr.Unknown, "cannot abort transaction %d in state %s", txn.ID, txn.State)
	}
	for i := len(txn.undo) - 1; i >= 0; i-- {
		if err := apply(txn.undo[i]); err != nil {
			return dberr.Wrap(dberr.IOError, err, "apply undo record during abort")
		}
	}

	if _, err := m.wal.Append(wal.Record{Type: wal.RecordAbort, TxnID: txn.ID}); err != nil {
		return err
	}

	m.lock()
	m.releaseAllLocked(txn)
	m.unlock()

	txn.undo = nil
	txn.State = StateAborted
	return nil
}

// LockWithTimeout is a convenience wrapper around LockPage for callers
// that think in milliseconds rather than a context deadline, mirroring
// the spec's lock_page(txn, page_id, mode, timeout_ms) signature.
func (m *Manager) LockWithTimeout(txn *Transaction, pageID page.ID, mode LockMode, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.LockPage(ctx, txn, pageID, mode)
}
