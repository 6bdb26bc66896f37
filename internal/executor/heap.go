package executor

import (
	"context"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/txn"
	"github.com/qindb/qindb/internal/types"
)

// liveRow pairs a decoded tuple with its physical location, needed by
// UPDATE/DELETE to call back into the page it came from.
type liveRow struct {
	PageID page.ID
	Slot   int
	RowID  ids.RowID
	Vals   []types.Value
}

// lockPage acquires mode on pageID under t's two-phase lock set. t may
// be nil for statements the caller chose to run without an explicit
// transaction (auto-commit), in which case no lock is taken — the
// single statement still sees a consistent page via the buffer pool's
// own mutex, it just isn't isolated from concurrent writers.
func (e *Engine) lockPage(ctx context.Context, t *txn.Transaction, pageID page.ID, mode txn.LockMode) error {
	if t == nil {
		return nil
	}
	ok, err := e.Txns.LockPage(ctx, t, pageID, mode)
	if err != nil {
		return err
	}
	if !ok {
		return dberr.Newf(dberr.LockTimeout, "timed out waiting for %s lock on page %d", mode, pageID)
	}
	return nil
}

// scanLive walks a table's entire heap chain and returns every
// non-deleted tuple. There is no locator from RowID to (page, slot)
// other than this walk — B+-tree/hash index lookups only narrow the
// candidate RowID set, they do not point at a page directly, so a
// narrowed scan still has to find the physical slot by RowID match.
// That's a deliberate simplification: a stable item pointer would need
// its own indirection layer the original design doesn't call for.
//
// Under Read Committed, each page's shared lock is released as soon as
// its tuples are copied out rather than held for the statement's
// duration.
func (e *Engine) scanLive(def catalog.TableDef) ([]liveRow, error) {
	return e.scanLiveLocked(context.Background(), nil, def)
}

func (e *Engine) scanLiveLocked(ctx context.Context, t *txn.Transaction, def catalog.TableDef) ([]liveRow, error) {
	var out []liveRow
	id := def.FirstPageID
	for id != page.InvalidID {
		if err := e.lockPage(ctx, t, id, txn.Shared); err != nil {
			return nil, err
		}
		buf, err := e.Pool.FetchPage(id)
		if err != nil {
			return nil, err
		}
		tp := page.WrapTablePage(buf)
		for _, rec := range tp.AllRecords() {
			if rec.Header.IsDeleted() {
				continue
			}
			vals, err := decodeRow(rec.Payload, def.Columns)
			if err != nil {
				e.Pool.UnpinPage(id, false)
				return nil, err
			}
			out = append(out, liveRow{PageID: id, Slot: rec.Slot, RowID: rec.Header.RowID, Vals: vals})
		}
		next := tp.NextPageID()
		e.Pool.UnpinPage(id, false)
		if t != nil {
			e.Txns.UnlockPage(t, id)
		}
		id = next
	}
	return out, nil
}

// appendRow writes a new tuple to the tail of def's heap chain,
// allocating and linking a fresh page when the tail is full, and
// advances/persists NextRowID and LastPageID on def.
func (e *Engine) appendRow(def *catalog.TableDef, txnID ids.TransactionID, vals []types.Value) (ids.RowID, page.ID, int, error) {
	return e.appendRowLocked(context.Background(), nil, def, txnID, vals)
}

// appendRowLocked writes a new tuple to the tail of def's heap chain and
// reports the exact (page, slot) it landed on, so callers can build a
// precise undo record instead of having to re-derive the location later.
func (e *Engine) appendRowLocked(ctx context.Context, t *txn.Transaction, def *catalog.TableDef, txnID ids.TransactionID, vals []types.Value) (ids.RowID, page.ID, int, error) {
	payload := encodeRow(vals)
	rowID := def.NextRowID
	if rowID == ids.InvalidRowID {
		rowID = 1
	}

	tailID := def.LastPageID
	if tailID == page.InvalidID {
		tailID = def.FirstPageID
	}
	if err := e.lockPage(ctx, t, tailID, txn.Exclusive); err != nil {
		return 0, page.InvalidID, 0, err
	}
	buf, err := e.Pool.FetchPage(tailID)
	if err != nil {
		return 0, page.InvalidID, 0, err
	}
	tp := page.WrapTablePage(buf)
	landedPage := tailID
	var slot int
	if s, err := tp.InsertRecord(rowID, txnID, payload); err != nil {
		e.Pool.UnpinPage(tailID, false)
		newID, newBuf, aerr := e.Pool.NewPage()
		if aerr != nil {
			return 0, page.InvalidID, 0, aerr
		}
		ntp := page.InitTablePage(newBuf, newID)
		ns, err := ntp.InsertRecord(rowID, txnID, payload)
		if err != nil {
			return 0, page.InvalidID, 0, dberr.Wrap(dberr.IOError, err, "row does not fit even in a fresh page")
		}
		e.Pool.UnpinPage(newID, true)

		linkBuf, lerr := e.Pool.FetchPage(tailID)
		if lerr != nil {
			return 0, page.InvalidID, 0, lerr
		}
		page.WrapTablePage(linkBuf).SetNextPageID(newID)
		e.Pool.UnpinPage(tailID, true)

		def.LastPageID = newID
		landedPage = newID
		slot = ns
	} else {
		e.Pool.UnpinPage(tailID, true)
		def.LastPageID = tailID
		slot = s
	}

	def.NextRowID = rowID + 1
	return rowID, landedPage, slot, nil
}

// updateRowAt overwrites the tuple at (pageID, slot) in place when the
// new payload still fits the slot; otherwise it logically deletes the
// old tuple and appends the new image at the tail, matching the
// engine's documented overwrite-or-relocate protocol.
func (e *Engine) updateRowAt(def *catalog.TableDef, pageID page.ID, slot int, txnID ids.TransactionID, newVals []types.Value) error {
	return e.updateRowAtLocked(context.Background(), nil, def, pageID, slot, txnID, newVals)
}

func (e *Engine) updateRowAtLocked(ctx context.Context, t *txn.Transaction, def *catalog.TableDef, pageID page.ID, slot int, txnID ids.TransactionID, newVals []types.Value) error {
	if err := e.lockPage(ctx, t, pageID, txn.Exclusive); err != nil {
		return err
	}
	payload := encodeRow(newVals)
	buf, err := e.Pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	tp := page.WrapTablePage(buf)
	if err := tp.UpdateRecord(slot, txnID, payload); err == nil {
		e.Pool.UnpinPage(pageID, true)
		return nil
	}
	// Didn't fit: delete in place, relocate to the tail.
	if err := tp.DeleteRecord(slot, txnID); err != nil {
		e.Pool.UnpinPage(pageID, false)
		return err
	}
	e.Pool.UnpinPage(pageID, true)
	_, _, _, err = e.appendRowLocked(ctx, t, def, txnID, newVals)
	return err
}

// deleteRowAt logically deletes the tuple at (pageID, slot).
func (e *Engine) deleteRowAt(pageID page.ID, slot int, txnID ids.TransactionID) error {
	return e.deleteRowAtLocked(context.Background(), nil, pageID, slot, txnID)
}

func (e *Engine) deleteRowAtLocked(ctx context.Context, t *txn.Transaction, pageID page.ID, slot int, txnID ids.TransactionID) error {
	if err := e.lockPage(ctx, t, pageID, txn.Exclusive); err != nil {
		return err
	}
	buf, err := e.Pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	tp := page.WrapTablePage(buf)
	if err := tp.DeleteRecord(slot, txnID); err != nil {
		e.Pool.UnpinPage(pageID, false)
		return err
	}
	e.Pool.UnpinPage(pageID, true)
	return nil
}

// reinsertRow decodes raw as one of def's rows and appends it at the
// tail of the table's heap chain.
func (e *Engine) reinsertRow(def *catalog.TableDef, txnID ids.TransactionID, raw []byte) error {
	vals, err := decodeRow(raw, def.Columns)
	if err != nil {
		return err
	}
	_, _, _, err = e.appendRow(def, txnID, vals)
	return err
}
