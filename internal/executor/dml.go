package executor

import (
	"context"
	"fmt"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/txn"
	"github.com/qindb/qindb/internal/types"
)

func txnIDOf(t *txn.Transaction) ids.TransactionID {
	if t == nil {
		return ids.InvalidTxnID
	}
	return t.ID
}

// buildRowFromValues maps a VALUES row's expressions (evaluated) onto
// def's full column order, honoring an explicit column list and filling
// every omitted column with NULL.
func buildRowFromValues(def catalog.TableDef, cols []string, evaluated []types.Value) ([]types.Value, error) {
	out := make([]types.Value, len(def.Columns))
	for i := range out {
		out[i] = types.Null
	}
	if len(cols) == 0 {
		if len(evaluated) != len(def.Columns) {
			return nil, dberr.Newf(dberr.SemanticError, "table %q has %d columns, %d values given", def.Name, len(def.Columns), len(evaluated))
		}
		copy(out, evaluated)
		return out, nil
	}
	if len(cols) != len(evaluated) {
		return nil, dberr.New(dberr.SemanticError, "column list and value list lengths differ")
	}
	for i, c := range cols {
		idx := def.ColumnIndex(c)
		if idx < 0 {
			return nil, dberr.Newf(dberr.SemanticError, "unknown column %q", c)
		}
		out[idx] = evaluated[i]
	}
	return out, nil
}

func (e *Engine) execInsert(ctx context.Context, t *txn.Transaction, s *ast.InsertStatement) (*Result, error) {
	def, found, err := e.Cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Table)
	}

	var sourceRows [][]types.Value
	ev := e.newEvaluator(ctx, t, Session{})
	if s.Select != nil {
		res, err := e.execSelect(ctx, t, Session{}, s.Select, nil)
		if err != nil {
			return nil, err
		}
		sourceRows = res.Rows
	} else {
		for _, row := range s.Rows {
			vals := make([]types.Value, len(row))
			for i, expr := range row {
				v, err := ev.Eval(expr, nil)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			sourceRows = append(sourceRows, vals)
		}
	}

	count := 0
	for _, vals := range sourceRows {
		full, err := buildRowFromValues(def, s.Cols, vals)
		if err != nil {
			return nil, err
		}
		if err := checkNotNull(def, full); err != nil {
			return nil, err
		}
		rowID, landedPage, slot, err := e.appendRowLocked(ctx, t, &def, txnIDOf(t), full)
		if err != nil {
			return nil, err
		}
		if err := e.insertIntoIndexes(def, rowID, full); err != nil {
			return nil, err
		}
		if t != nil {
			e.Txns.AddUndoRecord(t, txn.UndoRecord{Kind: txn.UndoInsert, Table: s.Table, PageID: landedPage, Slot: slot, Before: encodeRow(full)})
		}
		count++
	}
	if err := e.Cat.UpdateTable(def); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%d row(s) inserted", count)}, nil
}

func checkNotNull(def catalog.TableDef, vals []types.Value) error {
	for i, c := range def.Columns {
		if !c.Nullable && vals[i].IsNull() {
			return dberr.Newf(dberr.ConstraintViolation, "column %q does not allow NULL", c.Name)
		}
	}
	return nil
}

func (e *Engine) execUpdate(ctx context.Context, t *txn.Transaction, s *ast.UpdateStatement) (*Result, error) {
	def, found, err := e.Cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Table)
	}

	rows, err := e.scanLiveLocked(ctx, t, def)
	if err != nil {
		return nil, err
	}
	ev := e.newEvaluator(ctx, t, Session{})
	count := 0
	for _, r := range rows {
		evalRow := rowToEvalRow(def.Name, def.Columns, r.Vals)
		if s.Where != nil {
			keep, err := ev.Eval(s.Where, evalRow)
			if err != nil {
				return nil, err
			}
			if keep.IsNull() || !keep.Bool() {
				continue
			}
		}
		newVals := append([]types.Value{}, r.Vals...)
		for i, col := range s.Cols {
			idx := def.ColumnIndex(col)
			if idx < 0 {
				return nil, dberr.Newf(dberr.SemanticError, "unknown column %q", col)
			}
			v, err := ev.Eval(s.Vals[i], evalRow)
			if err != nil {
				return nil, err
			}
			newVals[idx] = v
		}
		if err := checkNotNull(def, newVals); err != nil {
			return nil, err
		}
		if t != nil {
			e.Txns.AddUndoRecord(t, txn.UndoRecord{Kind: txn.UndoUpdate, Table: s.Table, PageID: r.PageID, Slot: r.Slot, Before: encodeRow(r.Vals)})
		}
		if err := e.removeFromIndexes(def, r.RowID, r.Vals); err != nil {
			return nil, err
		}
		if err := e.updateRowAtLocked(ctx, t, &def, r.PageID, r.Slot, txnIDOf(t), newVals); err != nil {
			return nil, err
		}
		if err := e.insertIntoIndexes(def, r.RowID, newVals); err != nil {
			return nil, err
		}
		count++
	}
	if err := e.Cat.UpdateTable(def); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%d row(s) updated", count)}, nil
}

func (e *Engine) execDelete(ctx context.Context, t *txn.Transaction, s *ast.DeleteStatement) (*Result, error) {
	def, found, err := e.Cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Table)
	}

	rows, err := e.scanLiveLocked(ctx, t, def)
	if err != nil {
		return nil, err
	}
	ev := e.newEvaluator(ctx, t, Session{})
	count := 0
	for _, r := range rows {
		if s.Where != nil {
			evalRow := rowToEvalRow(def.Name, def.Columns, r.Vals)
			keep, err := ev.Eval(s.Where, evalRow)
			if err != nil {
				return nil, err
			}
			if keep.IsNull() || !keep.Bool() {
				continue
			}
		}
		if t != nil {
			e.Txns.AddUndoRecord(t, txn.UndoRecord{Kind: txn.UndoDelete, Table: s.Table, PageID: r.PageID, Slot: r.Slot, Before: encodeRow(r.Vals)})
		}
		if err := e.removeFromIndexes(def, r.RowID, r.Vals); err != nil {
			return nil, err
		}
		if err := e.deleteRowAtLocked(ctx, t, r.PageID, r.Slot, txnIDOf(t)); err != nil {
			return nil, err
		}
		count++
	}
	return &Result{Message: fmt.Sprintf("%d row(s) deleted", count)}, nil
}

// ApplyUndo reverses one UndoRecord during Abort. Its signature matches
// txn.Manager.Abort's apply callback directly, so a caller passes
// e.ApplyUndo itself; the txn package stores undo records opaquely
// because reversing a row change needs access to the table heap, which
// it does not own.
func (e *Engine) ApplyUndo(rec txn.UndoRecord) error {
	def, found, err := e.Cat.GetTable(rec.Table)
	if err != nil {
		return err
	}
	if !found {
		return dberr.Newf(dberr.SemanticError, "table %q does not exist", rec.Table)
	}
	switch rec.Kind {
	case txn.UndoInsert:
		vals, err := decodeRow(rec.Before, def.Columns)
		if err != nil {
			return err
		}
		header, _, ok, err := e.getRecord(rec.PageID, rec.Slot)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.removeFromIndexes(def, header.RowID, vals); err != nil {
			return err
		}
		return e.deleteRowAt(rec.PageID, rec.Slot, ids.InvalidTxnID)
	case txn.UndoUpdate:
		oldVals, err := decodeRow(rec.Before, def.Columns)
		if err != nil {
			return err
		}
		header, payload, ok, err := e.getRecord(rec.PageID, rec.Slot)
		if err != nil {
			return err
		}
		if ok && !header.IsDeleted() {
			newVals, err := decodeRow(payload, def.Columns)
			if err != nil {
				return err
			}
			if err := e.removeFromIndexes(def, header.RowID, newVals); err != nil {
				return err
			}
		}
		if err := e.updateRowAt(&def, rec.PageID, rec.Slot, ids.InvalidTxnID, oldVals); err != nil {
			return err
		}
		return e.insertIntoIndexes(def, header.RowID, oldVals)
	case txn.UndoDelete:
		oldVals, err := decodeRow(rec.Before, def.Columns)
		if err != nil {
			return err
		}
		header, _, ok, err := e.getRecord(rec.PageID, rec.Slot)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.updateRowAt(&def, rec.PageID, rec.Slot, ids.InvalidTxnID, oldVals); err != nil {
			return err
		}
		return e.insertIntoIndexes(def, header.RowID, oldVals)
	}
	return nil
}

// getRecord fetches the stored header and payload at (pageID, slot)
// without pinning the page for the caller, for undo processing that
// needs to inspect a tuple before restoring it.
func (e *Engine) getRecord(pageID page.ID, slot int) (page.RecordHeader, []byte, bool, error) {
	buf, err := e.Pool.FetchPage(pageID)
	if err != nil {
		return page.RecordHeader{}, nil, false, err
	}
	header, payload, ok := page.WrapTablePage(buf).GetRecord(slot)
	e.Pool.UnpinPage(pageID, false)
	return header, payload, ok, nil
}
