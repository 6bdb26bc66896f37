package executor

import (
	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/types"
)

// encodeRow serializes one tuple's column values in table-definition
// order. It reuses types.EncodeSortable column-by-column rather than
// inventing a second wire format: the sortable encoding already carries
// a type tag and a self-delimiting length for every Kind, so it doubles
// as a (not byte-minimal) row format. DecodeSortable rejects the DATE,
// TIME and DATETIME tags, so a row holding a value of those kinds cannot
// be decoded.
func encodeRow(vals []types.Value) []byte {
	var buf []byte
	for _, v := range vals {
		buf = types.EncodeSortable(buf, v)
	}
	return buf
}

// decodeRow reverses encodeRow, reading exactly len(cols) values.
func decodeRow(buf []byte, cols []catalog.ColumnDef) ([]types.Value, error) {
	out := make([]types.Value, len(cols))
	off := 0
	for i := range cols {
		if off >= len(buf) {
			return nil, dberr.New(dberr.Corruption, "row payload shorter than its table's column count")
		}
		v, n, err := types.DecodeSortable(buf[off:])
		if err != nil {
			return nil, err
		}
		out[i] = v
		off += n
	}
	return out, nil
}

// indexKeyBytes builds the composite key an index stores for one row,
// concatenating the sortable encoding of each indexed column's value in
// the order the index definition lists them.
func indexKeyBytes(def catalog.TableDef, idx catalog.IndexDef, row []types.Value) []byte {
	var buf []byte
	for _, col := range idx.Columns {
		i := def.ColumnIndex(col)
		if i < 0 {
			continue
		}
		buf = types.EncodeSortable(buf, row[i])
	}
	return buf
}

// rowToEvalRow builds an eval.Row keyed both by bare column name and by
// "table.column", so a ColumnRef resolves whether or not the query
// qualified it — matching eval.evalColumnRef's qualified-then-bare
// lookup order.
func rowToEvalRow(tableName string, cols []catalog.ColumnDef, vals []types.Value) map[string]types.Value {
	out := make(map[string]types.Value, len(cols)*2)
	for i, c := range cols {
		key := lower(c.Name)
		out[key] = vals[i]
		if tableName != "" {
			out[lower(tableName)+"."+key] = vals[i]
		}
	}
	return out
}

func mergeEvalRows(rows ...map[string]types.Value) map[string]types.Value {
	out := make(map[string]types.Value)
	for _, r := range rows {
		for k, v := range r {
			out[k] = v
		}
	}
	return out
}
