package executor

import (
	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/index/btree"
	"github.com/qindb/qindb/internal/index/hashindex"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/types"
)

const btreeMaxKeysPerPage = 64

// openBTree opens (never creates) the tree backing a BTREE index def.
func (e *Engine) openBTree(idx catalog.IndexDef) *btree.Tree {
	return btree.Open(e.Pool, idx.RootID, btreeMaxKeysPerPage, idx.Unique)
}

// openHash opens the bucket directory backing a HASH index def.
func (e *Engine) openHash(idx catalog.IndexDef) *hashindex.Index {
	return hashindex.Open(e.Pool, idx.BucketPages, e.pageSize())
}

// insertIntoIndexes adds one key/rowid entry to every index on def for
// the row just inserted.
func (e *Engine) insertIntoIndexes(def catalog.TableDef, rowID ids.RowID, vals []types.Value) error {
	for _, idx := range def.Indexes {
		key := indexKeyBytes(def, idx, vals)
		switch idx.Kind {
		case catalog.IndexBTree, catalog.IndexFullText:
			ok, err := e.openBTree(idx).Insert(key, rowID)
			if err != nil {
				return err
			}
			if !ok {
				return dberr.Newf(dberr.ConstraintViolation, "duplicate key violates unique index %q", idx.Name)
			}
		case catalog.IndexHash:
			if err := e.openHash(idx).Insert(key, rowID); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeFromIndexes removes one key/rowid entry from every index on def.
func (e *Engine) removeFromIndexes(def catalog.TableDef, rowID ids.RowID, vals []types.Value) error {
	for _, idx := range def.Indexes {
		key := indexKeyBytes(def, idx, vals)
		switch idx.Kind {
		case catalog.IndexBTree, catalog.IndexFullText:
			if _, err := e.openBTree(idx).Remove(key, rowID); err != nil {
				return err
			}
		case catalog.IndexHash:
			if _, err := e.openHash(idx).Remove(key, rowID); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookupEquality returns the set of RowIDs whose key equals key in idx,
// or nil if idx's access method can't serve a point lookup directly.
func (e *Engine) lookupEquality(idx catalog.IndexDef, key []byte) ([]ids.RowID, error) {
	switch idx.Kind {
	case catalog.IndexBTree, catalog.IndexFullText:
		return e.openBTree(idx).RangeSearch(key, key)
	case catalog.IndexHash:
		return e.openHash(idx).SearchAll(key)
	default:
		return nil, nil
	}
}

func (e *Engine) pageSize() int {
	if e.PageSize > 0 {
		return e.PageSize
	}
	return page.DefaultSize
}

// createIndexFromExisting builds a fresh index of kind over every
// current row of def and returns the populated IndexDef ready to hand
// to the Catalog.
func (e *Engine) createIndexFromExisting(def catalog.TableDef, name string, cols []string, unique bool, kind catalog.IndexKind) (catalog.IndexDef, error) {
	idx := catalog.IndexDef{Name: name, Table: def.Name, Columns: cols, Unique: unique, Kind: kind}
	rows, err := e.scanLive(def)
	if err != nil {
		return idx, err
	}
	switch kind {
	case catalog.IndexBTree, catalog.IndexFullText:
		t, err := btree.Create(e.Pool, btreeMaxKeysPerPage, unique)
		if err != nil {
			return idx, err
		}
		idx.RootID = t.RootID()
		for _, r := range rows {
			ok, err := t.Insert(indexKeyBytes(def, idx, r.Vals), r.RowID)
			if err != nil {
				return idx, err
			}
			if !ok {
				return idx, dberr.Newf(dberr.ConstraintViolation, "duplicate key violates unique index %q", name)
			}
		}
	case catalog.IndexHash:
		capacity := 16
		if len(rows) > capacity {
			capacity = len(rows)
		}
		h, err := hashindex.Create(e.Pool, capacity)
		if err != nil {
			return idx, err
		}
		idx.BucketPages = h.PageIDs()
		for _, r := range rows {
			if err := h.Insert(indexKeyBytes(def, idx, r.Vals), r.RowID); err != nil {
				return idx, err
			}
		}
	}
	return idx, nil
}
