package catalog

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/page"
)

// DBBackend stores table definitions as JSON-encoded tuples in a
// dedicated chain of page.TablePage pages — the spec's "reserved low
// page IDs hold sys_tables" design — reusing TablePage wholesale rather
// than building a parallel record format, since a TableDef is exactly
// "one variable-length payload per table" and TablePage already solves
// append/update/logical-delete/chain-growth for that shape. One system
// row id per table def; row ids are otherwise meaningless here and
// serve only as TablePage's required per-tuple key.
type DBBackend struct {
	pool        *buffer.Pool
	firstPageID page.ID
	nextRowID   ids.RowID
}

// CreateDBBackend allocates a brand new, empty system catalog page chain.
func CreateDBBackend(pool *buffer.Pool) (*DBBackend, error) {
	id, buf, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	page.InitTablePage(buf, id)
	pool.UnpinPage(id, true)
	return &DBBackend{pool: pool, firstPageID: id, nextRowID: 1}, nil
}

// OpenDBBackend reopens a system catalog whose chain begins at firstPageID.
func OpenDBBackend(pool *buffer.Pool, firstPageID page.ID) *DBBackend {
	return &DBBackend{pool: pool, firstPageID: firstPageID, nextRowID: 1}
}

// FirstPageID exposes the chain head, for the superblock to persist.
func (b *DBBackend) FirstPageID() page.ID { return b.firstPageID }

// locate scans the chain for the live record matching name, returning
// the page id, slot, and decoded definition.
func (b *DBBackend) locate(name string) (page.ID, int, TableDef, bool, error) {
	cur := b.firstPageID
	for cur != page.InvalidID {
		buf, err := b.pool.FetchPage(cur)
		if err != nil {
			return 0, 0, TableDef{}, false, err
		}
		tp := page.WrapTablePage(buf)
		for _, rec := range tp.AllRecords() {
			if rec.Header.IsDeleted() {
				continue
			}
			var def TableDef
			if err := json.Unmarshal(rec.Payload, &def); err != nil {
				b.pool.UnpinPage(cur, false)
				return 0, 0, TableDef{}, false, err
			}
			if strings.EqualFold(def.Name, name) {
				b.pool.UnpinPage(cur, false)
				return cur, rec.Slot, def, true, nil
			}
		}
		next := tp.NextPageID()
		b.pool.UnpinPage(cur, false)
		cur = next
	}
	return 0, 0, TableDef{}, false, nil
}

func (b *DBBackend) Put(def TableDef) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}

	if pageID, slot, _, found, err := b.locate(def.Name); err != nil {
		return err
	} else if found {
		buf, err := b.pool.FetchPage(pageID)
		if err != nil {
			return err
		}
		tp := page.WrapTablePage(buf)
		updateErr := tp.UpdateRecord(slot, ids.InvalidTxnID, payload)
		if updateErr == nil {
			b.pool.UnpinPage(pageID, true)
			return nil
		}
		// New value no longer fits in its slot: tombstone and relocate,
		// matching the engine's usual overwrite-or-relocate protocol.
		if err := tp.DeleteRecord(slot, ids.InvalidTxnID); err != nil {
			b.pool.UnpinPage(pageID, false)
			return err
		}
		b.pool.UnpinPage(pageID, true)
	}
	return b.appendLocked(payload)
}

func (b *DBBackend) appendLocked(payload []byte) error {
	cur := b.firstPageID
	var lastPageID page.ID
	for cur != page.InvalidID {
		buf, err := b.pool.FetchPage(cur)
		if err != nil {
			return err
		}
		tp := page.WrapTablePage(buf)
		rowID := b.nextRowID
		if _, err := tp.InsertRecord(rowID, ids.InvalidTxnID, payload); err == nil {
			b.nextRowID++
			b.pool.UnpinPage(cur, true)
			return nil
		}
		lastPageID = cur
		next := tp.NextPageID()
		b.pool.UnpinPage(cur, false)
		cur = next
	}

	newID, newBuf, err := b.pool.NewPage()
	if err != nil {
		return err
	}
	page.InitTablePage(newBuf, newID)
	rowID := b.nextRowID
	if _, err := page.WrapTablePage(newBuf).InsertRecord(rowID, ids.InvalidTxnID, payload); err != nil {
		b.pool.UnpinPage(newID, false)
		return dberr.Wrap(dberr.IOError, err, "catalog payload too large for an empty page")
	}
	b.nextRowID++
	b.pool.UnpinPage(newID, true)

	if lastPageID != page.InvalidID {
		buf, err := b.pool.FetchPage(lastPageID)
		if err != nil {
			return err
		}
		page.WrapTablePage(buf).SetNextPageID(newID)
		b.pool.UnpinPage(lastPageID, true)
	} else {
		b.firstPageID = newID
	}
	return nil
}

func (b *DBBackend) Get(name string) (TableDef, bool, error) {
	_, _, def, found, err := b.locate(name)
	return def, found, err
}

func (b *DBBackend) Delete(name string) error {
	pageID, slot, _, found, err := b.locate(name)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	buf, err := b.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	err = page.WrapTablePage(buf).DeleteRecord(slot, ids.InvalidTxnID)
	b.pool.UnpinPage(pageID, true)
	return err
}

func (b *DBBackend) List() ([]string, error) {
	var names []string
	cur := b.firstPageID
	for cur != page.InvalidID {
		buf, err := b.pool.FetchPage(cur)
		if err != nil {
			return nil, err
		}
		tp := page.WrapTablePage(buf)
		for _, rec := range tp.AllRecords() {
			if rec.Header.IsDeleted() {
				continue
			}
			var def TableDef
			if err := json.Unmarshal(rec.Payload, &def); err != nil {
				b.pool.UnpinPage(cur, false)
				return nil, err
			}
			names = append(names, def.Name)
		}
		next := tp.NextPageID()
		b.pool.UnpinPage(cur, false)
		cur = next
	}
	sort.Strings(names)
	return names, nil
}

func (b *DBBackend) Save() error {
	return b.pool.FlushAll()
}
