// Package catalog implements the Catalog: the single source of truth
// for table, column, and index metadata.
//
// Grounded on tinySQL's pager.Catalog (a system B+-tree keyed by
// tenant/table, storing JSON-encoded CatalogEntry values) for the DB
// backend; the file backend is new, following spec's "stable, readable
// serialized document" requirement with gopkg.in/yaml.v3. Both backends
// implement the same Backend interface so Catalog itself stays
// storage-agnostic; name lookups are case-insensitive throughout
// (names stored as written, compared lowercased), matching the
// teacher's catalogKey convention generalized to a full definition
// record instead of a bare root page id.
package catalog

import (
	"strings"
	"sync"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/types"
)

// IndexKind is the access method backing an IndexDef.
type IndexKind uint8

const (
	IndexBTree IndexKind = iota
	IndexHash
	IndexFullText
)

func (k IndexKind) String() string {
	switch k {
	case IndexBTree:
		return "BTREE"
	case IndexHash:
		return "HASH"
	case IndexFullText:
		return "FULLTEXT"
	default:
		return "UNKNOWN"
	}
}

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name       string     `yaml:"name" json:"name"`
	Type       types.Kind `yaml:"type" json:"type"`
	Nullable   bool       `yaml:"nullable" json:"nullable"`
	PrimaryKey bool       `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
}

// IndexDef describes one index on a table.
type IndexDef struct {
	Name    string    `yaml:"name" json:"name"`
	Table   string    `yaml:"table" json:"table"`
	Columns []string  `yaml:"columns" json:"columns"`
	Unique  bool      `yaml:"unique,omitempty" json:"unique,omitempty"`
	Kind    IndexKind `yaml:"kind" json:"kind"`
	// RootID is the index's B+-tree root page, or the first page of a
	// HashIndex's bucket directory; interpretation depends on Kind.
	RootID page.ID `yaml:"root_id" json:"root_id"`
	// BucketPages lists every bucket-directory page for a HASH index
	// (empty for BTREE/FULLTEXT, where RootID alone suffices).
	BucketPages []page.ID `yaml:"bucket_pages,omitempty" json:"bucket_pages,omitempty"`
}

// TableDef describes one table: its schema, its indexes, and where its
// row chain begins.
type TableDef struct {
	Name        string      `yaml:"name" json:"name"`
	Columns     []ColumnDef `yaml:"columns" json:"columns"`
	Indexes     []IndexDef  `yaml:"indexes" json:"indexes"`
	FirstPageID page.ID     `yaml:"first_page_id" json:"first_page_id"`
	// LastPageID caches the tail of the heap chain so appends don't have
	// to walk every page to find where to insert.
	LastPageID page.ID   `yaml:"last_page_id" json:"last_page_id"`
	NextRowID  ids.RowID `yaml:"next_row_id" json:"next_row_id"`
}

// ColumnIndex returns the position of name within t.Columns, or -1.
func (t *TableDef) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Backend is the storage-agnostic persistence contract a Catalog
// delegates to. Both the DB and file backends implement it.
type Backend interface {
	Put(def TableDef) error
	Get(name string) (TableDef, bool, error)
	Delete(name string) error
	List() ([]string, error)
	Save() error
}

// Catalog is the single source of truth for table/column/index
// metadata, backed by either a DB or file Backend.
type Catalog struct {
	mu      sync.RWMutex
	backend Backend
}

// New wraps backend as a Catalog.
func New(backend Backend) *Catalog {
	return &Catalog{backend: backend}
}

func normalize(name string) string { return strings.ToLower(name) }

// CreateTable registers a brand new table definition. Fails if a table
// of that name (case-insensitively) already exists.
func (c *Catalog) CreateTable(def TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalize(def.Name)
	if _, found, err := c.backend.Get(key); err != nil {
		return err
	} else if found {
		return dberr.Newf(dberr.SemanticError, "table %q already exists", def.Name)
	}
	return c.backend.Put(def)
}

// DropTable removes a table definition. Fails if the table is unknown.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalize(name)
	if _, found, err := c.backend.Get(key); err != nil {
		return err
	} else if !found {
		return dberr.Newf(dberr.SemanticError, "table %q does not exist", name)
	}
	return c.backend.Delete(key)
}

// GetTable looks up a table definition by name.
func (c *Catalog) GetTable(name string) (TableDef, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, found, err := c.backend.Get(normalize(name))
	return def, found, err
}

// TableExists reports whether name refers to a known table.
func (c *Catalog) TableExists(name string) (bool, error) {
	_, found, err := c.GetTable(name)
	return found, err
}

// GetAllTableNames returns every table name, in the case it was created
// with, sorted by the backend.
func (c *Catalog) GetAllTableNames() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend.List()
}

// CreateIndex appends idx to its table's definition. Fails if the table
// is unknown or already has an index of that name.
func (c *Catalog) CreateIndex(idx IndexDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalize(idx.Table)
	def, found, err := c.backend.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return dberr.Newf(dberr.SemanticError, "table %q does not exist", idx.Table)
	}
	for _, existing := range def.Indexes {
		if strings.EqualFold(existing.Name, idx.Name) {
			return dberr.Newf(dberr.SemanticError, "index %q already exists", idx.Name)
		}
	}
	def.Indexes = append(def.Indexes, idx)
	return c.backend.Put(def)
}

// DropIndex removes an index by name from its owning table.
func (c *Catalog) DropIndex(table, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalize(table)
	def, found, err := c.backend.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return dberr.Newf(dberr.SemanticError, "table %q does not exist", table)
	}
	kept := def.Indexes[:0]
	removed := false
	for _, existing := range def.Indexes {
		if strings.EqualFold(existing.Name, indexName) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return dberr.Newf(dberr.SemanticError, "index %q does not exist on table %q", indexName, table)
	}
	def.Indexes = kept
	return c.backend.Put(def)
}

// GetIndex finds an index by name, searching every table, and returns
// the first match; CreateIndex rejects a duplicate name only within one
// table, so the same name can exist on two tables.
func (c *Catalog) GetIndex(indexName string) (IndexDef, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names, err := c.backend.List()
	if err != nil {
		return IndexDef{}, false, err
	}
	for _, name := range names {
		def, found, err := c.backend.Get(normalize(name))
		if err != nil {
			return IndexDef{}, false, err
		}
		if !found {
			continue
		}
		for _, idx := range def.Indexes {
			if strings.EqualFold(idx.Name, indexName) {
				return idx, true, nil
			}
		}
	}
	return IndexDef{}, false, nil
}

// UpdateTable persists a mutated TableDef (e.g. after NextRowID
// advances, or FirstPageID changes from a chain append).
func (c *Catalog) UpdateTable(def TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalize(def.Name)
	if _, found, err := c.backend.Get(key); err != nil {
		return err
	} else if !found {
		return dberr.Newf(dberr.SemanticError, "table %q does not exist", def.Name)
	}
	return c.backend.Put(def)
}

// Save flushes the backend's durable representation (temp-then-rename
// for the file backend, flush_all_pages for the DB backend).
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Save()
}
