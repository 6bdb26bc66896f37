package executor

import (
	"fmt"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/types"
)

func toColumnDef(c ast.ColumnDef) catalog.ColumnDef {
	return catalog.ColumnDef{Name: c.Name, Type: c.Type, Nullable: c.Nullable, PrimaryKey: c.PrimaryKey}
}

func (e *Engine) execCreateTable(s *ast.CreateTableStatement) (*Result, error) {
	if exists, err := e.Cat.TableExists(s.Name); err != nil {
		return nil, err
	} else if exists {
		if s.IfNotExists {
			return &Result{Message: fmt.Sprintf("table %q already exists, nothing done", s.Name)}, nil
		}
		return nil, dberr.Newf(dberr.SemanticError, "table %q already exists", s.Name)
	}

	id, buf, err := e.Pool.NewPage()
	if err != nil {
		return nil, err
	}
	page.InitTablePage(buf, id)
	e.Pool.UnpinPage(id, true)

	def := catalog.TableDef{Name: s.Name, FirstPageID: id, LastPageID: id, NextRowID: 1}
	for _, c := range s.Columns {
		def.Columns = append(def.Columns, toColumnDef(c))
	}
	if err := e.Cat.CreateTable(def); err != nil {
		return nil, err
	}
	if err := e.Cat.Save(); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q created", s.Name)}, nil
}

func (e *Engine) execDropTable(s *ast.DropTableStatement) (*Result, error) {
	def, found, err := e.Cat.GetTable(s.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		if s.IfExists {
			return &Result{Message: fmt.Sprintf("table %q does not exist, nothing done", s.Name)}, nil
		}
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Name)
	}

	id := def.FirstPageID
	for id != page.InvalidID {
		buf, err := e.Pool.FetchPage(id)
		if err != nil {
			return nil, err
		}
		next := page.WrapTablePage(buf).NextPageID()
		e.Pool.UnpinPage(id, false)
		if err := e.Pool.DeletePage(id); err != nil {
			return nil, err
		}
		id = next
	}
	for _, idx := range def.Indexes {
		e.dropIndexPages(idx)
	}
	if err := e.Cat.DropTable(s.Name); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q dropped", s.Name)}, nil
}

func (e *Engine) dropIndexPages(idx catalog.IndexDef) {
	switch idx.Kind {
	case catalog.IndexBTree, catalog.IndexFullText:
		_ = e.Pool.DeletePage(idx.RootID)
	case catalog.IndexHash:
		for _, id := range idx.BucketPages {
			_ = e.Pool.DeletePage(id)
		}
	}
}

// execAlterTable implements ADD COLUMN: every existing row is
// re-encoded with a trailing NULL for the new column, since the row
// codec reads exactly len(Columns) values per tuple and has no way to
// tell an old-schema row from a new one on its own.
func (e *Engine) execAlterTable(s *ast.AlterTableStatement) (*Result, error) {
	if s.AddColumn == nil {
		return nil, dberr.New(dberr.NotImplemented, "only ALTER TABLE ... ADD COLUMN is supported")
	}
	def, found, err := e.Cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Table)
	}

	rows, err := e.scanLive(def)
	if err != nil {
		return nil, err
	}
	newDef := def
	newDef.Columns = append(append([]catalog.ColumnDef{}, def.Columns...), toColumnDef(*s.AddColumn))
	for _, r := range rows {
		vals := append(append([]types.Value{}, r.Vals...), types.Null)
		if err := e.updateRowAt(&newDef, r.PageID, r.Slot, ids.InvalidTxnID, vals); err != nil {
			return nil, err
		}
	}
	if err := e.Cat.UpdateTable(newDef); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %q altered: column %q added", s.Table, s.AddColumn.Name)}, nil
}

func (e *Engine) execCreateIndex(s *ast.CreateIndexStatement) (*Result, error) {
	def, found, err := e.Cat.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", s.Table)
	}
	kind := catalog.IndexBTree
	switch s.Kind {
	case ast.IndexHash:
		kind = catalog.IndexHash
	case ast.IndexFullText:
		kind = catalog.IndexFullText
	}
	idx, err := e.createIndexFromExisting(def, s.Name, s.Columns, s.Unique, kind)
	if err != nil {
		return nil, err
	}
	if err := e.Cat.CreateIndex(idx); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("index %q created on %q", s.Name, s.Table)}, nil
}

func (e *Engine) execDropIndex(s *ast.DropIndexStatement) (*Result, error) {
	idx, found, err := e.Cat.GetIndex(s.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dberr.Newf(dberr.SemanticError, "index %q does not exist", s.Name)
	}
	e.dropIndexPages(idx)
	if err := e.Cat.DropIndex(s.Table, s.Name); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("index %q dropped", s.Name)}, nil
}

func (e *Engine) execShowTables() (*Result, error) {
	names, err := e.Cat.GetAllTableNames()
	if err != nil {
		return nil, err
	}
	rows := make([][]types.Value, len(names))
	for i, n := range names {
		rows[i] = []types.Value{types.NewVarchar(n)}
	}
	return &Result{Columns: []string{"table_name"}, Rows: rows}, nil
}

func (e *Engine) execShowIndexes(s *ast.ShowIndexesStatement) (*Result, error) {
	var names []string
	if s.Table != "" {
		names = []string{s.Table}
	} else {
		var err error
		names, err = e.Cat.GetAllTableNames()
		if err != nil {
			return nil, err
		}
	}
	var rows [][]types.Value
	for _, n := range names {
		def, found, err := e.Cat.GetTable(n)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		for _, idx := range def.Indexes {
			rows = append(rows, []types.Value{
				types.NewVarchar(idx.Name), types.NewVarchar(def.Name),
				types.NewVarchar(idx.Kind.String()), types.NewBool(idx.Unique),
			})
		}
	}
	return &Result{Columns: []string{"index_name", "table_name", "kind", "unique"}, Rows: rows}, nil
}
