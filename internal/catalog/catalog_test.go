package catalog

import (
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/disk"
	"github.com/qindb/qindb/internal/types"
)

func openDBBackedCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(disk.Config{Path: filepath.Join(dir, "cat.qdb")})
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.New(dm, 64)
	backend, err := CreateDBBackend(pool)
	if err != nil {
		t.Fatalf("CreateDBBackend: %v", err)
	}
	return New(backend)
}

func sampleTable(name string) TableDef {
	return TableDef{
		Name: name,
		Columns: []ColumnDef{
			{Name: "id", Type: types.KindInt64, PrimaryKey: true},
			{Name: "label", Type: types.KindVarchar, Nullable: true},
		},
		FirstPageID: 1,
	}
}

func TestDBBackendCreateAndGetTable(t *testing.T) {
	cat := openDBBackedCatalog(t)
	if err := cat.CreateTable(sampleTable("Widgets")); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	def, found, err := cat.GetTable("widgets")
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	if !found {
		t.Fatal("GetTable case-insensitive lookup missed")
	}
	if def.Name != "Widgets" || len(def.Columns) != 2 {
		t.Fatalf("GetTable returned %+v", def)
	}
}

func TestDBBackendCreateTableRejectsDuplicate(t *testing.T) {
	cat := openDBBackedCatalog(t)
	if err := cat.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := cat.CreateTable(sampleTable("T1")); err == nil {
		t.Fatal("expected duplicate CreateTable to fail")
	}
}

func TestDBBackendDropTable(t *testing.T) {
	cat := openDBBackedCatalog(t)
	if err := cat.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := cat.DropTable("T1"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if exists, err := cat.TableExists("t1"); err != nil || exists {
		t.Fatalf("TableExists after drop = %v, %v", exists, err)
	}
}

func TestDBBackendDropUnknownTableFails(t *testing.T) {
	cat := openDBBackedCatalog(t)
	if err := cat.DropTable("ghost"); err == nil {
		t.Fatal("expected DropTable of an unknown table to fail")
	}
}

func TestDBBackendCreateAndDropIndex(t *testing.T) {
	cat := openDBBackedCatalog(t)
	if err := cat.CreateTable(sampleTable("t1")); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	idx := IndexDef{Name: "idx_id", Table: "t1", Columns: []string{"id"}, Unique: true, Kind: IndexBTree, RootID: 5}
	if err := cat.CreateIndex(idx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	got, found, err := cat.GetIndex("idx_id")
	if err != nil || !found {
		t.Fatalf("GetIndex: found=%v err=%v", found, err)
	}
	if got.RootID != 5 || !got.Unique {
		t.Fatalf("GetIndex returned %+v", got)
	}
	if err := cat.DropIndex("t1", "idx_id"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if _, found, _ := cat.GetIndex("idx_id"); found {
		t.Fatal("index still present after DropIndex")
	}
}

func TestDBBackendGetAllTableNamesSorted(t *testing.T) {
	cat := openDBBackedCatalog(t)
	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := cat.CreateTable(sampleTable(name)); err != nil {
			t.Fatalf("CreateTable(%s): %v", name, err)
		}
	}
	names, err := cat.GetAllTableNames()
	if err != nil {
		t.Fatalf("GetAllTableNames: %v", err)
	}
	want := []string{"apple", "mango", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("GetAllTableNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("GetAllTableNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDBBackendUpdateTablePersistsNextRowID(t *testing.T) {
	cat := openDBBackedCatalog(t)
	def := sampleTable("t1")
	if err := cat.CreateTable(def); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	def.NextRowID = 42
	if err := cat.UpdateTable(def); err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}
	got, found, err := cat.GetTable("t1")
	if err != nil || !found {
		t.Fatalf("GetTable: found=%v err=%v", found, err)
	}
	if got.NextRowID != 42 {
		t.Fatalf("NextRowID = %d, want 42", got.NextRowID)
	}
}

func TestFileBackendSaveThenReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")

	fb := CreateFileBackend(path)
	cat := New(fb)
	if err := cat.CreateTable(sampleTable("orders")); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	idx := IndexDef{Name: "idx_order_id", Table: "orders", Columns: []string{"id"}, Kind: IndexBTree, RootID: 3}
	if err := cat.CreateIndex(idx); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := cat.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := OpenFileBackend(path)
	if err != nil {
		t.Fatalf("OpenFileBackend: %v", err)
	}
	cat2 := New(reopened)
	def, found, err := cat2.GetTable("orders")
	if err != nil || !found {
		t.Fatalf("GetTable after reopen: found=%v err=%v", found, err)
	}
	if len(def.Indexes) != 1 || def.Indexes[0].Name != "idx_order_id" {
		t.Fatalf("GetTable after reopen indexes = %+v", def.Indexes)
	}
}

func TestFileBackendOpenMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.yaml")
	fb, err := OpenFileBackend(path)
	if err != nil {
		t.Fatalf("OpenFileBackend: %v", err)
	}
	names, err := New(fb).GetAllTableNames()
	if err != nil {
		t.Fatalf("GetAllTableNames: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("GetAllTableNames on fresh file = %v, want empty", names)
	}
}
