package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/storage/page"
)

func openTemp(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(Config{Path: filepath.Join(dir, "test.qdb"), CatalogInDB: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpenCreatesSuperblock(t *testing.T) {
	m := openTemp(t)
	if m.NumPages() != 1 {
		t.Fatalf("NumPages() = %d, want 1 (superblock only)", m.NumPages())
	}
	catalogInDB, walInDB, err := m.VerifyMagic()
	if err != nil {
		t.Fatalf("VerifyMagic: %v", err)
	}
	if !catalogInDB || walInDB {
		t.Fatalf("catalogInDB=%v walInDB=%v, want true/false", catalogInDB, walInDB)
	}
}

func TestAllocateWriteReadPage(t *testing.T) {
	m := openTemp(t)
	id, buf := m.AllocatePage()
	copy(buf, []byte("payload"))
	if err := m.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	readBuf := make([]byte, m.PageSize())
	if err := m.ReadPage(id, readBuf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(readBuf[:7]) != "payload" {
		t.Fatalf("read back %q, want %q", readBuf[:7], "payload")
	}
}

func TestReadPageOutOfRange(t *testing.T) {
	m := openTemp(t)
	buf := make([]byte, m.PageSize())
	if err := m.ReadPage(page.ID(999), buf); err == nil {
		t.Fatal("expected error reading an unallocated page")
	}
}

func TestFreePageIsReused(t *testing.T) {
	m := openTemp(t)
	id1, _ := m.AllocatePage()
	m.FreePage(id1)
	id2, _ := m.AllocatePage()
	if id2 != id1 {
		t.Fatalf("AllocatePage() = %d, want reused id %d", id2, id1)
	}
}

func TestReopenPreservesSuperblockState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.qdb")

	m1, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m1.SetCatalogRootPage(7); err != nil {
		t.Fatalf("SetCatalogRootPage: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	if m2.CatalogRootPage() != 7 {
		t.Fatalf("CatalogRootPage() = %d, want 7", m2.CatalogRootPage())
	}
}

func TestOpenRejectsCorruptSuperblock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.qdb")
	if err := os.WriteFile(path, make([]byte, page.DefaultSize), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := Open(Config{Path: path}); err == nil {
		t.Fatal("expected Open to reject a zeroed (no magic) file")
	}
}
