package hashindex

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/disk"
)

func openIndex(t *testing.T, initialCapacity int) *Index {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(disk.Config{Path: filepath.Join(dir, "hash.qdb")})
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.New(dm, 64)
	idx, err := Create(pool, initialCapacity)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return idx
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%04d", i))
}

func TestInsertAndSearchAll(t *testing.T) {
	idx := openIndex(t, 16)
	for i := 0; i < 10; i++ {
		if err := idx.Insert(key(i), ids.RowID(i+1)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		got, err := idx.SearchAll(key(i))
		if err != nil {
			t.Fatalf("SearchAll(%d): %v", i, err)
		}
		if len(got) != 1 || got[0] != ids.RowID(i+1) {
			t.Fatalf("SearchAll(%d) = %v, want [%d]", i, got, i+1)
		}
	}
}

func TestSearchAllMissingKeyReturnsEmpty(t *testing.T) {
	idx := openIndex(t, 16)
	if err := idx.Insert(key(1), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := idx.SearchAll(key(999))
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("SearchAll(missing) = %v, want empty", got)
	}
}

func TestDuplicateKeysAllInsertsSurvive(t *testing.T) {
	idx := openIndex(t, 16)
	want := []ids.RowID{5, 3, 8}
	for _, rowID := range want {
		if err := idx.Insert(key(7), rowID); err != nil {
			t.Fatalf("Insert dup: %v", err)
		}
	}
	got, err := idx.SearchAll(key(7))
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("SearchAll(dup) = %v, want 3 entries", got)
	}
	seen := map[ids.RowID]bool{}
	for _, r := range got {
		seen[r] = true
	}
	for _, r := range want {
		if !seen[r] {
			t.Fatalf("SearchAll(dup) missing row %d, got %v", r, got)
		}
	}
}

func TestRemoveDeletesOnlyMatchingRow(t *testing.T) {
	idx := openIndex(t, 16)
	for _, rowID := range []ids.RowID{1, 2, 3} {
		if err := idx.Insert(key(7), rowID); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	ok, err := idx.Remove(key(7), 2)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !ok {
		t.Fatal("Remove returned false, want true")
	}
	got, err := idx.SearchAll(key(7))
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchAll after Remove = %v, want 2 entries", got)
	}
	for _, r := range got {
		if r == 2 {
			t.Fatal("removed row 2 still present")
		}
	}
}

func TestRemoveMissingReturnsFalse(t *testing.T) {
	idx := openIndex(t, 16)
	if err := idx.Insert(key(1), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err := idx.Remove(key(1), 999)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok {
		t.Fatal("Remove of non-matching rowID returned true")
	}
}

func TestGrowsPastLoadFactorThreshold(t *testing.T) {
	idx := openIndex(t, 16)
	initialCap := idx.Capacity()
	const n = 200
	for i := 0; i < n; i++ {
		if err := idx.Insert(key(i), ids.RowID(i+1)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if idx.Capacity() <= initialCap {
		t.Fatalf("Capacity() = %d, want growth past initial %d after %d inserts", idx.Capacity(), initialCap, n)
	}
	if idx.Count() != n {
		t.Fatalf("Count() = %d, want %d", idx.Count(), n)
	}
	for i := 0; i < n; i++ {
		got, err := idx.SearchAll(key(i))
		if err != nil {
			t.Fatalf("SearchAll(%d): %v", i, err)
		}
		if len(got) != 1 || got[0] != ids.RowID(i+1) {
			t.Fatalf("SearchAll(%d) after grow = %v, want [%d]", i, got, i+1)
		}
	}
}

func TestInsertRejectsOversizedKey(t *testing.T) {
	idx := openIndex(t, 16)
	big := make([]byte, maxKeyLen+1)
	if err := idx.Insert(big, 1); err == nil {
		t.Fatal("expected Insert of an oversized key to fail")
	}
}

func TestResizeRoundTripsAllEntries(t *testing.T) {
	idx := openIndex(t, 16)
	const n = 50
	for i := 0; i < n; i++ {
		if err := idx.Insert(key(i), ids.RowID(i+1)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := idx.Resize(512); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if idx.Capacity() < 512 {
		t.Fatalf("Capacity() = %d, want >= 512", idx.Capacity())
	}
	for i := 0; i < n; i++ {
		got, err := idx.SearchAll(key(i))
		if err != nil {
			t.Fatalf("SearchAll(%d): %v", i, err)
		}
		if len(got) != 1 || got[0] != ids.RowID(i+1) {
			t.Fatalf("SearchAll(%d) after Resize = %v, want [%d]", i, got, i+1)
		}
	}
}
