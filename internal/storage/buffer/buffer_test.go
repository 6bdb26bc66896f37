package buffer

import (
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/storage/disk"
)

func openPool(t *testing.T, capacity int) (*disk.Manager, *Pool) {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(disk.Config{Path: filepath.Join(dir, "pool.qdb")})
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return dm, New(dm, capacity)
}

func TestNewPageAndFetchHit(t *testing.T) {
	_, p := openPool(t, 4)
	id, buf, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(buf, []byte("abc"))
	p.UnpinPage(id, true)

	got, err := p.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if string(got[:3]) != "abc" {
		t.Fatalf("FetchPage returned %q, want cached %q", got[:3], "abc")
	}
	stats := p.StatsSnapshot()
	if stats.Hits != 1 {
		t.Fatalf("Hits = %d, want 1", stats.Hits)
	}
}

func TestFetchPageMissReadsThrough(t *testing.T) {
	dm, p := openPool(t, 4)
	id, buf, _ := p.NewPage()
	copy(buf, []byte("persisted"))
	p.UnpinPage(id, true)
	if err := p.FlushPage(id); err != nil {
		t.Fatalf("FlushPage: %v", err)
	}
	if err := p.DeletePage(id); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}

	got, err := p.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage after evict: %v", err)
	}
	if string(got[:9]) != "persisted" {
		t.Fatalf("read-through got %q", got[:9])
	}
	_ = dm
}

func TestEvictionSkipsPinnedFrames(t *testing.T) {
	_, p := openPool(t, 1)
	id1, _, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	// id1 is still pinned (never unpinned) — the single frame is occupied
	// and pinned, so a second NewPage must fail rather than evict it.
	if _, _, err := p.NewPage(); err == nil {
		t.Fatal("expected NewPage to fail when the only frame is pinned")
	}
	_ = id1
}

func TestClockGivesReferencedFrameASecondChance(t *testing.T) {
	_, p := openPool(t, 2)
	idA, _, _ := p.NewPage()
	p.UnpinPage(idA, false)
	idB, _, _ := p.NewPage()
	p.UnpinPage(idB, false)

	// Touch A again so its reference bit is set, then force an eviction by
	// requesting a third page from a two-frame pool.
	if _, err := p.FetchPage(idA); err != nil {
		t.Fatalf("FetchPage idA: %v", err)
	}
	p.UnpinPage(idA, false)

	idC, _, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage (forces eviction): %v", err)
	}
	p.UnpinPage(idC, false)

	if _, ok := p.table[idA]; !ok {
		t.Fatal("recently-referenced frame A should have survived the Clock sweep")
	}
	if _, ok := p.table[idB]; ok {
		t.Fatal("frame B (not re-referenced) should have been the Clock victim")
	}
}

func TestDeletePageRejectsPinned(t *testing.T) {
	_, p := openPool(t, 4)
	id, _, _ := p.NewPage()
	if err := p.DeletePage(id); err == nil {
		t.Fatal("expected DeletePage to reject a still-pinned page")
	}
}
