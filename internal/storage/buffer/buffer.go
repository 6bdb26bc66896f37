// Package buffer implements the BufferPoolManager: a fixed pool of page
// frames with Clock/second-chance replacement, sitting on top of a
// disk.Manager.
//
// Grounded on tinySQL's pager.PageBufferPool (the pin-count/dirty-flag
// bookkeeping and the single pool-wide mutex carry over directly), but the
// victim-selection policy is replaced: the teacher evicts by LRU via a
// doubly-linked list, this pool walks a circular array of frames with a
// reference bit and a rotating hand, per the Clock algorithm the spec
// requires.
package buffer

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/storage/disk"
	"github.com/qindb/qindb/internal/storage/page"
)

// frame holds one cached page plus its Clock/pin bookkeeping.
type frame struct {
	id        page.ID
	buf       []byte
	pinCount  int
	dirty     bool
	reference bool
	valid     bool // false for an empty slot
}

// Stats are the pool's point-in-time counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Pinned  int
	Dirty   int
	Frames  int
	PoolCap int
}

// String renders Stats with comma-grouped hit/miss counts and the pool's
// pinned/dirty/frame counters, suitable for an ANALYZE/diagnostics report.
func (s Stats) String() string {
	return fmt.Sprintf(
		"hits=%s misses=%s pinned=%d dirty=%d frames=%d/%d",
		humanize.Comma(int64(s.Hits)), humanize.Comma(int64(s.Misses)),
		s.Pinned, s.Dirty, s.Frames, s.PoolCap,
	)
}

// Pool is the BufferPoolManager. All operations are serialized by a
// single mutex, matching the spec's concurrency note: callers must not
// hold a page reference across a Fetch/New call, since eviction may pick
// any unpinned frame including one the caller thinks it still owns.
type Pool struct {
	mu      sync.Mutex
	disk    *disk.Manager
	frames  []frame
	table   map[page.ID]int // page id -> frame index
	hand    int             // Clock hand
	hits    uint64
	misses  uint64
}

// New creates a buffer pool of the given capacity (frame count) backed by dm.
func New(dm *disk.Manager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Pool{
		disk:   dm,
		frames: make([]frame, capacity),
		table:  make(map[page.ID]int, capacity),
	}
}

// FetchPage returns the page buffer for id, pinning it. On a cache miss
// this reads through to disk and may evict a victim frame. Returns
// dberr.IOError if no frame can be evicted (every frame pinned).
func (p *Pool) FetchPage(id page.ID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.table[id]; ok {
		p.hits++
		f := &p.frames[idx]
		f.pinCount++
		f.reference = true
		return f.buf, nil
	}
	p.misses++

	idx, err := p.evictLocked()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, p.disk.PageSize())
	if err := p.disk.ReadPage(id, buf); err != nil {
		return nil, err
	}
	p.frames[idx] = frame{id: id, buf: buf, pinCount: 1, reference: true, valid: true}
	p.table[id] = idx
	return buf, nil
}

// NewPage allocates a fresh page via the DiskManager, installs it as a
// pinned, dirty frame, and returns its id and zeroed buffer.
func (p *Pool) NewPage() (page.ID, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.evictLocked()
	if err != nil {
		return 0, nil, err
	}
	id, buf := p.disk.AllocatePage()
	p.frames[idx] = frame{id: id, buf: buf, pinCount: 1, dirty: true, valid: true}
	p.table[id] = idx
	return id, buf, nil
}

// UnpinPage decrements a page's pin count and ORs in the dirty flag.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.table[id]
	if !ok {
		return
	}
	f := &p.frames[idx]
	if f.pinCount > 0 {
		f.pinCount--
	}
	f.dirty = f.dirty || isDirty
}

// FlushPage writes a single dirty frame through to disk.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.table[id]
	if !ok {
		return nil
	}
	return p.flushFrameLocked(idx)
}

// FlushAll writes every dirty frame through to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx := range p.frames {
		if p.frames[idx].valid && p.frames[idx].dirty {
			if err := p.flushFrameLocked(idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pool) flushFrameLocked(idx int) error {
	f := &p.frames[idx]
	if !f.dirty {
		return nil
	}
	if err := p.disk.WritePage(f.id, f.buf); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// DeletePage evicts id from the cache without writing it back. Fails if
// the page is still pinned; disk-level deallocation is the caller's call.
func (p *Pool) DeletePage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.table[id]
	if !ok {
		return nil
	}
	if p.frames[idx].pinCount > 0 {
		return dberr.Newf(dberr.IOError, "page %d is pinned, cannot delete", id)
	}
	delete(p.table, id)
	p.frames[idx] = frame{}
	return nil
}

// evictLocked finds a free or Clock-evictable frame index. Caller holds p.mu.
func (p *Pool) evictLocked() (int, error) {
	for free, f := range p.frames {
		if !f.valid {
			return free, nil
		}
	}
	n := len(p.frames)
	for i := 0; i < 2*n; i++ {
		idx := p.hand
		p.hand = (p.hand + 1) % n
		f := &p.frames[idx]
		if f.pinCount > 0 {
			continue
		}
		if f.reference {
			f.reference = false
			continue
		}
		if f.dirty {
			if err := p.disk.WritePage(f.id, f.buf); err != nil {
				return 0, err
			}
		}
		delete(p.table, f.id)
		return idx, nil
	}
	return 0, dberr.New(dberr.IOError, "buffer pool exhausted: no unpinned frame to evict")
}

// StatsSnapshot returns the pool's current counters.
func (p *Pool) StatsSnapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Hits: p.hits, Misses: p.misses, PoolCap: len(p.frames)}
	for _, f := range p.frames {
		if !f.valid {
			continue
		}
		s.Frames++
		if f.pinCount > 0 {
			s.Pinned++
		}
		if f.dirty {
			s.Dirty++
		}
	}
	return s
}
