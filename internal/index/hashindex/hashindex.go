// Package hashindex implements HashIndex: an in-page open-addressed
// hash table over serialized keys, with linear probing and
// load-factor-driven resizing.
//
// New relative to the teacher, which has no hash index at all (only a
// B+-tree and in-memory Go maps). Page layout follows the same
// conventions internal/storage/page and internal/index/btree establish
// (a common page.Header, fixed-size records packed after it) so the
// three index/storage structures read as one family rather than three
// unrelated inventions.
package hashindex

import (
	"hash/fnv"
	"sync"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/page"
)

// maxKeyLen bounds a serialized key stored in one bucket slot, keeping
// buckets fixed-size so the directory can be addressed by simple
// arithmetic instead of a second slotted layer. Keys longer than this
// belong in a B+-tree index instead (hash indexes don't support range
// queries anyway, see spec'd executor guidance).
const maxKeyLen = 64

const (
	stateEmpty byte = iota
	stateOccupied
	stateTombstone
)

// bucketSize: hash(4) + state(1) + keyLen(2) + key(maxKeyLen) + rowid(8).
const bucketSize = 4 + 1 + 2 + maxKeyLen + 8

const growThreshold = 0.75
const shrinkThreshold = 0.125

// Bucket is one decoded hash-table slot.
type Bucket struct {
	Hash  uint32
	State byte
	Key   []byte
	RowID ids.RowID
}

// Index is the HashIndex.
type Index struct {
	mu       sync.Mutex
	pool     *buffer.Pool
	pages    []page.ID
	capacity int // total bucket slots across all pages
	count    int // occupied (non-tombstone, non-empty) slots
}

func bucketsPerPage(pageSize int) int {
	return (pageSize - page.HeaderSize) / bucketSize
}

// Create allocates a fresh hash index with at least initialCapacity
// bucket slots.
func Create(pool *buffer.Pool, initialCapacity int) (*Index, error) {
	idx := &Index{pool: pool}
	if initialCapacity < 1 {
		initialCapacity = 16
	}
	if err := idx.allocate(initialCapacity); err != nil {
		return nil, err
	}
	return idx, nil
}

// Open wraps an existing hash index whose bucket pages are pageIDs, in
// order.
func Open(pool *buffer.Pool, pageIDs []page.ID, pageSize int) *Index {
	perPage := bucketsPerPage(pageSize)
	return &Index{pool: pool, pages: append([]page.ID(nil), pageIDs...), capacity: perPage * len(pageIDs)}
}

// PageIDs returns the index's current bucket pages, for the catalog to persist.
func (idx *Index) PageIDs() []page.ID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]page.ID(nil), idx.pages...)
}

func (idx *Index) allocate(minCapacity int) error {
	perPage := bucketsPerPage(defaultPageSizeHint)
	npages := (minCapacity + perPage - 1) / perPage
	if npages < 1 {
		npages = 1
	}
	for i := 0; i < npages; i++ {
		id, buf, err := idx.pool.NewPage()
		if err != nil {
			return err
		}
		h := &page.Header{Type: page.TypeHashBucket, ID: id}
		page.MarshalHeader(h, buf)
		idx.pool.UnpinPage(id, true)
		idx.pages = append(idx.pages, id)
	}
	idx.capacity = npages * perPage
	return nil
}

// defaultPageSizeHint avoids threading the configured page size through
// every call; the buffer pool always hands back disk.Manager's page
// size, which is fixed for the life of a database file.
const defaultPageSizeHint = page.DefaultSize

func hashKey(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}

func (idx *Index) bucketLocation(slot int) (page.ID, int) {
	perPage := bucketsPerPage(defaultPageSizeHint)
	pageIdx := slot / perPage
	offset := page.HeaderSize + (slot%perPage)*bucketSize
	return idx.pages[pageIdx], offset
}

func (idx *Index) getBucket(slot int) (Bucket, error) {
	pageID, off := idx.bucketLocation(slot)
	buf, err := idx.pool.FetchPage(pageID)
	if err != nil {
		return Bucket{}, err
	}
	defer idx.pool.UnpinPage(pageID, false)
	return decodeBucket(buf[off : off+bucketSize]), nil
}

func (idx *Index) setBucket(slot int, b Bucket) error {
	pageID, off := idx.bucketLocation(slot)
	buf, err := idx.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	encodeBucket(buf[off:off+bucketSize], b)
	idx.pool.UnpinPage(pageID, true)
	return nil
}

func encodeBucket(dst []byte, b Bucket) {
	dst[0] = byte(b.Hash)
	dst[1] = byte(b.Hash >> 8)
	dst[2] = byte(b.Hash >> 16)
	dst[3] = byte(b.Hash >> 24)
	dst[4] = b.State
	kl := len(b.Key)
	if kl > maxKeyLen {
		kl = maxKeyLen
	}
	dst[5] = byte(kl)
	dst[6] = byte(kl >> 8)
	for i := 7; i < 7+maxKeyLen; i++ {
		dst[i] = 0
	}
	copy(dst[7:7+maxKeyLen], b.Key[:kl])
	off := 7 + maxKeyLen
	v := uint64(b.RowID)
	for i := 0; i < 8; i++ {
		dst[off+i] = byte(v >> (8 * uint(i)))
	}
}

func decodeBucket(src []byte) Bucket {
	hash := uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
	state := src[4]
	kl := int(src[5]) | int(src[6])<<8
	key := append([]byte(nil), src[7:7+kl]...)
	off := 7 + maxKeyLen
	var rowID uint64
	for i := 0; i < 8; i++ {
		rowID |= uint64(src[off+i]) << (8 * uint(i))
	}
	return Bucket{Hash: hash, State: state, Key: key, RowID: ids.RowID(rowID)}
}

func (idx *Index) loadFactor() float64 {
	return float64(idx.count) / float64(idx.capacity)
}

// Insert adds (key, rowID). Duplicates are allowed; every prior
// occupant of key is preserved.
func (idx *Index) Insert(key []byte, rowID ids.RowID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(key) > maxKeyLen {
		return dberr.Newf(dberr.IOError, "hash index key too long: %d > %d", len(key), maxKeyLen)
	}
	if idx.loadFactor() >= growThreshold {
		if err := idx.resizeLocked(idx.capacity * 2); err != nil {
			return err
		}
	}

	h := hashKey(key)
	start := int(h) % idx.capacity
	firstTombstone := -1
	for i := 0; i < idx.capacity; i++ {
		slot := (start + i) % idx.capacity
		b, err := idx.getBucket(slot)
		if err != nil {
			return err
		}
		if b.State == stateEmpty {
			target := slot
			if firstTombstone >= 0 {
				target = firstTombstone
			}
			idx.count++
			return idx.setBucket(target, Bucket{Hash: h, State: stateOccupied, Key: key, RowID: rowID})
		}
		if b.State == stateTombstone && firstTombstone < 0 {
			firstTombstone = slot
		}
	}
	if firstTombstone >= 0 {
		idx.count++
		return idx.setBucket(firstTombstone, Bucket{Hash: h, State: stateOccupied, Key: key, RowID: rowID})
	}
	return dberr.New(dberr.IOError, "hash index full: no empty or tombstoned slot found")
}

// SearchAll returns every row id ever inserted under key and not since
// removed. Order is unspecified.
func (idx *Index) SearchAll(key []byte) ([]ids.RowID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	h := hashKey(key)
	start := int(h) % idx.capacity
	var out []ids.RowID
	for i := 0; i < idx.capacity; i++ {
		slot := (start + i) % idx.capacity
		b, err := idx.getBucket(slot)
		if err != nil {
			return nil, err
		}
		if b.State == stateEmpty {
			break
		}
		if b.State == stateOccupied && b.Hash == h && string(b.Key) == string(key) {
			out = append(out, b.RowID)
		}
	}
	return out, nil
}

// Remove deletes the first bucket matching both key and rowID.
func (idx *Index) Remove(key []byte, rowID ids.RowID) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	h := hashKey(key)
	start := int(h) % idx.capacity
	for i := 0; i < idx.capacity; i++ {
		slot := (start + i) % idx.capacity
		b, err := idx.getBucket(slot)
		if err != nil {
			return false, err
		}
		if b.State == stateEmpty {
			break
		}
		if b.State == stateOccupied && b.Hash == h && string(b.Key) == string(key) && b.RowID == rowID {
			if err := idx.setBucket(slot, Bucket{State: stateTombstone}); err != nil {
				return false, err
			}
			idx.count--
			if idx.capacity > 16 && idx.loadFactor() < shrinkThreshold {
				_ = idx.resizeLocked(idx.capacity / 2)
			}
			return true, nil
		}
	}
	return false, nil
}

// Resize rehashes the table into a directory of at least newCapacity
// slots. Exposed directly (in addition to automatic grow/shrink) so
// callers can pre-size a known-large index.
func (idx *Index) Resize(newCapacity int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.resizeLocked(newCapacity)
}

func (idx *Index) resizeLocked(newCapacity int) error {
	if newCapacity < 16 {
		newCapacity = 16
	}
	var live []Bucket
	for slot := 0; slot < idx.capacity; slot++ {
		b, err := idx.getBucket(slot)
		if err != nil {
			return err
		}
		if b.State == stateOccupied {
			live = append(live, b)
		}
	}

	oldPages := idx.pages
	idx.pages = nil
	if err := idx.allocate(newCapacity); err != nil {
		return err
	}
	idx.count = 0

	for _, b := range live {
		if err := idx.insertDuringRehashLocked(b); err != nil {
			return err
		}
	}
	for _, id := range oldPages {
		_ = idx.pool.DeletePage(id)
	}
	return nil
}

func (idx *Index) insertDuringRehashLocked(b Bucket) error {
	start := int(b.Hash) % idx.capacity
	for i := 0; i < idx.capacity; i++ {
		slot := (start + i) % idx.capacity
		cur, err := idx.getBucket(slot)
		if err != nil {
			return err
		}
		if cur.State == stateEmpty {
			idx.count++
			return idx.setBucket(slot, b)
		}
	}
	return dberr.New(dberr.IOError, "hash index rehash: no empty slot in freshly grown table")
}

// Capacity and Count report the table's current size for diagnostics.
func (idx *Index) Capacity() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.capacity
}

func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.count
}
