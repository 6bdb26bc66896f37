// Package disk implements the DiskManager: the bottom-most storage layer
// that maps a PageID to a file offset, reads/writes whole pages, allocates
// new page ids, and tracks the persistent magic header (format version,
// catalog-in-db / wal-in-db feature bits).
//
// Grounded on the raw-I/O half of tinySQL's Pager (readPageRaw/
// writePageRaw/AllocPage) and its Superblock, but split out as a standalone
// component: buffer pooling (internal/storage/buffer) is a separate layer
// that calls through this one, matching the spec's L1/L3 component split
// instead of tinySQL's single do-everything Pager.
package disk

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/storage/page"
)

// Magic identifies a qindb database file. Superblock layout (fits in one
// page):
//
//	[0..31]   common page.Header (Type=Superblock, ID=0)
//	[32..39]  Magic            [8]byte "QINDBv1\x00"
//	[40..43]  FormatVersion    uint32 LE
//	[44..47]  PageSize         uint32 LE
//	[48..55]  PageCount        uint64 LE
//	[56..63]  FeatureFlags     uint64 LE (bitmask)
//	[64..71]  CatalogRootPage  uint64 LE
//	[72..79]  FreeListRootPage uint64 LE
//	[80..87]  CheckpointLSN    uint64 LE
//	[88..95]  NextTxnID        uint64 LE
//	[96..103] NextPageID       uint64 LE
//	[104..]   reserved, zero-filled
const Magic = "QINDBv1\x00"

const CurrentFormatVersion uint32 = 1

const (
	sbMagicOff      = page.HeaderSize
	sbFormatVerOff  = sbMagicOff + 8
	sbPageSizeOff   = sbFormatVerOff + 4
	sbPageCountOff  = sbPageSizeOff + 4
	sbFeatureOff    = sbPageCountOff + 8
	sbCatalogOff    = sbFeatureOff + 8
	sbFreeListOff   = sbCatalogOff + 8
	sbCheckpointOff = sbFreeListOff + 8
	sbNextTxnOff    = sbCheckpointOff + 8
	sbNextPageOff   = sbNextTxnOff + 8
)

// FeatureFlag is a bitmask of optional persisted format features.
type FeatureFlag uint64

const (
	// FeatureCatalogInDB indicates the catalog lives in a chain of table
	// pages inside this database file (headed by CatalogRootPage) rather
	// than a sidecar document.
	FeatureCatalogInDB FeatureFlag = 1 << iota
	// FeatureWALInDB records the wal_in_db setting. No in-file WAL exists:
	// the log is kept in the separate wal.log file whatever this bit says.
	FeatureWALInDB
)

// SupportedFeatures is the set of flags this build understands; an
// unrecognized bit in a file's header causes VerifyMagic to fail closed.
const SupportedFeatures = FeatureCatalogInDB | FeatureWALInDB

// Superblock holds the parsed contents of page 0.
type Superblock struct {
	FormatVersion    uint32
	PageSize         uint32
	PageCount        uint64
	FeatureFlags     FeatureFlag
	CatalogRootPage  page.ID
	FreeListRootPage page.ID
	CheckpointLSN    page.LSN
	NextTxnID        uint64
	NextPageID       page.ID
}

func marshalSuperblock(sb *Superblock, pageSize int) []byte {
	buf := page.New(pageSize, page.TypeSuperblock, 0)
	copy(buf[sbMagicOff:sbMagicOff+8], Magic)
	binary.LittleEndian.PutUint32(buf[sbFormatVerOff:], sb.FormatVersion)
	binary.LittleEndian.PutUint32(buf[sbPageSizeOff:], sb.PageSize)
	binary.LittleEndian.PutUint64(buf[sbPageCountOff:], sb.PageCount)
	binary.LittleEndian.PutUint64(buf[sbFeatureOff:], uint64(sb.FeatureFlags))
	binary.LittleEndian.PutUint64(buf[sbCatalogOff:], uint64(sb.CatalogRootPage))
	binary.LittleEndian.PutUint64(buf[sbFreeListOff:], uint64(sb.FreeListRootPage))
	binary.LittleEndian.PutUint64(buf[sbCheckpointOff:], uint64(sb.CheckpointLSN))
	binary.LittleEndian.PutUint64(buf[sbNextTxnOff:], sb.NextTxnID)
	binary.LittleEndian.PutUint64(buf[sbNextPageOff:], uint64(sb.NextPageID))
	page.SetCRC(buf)
	return buf
}

// parseMagic decodes and validates page 0, implementing the spec's
// verify_and_parse_magic contract.
func parseMagic(buf []byte) (*Superblock, error) {
	if len(buf) < page.MinSize {
		return nil, dberr.Newf(dberr.Corruption, "superblock buffer too small: %d bytes", len(buf))
	}
	if err := page.VerifyCRC(buf); err != nil {
		return nil, dberr.Wrap(dberr.Corruption, err, "superblock CRC")
	}
	magic := string(buf[sbMagicOff : sbMagicOff+8])
	if magic != Magic {
		return nil, dberr.Newf(dberr.Corruption, "bad magic %q, expected %q", magic, Magic)
	}
	sb := &Superblock{
		FormatVersion:    binary.LittleEndian.Uint32(buf[sbFormatVerOff:]),
		PageSize:         binary.LittleEndian.Uint32(buf[sbPageSizeOff:]),
		PageCount:        binary.LittleEndian.Uint64(buf[sbPageCountOff:]),
		FeatureFlags:     FeatureFlag(binary.LittleEndian.Uint64(buf[sbFeatureOff:])),
		CatalogRootPage:  page.ID(binary.LittleEndian.Uint64(buf[sbCatalogOff:])),
		FreeListRootPage: page.ID(binary.LittleEndian.Uint64(buf[sbFreeListOff:])),
		CheckpointLSN:    page.LSN(binary.LittleEndian.Uint64(buf[sbCheckpointOff:])),
		NextTxnID:        binary.LittleEndian.Uint64(buf[sbNextTxnOff:]),
		NextPageID:       page.ID(binary.LittleEndian.Uint64(buf[sbNextPageOff:])),
	}
	if sb.FormatVersion != CurrentFormatVersion {
		return nil, dberr.Newf(dberr.Corruption, "unsupported format version %d (build supports %d)", sb.FormatVersion, CurrentFormatVersion)
	}
	if int(sb.PageSize) < page.MinSize || int(sb.PageSize) > page.MaxSize || sb.PageSize&(sb.PageSize-1) != 0 {
		return nil, dberr.Newf(dberr.Corruption, "page size %d invalid", sb.PageSize)
	}
	if sb.FeatureFlags & ^FeatureFlag(SupportedFeatures) != 0 {
		return nil, dberr.Newf(dberr.Corruption, "unsupported feature flags %016x", sb.FeatureFlags)
	}
	return sb, nil
}

// Config configures a Manager.
type Config struct {
	Path         string
	PageSize     int
	CatalogInDB  bool
	WALInDB      bool
}

// Manager is the DiskManager: raw page I/O plus superblock/free-list
// bookkeeping, with no caching (that is BufferPoolManager's job).
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	sb       *Superblock
	pageSize int
	path     string
	free     []page.ID // in-memory free list; spec marks persistence optional
}

// Open opens an existing database file or creates a new one, writing a
// fresh superblock if the file did not previously exist.
func Open(cfg Config) (*Manager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = page.DefaultSize
	}
	if ps < page.MinSize || ps > page.MaxSize || ps&(ps-1) != 0 {
		return nil, dberr.Newf(dberr.IOError, "invalid page size %d", ps)
	}

	_, statErr := os.Stat(cfg.Path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "open database file")
	}

	m := &Manager{file: f, pageSize: ps, path: cfg.Path}

	if isNew {
		flags := FeatureFlag(0)
		if cfg.CatalogInDB {
			flags |= FeatureCatalogInDB
		}
		if cfg.WALInDB {
			flags |= FeatureWALInDB
		}
		sb := &Superblock{
			FormatVersion: CurrentFormatVersion,
			PageSize:      uint32(ps),
			PageCount:     1,
			FeatureFlags:  flags,
			NextTxnID:     1,
			NextPageID:    1,
		}
		if err := m.writeSuperblock(sb); err != nil {
			f.Close()
			return nil, err
		}
		m.sb = sb
	} else {
		sb, err := m.readSuperblock()
		if err != nil {
			f.Close()
			return nil, err
		}
		m.sb = sb
		m.pageSize = int(sb.PageSize)
	}
	return m, nil
}

func (m *Manager) readSuperblock() (*Superblock, error) {
	buf := make([]byte, m.pageSize)
	if _, err := m.file.ReadAt(buf, 0); err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "read superblock")
	}
	return parseMagic(buf)
}

func (m *Manager) writeSuperblock(sb *Superblock) error {
	buf := marshalSuperblock(sb, m.pageSize)
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write superblock")
	}
	return m.file.Sync()
}

// VerifyMagic re-parses the on-disk superblock and reports the two feature
// bits the spec calls out explicitly.
func (m *Manager) VerifyMagic() (catalogInDB, walInDB bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, err := m.readSuperblock()
	if err != nil {
		return false, false, err
	}
	m.sb = sb
	return sb.FeatureFlags&FeatureCatalogInDB != 0, sb.FeatureFlags&FeatureWALInDB != 0, nil
}

// PageSize returns the database's fixed page size.
func (m *Manager) PageSize() int { return m.pageSize }

func (m *Manager) offset(id page.ID) int64 {
	return int64(id) * int64(m.pageSize)
}

// NumPages returns the count of pages, including the superblock.
func (m *Manager) NumPages() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.PageCount
}

// ReadPage reads the whole page at id into buf (which must be PageSize
// bytes), verifying its CRC. Reports dberr.IOError if id is out of range.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(id) >= m.sb.PageCount {
		return dberr.Newf(dberr.IOError, "page %d out of range (%d pages)", id, m.sb.PageCount)
	}
	if _, err := m.file.ReadAt(buf, m.offset(id)); err != nil {
		return dberr.Wrap(dberr.IOError, err, "read page")
	}
	return page.VerifyCRC(buf)
}

// WritePage stamps buf's CRC and writes it at id's offset, extending the
// file if id was not previously allocated.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	page.SetCRC(buf)
	if _, err := m.file.WriteAt(buf, m.offset(id)); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write page")
	}
	return nil
}

// AllocatePage reserves a page id — reusing one from the free list if
// available, otherwise extending the file — and returns a zeroed buffer
// for it. The page is not yet written to disk — the caller must
// WritePage it.
func (m *Manager) AllocatePage() (page.ID, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		return id, make([]byte, m.pageSize)
	}
	id := m.sb.NextPageID
	m.sb.NextPageID++
	m.sb.PageCount++
	return id, make([]byte, m.pageSize)
}

// FreePage marks id as free for reuse by a future AllocatePage call. The
// caller must ensure no live reference to id remains (e.g. after a VACUUM
// compaction empties a heap page or a B+-tree merge frees a node).
func (m *Manager) FreePage(id page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = append(m.free, id)
}

// CatalogRootPage returns the persisted first page of the system
// catalog's page chain (disk-backed catalog backend only).
func (m *Manager) CatalogRootPage() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.CatalogRootPage
}

// SetCatalogRootPage persists the catalog chain's first page id, recorded
// when the chain is first allocated.
func (m *Manager) SetCatalogRootPage(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sb.CatalogRootPage = id
	return m.writeSuperblock(m.sb)
}

// CheckpointLSN returns the LSN up to which the WAL has been checkpointed.
func (m *Manager) CheckpointLSN() page.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.CheckpointLSN
}

// SetCheckpointLSN persists a new checkpoint watermark.
func (m *Manager) SetCheckpointLSN(lsn page.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sb.CheckpointLSN = lsn
	return m.writeSuperblock(m.sb)
}

// NextTxnID allocates and persists the next transaction id.
func (m *Manager) NextTxnID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.sb.NextTxnID
	m.sb.NextTxnID++
	if err := m.writeSuperblock(m.sb); err != nil {
		return 0, err
	}
	return id, nil
}

// Flush issues a durable sync of the database file.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IOError, err, "fsync database file")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		m.file.Close()
		return dberr.Wrap(dberr.IOError, err, "fsync on close")
	}
	return m.file.Close()
}

// Path returns the underlying file path, for diagnostics.
func (m *Manager) Path() string { return m.path }
