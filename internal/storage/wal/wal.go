// Package wal implements the write-ahead log: an append-only file of
// checksummed records used to make commits durable and to redo/undo work
// lost on a crash.
//
// Grounded directly on tinySQL's pager.WALFile (file header with magic +
// version + page size + header CRC, append-only writer tracking its own
// write offset to avoid a Seek per append, ReadAllRecords stopping
// silently at a truncated tail record). The wire layout of each record is
// reshaped to the field order and widths the spec calls out explicitly
// (lsn:u64 | type:u8 | txn_id:u64 | checksum:u32 | data_size:u16 | data).
// Recovery is physical, whole-page-image logging exactly as tinySQL does
// it — the spec's own recovery notes call this out as a deliberate
// simplification relative to per-tuple physiological logging.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
)

const (
	Magic      = "QINDBWAL"
	Version    = uint32(1)
	fileHdrLen = 32 // [0:8] magic [8:12] version [12:16] pageSize [16:24] reserved [24:28] headerCRC [28:32] pad
	recHdrLen  = 23 // lsn(8) type(1) txn_id(8) checksum(4) data_size(2)
)

// RecordType identifies the kind of WAL record.
type RecordType uint8

const (
	RecordBegin      RecordType = 0x01
	RecordPageImage  RecordType = 0x02
	RecordCommit     RecordType = 0x03
	RecordAbort      RecordType = 0x04
	RecordCheckpoint RecordType = 0x05
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "BEGIN"
	case RecordPageImage:
		return "PAGE_IMAGE"
	case RecordCommit:
		return "COMMIT"
	case RecordAbort:
		return "ABORT"
	case RecordCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Record is one WAL entry. For RecordPageImage, Data is the target
// page id (8 bytes, big-endian so it reads naturally alongside the rest
// of the payload) followed by the full post-image of the page.
type Record struct {
	LSN   page.LSN
	Type  RecordType
	TxnID ids.TransactionID
	Data  []byte
}

// PageImagePayload packs a page id and its post-image into a Data blob.
func PageImagePayload(id page.ID, image []byte) []byte {
	buf := make([]byte, 8+len(image))
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	copy(buf[8:], image)
	return buf
}

// ParsePageImagePayload is the inverse of PageImagePayload.
func ParsePageImagePayload(data []byte) (page.ID, []byte) {
	return page.ID(binary.BigEndian.Uint64(data[:8])), data[8:]
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// WAL manages the append-only log file.
type WAL struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	nextLSN  page.LSN
	writePos int64
}

// Open opens or creates a WAL file, validating its header if it already
// existed.
func Open(path string, pageSize int) (*WAL, error) {
	_, statErr := os.Stat(path)
	exists := !os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "open WAL file")
	}

	w := &WAL{f: f, path: path, pageSize: pageSize, nextLSN: 1}
	if exists {
		if err := w.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, dberr.Wrap(dberr.IOError, err, "seek WAL end")
	}
	w.writePos = end
	return w, nil
}

func (w *WAL) writeHeader() error {
	var hdr [fileHdrLen]byte
	copy(hdr[0:8], Magic)
	binary.LittleEndian.PutUint32(hdr[8:12], Version)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(w.pageSize))
	c := crc32.Checksum(hdr[:24], crcTable)
	binary.LittleEndian.PutUint32(hdr[24:28], c)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return dberr.Wrap(dberr.IOError, err, "write WAL header")
	}
	return w.f.Sync()
}

func (w *WAL) validateHeader() error {
	var hdr [fileHdrLen]byte
	n, err := w.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return dberr.Wrap(dberr.IOError, err, "read WAL header")
	}
	if n < fileHdrLen {
		return dberr.Newf(dberr.Corruption, "WAL header too short: %d bytes", n)
	}
	if string(hdr[0:8]) != Magic {
		return dberr.New(dberr.Corruption, "bad WAL magic")
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != Version {
		return dberr.Newf(dberr.Corruption, "unsupported WAL version %d", v)
	}
	if ps := binary.LittleEndian.Uint32(hdr[12:16]); int(ps) != w.pageSize {
		return dberr.Newf(dberr.Corruption, "WAL page size %d != expected %d", ps, w.pageSize)
	}
	stored := binary.LittleEndian.Uint32(hdr[24:28])
	if computed := crc32.Checksum(hdr[:24], crcTable); stored != computed {
		return dberr.New(dberr.Corruption, "WAL header CRC mismatch")
	}
	return nil
}

// Append assigns the next LSN to rec, writes it, and returns the LSN.
func (w *WAL) Append(rec Record) (page.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++
	rec.LSN = lsn

	buf := marshal(rec)
	n, err := w.f.WriteAt(buf, w.writePos)
	if err != nil {
		return 0, dberr.Wrap(dberr.IOError, err, "WAL append")
	}
	w.writePos += int64(n)
	return lsn, nil
}

// FlushUntil durably persists every record up to and including lsn. Since
// every append is already an O_RDWR WriteAt, durability only requires an
// fsync; lsn is accepted for interface symmetry with the spec and to make
// call sites self-documenting.
func (w *WAL) FlushUntil(lsn page.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		return dberr.Wrap(dberr.IOError, err, "fsync WAL")
	}
	return nil
}

// Truncate discards every record after the file header. Safe only once
// every dirty page covered by those records has been flushed to disk
// (i.e. after a checkpoint).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(fileHdrLen); err != nil {
		return dberr.Wrap(dberr.IOError, err, "truncate WAL")
	}
	w.writePos = fileHdrLen
	return w.f.Sync()
}

// NextLSN returns the LSN that will be assigned to the next Append.
func (w *WAL) NextLSN() page.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// SetNextLSN lets recovery resume LSN assignment from a persisted value.
func (w *WAL) SetNextLSN(lsn page.LSN) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLSN = lsn
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func marshal(rec Record) []byte {
	dataLen := len(rec.Data)
	buf := make([]byte, recHdrLen+dataLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.LSN))
	buf[8] = byte(rec.Type)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(rec.TxnID))
	// checksum placeholder at [17:21]
	binary.LittleEndian.PutUint16(buf[21:23], uint16(dataLen))
	copy(buf[recHdrLen:], rec.Data)

	h := crc32.New(crcTable)
	h.Write(buf[8:9])   // type
	h.Write(buf[9:17])  // txn_id
	h.Write(buf[21:23]) // data_size
	h.Write(buf[recHdrLen:])
	binary.LittleEndian.PutUint32(buf[17:21], h.Sum32())
	return buf
}

func unmarshal(r io.Reader) (Record, error) {
	var hdr [recHdrLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, err
	}
	rec := Record{
		LSN:   page.LSN(binary.LittleEndian.Uint64(hdr[0:8])),
		Type:  RecordType(hdr[8]),
		TxnID: ids.TransactionID(binary.LittleEndian.Uint64(hdr[9:17])),
	}
	storedCRC := binary.LittleEndian.Uint32(hdr[17:21])
	dataLen := int(binary.LittleEndian.Uint16(hdr[21:23]))

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return Record{}, dberr.Wrap(dberr.Corruption, err, "WAL record data")
		}
		rec.Data = data
	}

	h := crc32.New(crcTable)
	h.Write(hdr[8:9])
	h.Write(hdr[9:17])
	h.Write(hdr[21:23])
	if data != nil {
		h.Write(data)
	}
	if h.Sum32() != storedCRC {
		return Record{}, dberr.Newf(dberr.Corruption, "WAL record CRC mismatch at LSN %d", rec.LSN)
	}
	return rec, nil
}

// ReadAll reads every well-formed record after the file header. A
// truncated or corrupt tail record (left by a crash mid-write) stops the
// scan silently rather than failing the whole read, matching the
// teacher's crash-truncation tolerance.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "open WAL for recovery scan")
	}
	defer f.Close()

	if _, err := f.Seek(fileHdrLen, io.SeekStart); err != nil {
		return nil, dberr.Wrap(dberr.IOError, err, "seek past WAL header")
	}

	var records []Record
	for {
		rec, err := unmarshal(f)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
