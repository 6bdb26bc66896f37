// Package page implements the fixed-size on-disk page format shared by
// every storage structure: the common CRC32-C checksummed header, and the
// slotted-page layout used for table heaps, B+-tree nodes, and hash
// buckets alike.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/qindb/qindb/internal/dberr"
)

const (
	// DefaultSize is the default page size in bytes.
	DefaultSize = 8192

	// MinSize and MaxSize bound the configurable page size.
	MinSize = 4096
	MaxSize = 65536

	// HeaderSize is the size of the common header at the start of every page.
	//
	//   [0]     Type     (1 byte)
	//   [1]     Flags    (1 byte)
	//   [2:4]   Reserved (2 bytes)
	//   [4:12]  ID       (8 bytes, uint64 LE)
	//   [12:20] LSN      (8 bytes, uint64 LE)
	//   [20:24] CRC32    (4 bytes, uint32 LE)
	//   [24:32] Reserved (8 bytes)
	HeaderSize = 32

	// InvalidID is the null page pointer; page 0 is always the superblock.
	InvalidID ID = 0
)

// ID identifies a page within a database file. Spec width: 64-bit unsigned.
type ID uint64

// LSN is a write-ahead-log sequence number, stamped on a page whenever it
// is modified so recovery can tell which pages already reflect a given
// WAL record.
type LSN uint64

// Type identifies the kind of data a page holds.
type Type uint8

const (
	TypeSuperblock Type = 0x01
	TypeTableHeap  Type = 0x02
	TypeBTreeLeaf  Type = 0x03
	TypeBTreeInner Type = 0x04
	TypeOverflow   Type = 0x05
	TypeFreeList   Type = 0x06
	TypeHashBucket Type = 0x07
	TypeCatalog    Type = 0x08
)

func (t Type) String() string {
	switch t {
	case TypeSuperblock:
		return "Superblock"
	case TypeTableHeap:
		return "TableHeap"
	case TypeBTreeLeaf:
		return "BTreeLeaf"
	case TypeBTreeInner:
		return "BTreeInner"
	case TypeOverflow:
		return "Overflow"
	case TypeFreeList:
		return "FreeList"
	case TypeHashBucket:
		return "HashBucket"
	case TypeCatalog:
		return "Catalog"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// Header is the common 32-byte header present at the start of every page.
type Header struct {
	Type     Type
	Flags    uint8
	Reserved uint16
	ID       ID
	LSN      LSN
	CRC      uint32
	Pad      [8]byte
}

// MarshalHeader writes h into the first HeaderSize bytes of buf.
func MarshalHeader(h *Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("page: buffer too small for header")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(h.ID))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC)
	copy(buf[24:32], h.Pad[:])
}

// UnmarshalHeader reads a Header from the first HeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) Header {
	var h Header
	h.Type = Type(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = ID(binary.LittleEndian.Uint64(buf[4:12]))
	h.LSN = LSN(binary.LittleEndian.Uint64(buf[12:20]))
	h.CRC = binary.LittleEndian.Uint32(buf[20:24])
	copy(h.Pad[:], buf[24:32])
	return h
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC computes the CRC32-C of a full page, treating the CRC field
// (bytes 20..24) as zero during computation.
func ComputeCRC(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:20])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[24:])
	return h.Sum32()
}

// SetCRC computes and stamps the CRC into the page header.
func SetCRC(buf []byte) {
	binary.LittleEndian.PutUint32(buf[20:24], ComputeCRC(buf))
}

// VerifyCRC checks a page's checksum against its header.
func VerifyCRC(buf []byte) error {
	stored := binary.LittleEndian.Uint32(buf[20:24])
	computed := ComputeCRC(buf)
	if stored != computed {
		id := ID(binary.LittleEndian.Uint64(buf[4:12]))
		return dberr.Newf(dberr.Corruption, "CRC mismatch on page %d: stored=%08x computed=%08x", id, stored, computed)
	}
	return nil
}

// New allocates a zeroed page buffer of the given size and writes its header.
func New(size int, t Type, id ID) []byte {
	buf := make([]byte, size)
	h := &Header{Type: t, ID: id}
	MarshalHeader(h, buf)
	return buf
}
