package page

import (
	"encoding/binary"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
)

// RecordHeaderSize is the fixed prefix written before a tuple's serialized
// columns: RowID(8) + CreateTxnID(8) + DeleteTxnID(8) + Size(4).
const RecordHeaderSize = 28

// tableDataOff reserves 8 bytes right after the common Header for
// NextPageID, so a table's pages can be walked as a singly linked list
// without a separate index structure.
const tableDataOff = HeaderSize + 8

// RecordHeader prefixes every tuple stored in a TablePage.
type RecordHeader struct {
	RowID       ids.RowID
	CreateTxnID ids.TransactionID
	DeleteTxnID ids.TransactionID
	Size        uint32
}

// IsDeleted reports whether a transaction has logically deleted this tuple.
func (h RecordHeader) IsDeleted() bool { return h.DeleteTxnID != ids.InvalidTxnID }

func marshalRecordHeader(h RecordHeader, payload []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.RowID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.CreateTxnID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.DeleteTxnID))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(payload)))
	copy(buf[RecordHeaderSize:], payload)
	return buf
}

func unmarshalRecordHeader(buf []byte) (RecordHeader, []byte) {
	h := RecordHeader{
		RowID:       ids.RowID(binary.LittleEndian.Uint64(buf[0:8])),
		CreateTxnID: ids.TransactionID(binary.LittleEndian.Uint64(buf[8:16])),
		DeleteTxnID: ids.TransactionID(binary.LittleEndian.Uint64(buf[16:24])),
		Size:        binary.LittleEndian.Uint32(buf[24:28]),
	}
	return h, buf[RecordHeaderSize : RecordHeaderSize+int(h.Size)]
}

// TablePage is a slotted page specialized for table-heap tuple storage: a
// RecordHeader precedes every payload, and the page carries a NextPageID
// pointer so a table's heap pages chain into a singly linked list.
type TablePage struct {
	*Slotted
}

// WrapTablePage adapts an existing table-heap page buffer.
func WrapTablePage(buf []byte) *TablePage {
	return &TablePage{Slotted: Wrap(buf, tableDataOff)}
}

// InitTablePage formats buf as an empty table-heap page.
func InitTablePage(buf []byte, id ID) *TablePage {
	tp := &TablePage{Slotted: Init(buf, tableDataOff, TypeTableHeap, id)}
	tp.SetNextPageID(InvalidID)
	return tp
}

// NextPageID returns the next page in this table's heap chain, or
// InvalidID if this is the last page.
func (tp *TablePage) NextPageID() ID {
	return ID(binary.LittleEndian.Uint64(tp.Bytes()[HeaderSize : HeaderSize+8]))
}

// SetNextPageID links this page to the next page in the chain.
func (tp *TablePage) SetNextPageID(id ID) {
	binary.LittleEndian.PutUint64(tp.Bytes()[HeaderSize:HeaderSize+8], uint64(id))
}

// InsertRecord appends a new tuple with the given row id and creating
// transaction. Fails when free space is insufficient; the caller is
// responsible for allocating a new page and linking it via SetNextPageID.
func (tp *TablePage) InsertRecord(rowID ids.RowID, createTxn ids.TransactionID, payload []byte) (int, error) {
	h := RecordHeader{RowID: rowID, CreateTxnID: createTxn, Size: uint32(len(payload))}
	return tp.Insert(marshalRecordHeader(h, payload))
}

// GetRecord returns the header and payload at slot i. ok is false if the
// slot is a tombstone (physically removed by a prior VACUUM compaction).
func (tp *TablePage) GetRecord(slot int) (RecordHeader, []byte, bool) {
	raw := tp.Get(slot)
	if raw == nil {
		return RecordHeader{}, nil, false
	}
	h, payload := unmarshalRecordHeader(raw)
	return h, payload, true
}

// StoredRecord pairs a tuple with the slot it lives in.
type StoredRecord struct {
	Slot    int
	Header  RecordHeader
	Payload []byte
}

// AllRecords returns every record in slot order, including logically
// deleted ones — callers implementing Read Committed must skip any
// record whose header reports IsDeleted().
func (tp *TablePage) AllRecords() []StoredRecord {
	n := tp.SlotCount()
	out := make([]StoredRecord, 0, n)
	for i := 0; i < n; i++ {
		h, payload, ok := tp.GetRecord(i)
		if !ok {
			continue
		}
		out = append(out, StoredRecord{Slot: i, Header: h, Payload: payload})
	}
	return out
}

// UpdateRecord overwrites the tuple at slot in place if the new payload
// fits in the existing slot. Returns dberr.IOError if it does not; the
// caller must then insert a new row and logically delete this one (per
// the engine's overwrite-or-relocate update protocol).
func (tp *TablePage) UpdateRecord(slot int, updateTxn ids.TransactionID, payload []byte) error {
	h, old, ok := tp.GetRecord(slot)
	if !ok {
		return dberr.Newf(dberr.IOError, "slot %d already deleted", slot)
	}
	if len(payload) > len(old) {
		return dberr.Newf(dberr.IOError, "slot %d: %d-byte payload does not fit in place", slot, len(payload))
	}
	h.CreateTxnID = updateTxn
	h.Size = uint32(len(payload))
	h.DeleteTxnID = ids.InvalidTxnID
	return tp.Update(slot, marshalRecordHeader(h, payload))
}

// DeleteRecord logically deletes the tuple at slot by stamping its
// DeleteTxnID. Physical reclamation happens later, at VACUUM.
func (tp *TablePage) DeleteRecord(slot int, deleteTxn ids.TransactionID) error {
	h, payload, ok := tp.GetRecord(slot)
	if !ok {
		return dberr.Newf(dberr.IOError, "slot %d already deleted", slot)
	}
	h.DeleteTxnID = deleteTxn
	return tp.Update(slot, marshalRecordHeader(h, payload))
}
