package page

import (
	"encoding/binary"

	"github.com/qindb/qindb/internal/dberr"
)

// Slotted layout, shared by table heaps, B+-tree nodes and hash buckets:
//
//   [0..dataOff-1]           common Header (+ any page-type-specific fields)
//   [dataOff..dataOff+3]     SlotCount (uint16) + TupleEnd (uint16)
//   [dataOff+4..TupleEnd]    tuple data, growing upward from dataOff
//   [size-4*SlotCount..size] slot directory, growing downward from the end
//
// Slot entry: Offset (uint16), Length (uint16), stored at
// size-(i+1)*4 for slot index i. Offset==0 && Length==0 marks a
// tombstone left by a deleted record. dataOff lets callers reserve extra
// fixed fields between the common Header and the slot-count pair — a
// table page reserves room for NextPageID there, for instance.
const slotEntrySize = 4

// Slotted wraps a raw page buffer with record-level slot operations.
type Slotted struct {
	buf     []byte
	size    int
	dataOff int
}

// Slot describes one directory entry.
type Slot struct {
	Offset uint16
	Length uint16
}

// Wrap adapts an existing page buffer for slot access. dataOff is the
// offset of the SlotCount/TupleEnd pair (HeaderSize, unless the page
// format reserves extra fixed fields right after the common header).
func Wrap(buf []byte, dataOff int) *Slotted {
	return &Slotted{buf: buf, size: len(buf), dataOff: dataOff}
}

// Init formats buf as an empty slotted page of the given type/id, with the
// tuple/slot bookkeeping starting at dataOff.
func Init(buf []byte, dataOff int, t Type, id ID) *Slotted {
	h := &Header{Type: t, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[dataOff:], 0)
	binary.LittleEndian.PutUint16(buf[dataOff+2:], uint16(dataOff+4))
	return Wrap(buf, dataOff)
}

func (sp *Slotted) tupleAreaStart() int { return sp.dataOff + 4 }

func (sp *Slotted) SlotCount() int {
	return int(binary.LittleEndian.Uint16(sp.buf[sp.dataOff:]))
}

func (sp *Slotted) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(sp.buf[sp.dataOff:], uint16(n))
}

// TupleEnd is the byte offset just past the last written tuple; the next
// tuple is appended there.
func (sp *Slotted) TupleEnd() int {
	return int(binary.LittleEndian.Uint16(sp.buf[sp.dataOff+2:]))
}

func (sp *Slotted) setTupleEnd(off int) {
	binary.LittleEndian.PutUint16(sp.buf[sp.dataOff+2:], uint16(off))
}

// dirStart is the offset of the lowest-addressed slot entry currently in use.
func (sp *Slotted) dirStart() int {
	return sp.size - sp.SlotCount()*slotEntrySize
}

// FreeSpace returns bytes available for one more record plus its slot.
func (sp *Slotted) FreeSpace() int {
	return sp.dirStart() - sp.TupleEnd() - slotEntrySize
}

func slotOffset(size, i int) int { return size - (i+1)*slotEntrySize }

func (sp *Slotted) GetSlot(i int) Slot {
	off := slotOffset(sp.size, i)
	return Slot{
		Offset: binary.LittleEndian.Uint16(sp.buf[off:]),
		Length: binary.LittleEndian.Uint16(sp.buf[off+2:]),
	}
}

func (sp *Slotted) setSlot(i int, e Slot) {
	off := slotOffset(sp.size, i)
	binary.LittleEndian.PutUint16(sp.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(sp.buf[off+2:], e.Length)
}

func (sp *Slotted) IsTombstone(i int) bool {
	e := sp.GetSlot(i)
	return e.Offset == 0 && e.Length == 0
}

// Get returns the raw record bytes at slot i, or nil for a tombstone.
func (sp *Slotted) Get(i int) []byte {
	e := sp.GetSlot(i)
	if e.Offset == 0 && e.Length == 0 {
		return nil
	}
	return sp.buf[e.Offset : e.Offset+e.Length]
}

// Insert appends data as a new tuple, reusing a tombstoned slot if one
// exists, and returns the slot index.
func (sp *Slotted) Insert(data []byte) (int, error) {
	needed := len(data)
	if sp.FreeSpace() < needed {
		return -1, dberr.Newf(dberr.IOError, "page full: need %d bytes, have %d", needed, sp.FreeSpace())
	}
	off := sp.TupleEnd()
	copy(sp.buf[off:], data)
	sp.setTupleEnd(off + needed)

	sc := sp.SlotCount()
	for i := 0; i < sc; i++ {
		if sp.IsTombstone(i) {
			sp.setSlot(i, Slot{Offset: uint16(off), Length: uint16(needed)})
			return i, nil
		}
	}
	sp.setSlot(sc, Slot{Offset: uint16(off), Length: uint16(needed)})
	sp.setSlotCount(sc + 1)
	return sc, nil
}

// Delete tombstones slot i.
func (sp *Slotted) Delete(i int) error {
	if i < 0 || i >= sp.SlotCount() {
		return dberr.Newf(dberr.IOError, "slot %d out of range [0..%d)", i, sp.SlotCount())
	}
	sp.setSlot(i, Slot{})
	return nil
}

// Update replaces the record at slot i in place when it fits, otherwise
// tombstones it and appends the new data as a fresh tuple.
func (sp *Slotted) Update(i int, data []byte) error {
	if i < 0 || i >= sp.SlotCount() {
		return dberr.Newf(dberr.IOError, "slot %d out of range [0..%d)", i, sp.SlotCount())
	}
	old := sp.GetSlot(i)
	if int(old.Length) >= len(data) {
		copy(sp.buf[old.Offset:], data)
		for j := int(old.Offset) + len(data); j < int(old.Offset)+int(old.Length); j++ {
			sp.buf[j] = 0
		}
		sp.setSlot(i, Slot{Offset: old.Offset, Length: uint16(len(data))})
		return nil
	}
	sp.setSlot(i, Slot{})
	needed := len(data)
	if sp.FreeSpace()+slotEntrySize < needed {
		return dberr.Newf(dberr.IOError, "page full on update: need %d bytes", needed)
	}
	off := sp.TupleEnd()
	copy(sp.buf[off:], data)
	sp.setTupleEnd(off + needed)
	sp.setSlot(i, Slot{Offset: uint16(off), Length: uint16(needed)})
	return nil
}

// Compact reclaims space left by tombstones, preserving slot indices and
// slot-order of the surviving tuples.
func (sp *Slotted) Compact() {
	sc := sp.SlotCount()
	type live struct {
		slot int
		data []byte
	}
	var rs []live
	for i := 0; i < sc; i++ {
		if !sp.IsTombstone(i) {
			rs = append(rs, live{slot: i, data: append([]byte(nil), sp.Get(i)...)})
		}
	}
	sp.setTupleEnd(sp.tupleAreaStart())
	for _, r := range rs {
		off := sp.TupleEnd()
		copy(sp.buf[off:], r.data)
		sp.setTupleEnd(off + len(r.data))
		sp.setSlot(r.slot, Slot{Offset: uint16(off), Length: uint16(len(r.data))})
	}
}

// LiveCount returns the number of non-tombstoned records.
func (sp *Slotted) LiveCount() int {
	n := 0
	for i := 0; i < sp.SlotCount(); i++ {
		if !sp.IsTombstone(i) {
			n++
		}
	}
	return n
}

// Bytes returns the underlying page buffer.
func (sp *Slotted) Bytes() []byte { return sp.buf }
