// Package btree implements the GenericBPlusTree: a B+-tree over
// variable-length serialized keys, backed by the buffer pool.
//
// Node encoding is grounded on tinySQL's pager.BTreePage (header fields
// right after the common page header, then a directory of
// length-prefixed records) but simplified: rather than maintaining a
// slotted directory that preserves on-disk insertion order, a node's
// entries are decoded into a sorted Go slice, mutated, and the whole
// node re-encoded in one pass. Variable-length keys make positional
// slot-shifting awkward for comparatively little gain, since every
// mutation already needs the full sorted entry list to find its
// insertion point; rewriting the page wholesale keeps one code path
// instead of two and matches the spec's note that all pointer updates
// must land before the page is unpinned dirty, i.e. atomically in memory
// first.
package btree

import (
	"encoding/binary"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
)

const (
	metaIsLeafOff  = page.HeaderSize     // 1 byte
	metaSiblingOff = metaIsLeafOff + 1   // 8 bytes: NextLeaf (leaf) / FirstChild (internal)
	metaCountOff   = metaSiblingOff + 8  // 2 bytes
	nodeDataOff    = metaCountOff + 2
)

// LeafEntry is one (key, row id) pair in a leaf node.
type LeafEntry struct {
	Key   []byte
	RowID ids.RowID
}

// InternalEntry is one (separator key, right-child) pair in an internal
// node; the node's Sibling field holds the leftmost child that precedes
// every separator.
type InternalEntry struct {
	Key   []byte
	Child page.ID
}

// Node wraps a page buffer as a B+-tree node.
type Node struct {
	buf []byte
}

// WrapNode adapts an existing buffer.
func WrapNode(buf []byte) *Node { return &Node{buf: buf} }

// InitNode formats buf as an empty node of the given kind.
func InitNode(buf []byte, id page.ID, leaf bool) *Node {
	t := page.TypeBTreeInner
	if leaf {
		t = page.TypeBTreeLeaf
	}
	h := &page.Header{Type: t, ID: id}
	page.MarshalHeader(h, buf)
	n := &Node{buf: buf}
	n.setLeaf(leaf)
	n.SetSibling(page.InvalidID)
	n.setEntryCount(0)
	return n
}

func (n *Node) setLeaf(leaf bool) {
	if leaf {
		n.buf[metaIsLeafOff] = 1
	} else {
		n.buf[metaIsLeafOff] = 0
	}
}

// IsLeaf reports whether this node is a leaf.
func (n *Node) IsLeaf() bool { return n.buf[metaIsLeafOff] == 1 }

// PageID returns the node's own page id from its header.
func (n *Node) PageID() page.ID {
	return page.UnmarshalHeader(n.buf).ID
}

// Sibling returns NextLeafPageID for a leaf node, or FirstChildPageID
// for an internal node.
func (n *Node) Sibling() page.ID {
	return page.ID(binary.LittleEndian.Uint64(n.buf[metaSiblingOff:]))
}

// SetSibling sets the field Sibling reads.
func (n *Node) SetSibling(id page.ID) {
	binary.LittleEndian.PutUint64(n.buf[metaSiblingOff:], uint64(id))
}

func (n *Node) EntryCount() int {
	return int(binary.LittleEndian.Uint16(n.buf[metaCountOff:]))
}

func (n *Node) setEntryCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[metaCountOff:], uint16(c))
}

// Bytes returns the underlying page buffer.
func (n *Node) Bytes() []byte { return n.buf }

// capacity is the number of bytes available for entry records.
func (n *Node) capacity() int { return len(n.buf) - nodeDataOff }

// LeafEntries decodes every entry in a leaf node, in stored (sorted) order.
func (n *Node) LeafEntries() []LeafEntry {
	count := n.EntryCount()
	entries := make([]LeafEntry, count)
	off := nodeDataOff
	for i := 0; i < count; i++ {
		kl := int(binary.LittleEndian.Uint16(n.buf[off:]))
		off += 2
		key := append([]byte(nil), n.buf[off:off+kl]...)
		off += kl
		rowID := ids.RowID(binary.LittleEndian.Uint64(n.buf[off:]))
		off += 8
		entries[i] = LeafEntry{Key: key, RowID: rowID}
	}
	return entries
}

// SetLeafEntries re-encodes the node from a sorted slice of entries.
// Returns dberr.IOError if the encoding would overflow the page.
func (n *Node) SetLeafEntries(entries []LeafEntry) error {
	size := 0
	for _, e := range entries {
		size += 2 + len(e.Key) + 8
	}
	if size > n.capacity() {
		return dberr.Newf(dberr.IOError, "btree leaf overflow: need %d bytes, have %d", size, n.capacity())
	}
	off := nodeDataOff
	for _, e := range entries {
		binary.LittleEndian.PutUint16(n.buf[off:], uint16(len(e.Key)))
		off += 2
		copy(n.buf[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint64(n.buf[off:], uint64(e.RowID))
		off += 8
	}
	for ; off < len(n.buf); off++ {
		n.buf[off] = 0
	}
	n.setEntryCount(len(entries))
	return nil
}

// InternalEntries decodes every separator/child pair, in stored (sorted) order.
func (n *Node) InternalEntries() []InternalEntry {
	count := n.EntryCount()
	entries := make([]InternalEntry, count)
	off := nodeDataOff
	for i := 0; i < count; i++ {
		kl := int(binary.LittleEndian.Uint16(n.buf[off:]))
		off += 2
		key := append([]byte(nil), n.buf[off:off+kl]...)
		off += kl
		child := page.ID(binary.LittleEndian.Uint64(n.buf[off:]))
		off += 8
		entries[i] = InternalEntry{Key: key, Child: child}
	}
	return entries
}

// SetInternalEntries re-encodes the node from a sorted slice of entries.
func (n *Node) SetInternalEntries(entries []InternalEntry) error {
	size := 0
	for _, e := range entries {
		size += 2 + len(e.Key) + 8
	}
	if size > n.capacity() {
		return dberr.Newf(dberr.IOError, "btree internal overflow: need %d bytes, have %d", size, n.capacity())
	}
	off := nodeDataOff
	for _, e := range entries {
		binary.LittleEndian.PutUint16(n.buf[off:], uint16(len(e.Key)))
		off += 2
		copy(n.buf[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint64(n.buf[off:], uint64(e.Child))
		off += 8
	}
	for ; off < len(n.buf); off++ {
		n.buf[off] = 0
	}
	n.setEntryCount(len(entries))
	return nil
}
