package page

import (
	"bytes"
	"testing"
)

func TestTablePageInsertAndGet(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 1)
	tp := InitTablePage(buf, 1)

	slot, err := tp.InsertRecord(1, 100, []byte("hello"))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	h, payload, ok := tp.GetRecord(slot)
	if !ok {
		t.Fatal("GetRecord: record missing")
	}
	if h.RowID != 1 || h.CreateTxnID != 100 || h.IsDeleted() {
		t.Fatalf("unexpected header: %+v", h)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}
}

func TestTablePageDeleteIsLogical(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 1)
	tp := InitTablePage(buf, 1)
	slot, _ := tp.InsertRecord(1, 100, []byte("row"))

	if err := tp.DeleteRecord(slot, 200); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	h, payload, ok := tp.GetRecord(slot)
	if !ok {
		t.Fatal("logically deleted record should still be readable until VACUUM")
	}
	if !h.IsDeleted() || h.DeleteTxnID != 200 {
		t.Fatalf("header not marked deleted: %+v", h)
	}
	if !bytes.Equal(payload, []byte("row")) {
		t.Fatal("payload should be preserved across logical delete")
	}
}

func TestTablePageUpdateInPlace(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 1)
	tp := InitTablePage(buf, 1)
	slot, _ := tp.InsertRecord(1, 100, []byte("0123456789"))

	if err := tp.UpdateRecord(slot, 150, []byte("short")); err != nil {
		t.Fatalf("UpdateRecord (shrink): %v", err)
	}
	_, payload, _ := tp.GetRecord(slot)
	if !bytes.Equal(payload, []byte("short")) {
		t.Fatalf("payload = %q, want %q", payload, "short")
	}

	err := tp.UpdateRecord(slot, 160, []byte("this payload is much longer than the slot"))
	if err == nil {
		t.Fatal("expected UpdateRecord to fail when the new payload does not fit")
	}
}

func TestTablePageNextPageIDChain(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 1)
	tp := InitTablePage(buf, 1)
	if tp.NextPageID() != InvalidID {
		t.Fatal("fresh page should have no successor")
	}
	tp.SetNextPageID(42)
	if tp.NextPageID() != ID(42) {
		t.Fatalf("NextPageID() = %d, want 42", tp.NextPageID())
	}
}

func TestTablePageAllRecordsIncludesDeleted(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 1)
	tp := InitTablePage(buf, 1)
	s1, _ := tp.InsertRecord(1, 1, []byte("a"))
	s2, _ := tp.InsertRecord(2, 1, []byte("b"))
	_ = tp.DeleteRecord(s1, 2)

	recs := tp.AllRecords()
	if len(recs) != 2 {
		t.Fatalf("AllRecords() returned %d records, want 2 (including the deleted one)", len(recs))
	}
	var sawDeleted, sawLive bool
	for _, r := range recs {
		switch r.Slot {
		case s1:
			sawDeleted = r.Header.IsDeleted()
		case s2:
			sawLive = !r.Header.IsDeleted()
		}
	}
	if !sawDeleted || !sawLive {
		t.Fatal("expected one deleted and one live record in AllRecords()")
	}
}

func TestPageCRCRoundTrip(t *testing.T) {
	buf := New(DefaultSize, TypeTableHeap, 7)
	SetCRC(buf)
	if err := VerifyCRC(buf); err != nil {
		t.Fatalf("VerifyCRC: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyCRC(buf); err == nil {
		t.Fatal("expected VerifyCRC to detect corruption")
	}
}
