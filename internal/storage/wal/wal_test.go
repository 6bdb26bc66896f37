package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/storage/page"
)

func openTemp(t *testing.T) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")
	w, err := Open(path, page.DefaultSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w, _ := openTemp(t)
	lsn1, err := w.Append(Record{Type: RecordBegin, TxnID: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	lsn2, err := w.Append(Record{Type: RecordCommit, TxnID: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("lsn2 %d should be > lsn1 %d", lsn2, lsn1)
	}
}

func TestReadAllRoundTripsRecords(t *testing.T) {
	w, path := openTemp(t)
	img := make([]byte, page.DefaultSize)
	copy(img, []byte("hello page"))

	if _, err := w.Append(Record{Type: RecordBegin, TxnID: 42}); err != nil {
		t.Fatalf("Append BEGIN: %v", err)
	}
	if _, err := w.Append(Record{Type: RecordPageImage, TxnID: 42, Data: PageImagePayload(page.ID(5), img)}); err != nil {
		t.Fatalf("Append PAGE_IMAGE: %v", err)
	}
	if _, err := w.Append(Record{Type: RecordCommit, TxnID: 42}); err != nil {
		t.Fatalf("Append COMMIT: %v", err)
	}
	if err := w.FlushUntil(3); err != nil {
		t.Fatalf("FlushUntil: %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ReadAll returned %d records, want 3", len(records))
	}
	if records[0].Type != RecordBegin || records[2].Type != RecordCommit {
		t.Fatalf("unexpected record types: %v, %v", records[0].Type, records[2].Type)
	}
	if records[1].TxnID != ids.TransactionID(42) {
		t.Fatalf("TxnID = %d, want 42", records[1].TxnID)
	}
	gotID, gotImg := ParsePageImagePayload(records[1].Data)
	if gotID != page.ID(5) {
		t.Fatalf("page id = %d, want 5", gotID)
	}
	if string(gotImg[:10]) != "hello page" {
		t.Fatalf("page image = %q", gotImg[:10])
	}
}

func TestReadAllStopsAtCorruptTail(t *testing.T) {
	w, path := openTemp(t)
	if _, err := w.Append(Record{Type: RecordBegin, TxnID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(Record{Type: RecordCommit, TxnID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Close()

	// Simulate a crash mid-write: append garbage bytes that don't form a
	// valid trailing record.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	if _, err := f.Write([]byte{0xDE, 0xAD, 0xBE}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ReadAll returned %d records, want 2 (garbage tail ignored)", len(records))
	}
}

func TestTruncateDropsRecordsAfterHeader(t *testing.T) {
	w, path := openTemp(t)
	if _, err := w.Append(Record{Type: RecordBegin, TxnID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ReadAll returned %d records after Truncate, want 0", len(records))
	}
}

func TestReopenValidatesHeader(t *testing.T) {
	_, path := openTemp(t)
	if _, err := Open(path, page.DefaultSize); err != nil {
		t.Fatalf("reopen with same page size: %v", err)
	}
	if _, err := Open(path, page.DefaultSize*2); err == nil {
		t.Fatal("expected Open to reject a mismatched page size")
	}
}

func TestSetNextLSNResumesAssignment(t *testing.T) {
	w, _ := openTemp(t)
	w.SetNextLSN(100)
	lsn, err := w.Append(Record{Type: RecordCheckpoint})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn != 100 {
		t.Fatalf("lsn = %d, want 100", lsn)
	}
	if w.NextLSN() != 101 {
		t.Fatalf("NextLSN() = %d, want 101", w.NextLSN())
	}
}
