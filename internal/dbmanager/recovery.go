package dbmanager

import (
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/storage/disk"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/storage/wal"
)

// recoverWAL replays dm's WAL against its page file, applying only the
// page images belonging to transactions that reached COMMIT, then
// truncates the log. Grounded directly on tinySQL's Pager.Recover: scan
// every record once, classify by transaction id, and replay committed
// page images in the order they were appended — skipping anything at or
// below the last checkpoint, since those pages are already durable.
//
// This runs once per database, synchronously, before its Engine is
// handed to any session — there is no concurrent access to race against.
func recoverWAL(dm *disk.Manager, w *wal.WAL, walPath string) error {
	records, err := wal.ReadAll(walPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	type txState struct {
		committed bool
		aborted   bool
	}
	byTxn := map[uint64]*txState{}
	var maxLSN uint64

	for _, rec := range records {
		if uint64(rec.LSN) > maxLSN {
			maxLSN = uint64(rec.LSN)
		}
		st := byTxn[uint64(rec.TxnID)]
		if st == nil {
			st = &txState{}
			byTxn[uint64(rec.TxnID)] = st
		}
		switch rec.Type {
		case wal.RecordCommit:
			st.committed = true
		case wal.RecordAbort:
			st.aborted = true
		}
	}

	checkpoint := dm.CheckpointLSN()
	var applied int
	for _, rec := range records {
		if rec.Type != wal.RecordPageImage {
			continue
		}
		if st := byTxn[uint64(rec.TxnID)]; !st.committed || st.aborted {
			continue
		}
		if uint64(rec.LSN) <= uint64(checkpoint) {
			continue
		}
		id, image := wal.ParsePageImagePayload(rec.Data)
		if err := dm.WritePage(id, image); err != nil {
			return dberr.Wrap(dberr.IOError, err, "recover: apply page image")
		}
		applied++
	}

	if applied > 0 {
		if err := dm.Flush(); err != nil {
			return err
		}
	}
	if err := dm.SetCheckpointLSN(page.LSN(maxLSN)); err != nil {
		return err
	}
	w.SetNextLSN(page.LSN(maxLSN) + 1)
	return w.Truncate()
}
