// Package ids holds the identifier types shared across the storage,
// transaction, and index layers, so nothing has to import the heavier
// page/txn packages just to name a RowID or TransactionID.
package ids

// RowID identifies a tuple within a table. Zero is reserved (InvalidRowID).
type RowID uint64

// InvalidRowID is the null row pointer.
const InvalidRowID RowID = 0

// TransactionID identifies a transaction. Zero is reserved (InvalidTxnID)
// and is used as the sentinel "not deleted" / "not yet committed by this
// transaction" marker in RecordHeader.
type TransactionID uint64

// InvalidTxnID marks a record as not created/deleted by any transaction.
const InvalidTxnID TransactionID = 0
