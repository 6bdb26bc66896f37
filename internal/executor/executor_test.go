package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/sql/parser"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/storage/disk"
	"github.com/qindb/qindb/internal/storage/wal"
	"github.com/qindb/qindb/internal/txn"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(disk.Config{Path: filepath.Join(dir, "test.qdb")})
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.New(dm, 64)
	backend, err := catalog.CreateDBBackend(pool)
	if err != nil {
		t.Fatalf("CreateDBBackend: %v", err)
	}
	cat := catalog.New(backend)
	w, err := wal.Open(filepath.Join(dir, "test.wal"), dm.PageSize())
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	txns := txn.NewManager(w)
	return New(pool, cat, txns)
}

func mustParse(t *testing.T, sql string) ast.Statement {
	t.Helper()
	stmt, err := parser.New(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func run(t *testing.T, e *Engine, txn *txn.Transaction, sql string) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), txn, Session{IsAdmin: true}, mustParse(t, sql))
	if err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
	return res
}

func TestCreateInsertSelect(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE users (id INT, name VARCHAR)")
	run(t, e, nil, "INSERT INTO users (id, name) VALUES (1, 'alice')")
	run(t, e, nil, "INSERT INTO users (id, name) VALUES (2, 'bob')")

	res := run(t, e, nil, "SELECT id, name FROM users WHERE id = 2")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Rows[0][1].S != "bob" {
		t.Fatalf("expected bob, got %v", res.Rows[0][1])
	}
}

func TestUpdateAndDelete(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE t (id INT, v INT)")
	run(t, e, nil, "INSERT INTO t (id, v) VALUES (1, 10)")
	run(t, e, nil, "INSERT INTO t (id, v) VALUES (2, 20)")

	run(t, e, nil, "UPDATE t SET v = 99 WHERE id = 1")
	res := run(t, e, nil, "SELECT v FROM t WHERE id = 1")
	if len(res.Rows) != 1 || res.Rows[0][0].I != 99 {
		t.Fatalf("update did not take effect: %+v", res.Rows)
	}

	run(t, e, nil, "DELETE FROM t WHERE id = 2")
	res = run(t, e, nil, "SELECT id FROM t")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row after delete, got %d", len(res.Rows))
	}
}

func TestIndexEqualityLookup(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE t (id INT, v VARCHAR)")
	run(t, e, nil, "INSERT INTO t (id, v) VALUES (1, 'a')")
	run(t, e, nil, "INSERT INTO t (id, v) VALUES (2, 'b')")
	run(t, e, nil, "CREATE INDEX idx_t_id ON t (id)")

	res := run(t, e, nil, "SELECT v FROM t WHERE id = 2")
	if len(res.Rows) != 1 || res.Rows[0][0].S != "b" {
		t.Fatalf("indexed lookup returned %+v", res.Rows)
	}

	plan := run(t, e, nil, "EXPLAIN SELECT v FROM t WHERE id = 2")
	if len(plan.Rows) == 0 {
		t.Fatalf("expected a non-empty plan")
	}
}

func TestAggregateGroupByHaving(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE orders (customer VARCHAR, amount INT)")
	run(t, e, nil, "INSERT INTO orders (customer, amount) VALUES ('a', 10)")
	run(t, e, nil, "INSERT INTO orders (customer, amount) VALUES ('a', 5)")
	run(t, e, nil, "INSERT INTO orders (customer, amount) VALUES ('b', 1)")

	res := run(t, e, nil, "SELECT customer, SUM(amount) FROM orders GROUP BY customer HAVING SUM(amount) > 5")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 group to pass HAVING, got %d: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0][0].S != "a" {
		t.Fatalf("expected customer a, got %v", res.Rows[0][0])
	}
}

func TestTransactionAbortUndoesUpdateAndDelete(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE t (id INT, v INT)")
	run(t, e, nil, "INSERT INTO t (id, v) VALUES (1, 10)")

	tx, err := e.Txns.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	run(t, e, tx, "UPDATE t SET v = 999 WHERE id = 1")
	if err := e.Txns.Abort(tx, e.ApplyUndo); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	res := run(t, e, nil, "SELECT v FROM t WHERE id = 1")
	if len(res.Rows) != 1 || res.Rows[0][0].I != 10 {
		t.Fatalf("abort did not restore pre-image: %+v", res.Rows)
	}
}

func TestUsersAndPrivileges(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE secrets (id INT)")
	run(t, e, nil, "CREATE USER bob IDENTIFIED BY 'hunter2'")
	run(t, e, nil, "GRANT SELECT ON secrets TO bob")

	sess := Session{User: "bob"}
	if _, err := e.Execute(context.Background(), nil, sess, mustParse(t, "SELECT id FROM secrets")); err != nil {
		t.Fatalf("expected bob to read secrets after GRANT: %v", err)
	}
	if _, err := e.Execute(context.Background(), nil, sess, mustParse(t, "INSERT INTO secrets (id) VALUES (1)")); err == nil {
		t.Fatalf("expected bob to be denied INSERT without a grant")
	}

	run(t, e, nil, "REVOKE SELECT ON secrets FROM bob")
	if _, err := e.Execute(context.Background(), nil, sess, mustParse(t, "SELECT id FROM secrets")); err == nil {
		t.Fatalf("expected bob to lose SELECT after REVOKE")
	}
}

func TestAlterTableAddColumnBackfillsNull(t *testing.T) {
	e := newTestEngine(t)
	run(t, e, nil, "CREATE TABLE t (id INT)")
	run(t, e, nil, "INSERT INTO t (id) VALUES (1)")
	run(t, e, nil, "ALTER TABLE t ADD COLUMN note VARCHAR")

	res := run(t, e, nil, "SELECT id, note FROM t")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if !res.Rows[0][1].IsNull() {
		t.Fatalf("expected backfilled column to be NULL, got %v", res.Rows[0][1])
	}
}
