package dbmanager

import (
	"context"
	"testing"

	"github.com/qindb/qindb/internal/config"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/sql/parser"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BufferPoolPages = 16
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func parseStmt(t *testing.T, sql string) ast.Statement {
	t.Helper()
	stmt, err := parser.New(sql).ParseStatement()
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestNewSeedsSystemDatabaseWithAdmin(t *testing.T) {
	m := newManager(t)
	exists, err := m.DatabaseExists(SystemDatabase)
	if err != nil {
		t.Fatalf("DatabaseExists: %v", err)
	}
	if !exists {
		t.Fatalf("expected %q to exist after New", SystemDatabase)
	}

	sess := NewSession("admin", true, SystemDatabase)
	res, err := m.Execute(context.Background(), sess, parseStmt(t, "SELECT username, is_admin FROM sys_users"))
	if err != nil {
		t.Fatalf("select sys_users: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0].S != "admin" {
		t.Fatalf("expected one seeded admin row, got %+v", res.Rows)
	}

	// Calling New a second time against the same data dir must not
	// duplicate the bootstrap account.
	m2, err := New(m.cfg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer m2.Close()
	res2, err := m2.Execute(context.Background(), NewSession("admin", true, SystemDatabase), parseStmt(t, "SELECT username FROM sys_users"))
	if err != nil {
		t.Fatalf("select sys_users (reopen): %v", err)
	}
	if len(res2.Rows) != 1 {
		t.Fatalf("expected bootstrap to stay idempotent, got %d rows", len(res2.Rows))
	}
}

func TestCreateUseDropDatabase(t *testing.T) {
	m := newManager(t)
	sess := NewSession("admin", true, SystemDatabase)

	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE DATABASE shop")); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "USE shop")); err != nil {
		t.Fatalf("USE shop: %v", err)
	}
	if sess.CurrentDatabase() != "shop" {
		t.Fatalf("current database = %q, want shop", sess.CurrentDatabase())
	}

	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE TABLE widgets (id INT, name VARCHAR)")); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "INSERT INTO widgets VALUES (1, 'gizmo')")); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "USE qindb")); err != nil {
		t.Fatalf("USE qindb: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "DROP DATABASE shop")); err != nil {
		t.Fatalf("DROP DATABASE: %v", err)
	}
	exists, err := m.DatabaseExists("shop")
	if err != nil {
		t.Fatalf("DatabaseExists: %v", err)
	}
	if exists {
		t.Fatalf("expected shop to be gone after DROP DATABASE")
	}
}

func TestSystemDatabaseCannotBeDropped(t *testing.T) {
	m := newManager(t)
	if err := m.DropDatabase(SystemDatabase, false); err == nil {
		t.Fatalf("expected dropping the system database to fail")
	}
}

func TestExplicitTransactionCommit(t *testing.T) {
	m := newManager(t)
	sess := NewSession("admin", true, SystemDatabase)
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE DATABASE shop")); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "USE shop")); err != nil {
		t.Fatalf("USE shop: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE TABLE t (id INT)")); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "BEGIN")); err != nil {
		t.Fatalf("BEGIN: %v", err)
	}
	if !sess.InTransaction() {
		t.Fatalf("expected session to be in a transaction after BEGIN")
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "INSERT INTO t VALUES (1)")); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "COMMIT")); err != nil {
		t.Fatalf("COMMIT: %v", err)
	}
	if sess.InTransaction() {
		t.Fatalf("expected session to leave the transaction after COMMIT")
	}

	res, err := m.Execute(context.Background(), sess, parseStmt(t, "SELECT id FROM t"))
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row after commit, got %d", len(res.Rows))
	}
}

func TestRollbackUndoesInsert(t *testing.T) {
	m := newManager(t)
	sess := NewSession("admin", true, SystemDatabase)
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE DATABASE shop")); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "USE shop")); err != nil {
		t.Fatalf("USE shop: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE TABLE t (id INT)")); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "BEGIN")); err != nil {
		t.Fatalf("BEGIN: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "INSERT INTO t VALUES (1)")); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "ROLLBACK")); err != nil {
		t.Fatalf("ROLLBACK: %v", err)
	}

	res, err := m.Execute(context.Background(), sess, parseStmt(t, "SELECT id FROM t"))
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("expected rollback to undo the insert, got %d rows", len(res.Rows))
	}
}

func TestSaveCheckpointsWithoutError(t *testing.T) {
	m := newManager(t)
	sess := NewSession("admin", true, SystemDatabase)
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "SAVE")); err != nil {
		t.Fatalf("SAVE: %v", err)
	}
}

func TestRecoverReplaysCommittedPagesAfterReopen(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BufferPoolPages = 16

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess := NewSession("admin", true, SystemDatabase)
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE DATABASE shop")); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "USE shop")); err != nil {
		t.Fatalf("USE shop: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "CREATE TABLE t (id INT)")); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := m.Execute(context.Background(), sess, parseStmt(t, "INSERT INTO t VALUES (1)")); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	// Simulate a crash: drop the buffer pool's in-memory state without a
	// clean Checkpoint/Close by reopening a brand new Manager over the
	// same directory, skipping m.Close().
	m2, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	sess2 := NewSession("admin", true, "shop")
	res, err := m2.Execute(context.Background(), sess2, parseStmt(t, "SELECT id FROM t"))
	if err != nil {
		t.Fatalf("SELECT after reopen: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0].I != 1 {
		t.Fatalf("expected the committed row to survive reopen, got %+v", res.Rows)
	}
}
