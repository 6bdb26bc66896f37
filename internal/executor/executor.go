// Package executor implements the Executor: it takes a parsed (and
// optionally rewritten) internal/sql/ast.Statement and carries it out
// against the Catalog, BufferPoolManager, indexes, and TransactionManager.
//
// Grounded on tinySQL's engine.Engine.Execute dispatch-by-statement-kind
// shape (one exec<Kind> method per AST node, a shared executeSelect used
// both standalone and as the INSERT...SELECT/subquery source) and its
// ExecEnv indirection for subquery callbacks, but rewired from the
// teacher's in-memory storage.Table onto qindb's disk-backed heap pages,
// B+-tree/hash indexes, and two-phase-locked transactions.
package executor

import (
	"context"
	"strings"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/eval"
	"github.com/qindb/qindb/internal/rewriter"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/storage/buffer"
	"github.com/qindb/qindb/internal/txn"
	"github.com/qindb/qindb/internal/types"
)

// Session carries the identity and rewrite preferences an Execute call
// runs under — who is asking, and (per spec §4.12) which rewrite passes
// apply to their SELECTs.
type Session struct {
	User    string
	IsAdmin bool
	Rewrite rewriter.Options
}

// Result is the uniform shape every statement kind reports back,
// mirroring the teacher's QueryResult: success is implicit in a nil
// error, Columns/Rows carry a SELECT/SHOW/EXPLAIN's projection, and
// Message carries a human-readable summary for DDL/DML ("3 row(s)
// inserted").
type Result struct {
	Columns []string
	Rows    [][]types.Value
	Message string
}

// Engine is the Executor. One Engine serves one open database: it holds
// the Catalog, the BufferPoolManager sitting on that database's
// DiskManager, and the TransactionManager issuing locks against its
// pages.
type Engine struct {
	Pool     *buffer.Pool
	Cat      *catalog.Catalog
	Txns     *txn.Manager
	PageSize int

	// Hasher verifies/produces user password hashes for CREATE/ALTER USER
	// and authentication. Left nil it falls back to a minimal built-in
	// hasher; the database manager wires in the real one (Argon2id) at
	// startup so this package never has to import the auth package
	// directly.
	Hasher PasswordHasher
}

// PasswordHasher lets the database manager's auth package supply its own
// hashing scheme without internal/executor importing internal/auth.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// New wires an Engine against one database's storage stack.
func New(pool *buffer.Pool, cat *catalog.Catalog, txns *txn.Manager) *Engine {
	return &Engine{Pool: pool, Cat: cat, Txns: txns}
}

func lower(s string) string { return strings.ToLower(s) }

// Execute dispatches stmt to the matching exec method, running DML
// reads/writes under txn's two-phase locks. txn may be nil for
// statements that don't touch locked pages (SHOW, transaction control).
func (e *Engine) Execute(ctx context.Context, t *txn.Transaction, sess Session, stmt ast.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *ast.CreateTableStatement:
		return e.execCreateTable(s)
	case *ast.DropTableStatement:
		return e.execDropTable(s)
	case *ast.AlterTableStatement:
		return e.execAlterTable(s)
	case *ast.CreateIndexStatement:
		return e.execCreateIndex(s)
	case *ast.DropIndexStatement:
		return e.execDropIndex(s)
	case *ast.ShowTablesStatement:
		return e.execShowTables()
	case *ast.ShowIndexesStatement:
		return e.execShowIndexes(s)
	case *ast.InsertStatement:
		if err := e.requirePrivilege(sess, "INSERT", s.Table); err != nil {
			return nil, err
		}
		return e.execInsert(ctx, t, s)
	case *ast.SelectStatement:
		if s.From != nil {
			if err := e.requirePrivilege(sess, "SELECT", s.From.Table); err != nil {
				return nil, err
			}
		}
		return e.execSelect(ctx, t, sess, s, nil)
	case *ast.UpdateStatement:
		if err := e.requirePrivilege(sess, "UPDATE", s.Table); err != nil {
			return nil, err
		}
		return e.execUpdate(ctx, t, s)
	case *ast.DeleteStatement:
		if err := e.requirePrivilege(sess, "DELETE", s.Table); err != nil {
			return nil, err
		}
		return e.execDelete(ctx, t, s)
	case *ast.ExplainStatement:
		return e.execExplain(sess, s)
	case *ast.VacuumStatement:
		return e.execVacuum(s)
	case *ast.AnalyzeStatement:
		return e.execAnalyze(s)
	case *ast.CreateUserStatement:
		return e.execCreateUser(s)
	case *ast.DropUserStatement:
		return e.execDropUser(s)
	case *ast.AlterUserStatement:
		return e.execAlterUser(s)
	case *ast.GrantStatement:
		return e.execGrant(s)
	case *ast.RevokeStatement:
		return e.execRevoke(s)
	case *ast.BeginTransactionStatement, *ast.CommitStatement, *ast.RollbackStatement, *ast.SaveStatement:
		// Transaction control is handled by the caller (dbmanager session
		// loop), which owns the *txn.Transaction lifecycle; reaching here
		// means the caller routed it to Execute by mistake.
		return nil, dberr.New(dberr.NotImplemented, "transaction control statements are handled by the session, not the executor")
	case *ast.CreateDatabaseStatement, *ast.DropDatabaseStatement, *ast.UseDatabaseStatement, *ast.ShowDatabasesStatement:
		return nil, dberr.New(dberr.NotImplemented, "database-level statements are handled by the database manager, not a single database's executor")
	default:
		return nil, dberr.Newf(dberr.NotImplemented, "unsupported statement type %T", stmt)
	}
}

// newEvaluator builds an Evaluator wired for subquery execution against
// this Engine, scoped to txn t and session sess.
func (e *Engine) newEvaluator(ctx context.Context, t *txn.Transaction, sess Session) *eval.Evaluator {
	return eval.New(&subqueryRunner{engine: e, ctx: ctx, txn: t, sess: sess})
}

// subqueryRunner implements eval.SubqueryRunner by recursively calling
// back into the Engine's own SELECT execution — the same inversion of
// control the teacher's ExecEnv interface gives evalSubqueryExpr, made
// explicit here since eval and executor are separate packages.
type subqueryRunner struct {
	engine *Engine
	ctx    context.Context
	txn    *txn.Transaction
	sess   Session
}

func (r *subqueryRunner) RunScalarSubquery(sel *ast.SelectStatement, outer eval.Row) (types.Value, error) {
	res, err := r.engine.execSelect(r.ctx, r.txn, r.sess, sel, outer)
	if err != nil {
		return types.Null, err
	}
	if len(res.Rows) == 0 {
		return types.Null, nil
	}
	if len(res.Rows) > 1 || len(res.Columns) != 1 {
		return types.Null, dberr.New(dberr.SemanticError, "scalar subquery returned more than one row or column")
	}
	return res.Rows[0][0], nil
}

func (r *subqueryRunner) RunListSubquery(sel *ast.SelectStatement, outer eval.Row) ([]types.Value, error) {
	res, err := r.engine.execSelect(r.ctx, r.txn, r.sess, sel, outer)
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, row[0])
	}
	return out, nil
}
