package dbmanager

import (
	"context"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/diag"
	"github.com/qindb/qindb/internal/executor"
	"github.com/qindb/qindb/internal/rewriter"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/txn"
	"github.com/qindb/qindb/internal/types"
)

// Session is one client connection's state as the database manager sees
// it: which database it is currently pointed at and, if it issued a
// BEGIN, the open transaction that statement runs under. This is
// distinct from executor.Session, which carries only the identity and
// rewrite preferences a single Engine.Execute call needs — a Session
// here outlives any one statement and can move between databases and in
// and out of an explicit transaction.
type Session struct {
	User    string
	IsAdmin bool
	Rewrite rewriter.Options

	current string
	txn     *txn.Transaction
}

// NewSession starts a session authenticated as user against database
// name (SystemDatabase if name is empty).
func NewSession(user string, isAdmin bool, database string) *Session {
	if database == "" {
		database = SystemDatabase
	}
	return &Session{User: user, IsAdmin: isAdmin, current: database}
}

// CurrentDatabase returns the name of the database the session is
// pointed at.
func (s *Session) CurrentDatabase() string { return s.current }

// InTransaction reports whether the session has an open BEGIN.
func (s *Session) InTransaction() bool { return s.txn != nil }

func (s *Session) execSession() executor.Session {
	return executor.Session{User: s.User, IsAdmin: s.IsAdmin, Rewrite: s.Rewrite}
}

// Execute runs one parsed statement on behalf of sess. Transaction
// control (BEGIN/COMMIT/ROLLBACK/SAVE) and database-level statements
// (CREATE/DROP/USE DATABASE, SHOW DATABASES) are handled here, since
// they span or precede the single open database an executor.Engine
// serves; everything else is routed to sess's current database.
//
// A statement run outside an explicit BEGIN executes under its own
// transaction, committed (or rolled back, on error) before Execute
// returns — matching the spec's "every statement is transactional"
// default isolation note.
func (m *Manager) Execute(ctx context.Context, sess *Session, stmt ast.Statement) (*executor.Result, error) {
	ctx, log := diag.Begin(ctx, "execute")

	switch s := stmt.(type) {
	case *ast.BeginTransactionStatement:
		return m.execBegin(ctx, sess)
	case *ast.CommitStatement:
		return m.execCommit(sess)
	case *ast.RollbackStatement:
		return m.execRollback(sess)
	case *ast.SaveStatement:
		return m.execSave(ctx, sess)
	case *ast.CreateDatabaseStatement:
		if err := m.CreateDatabase(s.Name, s.IfNotExists); err != nil {
			return nil, err
		}
		return &executor.Result{Message: "database created"}, nil
	case *ast.DropDatabaseStatement:
		if err := m.DropDatabase(s.Name, s.IfExists); err != nil {
			return nil, err
		}
		return &executor.Result{Message: "database dropped"}, nil
	case *ast.UseDatabaseStatement:
		if exists, err := m.DatabaseExists(s.Name); err != nil {
			return nil, err
		} else if !exists {
			return nil, dberr.Newf(dberr.SemanticError, "database %q does not exist", s.Name)
		}
		sess.current = s.Name
		return &executor.Result{Message: "database changed"}, nil
	case *ast.ShowDatabasesStatement:
		names, err := m.ListDatabases()
		if err != nil {
			return nil, err
		}
		res := &executor.Result{Columns: []string{"database"}}
		for _, n := range names {
			res.Rows = append(res.Rows, []types.Value{types.NewVarchar(n)})
		}
		return res, nil
	}

	d, err := m.open(sess.current)
	if err != nil {
		return nil, err
	}

	if sess.txn != nil {
		log.Debug("execute under open transaction", "database", d.name, "txn", sess.txn.ID)
		return d.engine.Execute(ctx, sess.txn, sess.execSession(), stmt)
	}

	t, err := d.txns.Begin()
	if err != nil {
		return nil, err
	}
	res, execErr := d.engine.Execute(ctx, t, sess.execSession(), stmt)
	if execErr != nil {
		if abortErr := d.txns.Abort(t, d.engine.ApplyUndo); abortErr != nil {
			log.Error("rollback after failed statement also failed", "err", abortErr)
		}
		return nil, execErr
	}
	if err := d.txns.Commit(t); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) execBegin(ctx context.Context, sess *Session) (*executor.Result, error) {
	if sess.txn != nil {
		return nil, dberr.New(dberr.SemanticError, "a transaction is already open")
	}
	d, err := m.open(sess.current)
	if err != nil {
		return nil, err
	}
	t, err := d.txns.Begin()
	if err != nil {
		return nil, err
	}
	sess.txn = t
	return &executor.Result{Message: "transaction started"}, nil
}

func (m *Manager) execCommit(sess *Session) (*executor.Result, error) {
	if sess.txn == nil {
		return nil, dberr.New(dberr.SemanticError, "no transaction is open")
	}
	d, err := m.open(sess.current)
	if err != nil {
		return nil, err
	}
	if err := d.txns.Commit(sess.txn); err != nil {
		return nil, err
	}
	sess.txn = nil
	return &executor.Result{Message: "transaction committed"}, nil
}

func (m *Manager) execRollback(sess *Session) (*executor.Result, error) {
	if sess.txn == nil {
		return nil, dberr.New(dberr.SemanticError, "no transaction is open")
	}
	d, err := m.open(sess.current)
	if err != nil {
		return nil, err
	}
	t := sess.txn
	sess.txn = nil
	if err := d.txns.Abort(t, d.engine.ApplyUndo); err != nil {
		return nil, err
	}
	return &executor.Result{Message: "transaction rolled back"}, nil
}

// execSave runs an immediate checkpoint+VACUUM of the current database,
// outside the scheduler's own cadence.
func (m *Manager) execSave(ctx context.Context, sess *Session) (*executor.Result, error) {
	d, err := m.open(sess.current)
	if err != nil {
		return nil, err
	}
	if err := d.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := d.Vacuum(ctx); err != nil {
		return nil, err
	}
	return &executor.Result{Message: "database saved"}, nil
}
