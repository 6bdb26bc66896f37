package dbmanager

import (
	"context"
	"strings"

	"github.com/qindb/qindb/internal/auth"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/sql/parser"
)

// Authenticate looks username up in the system database's sys_users
// table and verifies password against its stored hash (Argon2id or the
// legacy SHA-256 format, whichever it was created under), returning a
// Session scoped to database with the row's is_admin bit if it matches.
// This is the one caller of auth.Hasher.Verify in the whole engine: every
// other password-hash touch point only ever produces a hash (CREATE/ALTER
// USER), never checks one.
func (m *Manager) Authenticate(username, password, database string) (*Session, error) {
	escaped := strings.ReplaceAll(username, "'", "''")
	stmt, err := parser.New("SELECT password_hash, is_admin FROM sys_users WHERE username = '" + escaped + "'").ParseStatement()
	if err != nil {
		return nil, err
	}

	sess := &Session{current: SystemDatabase}
	res, err := m.Execute(context.Background(), sess, stmt)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, dberr.New(dberr.PermissionDenied, "unknown user or wrong password")
	}

	row := res.Rows[0]
	hash := row[0].S
	isAdmin := row[1].I != 0
	if !auth.New().Verify(hash, password) {
		return nil, dberr.New(dberr.PermissionDenied, "unknown user or wrong password")
	}
	return NewSession(username, isAdmin, database), nil
}
