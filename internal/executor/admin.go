package executor

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/qindb/qindb/internal/catalog"
	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/ids"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/storage/page"
	"github.com/qindb/qindb/internal/types"
)

const (
	sysUsersTable       = "sys_users"
	sysPermissionsTable = "sys_permissions"
	sysColumnStatsTable = "sys_column_stats"
)

// ensureSystemTable lazily creates one of the sys_* catalog tables the
// first time it's needed, so a fresh database works without a separate
// bootstrap step wiring every installation.
func (e *Engine) ensureSystemTable(name string, cols []catalog.ColumnDef) error {
	exists, err := e.Cat.TableExists(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	id, buf, err := e.Pool.NewPage()
	if err != nil {
		return err
	}
	page.InitTablePage(buf, id)
	e.Pool.UnpinPage(id, true)
	def := catalog.TableDef{Name: name, Columns: cols, FirstPageID: id, LastPageID: id, NextRowID: 1}
	return e.Cat.CreateTable(def)
}

func (e *Engine) ensureUsersTable() error {
	return e.ensureSystemTable(sysUsersTable, []catalog.ColumnDef{
		{Name: "username", Type: types.KindVarchar},
		{Name: "password_hash", Type: types.KindVarchar},
		{Name: "is_admin", Type: types.KindBoolean},
	})
}

func (e *Engine) ensurePermissionsTable() error {
	return e.ensureSystemTable(sysPermissionsTable, []catalog.ColumnDef{
		{Name: "username", Type: types.KindVarchar},
		{Name: "table_name", Type: types.KindVarchar},
		{Name: "privilege", Type: types.KindVarchar},
	})
}

func (e *Engine) ensureColumnStatsTable() error {
	return e.ensureSystemTable(sysColumnStatsTable, []catalog.ColumnDef{
		{Name: "table_name", Type: types.KindVarchar},
		{Name: "column_name", Type: types.KindVarchar},
		{Name: "row_count", Type: types.KindInt64},
		{Name: "distinct_estimate", Type: types.KindInt64},
		{Name: "min_val", Type: types.KindVarchar, Nullable: true},
		{Name: "max_val", Type: types.KindVarchar, Nullable: true},
	})
}

// requirePrivilege gates DML on sess having the named privilege over
// table. Admin sessions and callers with no identity (internal
// bootstrapping, single-user embedding) always pass; otherwise it
// consults sys_permissions, falling open only if that table has never
// been created (a brand-new database with no GRANTs configured yet).
func (e *Engine) requirePrivilege(sess Session, privilege, table string) error {
	if sess.IsAdmin || sess.User == "" {
		return nil
	}
	exists, err := e.Cat.TableExists(sysPermissionsTable)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	def, _, err := e.Cat.GetTable(sysPermissionsTable)
	if err != nil {
		return err
	}
	rows, err := e.scanLive(def)
	if err != nil {
		return err
	}
	for _, r := range rows {
		user := r.Vals[0].S
		tbl := r.Vals[1].S
		priv := strings.ToUpper(r.Vals[2].S)
		if !strings.EqualFold(user, sess.User) {
			continue
		}
		if tbl != "*" && !strings.EqualFold(tbl, table) {
			continue
		}
		if priv == "ALL" || priv == strings.ToUpper(privilege) {
			return nil
		}
	}
	return dberr.Newf(dberr.PermissionDenied, "user %q lacks %s privilege on %q", sess.User, privilege, table)
}

// builtinHash is the fallback PasswordHasher used until the database
// manager wires in the real auth package. It is deliberately simple
// (salted SHA-256) rather than a from-scratch Argon2id reimplementation.
type builtinHash struct{}

func (builtinHash) Hash(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(salt, password...))
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum[:]), nil
}

func (builtinHash) Verify(hash, password string) bool {
	parts := strings.SplitN(hash, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	sum := sha256.Sum256(append(salt, password...))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

func (e *Engine) hasher() PasswordHasher {
	if e.Hasher != nil {
		return e.Hasher
	}
	return builtinHash{}
}

// SeedAdmin creates username as an administrator if sys_users has no
// rows at all, so a brand-new database boots with one usable login
// instead of locking itself out. It bypasses execCreateUser because
// CREATE USER has no syntax for the is_admin flag — only the database
// manager, at database-creation time, is trusted to set it.
func (e *Engine) SeedAdmin(username, password string) error {
	if err := e.ensureUsersTable(); err != nil {
		return err
	}
	def, _, err := e.Cat.GetTable(sysUsersTable)
	if err != nil {
		return err
	}
	rows, err := e.scanLive(def)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}
	hash, err := e.hasher().Hash(password)
	if err != nil {
		return err
	}
	vals := []types.Value{types.NewVarchar(username), types.NewVarchar(hash), types.NewBool(true)}
	if _, _, _, err := e.appendRow(&def, ids.InvalidTxnID, vals); err != nil {
		return err
	}
	return e.Cat.UpdateTable(def)
}

func (e *Engine) execCreateUser(s *ast.CreateUserStatement) (*Result, error) {
	if err := e.ensureUsersTable(); err != nil {
		return nil, err
	}
	def, _, err := e.Cat.GetTable(sysUsersTable)
	if err != nil {
		return nil, err
	}
	if rows, err := e.scanLive(def); err != nil {
		return nil, err
	} else {
		for _, r := range rows {
			if strings.EqualFold(r.Vals[0].S, s.Name) {
				return nil, dberr.Newf(dberr.SemanticError, "user %q already exists", s.Name)
			}
		}
	}
	hash, err := e.hasher().Hash(s.Password)
	if err != nil {
		return nil, err
	}
	vals := []types.Value{types.NewVarchar(s.Name), types.NewVarchar(hash), types.NewBool(false)}
	if _, _, _, err := e.appendRow(&def, ids.InvalidTxnID, vals); err != nil {
		return nil, err
	}
	if err := e.Cat.UpdateTable(def); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("user %q created", s.Name)}, nil
}

func (e *Engine) execDropUser(s *ast.DropUserStatement) (*Result, error) {
	if err := e.ensureUsersTable(); err != nil {
		return nil, err
	}
	def, _, err := e.Cat.GetTable(sysUsersTable)
	if err != nil {
		return nil, err
	}
	rows, err := e.scanLive(def)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if strings.EqualFold(r.Vals[0].S, s.Name) {
			if err := e.deleteRowAt(r.PageID, r.Slot, ids.InvalidTxnID); err != nil {
				return nil, err
			}
			return &Result{Message: fmt.Sprintf("user %q dropped", s.Name)}, nil
		}
	}
	return nil, dberr.Newf(dberr.SemanticError, "user %q does not exist", s.Name)
}

func (e *Engine) execAlterUser(s *ast.AlterUserStatement) (*Result, error) {
	if err := e.ensureUsersTable(); err != nil {
		return nil, err
	}
	def, _, err := e.Cat.GetTable(sysUsersTable)
	if err != nil {
		return nil, err
	}
	rows, err := e.scanLive(def)
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher().Hash(s.Password)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if strings.EqualFold(r.Vals[0].S, s.Name) {
			newVals := append([]types.Value{}, r.Vals...)
			newVals[1] = types.NewVarchar(hash)
			if err := e.updateRowAt(&def, r.PageID, r.Slot, ids.InvalidTxnID, newVals); err != nil {
				return nil, err
			}
			return &Result{Message: fmt.Sprintf("user %q altered", s.Name)}, nil
		}
	}
	return nil, dberr.Newf(dberr.SemanticError, "user %q does not exist", s.Name)
}

func expandPrivileges(privs []ast.Privilege) []string {
	var out []string
	for _, p := range privs {
		if strings.EqualFold(p.Name, "ALL") {
			out = append(out, "ALL")
			continue
		}
		out = append(out, strings.ToUpper(p.Name))
	}
	return out
}

func (e *Engine) execGrant(s *ast.GrantStatement) (*Result, error) {
	if err := e.ensurePermissionsTable(); err != nil {
		return nil, err
	}
	def, _, err := e.Cat.GetTable(sysPermissionsTable)
	if err != nil {
		return nil, err
	}
	tbl := s.Table
	if tbl == "" {
		tbl = "*"
	}
	for _, priv := range expandPrivileges(s.Privileges) {
		vals := []types.Value{types.NewVarchar(s.User), types.NewVarchar(tbl), types.NewVarchar(priv)}
		if _, _, _, err := e.appendRow(&def, ids.InvalidTxnID, vals); err != nil {
			return nil, err
		}
	}
	if err := e.Cat.UpdateTable(def); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("privileges granted to %q", s.User)}, nil
}

func (e *Engine) execRevoke(s *ast.RevokeStatement) (*Result, error) {
	if err := e.ensurePermissionsTable(); err != nil {
		return nil, err
	}
	def, _, err := e.Cat.GetTable(sysPermissionsTable)
	if err != nil {
		return nil, err
	}
	tbl := s.Table
	if tbl == "" {
		tbl = "*"
	}
	wanted := map[string]bool{}
	for _, priv := range expandPrivileges(s.Privileges) {
		wanted[priv] = true
	}
	rows, err := e.scanLive(def)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, r := range rows {
		if !strings.EqualFold(r.Vals[0].S, s.User) || !strings.EqualFold(r.Vals[1].S, tbl) {
			continue
		}
		if !wanted[strings.ToUpper(r.Vals[2].S)] {
			continue
		}
		if err := e.deleteRowAt(r.PageID, r.Slot, ids.InvalidTxnID); err != nil {
			return nil, err
		}
		count++
	}
	return &Result{Message: fmt.Sprintf("%d privilege(s) revoked from %q", count, s.User)}, nil
}

// execVacuum compacts each page's slot directory, reclaiming tombstoned
// tuples' space, and unlinks any page left fully empty. It assumes no
// concurrent writer is touching the table — the engine's Read Committed
// model keeps no old versions around for snapshot readers to need once
// a delete has committed, so there is nothing else to wait on.
func (e *Engine) execVacuum(s *ast.VacuumStatement) (*Result, error) {
	names, err := e.vacuumTargets(s.Table)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, name := range names {
		def, found, err := e.Cat.GetTable(name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		n, err := e.vacuumTable(&def)
		if err != nil {
			return nil, err
		}
		total += n
		if err := e.Cat.UpdateTable(def); err != nil {
			return nil, err
		}
	}
	return &Result{Message: fmt.Sprintf("vacuumed %d page(s)", total)}, nil
}

func (e *Engine) vacuumTargets(table string) ([]string, error) {
	if table != "" {
		return []string{table}, nil
	}
	return e.Cat.GetAllTableNames()
}

func (e *Engine) vacuumTable(def *catalog.TableDef) (int, error) {
	compacted := 0
	var prev page.ID
	id := def.FirstPageID
	for id != page.InvalidID {
		buf, err := e.Pool.FetchPage(id)
		if err != nil {
			return compacted, err
		}
		tp := page.WrapTablePage(buf)
		tp.Compact()
		next := tp.NextPageID()
		live := tp.LiveCount()
		compacted++

		if live == 0 && (prev != page.InvalidID || next != page.InvalidID) {
			e.Pool.UnpinPage(id, true)
			if prev == page.InvalidID {
				def.FirstPageID = next
			} else {
				pbuf, err := e.Pool.FetchPage(prev)
				if err != nil {
					return compacted, err
				}
				page.WrapTablePage(pbuf).SetNextPageID(next)
				e.Pool.UnpinPage(prev, true)
			}
			if id == def.LastPageID {
				def.LastPageID = prev
			}
			_ = e.Pool.DeletePage(id)
			id = next
			continue
		}
		e.Pool.UnpinPage(id, true)
		prev = id
		id = next
	}
	return compacted, nil
}

// execAnalyze recomputes per-column statistics (row count, an exact
// distinct-value count, min/max) and stores them in sys_column_stats,
// replacing any prior row for that table's columns.
func (e *Engine) execAnalyze(s *ast.AnalyzeStatement) (*Result, error) {
	if err := e.ensureColumnStatsTable(); err != nil {
		return nil, err
	}
	names, err := e.vacuumTargets(s.Table)
	if err != nil {
		return nil, err
	}
	statsDef, _, err := e.Cat.GetTable(sysColumnStatsTable)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == sysUsersTable || name == sysPermissionsTable || name == sysColumnStatsTable {
			continue
		}
		def, found, err := e.Cat.GetTable(name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		rows, err := e.scanLive(def)
		if err != nil {
			return nil, err
		}
		if err := e.clearColumnStats(&statsDef, name); err != nil {
			return nil, err
		}
		for ci, col := range def.Columns {
			distinct := map[string]bool{}
			var min, max *types.Value
			for _, r := range rows {
				v := r.Vals[ci]
				if v.IsNull() {
					continue
				}
				distinct[v.String()] = true
				if min == nil {
					m := v
					min = &m
				} else if cmp, err := compareForAgg(v, *min); err == nil && cmp < 0 {
					m := v
					min = &m
				}
				if max == nil {
					m := v
					max = &m
				} else if cmp, err := compareForAgg(v, *max); err == nil && cmp > 0 {
					m := v
					max = &m
				}
			}
			minS, maxS := types.Null, types.Null
			if min != nil {
				minS = types.NewVarchar(min.String())
			}
			if max != nil {
				maxS = types.NewVarchar(max.String())
			}
			vals := []types.Value{
				types.NewVarchar(name), types.NewVarchar(col.Name),
				types.NewInt64(int64(len(rows))), types.NewInt64(int64(len(distinct))),
				minS, maxS,
			}
			if _, _, _, err := e.appendRow(&statsDef, ids.InvalidTxnID, vals); err != nil {
				return nil, err
			}
		}
	}
	if err := e.Cat.UpdateTable(statsDef); err != nil {
		return nil, err
	}
	return &Result{Message: "analyze complete"}, nil
}

func (e *Engine) clearColumnStats(statsDef *catalog.TableDef, table string) error {
	rows, err := e.scanLive(*statsDef)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if strings.EqualFold(r.Vals[0].S, table) {
			if err := e.deleteRowAt(r.PageID, r.Slot, ids.InvalidTxnID); err != nil {
				return err
			}
		}
	}
	return nil
}
