package parser

import (
	"testing"

	"github.com/qindb/qindb/internal/sql/ast"
)

func parseOne(t *testing.T, sql string) ast.Statement {
	t.Helper()
	stmt, err := New(sql).ParseStatement()
	if err != nil {
		t.Fatalf("ParseStatement(%q): %v", sql, err)
	}
	return stmt
}

func TestParseSimpleSelect(t *testing.T) {
	stmt := parseOne(t, "SELECT id, name FROM users WHERE id = 1")
	sel, ok := stmt.(*ast.SelectStatement)
	if !ok {
		t.Fatalf("got %T, want *ast.SelectStatement", stmt)
	}
	if len(sel.Projs) != 2 {
		t.Fatalf("Projs = %d, want 2", len(sel.Projs))
	}
	if sel.From == nil || sel.From.Table != "users" {
		t.Fatalf("From = %+v", sel.From)
	}
	where, ok := sel.Where.(*ast.BinaryExpr)
	if !ok || where.Op != "=" {
		t.Fatalf("Where = %+v", sel.Where)
	}
}

func TestParseSelectStar(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM t").(*ast.SelectStatement)
	if len(sel.Projs) != 1 {
		t.Fatalf("Projs = %d, want 1", len(sel.Projs))
	}
	if _, ok := sel.Projs[0].Expr.(*ast.StarExpr); !ok {
		t.Fatalf("Projs[0].Expr = %T, want *ast.StarExpr", sel.Projs[0].Expr)
	}
}

func TestParseJoinAndOrderByAndLimit(t *testing.T) {
	sel := parseOne(t, `SELECT a.id FROM a JOIN b ON a.id = b.a_id
		ORDER BY a.id DESC LIMIT 10 OFFSET 5`).(*ast.SelectStatement)
	if len(sel.Joins) != 1 || sel.Joins[0].Type != ast.JoinInner {
		t.Fatalf("Joins = %+v", sel.Joins)
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("OrderBy = %+v", sel.OrderBy)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Fatalf("Limit = %v", sel.Limit)
	}
	if sel.Offset == nil || *sel.Offset != 5 {
		t.Fatalf("Offset = %v", sel.Offset)
	}
}

func TestParseWhereWithLikeInBetween(t *testing.T) {
	sel := parseOne(t, `SELECT * FROM t WHERE name LIKE 'a%' AND id IN (1,2,3) AND age BETWEEN 1 AND 9`).(*ast.SelectStatement)
	and1, ok := sel.Where.(*ast.BinaryExpr)
	if !ok || and1.Op != "AND" {
		t.Fatalf("Where = %+v", sel.Where)
	}
	and2, ok := and1.Left.(*ast.BinaryExpr)
	if !ok || and2.Op != "AND" {
		t.Fatalf("Left = %+v", and1.Left)
	}
	if _, ok := and2.Left.(*ast.LikeExpr); !ok {
		t.Fatalf("and2.Left = %T, want *ast.LikeExpr", and2.Left)
	}
	if _, ok := and2.Right.(*ast.InExpr); !ok {
		t.Fatalf("and2.Right = %T, want *ast.InExpr", and2.Right)
	}
	if _, ok := and1.Right.(*ast.BetweenExpr); !ok {
		t.Fatalf("and1.Right = %T, want *ast.BetweenExpr", and1.Right)
	}
}

func TestParseIsNullNegated(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM t WHERE name IS NOT NULL").(*ast.SelectStatement)
	isNull, ok := sel.Where.(*ast.IsNullExpr)
	if !ok || !isNull.Negate {
		t.Fatalf("Where = %+v", sel.Where)
	}
}

func TestParseAggregateAndGroupByHaving(t *testing.T) {
	sel := parseOne(t, `SELECT dept, COUNT(*), AVG(salary) FROM emp GROUP BY dept HAVING COUNT(*) > 1`).(*ast.SelectStatement)
	count, ok := sel.Projs[1].Expr.(*ast.FuncCallExpr)
	if !ok || count.Name != "COUNT" || !count.Star {
		t.Fatalf("Projs[1] = %+v", sel.Projs[1])
	}
	if len(sel.GroupBy) != 1 {
		t.Fatalf("GroupBy = %+v", sel.GroupBy)
	}
	if sel.Having == nil {
		t.Fatal("Having is nil")
	}
}

func TestParseCaseExpr(t *testing.T) {
	sel := parseOne(t, `SELECT CASE WHEN x > 0 THEN 'pos' ELSE 'neg' END FROM t`).(*ast.SelectStatement)
	ce, ok := sel.Projs[0].Expr.(*ast.CaseExpr)
	if !ok || len(ce.Whens) != 1 || ce.Else == nil {
		t.Fatalf("Projs[0].Expr = %+v", sel.Projs[0].Expr)
	}
}

func TestParseMatchAgainst(t *testing.T) {
	sel := parseOne(t, `SELECT * FROM t WHERE MATCH(body) AGAINST('hello' IN BOOLEAN MODE)`).(*ast.SelectStatement)
	m, ok := sel.Where.(*ast.MatchAgainstExpr)
	if !ok || len(m.Columns) != 1 || !m.BooleanMode {
		t.Fatalf("Where = %+v", sel.Where)
	}
}

func TestParseSubqueryInFromAndWhere(t *testing.T) {
	sel := parseOne(t, `SELECT * FROM (SELECT id FROM t) AS sub WHERE id IN (SELECT id FROM t2)`).(*ast.SelectStatement)
	if sel.From == nil || sel.From.Subquery == nil || sel.From.Alias != "sub" {
		t.Fatalf("From = %+v", sel.From)
	}
	in, ok := sel.Where.(*ast.InExpr)
	if !ok || in.Subquery == nil {
		t.Fatalf("Where = %+v", sel.Where)
	}
}

func TestParseInsertValues(t *testing.T) {
	stmt := parseOne(t, `INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b')`)
	ins, ok := stmt.(*ast.InsertStatement)
	if !ok || len(ins.Rows) != 2 || len(ins.Cols) != 2 {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseInsertSelect(t *testing.T) {
	stmt := parseOne(t, `INSERT INTO t SELECT * FROM other`)
	ins, ok := stmt.(*ast.InsertStatement)
	if !ok || ins.Select == nil {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := parseOne(t, `UPDATE t SET a = 1, b = 'x' WHERE id = 5`)
	upd, ok := stmt.(*ast.UpdateStatement)
	if !ok || len(upd.Cols) != 2 || upd.Where == nil {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseDelete(t *testing.T) {
	stmt := parseOne(t, `DELETE FROM t WHERE id = 5`)
	if _, ok := stmt.(*ast.DeleteStatement); !ok {
		t.Fatalf("got %T", stmt)
	}
}

func TestParseCreateTable(t *testing.T) {
	stmt := parseOne(t, `CREATE TABLE IF NOT EXISTS t (
		id INT64 PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		score FLOAT64 DEFAULT 0
	)`)
	ct, ok := stmt.(*ast.CreateTableStatement)
	if !ok || !ct.IfNotExists || len(ct.Columns) != 3 {
		t.Fatalf("got %+v", stmt)
	}
	if !ct.Columns[0].PrimaryKey || ct.Columns[0].Nullable {
		t.Fatalf("Columns[0] = %+v", ct.Columns[0])
	}
	if ct.Columns[2].Default == nil {
		t.Fatalf("Columns[2].Default is nil")
	}
}

func TestParseCreateIndexUsingHash(t *testing.T) {
	stmt := parseOne(t, `CREATE UNIQUE INDEX idx_name ON t (name) USING HASH`)
	ci, ok := stmt.(*ast.CreateIndexStatement)
	if !ok || !ci.Unique || ci.Kind != ast.IndexHash {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseDropTableIfExists(t *testing.T) {
	stmt := parseOne(t, `DROP TABLE IF EXISTS t`)
	dt, ok := stmt.(*ast.DropTableStatement)
	if !ok || !dt.IfExists {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseTransactionStatements(t *testing.T) {
	cases := map[string]ast.Statement{
		"BEGIN":            &ast.BeginTransactionStatement{},
		"BEGIN TRANSACTION": &ast.BeginTransactionStatement{},
		"COMMIT":           &ast.CommitStatement{},
		"ROLLBACK":         &ast.RollbackStatement{},
		"SAVE":             &ast.SaveStatement{},
	}
	for sql := range cases {
		stmt := parseOne(t, sql)
		if stmt == nil {
			t.Fatalf("parse(%q) returned nil", sql)
		}
	}
}

func TestParseVacuumAnalyzeExplain(t *testing.T) {
	v := parseOne(t, "VACUUM t").(*ast.VacuumStatement)
	if v.Table != "t" {
		t.Fatalf("Vacuum.Table = %q", v.Table)
	}
	a := parseOne(t, "ANALYZE TABLE t").(*ast.AnalyzeStatement)
	if a.Table != "t" {
		t.Fatalf("Analyze.Table = %q", a.Table)
	}
	e := parseOne(t, "EXPLAIN SELECT * FROM t").(*ast.ExplainStatement)
	if e.Stmt == nil {
		t.Fatal("Explain.Stmt is nil")
	}
}

func TestParseShowStatements(t *testing.T) {
	if _, ok := parseOne(t, "SHOW TABLES").(*ast.ShowTablesStatement); !ok {
		t.Fatal("SHOW TABLES parse failed")
	}
	si := parseOne(t, "SHOW INDEXES FROM t").(*ast.ShowIndexesStatement)
	if si.Table != "t" {
		t.Fatalf("ShowIndexes.Table = %q", si.Table)
	}
	if _, ok := parseOne(t, "SHOW DATABASES").(*ast.ShowDatabasesStatement); !ok {
		t.Fatal("SHOW DATABASES parse failed")
	}
}

func TestParseDatabaseAndUserDDL(t *testing.T) {
	cd := parseOne(t, "CREATE DATABASE IF NOT EXISTS d1").(*ast.CreateDatabaseStatement)
	if !cd.IfNotExists || cd.Name != "d1" {
		t.Fatalf("got %+v", cd)
	}
	cu := parseOne(t, "CREATE USER bob IDENTIFIED BY 'secret'").(*ast.CreateUserStatement)
	if cu.Name != "bob" || cu.Password != "secret" {
		t.Fatalf("got %+v", cu)
	}
	if _, ok := parseOne(t, "DROP USER bob").(*ast.DropUserStatement); !ok {
		t.Fatal("DROP USER parse failed")
	}
}

func TestParseGrantAndRevoke(t *testing.T) {
	g := parseOne(t, "GRANT SELECT, INSERT ON mydb.t TO bob WITH GRANT OPTION").(*ast.GrantStatement)
	if len(g.Privileges) != 2 || g.Database != "mydb" || g.Table != "t" || g.User != "bob" || !g.WithGrant {
		t.Fatalf("got %+v", g)
	}
	r := parseOne(t, "REVOKE ALL ON mydb.* FROM bob").(*ast.RevokeStatement)
	if r.Table != "*" || r.Privileges[0].Name != "ALL" {
		t.Fatalf("got %+v", r)
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	sel := parseOne(t, "SELECT * FROM t WHERE a + b * 2 = 10").(*ast.SelectStatement)
	eq, ok := sel.Where.(*ast.BinaryExpr)
	if !ok || eq.Op != "=" {
		t.Fatalf("Where = %+v", sel.Where)
	}
	add, ok := eq.Left.(*ast.BinaryExpr)
	if !ok || add.Op != "+" {
		t.Fatalf("Left = %+v", eq.Left)
	}
	mul, ok := add.Right.(*ast.BinaryExpr)
	if !ok || mul.Op != "*" {
		t.Fatalf("add.Right = %+v", add.Right)
	}
}

func TestParseUnrecognizedStatementFails(t *testing.T) {
	_, err := New("FROBNICATE t").ParseStatement()
	if err == nil {
		t.Fatal("expected an error for an unrecognized statement")
	}
}

func TestParseUnterminatedExpressionFails(t *testing.T) {
	_, err := New("SELECT * FROM t WHERE (a = 1").ParseStatement()
	if err == nil {
		t.Fatal("expected an error for an unterminated parenthesis")
	}
}
