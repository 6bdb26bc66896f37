// Package parser implements a hand-written recursive-descent SQL
// parser producing internal/sql/ast trees.
//
// Grounded on tinySQL's engine.Parser: the same cur/peek two-token
// lookahead shape, the same precedence-climbing cascade for
// expressions (OR < AND < NOT < comparison < additive < multiplicative
// < unary < primary per spec §4.10), and the same "accept keywords as
// identifiers" leniency for column names. Extended with LIKE/BETWEEN/IN
// at the comparison tier, CASE/subquery/MATCH..AGAINST at the primary
// tier, and statement-level parsing for the DB/user/grant/vacuum/
// analyze/explain/show/transaction vocabulary the teacher doesn't have.
package parser

import (
	"strconv"
	"strings"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/sql/lexer"
	"github.com/qindb/qindb/internal/types"
)

// Parser holds the lexer and current/peek tokens for recursive-descent parsing.
type Parser struct {
	lx   *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token
}

// New creates a parser over sql.
func New(sql string) *Parser {
	p := &Parser{lx: lexer.New(sql)}
	p.cur = p.lx.Next()
	p.peek = p.lx.Next()
	return p
}

func (p *Parser) advance() { p.cur, p.peek = p.peek, p.lx.Next() }

func (p *Parser) errf(format string, a ...any) error {
	return dberr.Newf(dberr.SyntaxError, format, a...).WithDetail(strconv.Quote(p.cur.Val))
}

func (p *Parser) isKeyword(kw string) bool {
	return p.cur.Type == lexer.Keyword && p.cur.Val == kw
}

func (p *Parser) isSymbol(sym string) bool {
	return p.cur.Type == lexer.Symbol && p.cur.Val == sym
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected keyword %q", kw)
	}
	p.advance()
	return nil
}

func (p *Parser) expectSymbol(sym string) error {
	if !p.isSymbol(sym) {
		return p.errf("expected symbol %q", sym)
	}
	p.advance()
	return nil
}

// identLike accepts an IDENT, or a KEYWORD used loosely as a name — the
// spec's grammar doesn't reserve every keyword from appearing as a
// column or table name, so this mirrors the teacher's parseIdentLike.
func (p *Parser) identLike() string {
	if p.cur.Type == lexer.Ident || p.cur.Type == lexer.Keyword {
		v := p.cur.Val
		p.advance()
		return v
	}
	return ""
}

// ParseStatement parses exactly one statement. Per spec §4.10, the
// parser reports one error at a time and rejects the whole statement on
// failure — there is no partial-statement recovery.
func (p *Parser) ParseStatement() (ast.Statement, error) {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("ALTER"):
		return p.parseAlter()
	case p.isKeyword("USE"):
		return p.parseUse()
	case p.isKeyword("SHOW"):
		return p.parseShow()
	case p.isKeyword("BEGIN"):
		p.advance()
		if p.isKeyword("TRANSACTION") {
			p.advance()
		}
		return &ast.BeginTransactionStatement{}, nil
	case p.isKeyword("COMMIT"):
		p.advance()
		return &ast.CommitStatement{}, nil
	case p.isKeyword("ROLLBACK"):
		p.advance()
		return &ast.RollbackStatement{}, nil
	case p.isKeyword("SAVE"):
		p.advance()
		return &ast.SaveStatement{}, nil
	case p.isKeyword("VACUUM"):
		p.advance()
		return &ast.VacuumStatement{Table: p.identLike()}, nil
	case p.isKeyword("ANALYZE"):
		p.advance()
		if p.isKeyword("TABLE") {
			p.advance()
		}
		return &ast.AnalyzeStatement{Table: p.identLike()}, nil
	case p.isKeyword("EXPLAIN"):
		p.advance()
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &ast.ExplainStatement{Stmt: sel}, nil
	case p.isKeyword("GRANT"):
		return p.parseGrant()
	case p.isKeyword("REVOKE"):
		return p.parseRevoke()
	default:
		return nil, p.errf("expected a statement")
	}
}

// ---- DDL ----

func (p *Parser) parseCreate() (ast.Statement, error) {
	p.advance()
	switch {
	case p.isKeyword("TABLE"):
		return p.parseCreateTable()
	case p.isKeyword("UNIQUE"):
		p.advance()
		return p.parseCreateIndex(true)
	case p.isKeyword("INDEX"):
		return p.parseCreateIndex(false)
	case p.isKeyword("DATABASE"):
		return p.parseCreateDatabase()
	case p.isKeyword("USER"):
		return p.parseCreateUser()
	default:
		return nil, p.errf("expected TABLE, INDEX, DATABASE, or USER after CREATE")
	}
}

func (p *Parser) parseIfNotExists() bool {
	if p.isKeyword("IF") {
		p.advance()
		_ = p.expectKeyword("NOT")
		_ = p.expectKeyword("EXISTS")
		return true
	}
	return false
}

func (p *Parser) parseIfExists() bool {
	if p.isKeyword("IF") {
		p.advance()
		_ = p.expectKeyword("EXISTS")
		return true
	}
	return false
}

func (p *Parser) parseCreateTable() (ast.Statement, error) {
	p.advance()
	ifNotExists := p.parseIfNotExists()
	name := p.identLike()
	if name == "" {
		return nil, p.errf("expected table name")
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []ast.ColumnDef
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &ast.CreateTableStatement{Name: name, Columns: cols, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseColumnDef() (ast.ColumnDef, error) {
	name := p.identLike()
	if name == "" {
		return ast.ColumnDef{}, p.errf("expected column name")
	}
	kind, err := p.parseTypeKind()
	if err != nil {
		return ast.ColumnDef{}, err
	}
	col := ast.ColumnDef{Name: name, Type: kind, Nullable: true}
	for {
		switch {
		case p.isKeyword("PRIMARY"):
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return ast.ColumnDef{}, err
			}
			col.PrimaryKey = true
			col.Nullable = false
		case p.isKeyword("UNIQUE"):
			p.advance()
			col.Unique = true
		case p.isKeyword("NOT"):
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return ast.ColumnDef{}, err
			}
			col.Nullable = false
		case p.isKeyword("NULL"):
			p.advance()
			col.Nullable = true
		case p.isKeyword("DEFAULT"):
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return ast.ColumnDef{}, err
			}
			col.Default = e
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseTypeKind() (types.Kind, error) {
	if p.cur.Type != lexer.Keyword {
		return types.KindNull, p.errf("expected a column type")
	}
	kw := p.cur.Val
	p.advance()
	// Optional length/precision qualifier, e.g. VARCHAR(255), DECIMAL(10,2).
	if p.isSymbol("(") {
		p.advance()
		for !p.isSymbol(")") {
			if p.cur.Type == lexer.EOF {
				return types.KindNull, p.errf("unterminated type qualifier")
			}
			p.advance()
		}
		p.advance()
	}
	switch kw {
	case "INT", "INT32":
		return types.KindInt32, nil
	case "INT8":
		return types.KindInt8, nil
	case "INT16":
		return types.KindInt16, nil
	case "INT64":
		return types.KindInt64, nil
	case "FLOAT32":
		return types.KindFloat32, nil
	case "FLOAT64", "DOUBLE":
		return types.KindFloat64, nil
	case "DECIMAL":
		return types.KindDecimal, nil
	case "VARCHAR":
		return types.KindVarchar, nil
	case "CHAR":
		return types.KindChar, nil
	case "TEXT":
		return types.KindText, nil
	case "BLOB":
		return types.KindBlob, nil
	case "BOOLEAN", "BOOL":
		return types.KindBoolean, nil
	case "DATE":
		return types.KindDate, nil
	case "TIME":
		return types.KindTime, nil
	case "DATETIME", "TIMESTAMP":
		return types.KindDateTime, nil
	default:
		return types.KindNull, p.errf("unknown column type %q", kw)
	}
}

func (p *Parser) parseCreateIndex(unique bool) (ast.Statement, error) {
	p.advance()
	name := p.identLike()
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table := p.identLike()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c := p.identLike()
		if c == "" {
			return nil, p.errf("expected column name")
		}
		cols = append(cols, c)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	kind := ast.IndexBTree
	if p.isKeyword("USING") {
		p.advance()
		switch {
		case p.isKeyword("BTREE"):
			p.advance()
			kind = ast.IndexBTree
		case p.isKeyword("HASH"):
			p.advance()
			kind = ast.IndexHash
		case p.isKeyword("FULLTEXT"):
			p.advance()
			kind = ast.IndexFullText
		default:
			return nil, p.errf("expected BTREE, HASH, or FULLTEXT after USING")
		}
	}
	return &ast.CreateIndexStatement{Name: name, Table: table, Columns: cols, Unique: unique, Kind: kind}, nil
}

func (p *Parser) parseCreateDatabase() (ast.Statement, error) {
	p.advance()
	ifNotExists := p.parseIfNotExists()
	name := p.identLike()
	return &ast.CreateDatabaseStatement{Name: name, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseCreateUser() (ast.Statement, error) {
	p.advance()
	name := p.identLike()
	pass, err := p.parseIdentifiedBy()
	if err != nil {
		return nil, err
	}
	return &ast.CreateUserStatement{Name: name, Password: pass}, nil
}

func (p *Parser) parseIdentifiedBy() (string, error) {
	if !p.isKeyword("IDENTIFIED") {
		return "", nil
	}
	p.advance()
	if err := p.expectKeyword("BY"); err != nil {
		return "", err
	}
	if p.cur.Type != lexer.String {
		return "", p.errf("expected a quoted password")
	}
	val := p.cur.Val
	p.advance()
	return val, nil
}

func (p *Parser) parseDrop() (ast.Statement, error) {
	p.advance()
	switch {
	case p.isKeyword("TABLE"):
		p.advance()
		ifExists := p.parseIfExists()
		name := p.identLike()
		return &ast.DropTableStatement{Name: name, IfExists: ifExists}, nil
	case p.isKeyword("INDEX"):
		p.advance()
		name := p.identLike()
		table := ""
		if p.isKeyword("ON") {
			p.advance()
			table = p.identLike()
		}
		return &ast.DropIndexStatement{Name: name, Table: table}, nil
	case p.isKeyword("DATABASE"):
		p.advance()
		ifExists := p.parseIfExists()
		name := p.identLike()
		return &ast.DropDatabaseStatement{Name: name, IfExists: ifExists}, nil
	case p.isKeyword("USER"):
		p.advance()
		name := p.identLike()
		return &ast.DropUserStatement{Name: name}, nil
	default:
		return nil, p.errf("expected TABLE, INDEX, DATABASE, or USER after DROP")
	}
}

func (p *Parser) parseAlter() (ast.Statement, error) {
	p.advance()
	switch {
	case p.isKeyword("TABLE"):
		p.advance()
		table := p.identLike()
		if err := p.expectKeyword("ADD"); err != nil {
			return nil, err
		}
		if p.isKeyword("COLUMN") {
			p.advance()
		}
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		return &ast.AlterTableStatement{Table: table, AddColumn: &col}, nil
	case p.isKeyword("USER"):
		p.advance()
		name := p.identLike()
		pass, err := p.parseIdentifiedBy()
		if err != nil {
			return nil, err
		}
		return &ast.AlterUserStatement{Name: name, Password: pass}, nil
	default:
		return nil, p.errf("expected TABLE or USER after ALTER")
	}
}

func (p *Parser) parseUse() (ast.Statement, error) {
	p.advance()
	if p.isKeyword("DATABASE") {
		p.advance()
	}
	return &ast.UseDatabaseStatement{Name: p.identLike()}, nil
}

func (p *Parser) parseShow() (ast.Statement, error) {
	p.advance()
	switch {
	case p.isKeyword("TABLES"):
		p.advance()
		return &ast.ShowTablesStatement{}, nil
	case p.isKeyword("INDEXES"):
		p.advance()
		table := ""
		if p.isKeyword("FROM") {
			p.advance()
			table = p.identLike()
		}
		return &ast.ShowIndexesStatement{Table: table}, nil
	case p.isKeyword("DATABASES"):
		p.advance()
		return &ast.ShowDatabasesStatement{}, nil
	default:
		return nil, p.errf("expected TABLES, INDEXES, or DATABASES after SHOW")
	}
}

func (p *Parser) parsePrivilegeList() []ast.Privilege {
	var privs []ast.Privilege
	for {
		name := ""
		if p.isKeyword("ALL") {
			p.advance()
			if p.isKeyword("PRIVILEGES") {
				p.advance()
			}
			name = "ALL"
		} else {
			name = strings.ToUpper(p.identLike())
		}
		privs = append(privs, ast.Privilege{Name: name})
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return privs
}

func (p *Parser) parseDBDotTable() (string, string) {
	first := p.identLike()
	if p.isSymbol(".") {
		p.advance()
		if p.isSymbol("*") {
			p.advance()
			return first, "*"
		}
		return first, p.identLike()
	}
	return "", first
}

func (p *Parser) parseGrant() (ast.Statement, error) {
	p.advance()
	privs := p.parsePrivilegeList()
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	db, table := p.parseDBDotTable()
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	user := p.identLike()
	withGrant := false
	if p.isKeyword("WITH") {
		p.advance()
		if err := p.expectKeyword("GRANT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("OPTION"); err != nil {
			return nil, err
		}
		withGrant = true
	}
	return &ast.GrantStatement{Privileges: privs, Database: db, Table: table, User: user, WithGrant: withGrant}, nil
}

func (p *Parser) parseRevoke() (ast.Statement, error) {
	p.advance()
	privs := p.parsePrivilegeList()
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	db, table := p.parseDBDotTable()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	user := p.identLike()
	return &ast.RevokeStatement{Privileges: privs, Database: db, Table: table, User: user}, nil
}

// ---- DML ----

func (p *Parser) parseInsert() (ast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table := p.identLike()
	var cols []string
	if p.isSymbol("(") {
		p.advance()
		for {
			c := p.identLike()
			if c == "" {
				return nil, p.errf("expected column name")
			}
			cols = append(cols, c)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if p.isKeyword("SELECT") {
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &ast.InsertStatement{Table: table, Cols: cols, Select: sel}, nil
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	var rows [][]ast.Expr
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []ast.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return &ast.InsertStatement{Table: table, Cols: cols, Rows: rows}, nil
}

func (p *Parser) parseUpdate() (ast.Statement, error) {
	p.advance()
	table := p.identLike()
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var cols []string
	var vals []ast.Expr
	for {
		col := p.identLike()
		if col == "" {
			return nil, p.errf("expected column name")
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		vals = append(vals, val)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	var where ast.Expr
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &ast.UpdateStatement{Table: table, Cols: cols, Vals: vals, Where: where}, nil
}

func (p *Parser) parseDelete() (ast.Statement, error) {
	p.advance()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table := p.identLike()
	var where ast.Expr
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &ast.DeleteStatement{Table: table, Where: where}, nil
}

// ---- SELECT ----

func (p *Parser) parseSelect() (*ast.SelectStatement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &ast.SelectStatement{}
	if p.isKeyword("DISTINCT") {
		p.advance()
		sel.Distinct = true
	}
	if err := p.parseProjections(sel); err != nil {
		return nil, err
	}
	if p.isKeyword("FROM") {
		p.advance()
		if err := p.parseFrom(sel); err != nil {
			return nil, err
		}
		for p.isKeyword("JOIN") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") || p.isKeyword("INNER") {
			if err := p.parseJoin(sel); err != nil {
				return nil, err
			}
		}
	}
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}
	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("HAVING") {
		p.advance()
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = h
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isKeyword("ASC") {
				p.advance()
			} else if p.isKeyword("DESC") {
				p.advance()
				desc = true
			}
			sel.OrderBy = append(sel.OrderBy, ast.OrderItem{Expr: e, Desc: desc})
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Limit = &n
		if p.isKeyword("OFFSET") {
			p.advance()
			m, err := p.parseIntLiteral()
			if err != nil {
				return nil, err
			}
			sel.Offset = &m
		}
	}
	if p.isKeyword("INTO") {
		p.advance()
		if err := p.expectKeyword("OUTFILE"); err != nil {
			return nil, err
		}
		if p.cur.Type != lexer.String {
			return nil, p.errf("expected a quoted file path")
		}
		path := p.cur.Val
		p.advance()
		format := ast.FormatNone
		if p.isKeyword("FORMAT") {
			p.advance()
			switch {
			case p.isKeyword("CSV"):
				p.advance()
				format = ast.FormatCSV
			case p.isKeyword("JSON"):
				p.advance()
				format = ast.FormatJSON
			case p.isKeyword("XML"):
				p.advance()
				format = ast.FormatXML
			default:
				return nil, p.errf("expected CSV, JSON, or XML after FORMAT")
			}
		}
		sel.Into = &ast.IntoOutfile{Path: path, Format: format}
	}
	return sel, nil
}

func (p *Parser) parseIntLiteral() (int64, error) {
	if p.cur.Type != lexer.Number {
		return 0, p.errf("expected an integer")
	}
	n, err := strconv.ParseInt(p.cur.Val, 10, 64)
	if err != nil {
		return 0, p.errf("invalid integer %q", p.cur.Val)
	}
	p.advance()
	return n, nil
}

func (p *Parser) parseProjections(sel *ast.SelectStatement) error {
	for {
		if p.isSymbol("*") {
			p.advance()
			sel.Projs = append(sel.Projs, ast.SelectItem{Expr: &ast.StarExpr{}})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return err
			}
			alias := ""
			if p.isKeyword("AS") {
				p.advance()
				alias = p.identLike()
			} else if p.cur.Type == lexer.Ident {
				alias = p.identLike()
			}
			sel.Projs = append(sel.Projs, ast.SelectItem{Expr: e, Alias: alias})
		}
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return nil
}

func (p *Parser) parseFrom(sel *ast.SelectStatement) error {
	item, err := p.parseFromItem()
	if err != nil {
		return err
	}
	sel.From = &item
	return nil
}

func (p *Parser) parseFromItem() (ast.FromItem, error) {
	if p.isSymbol("(") {
		p.advance()
		sub, err := p.parseSelect()
		if err != nil {
			return ast.FromItem{}, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return ast.FromItem{}, err
		}
		alias := ""
		if p.isKeyword("AS") {
			p.advance()
			alias = p.identLike()
		} else if p.cur.Type == lexer.Ident {
			alias = p.identLike()
		}
		return ast.FromItem{Subquery: sub, Alias: alias}, nil
	}
	table := p.identLike()
	if table == "" {
		return ast.FromItem{}, p.errf("expected a table name")
	}
	alias := ""
	if p.isKeyword("AS") {
		p.advance()
		alias = p.identLike()
	} else if p.cur.Type == lexer.Ident {
		alias = p.identLike()
	}
	return ast.FromItem{Table: table, Alias: alias}, nil
}

func (p *Parser) parseJoin(sel *ast.SelectStatement) error {
	jt := ast.JoinInner
	switch {
	case p.isKeyword("LEFT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		jt = ast.JoinLeft
	case p.isKeyword("RIGHT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		jt = ast.JoinRight
	case p.isKeyword("INNER"):
		p.advance()
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return err
	}
	right, err := p.parseFromItem()
	if err != nil {
		return err
	}
	var on ast.Expr
	if p.isKeyword("ON") {
		p.advance()
		on, err = p.parseExpr()
		if err != nil {
			return err
		}
	}
	sel.Joins = append(sel.Joins, ast.JoinClause{Type: jt, Right: right, On: on})
	return nil
}

// ---- Expressions: OR < AND < NOT < comparison < additive < multiplicative < unary < primary ----

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (ast.Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.advance()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &ast.BinaryExpr{Op: "OR", Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.advance()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &ast.BinaryExpr{Op: "AND", Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseNot() (ast.Expr, error) {
	if p.isKeyword("NOT") {
		p.advance()
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "NOT", Expr: e}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	l, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	for {
		negate := false
		if p.isKeyword("NOT") {
			negate = true
			p.advance()
		}
		switch {
		case p.cur.Type == lexer.Symbol && isCmpOp(p.cur.Val) && !negate:
			op := p.cur.Val
			p.advance()
			r, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			l = &ast.BinaryExpr{Op: op, Left: l, Right: r}
			continue
		case p.isKeyword("LIKE"):
			p.advance()
			pat, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			var esc ast.Expr
			if p.isKeyword("ESCAPE") {
				p.advance()
				esc, err = p.parseAddSub()
				if err != nil {
					return nil, err
				}
			}
			l = &ast.LikeExpr{Expr: l, Pattern: pat, Escape: esc, Negate: negate}
			continue
		case p.isKeyword("BETWEEN"):
			p.advance()
			lo, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			l = &ast.BetweenExpr{Expr: l, Low: lo, High: hi, Negate: negate}
			continue
		case p.isKeyword("IN"):
			p.advance()
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			if p.isKeyword("SELECT") {
				sub, err := p.parseSelect()
				if err != nil {
					return nil, err
				}
				if err := p.expectSymbol(")"); err != nil {
					return nil, err
				}
				l = &ast.InExpr{Expr: l, Subquery: sub, Negate: negate}
				continue
			}
			var list []ast.Expr
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				list = append(list, e)
				if p.isSymbol(",") {
					p.advance()
					continue
				}
				break
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			l = &ast.InExpr{Expr: l, List: list, Negate: negate}
			continue
		case p.isKeyword("IS"):
			if negate {
				return nil, p.errf("unexpected NOT before IS")
			}
			p.advance()
			neg := false
			if p.isKeyword("NOT") {
				neg = true
				p.advance()
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			l = &ast.IsNullExpr{Expr: l, Negate: neg}
			continue
		default:
			if negate {
				return nil, p.errf("expected LIKE, IN, or BETWEEN after NOT")
			}
		}
		break
	}
	return l, nil
}

func isCmpOp(v string) bool {
	switch v {
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func (p *Parser) parseAddSub() (ast.Expr, error) {
	l, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == lexer.Symbol && (p.cur.Val == "+" || p.cur.Val == "-") {
		op := p.cur.Val
		p.advance()
		r, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		l = &ast.BinaryExpr{Op: op, Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseMulDiv() (ast.Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == lexer.Symbol && (p.cur.Val == "*" || p.cur.Val == "/") {
		op := p.cur.Val
		p.advance()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &ast.BinaryExpr{Op: op, Left: l, Right: r}
	}
	return l, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur.Type == lexer.Symbol && (p.cur.Val == "+" || p.cur.Val == "-") {
		op := p.cur.Val
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: op, Expr: e}, nil
	}
	return p.parsePrimary()
}

var aggregateNames = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	switch p.cur.Type {
	case lexer.Number:
		val := p.cur.Val
		p.advance()
		if !strings.Contains(val, ".") {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				return &ast.Literal{Val: types.NewInt64(n)}, nil
			}
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, p.errf("invalid numeric literal %q", val)
		}
		return &ast.Literal{Val: types.NewFloat64(f)}, nil
	case lexer.String:
		s := p.cur.Val
		p.advance()
		return &ast.Literal{Val: types.NewVarchar(s)}, nil
	case lexer.Keyword:
		switch p.cur.Val {
		case "TRUE":
			p.advance()
			return &ast.Literal{Val: types.NewBool(true)}, nil
		case "FALSE":
			p.advance()
			return &ast.Literal{Val: types.NewBool(false)}, nil
		case "NULL":
			p.advance()
			return &ast.Literal{Val: types.Null}, nil
		case "CASE":
			return p.parseCase()
		case "MATCH":
			return p.parseMatchAgainst()
		case aggregateKey(p.cur.Val):
			return p.parseFuncCall()
		default:
			// Any other keyword used as a function name (e.g. a future
			// scalar builtin) is parsed generically if followed by '(',
			// else treated as a loose identifier per identLike's rule.
			if p.peek.Type == lexer.Symbol && p.peek.Val == "(" {
				return p.parseFuncCall()
			}
			name := p.identLike()
			return &ast.ColumnRef{Name: name}, nil
		}
	case lexer.Ident:
		name := p.cur.Val
		p.advance()
		if p.isSymbol(".") {
			p.advance()
			col := p.identLike()
			return &ast.ColumnRef{Table: name, Name: col}, nil
		}
		if p.isSymbol("(") {
			return p.parseFuncCallNamed(name)
		}
		return &ast.ColumnRef{Name: name}, nil
	case lexer.Symbol:
		if p.cur.Val == "(" {
			p.advance()
			if p.isKeyword("SELECT") {
				sub, err := p.parseSelect()
				if err != nil {
					return nil, err
				}
				if err := p.expectSymbol(")"); err != nil {
					return nil, err
				}
				return &ast.SubqueryExpr{Select: sub}, nil
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, p.errf("unexpected token %q", p.cur.Val)
}

func aggregateKey(v string) string {
	if aggregateNames[v] {
		return v
	}
	return "\x00"
}

func (p *Parser) parseFuncCall() (ast.Expr, error) {
	name := p.cur.Val
	p.advance()
	return p.parseFuncCallNamed(name)
}

func (p *Parser) parseFuncCallNamed(name string) (ast.Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	call := &ast.FuncCallExpr{Name: strings.ToUpper(name)}
	if aggregateNames[call.Name] && call.Name == "COUNT" && p.isSymbol("*") {
		p.advance()
		call.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
	if aggregateNames[call.Name] && p.isKeyword("DISTINCT") {
		p.advance()
		call.Distinct = true
	}
	if !p.isSymbol(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, e)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseCase() (ast.Expr, error) {
	p.advance()
	ce := &ast.CaseExpr{}
	if !p.isKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Operand = operand
	}
	for p.isKeyword("WHEN") {
		p.advance()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, ast.WhenClause{When: when, Then: then})
	}
	if p.isKeyword("ELSE") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *Parser) parseMatchAgainst() (ast.Expr, error) {
	p.advance()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c := p.identLike()
		if c == "" {
			return nil, p.errf("expected column name")
		}
		cols = append(cols, c)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AGAINST"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	query, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	boolMode := false
	if p.isKeyword("IN") {
		p.advance()
		if err := p.expectKeyword("BOOLEAN"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("MODE"); err != nil {
			return nil, err
		}
		boolMode = true
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &ast.MatchAgainstExpr{Columns: cols, Query: query, BooleanMode: boolMode}, nil
}
