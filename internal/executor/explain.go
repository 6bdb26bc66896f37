package executor

import (
	"fmt"
	"strings"

	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/types"
)

// execExplain describes a SELECT without running it: one row per node,
// in the fixed order FROM/JOIN, WHERE, GROUP BY/HAVING, ORDER BY, LIMIT,
// Project. The scan node is labeled IndexScan when the WHERE has an
// equality on the first column of one of the table's indexes, SeqScan
// otherwise; the label names a usable index only, since execSelect
// itself always scans the heap chain.
func (e *Engine) execExplain(sess Session, s *ast.ExplainStatement) (*Result, error) {
	sel := s.Stmt
	var rows [][]types.Value
	id := 1
	add := func(op, detail string) {
		rows = append(rows, []types.Value{types.NewInt64(int64(id)), types.NewVarchar(op), types.NewVarchar(detail)})
		id++
	}

	if sel.From == nil {
		add("Result", "no FROM clause")
	} else {
		add(e.accessPathLabel(*sel.From, sel.Where), describeFromItem(*sel.From))
		for _, j := range sel.Joins {
			add(joinOpName(j.Type), describeFromItem(j.Right))
		}
	}
	if sel.Where != nil {
		add("Filter", exprText(sel.Where))
	}
	if len(sel.GroupBy) > 0 {
		add("HashAggregate", fmt.Sprintf("group by %s", exprListText(sel.GroupBy)))
	} else {
		for _, p := range sel.Projs {
			if containsAggregate(p.Expr) {
				add("HashAggregate", "ungrouped aggregate")
				break
			}
		}
	}
	if sel.Having != nil {
		add("Filter", fmt.Sprintf("having %s", exprText(sel.Having)))
	}
	if sel.OrderBy != nil {
		add("Sort", orderByText(sel.OrderBy))
	}
	if sel.Limit != nil || sel.Offset != nil {
		add("Limit", limitText(sel.Limit, sel.Offset))
	}
	add("Project", projText(sel.Projs))

	return &Result{Columns: []string{"id", "operation", "detail"}, Rows: rows}, nil
}

func (e *Engine) accessPathLabel(item ast.FromItem, where ast.Expr) string {
	if item.Subquery != nil {
		return "SubqueryScan " + describeFromItem(item)
	}
	def, found, err := e.Cat.GetTable(item.Table)
	if err != nil || !found {
		return "SeqScan " + describeFromItem(item)
	}
	col, ok := equalityColumn(where)
	if ok {
		for _, idx := range def.Indexes {
			if len(idx.Columns) > 0 && strings.EqualFold(idx.Columns[0], col) {
				return "IndexScan " + describeFromItem(item) + " using " + idx.Name
			}
		}
	}
	return "SeqScan " + describeFromItem(item)
}

// equalityColumn reports the left-hand column of a top-level `col = expr`
// conjunct in where, if any.
func equalityColumn(where ast.Expr) (string, bool) {
	if where == nil {
		return "", false
	}
	be, ok := where.(*ast.BinaryExpr)
	if !ok {
		return "", false
	}
	if strings.EqualFold(be.Op, "AND") {
		if col, ok := equalityColumn(be.Left); ok {
			return col, true
		}
		return equalityColumn(be.Right)
	}
	if be.Op == "=" {
		if cr, ok := be.Left.(*ast.ColumnRef); ok {
			return cr.Name, true
		}
	}
	return "", false
}

func joinOpName(t ast.JoinType) string {
	switch t {
	case ast.JoinLeft:
		return "NestedLoopJoin(LEFT)"
	case ast.JoinRight:
		return "NestedLoopJoin(RIGHT)"
	default:
		return "NestedLoopJoin(INNER)"
	}
}

func describeFromItem(item ast.FromItem) string {
	name := item.Table
	if item.Subquery != nil {
		name = "(subquery)"
	}
	if item.Alias != "" {
		return fmt.Sprintf("%s AS %s", name, item.Alias)
	}
	return name
}

func exprText(e ast.Expr) string {
	if e == nil {
		return ""
	}
	switch v := e.(type) {
	case *ast.ColumnRef:
		if v.Table != "" {
			return v.Table + "." + v.Name
		}
		return v.Name
	case *ast.Literal:
		return v.Val.String()
	case *ast.BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", exprText(v.Left), v.Op, exprText(v.Right))
	case *ast.UnaryExpr:
		return fmt.Sprintf("(%s %s)", v.Op, exprText(v.Expr))
	case *ast.FuncCallExpr:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = exprText(a)
		}
		star := ""
		if v.Star {
			star = "*"
		}
		return fmt.Sprintf("%s(%s%s)", v.Name, star, strings.Join(args, ", "))
	default:
		return fmt.Sprintf("%T", e)
	}
}

func exprListText(exprs []ast.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = exprText(e)
	}
	return strings.Join(parts, ", ")
}

func orderByText(items []ast.OrderItem) string {
	parts := make([]string, len(items))
	for i, o := range items {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts[i] = exprText(o.Expr) + " " + dir
	}
	return strings.Join(parts, ", ")
}

func limitText(limit, offset *int64) string {
	var b strings.Builder
	if limit != nil {
		fmt.Fprintf(&b, "limit %d", *limit)
	}
	if offset != nil {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "offset %d", *offset)
	}
	return b.String()
}

func projText(projs []ast.SelectItem) string {
	parts := make([]string, len(projs))
	for i, p := range projs {
		if _, ok := p.Expr.(*ast.StarExpr); ok {
			parts[i] = "*"
			continue
		}
		t := exprText(p.Expr)
		if p.Alias != "" {
			t += " AS " + p.Alias
		}
		parts[i] = t
	}
	return strings.Join(parts, ", ")
}
