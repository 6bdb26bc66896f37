package rewriter

import "github.com/qindb/qindb/internal/sql/ast"

// cloneSelect deep-clones a SelectStatement so every rewrite pass starts
// from an independent copy — the caller's original AST, and any other
// holder of a reference to it (e.g. a cached query plan), is never
// mutated by rewriting.
func cloneSelect(sel *ast.SelectStatement) *ast.SelectStatement {
	if sel == nil {
		return nil
	}
	out := &ast.SelectStatement{
		Distinct: sel.Distinct,
		Where:    cloneExpr(sel.Where),
		Having:   cloneExpr(sel.Having),
	}
	for _, p := range sel.Projs {
		out.Projs = append(out.Projs, ast.SelectItem{Expr: cloneExpr(p.Expr), Alias: p.Alias})
	}
	if sel.From != nil {
		f := cloneFromItem(*sel.From)
		out.From = &f
	}
	for _, j := range sel.Joins {
		out.Joins = append(out.Joins, ast.JoinClause{Type: j.Type, Right: cloneFromItem(j.Right), On: cloneExpr(j.On)})
	}
	for _, g := range sel.GroupBy {
		out.GroupBy = append(out.GroupBy, cloneExpr(g))
	}
	for _, o := range sel.OrderBy {
		out.OrderBy = append(out.OrderBy, ast.OrderItem{Expr: cloneExpr(o.Expr), Desc: o.Desc})
	}
	if sel.Limit != nil {
		v := *sel.Limit
		out.Limit = &v
	}
	if sel.Offset != nil {
		v := *sel.Offset
		out.Offset = &v
	}
	if sel.Into != nil {
		into := *sel.Into
		out.Into = &into
	}
	return out
}

func cloneFromItem(f ast.FromItem) ast.FromItem {
	return ast.FromItem{Table: f.Table, Alias: f.Alias, Subquery: cloneSelect(f.Subquery)}
}

func cloneExpr(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	switch ex := e.(type) {
	case *ast.Literal:
		v := *ex
		return &v
	case *ast.ColumnRef:
		v := *ex
		return &v
	case *ast.StarExpr:
		v := *ex
		return &v
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: ex.Op, Expr: cloneExpr(ex.Expr)}
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: ex.Op, Left: cloneExpr(ex.Left), Right: cloneExpr(ex.Right)}
	case *ast.IsNullExpr:
		return &ast.IsNullExpr{Expr: cloneExpr(ex.Expr), Negate: ex.Negate}
	case *ast.LikeExpr:
		return &ast.LikeExpr{Expr: cloneExpr(ex.Expr), Pattern: cloneExpr(ex.Pattern), Escape: cloneExpr(ex.Escape), Negate: ex.Negate}
	case *ast.BetweenExpr:
		return &ast.BetweenExpr{Expr: cloneExpr(ex.Expr), Low: cloneExpr(ex.Low), High: cloneExpr(ex.High), Negate: ex.Negate}
	case *ast.InExpr:
		out := &ast.InExpr{Expr: cloneExpr(ex.Expr), Subquery: cloneSelect(ex.Subquery), Negate: ex.Negate}
		for _, item := range ex.List {
			out.List = append(out.List, cloneExpr(item))
		}
		return out
	case *ast.CaseExpr:
		out := &ast.CaseExpr{Operand: cloneExpr(ex.Operand), Else: cloneExpr(ex.Else)}
		for _, w := range ex.Whens {
			out.Whens = append(out.Whens, ast.WhenClause{When: cloneExpr(w.When), Then: cloneExpr(w.Then)})
		}
		return out
	case *ast.FuncCallExpr:
		out := &ast.FuncCallExpr{Name: ex.Name, Star: ex.Star, Distinct: ex.Distinct}
		for _, a := range ex.Args {
			out.Args = append(out.Args, cloneExpr(a))
		}
		return out
	case *ast.MatchAgainstExpr:
		cols := append([]string(nil), ex.Columns...)
		return &ast.MatchAgainstExpr{Columns: cols, Query: cloneExpr(ex.Query), BooleanMode: ex.BooleanMode}
	case *ast.SubqueryExpr:
		return &ast.SubqueryExpr{Select: cloneSelect(ex.Select)}
	default:
		return e
	}
}
