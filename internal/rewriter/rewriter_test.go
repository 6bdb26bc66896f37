package rewriter

import (
	"testing"

	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/types"
)

func col(name string) *ast.ColumnRef { return &ast.ColumnRef{Name: name} }
func qcol(table, name string) *ast.ColumnRef { return &ast.ColumnRef{Table: table, Name: name} }
func lit(v types.Value) *ast.Literal { return &ast.Literal{Val: v} }

func TestConstantFoldingReplacesPureLiteralSubexpression(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: &ast.BinaryExpr{Op: "+", Left: lit(types.NewInt64(2)), Right: lit(types.NewInt64(3))}}},
	}
	res := Rewrite(sel, Options{ConstantFolding: true})
	got, ok := res.Statement.Projs[0].Expr.(*ast.Literal)
	if !ok || got.Val.AsInt64() != 5 {
		t.Fatalf("got %+v", res.Statement.Projs[0].Expr)
	}
	if res.Stats.ConstantFolds != 1 {
		t.Fatalf("ConstantFolds = %d, want 1", res.Stats.ConstantFolds)
	}
}

func TestConstantFoldingLeavesColumnExpressionAlone(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: &ast.BinaryExpr{Op: "+", Left: col("x"), Right: lit(types.NewInt64(3))}}},
	}
	res := Rewrite(sel, Options{ConstantFolding: true})
	if _, ok := res.Statement.Projs[0].Expr.(*ast.Literal); ok {
		t.Fatal("expected the column-containing expression to survive unfolded")
	}
	if res.Stats.ConstantFolds != 0 {
		t.Fatalf("ConstantFolds = %d, want 0", res.Stats.ConstantFolds)
	}
}

func TestConstantFoldingLeavesFailedEvaluationUnchanged(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: &ast.BinaryExpr{Op: "/", Left: lit(types.NewInt64(1)), Right: lit(types.NewInt64(0))}}},
	}
	res := Rewrite(sel, Options{ConstantFolding: true})
	if _, ok := res.Statement.Projs[0].Expr.(*ast.BinaryExpr); !ok {
		t.Fatalf("expected the division-by-zero subtree to survive unfolded, got %T", res.Statement.Projs[0].Expr)
	}
}

func TestRewriteDoesNotMutateOriginal(t *testing.T) {
	orig := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: &ast.BinaryExpr{Op: "+", Left: lit(types.NewInt64(2)), Right: lit(types.NewInt64(3))}}},
	}
	_ = Rewrite(orig, Options{ConstantFolding: true})
	if _, ok := orig.Projs[0].Expr.(*ast.BinaryExpr); !ok {
		t.Fatal("Rewrite must not mutate the statement passed in")
	}
}

func TestPredicatePushdownSingleTable(t *testing.T) {
	sel := &ast.SelectStatement{
		From: &ast.FromItem{Table: "t"},
		Where: &ast.BinaryExpr{
			Op:   "AND",
			Left: &ast.BinaryExpr{Op: "=", Left: col("id"), Right: lit(types.NewInt64(1))},
			Right: &ast.BinaryExpr{Op: "=", Left: col("name"), Right: lit(types.NewVarchar("a"))},
		},
	}
	res := Rewrite(sel, Options{PredicatePushdown: true})
	if len(res.PushedPredicates["t"]) != 2 {
		t.Fatalf("PushedPredicates[t] = %+v", res.PushedPredicates["t"])
	}
	if res.Stats.PushedPredicates != 2 {
		t.Fatalf("Stats.PushedPredicates = %d, want 2", res.Stats.PushedPredicates)
	}
}

func TestPredicatePushdownSkipsCrossTableConjunct(t *testing.T) {
	sel := &ast.SelectStatement{
		From:  &ast.FromItem{Table: "a"},
		Joins: []ast.JoinClause{{Right: ast.FromItem{Table: "b"}}},
		Where: &ast.BinaryExpr{Op: "=", Left: qcol("a", "id"), Right: qcol("b", "a_id")},
	}
	res := Rewrite(sel, Options{PredicatePushdown: true})
	if len(res.PushedPredicates) != 0 {
		t.Fatalf("PushedPredicates = %+v, want empty", res.PushedPredicates)
	}
}

func TestColumnPruningCollectsUsedColumns(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: col("id")}, {Expr: col("name")}},
		Where: &ast.BinaryExpr{Op: "=", Left: col("age"), Right: lit(types.NewInt64(1))},
	}
	res := Rewrite(sel, Options{ColumnPruning: true})
	for _, want := range []string{"id", "name", "age"} {
		if !res.UsedColumns[want] {
			t.Fatalf("UsedColumns missing %q: %+v", want, res.UsedColumns)
		}
	}
}

func TestColumnPruningDisabledBySelectStar(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: &ast.StarExpr{}}},
	}
	res := Rewrite(sel, Options{ColumnPruning: true})
	if res.UsedColumns != nil {
		t.Fatalf("UsedColumns = %+v, want nil (pruning disabled by *)", res.UsedColumns)
	}
}

func TestSubqueryUnnestingConvertsSimpleIn(t *testing.T) {
	sel := &ast.SelectStatement{
		From: &ast.FromItem{Table: "orders"},
		Where: &ast.InExpr{
			Expr: qcol("orders", "customer_id"),
			Subquery: &ast.SelectStatement{
				Projs: []ast.SelectItem{{Expr: col("id")}},
				From:  &ast.FromItem{Table: "customers"},
			},
		},
	}
	res := Rewrite(sel, Options{SubqueryUnnesting: true})
	if len(res.Statement.Joins) != 1 {
		t.Fatalf("Joins = %+v, want 1", res.Statement.Joins)
	}
	if res.Statement.Joins[0].Right.Table != "customers" {
		t.Fatalf("Joins[0].Right = %+v", res.Statement.Joins[0].Right)
	}
	if _, ok := res.Statement.Where.(*ast.InExpr); ok {
		t.Fatal("expected the IN subquery predicate to be replaced")
	}
	if res.Stats.SubqueriesUnnested != 1 {
		t.Fatalf("SubqueriesUnnested = %d, want 1", res.Stats.SubqueriesUnnested)
	}
}

func TestSubqueryUnnestingSkipsAggregateSubquery(t *testing.T) {
	sel := &ast.SelectStatement{
		From: &ast.FromItem{Table: "orders"},
		Where: &ast.InExpr{
			Expr: qcol("orders", "customer_id"),
			Subquery: &ast.SelectStatement{
				Projs: []ast.SelectItem{{Expr: &ast.FuncCallExpr{Name: "COUNT", Star: true}}},
				From:  &ast.FromItem{Table: "customers"},
			},
		},
	}
	res := Rewrite(sel, Options{SubqueryUnnesting: true})
	if len(res.Statement.Joins) != 0 {
		t.Fatalf("Joins = %+v, want none (aggregate subquery must not unnest)", res.Statement.Joins)
	}
}

func TestAllEnabledRunsEveryPass(t *testing.T) {
	sel := &ast.SelectStatement{
		Projs: []ast.SelectItem{{Expr: col("id")}},
		From:  &ast.FromItem{Table: "t"},
		Where: &ast.BinaryExpr{Op: "=", Left: col("id"), Right: &ast.BinaryExpr{Op: "+", Left: lit(types.NewInt64(1)), Right: lit(types.NewInt64(1))}},
	}
	res := Rewrite(sel, AllEnabled())
	if res.Stats.ConstantFolds == 0 {
		t.Fatal("expected constant folding to fire")
	}
	if res.UsedColumns == nil {
		t.Fatal("expected column pruning to run")
	}
}
