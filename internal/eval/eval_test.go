package eval

import (
	"testing"

	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/types"
)

func lit(v types.Value) ast.Expr { return &ast.Literal{Val: v} }

func evalExpr(t *testing.T, e ast.Expr, row Row) types.Value {
	t.Helper()
	v, err := New(nil).Eval(e, row)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return v
}

func TestArithmeticIntegerStaysInteger(t *testing.T) {
	v := evalExpr(t, &ast.BinaryExpr{Op: "+", Left: lit(types.NewInt64(2)), Right: lit(types.NewInt64(3))}, nil)
	if v.Kind != types.KindInt64 || v.I != 5 {
		t.Fatalf("got %+v", v)
	}
}

func TestArithmeticMixedBecomesFloat(t *testing.T) {
	v := evalExpr(t, &ast.BinaryExpr{Op: "+", Left: lit(types.NewInt64(2)), Right: lit(types.NewFloat64(0.5))}, nil)
	if v.Kind != types.KindFloat64 || v.F != 2.5 {
		t.Fatalf("got %+v", v)
	}
}

func TestDivisionByZeroFails(t *testing.T) {
	_, err := New(nil).Eval(&ast.BinaryExpr{Op: "/", Left: lit(types.NewInt64(1)), Right: lit(types.NewInt64(0))}, nil)
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestArithmeticWithNullPropagates(t *testing.T) {
	v := evalExpr(t, &ast.BinaryExpr{Op: "+", Left: lit(types.Null), Right: lit(types.NewInt64(1))}, nil)
	if !v.IsNull() {
		t.Fatalf("got %+v, want NULL", v)
	}
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	// The right side references a missing column; AND must not evaluate
	// it once the left side is FALSE.
	expr := &ast.BinaryExpr{
		Op:   "AND",
		Left: lit(types.NewBool(false)),
		Right: &ast.ColumnRef{Name: "does_not_exist"},
	}
	v := evalExpr(t, expr, nil)
	if v.Kind != types.KindBoolean || v.Bool() {
		t.Fatalf("got %+v, want FALSE", v)
	}
}

func TestOrShortCircuitsOnTrue(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op:    "OR",
		Left:  lit(types.NewBool(true)),
		Right: &ast.ColumnRef{Name: "does_not_exist"},
	}
	v := evalExpr(t, expr, nil)
	if v.Kind != types.KindBoolean || !v.Bool() {
		t.Fatalf("got %+v, want TRUE", v)
	}
}

func TestAndWithNullIsUnknownUnlessForcedFalse(t *testing.T) {
	v := evalExpr(t, &ast.BinaryExpr{Op: "AND", Left: lit(types.Null), Right: lit(types.NewBool(true))}, nil)
	if !v.IsNull() {
		t.Fatalf("NULL AND TRUE = %+v, want NULL", v)
	}
	v = evalExpr(t, &ast.BinaryExpr{Op: "AND", Left: lit(types.Null), Right: lit(types.NewBool(false))}, nil)
	if v.Kind != types.KindBoolean || v.Bool() {
		t.Fatalf("NULL AND FALSE = %+v, want FALSE", v)
	}
}

func TestComparisonStringLexicographic(t *testing.T) {
	v := evalExpr(t, &ast.BinaryExpr{Op: "<", Left: lit(types.NewVarchar("apple")), Right: lit(types.NewVarchar("banana"))}, nil)
	if !v.Bool() {
		t.Fatal("expected 'apple' < 'banana'")
	}
}

func TestComparisonIncompatibleTypesFails(t *testing.T) {
	_, err := New(nil).Eval(&ast.BinaryExpr{Op: "=", Left: lit(types.NewInt64(1)), Right: lit(types.NewBlob([]byte("x")))}, nil)
	if err == nil {
		t.Fatal("expected an error comparing int to blob")
	}
}

func TestIsNullAndIsNotNull(t *testing.T) {
	v := evalExpr(t, &ast.IsNullExpr{Expr: lit(types.Null)}, nil)
	if !v.Bool() {
		t.Fatal("NULL IS NULL should be true")
	}
	v = evalExpr(t, &ast.IsNullExpr{Expr: lit(types.NewInt64(1)), Negate: true}, nil)
	if !v.Bool() {
		t.Fatal("1 IS NOT NULL should be true")
	}
}

func TestLikePattern(t *testing.T) {
	v := evalExpr(t, &ast.LikeExpr{Expr: lit(types.NewVarchar("hello world")), Pattern: lit(types.NewVarchar("hello%"))}, nil)
	if !v.Bool() {
		t.Fatal("expected LIKE match")
	}
	v = evalExpr(t, &ast.LikeExpr{Expr: lit(types.NewVarchar("hello")), Pattern: lit(types.NewVarchar("h_llo"))}, nil)
	if !v.Bool() {
		t.Fatal("expected '_' wildcard match")
	}
}

func TestBetween(t *testing.T) {
	v := evalExpr(t, &ast.BetweenExpr{Expr: lit(types.NewInt64(5)), Low: lit(types.NewInt64(1)), High: lit(types.NewInt64(10))}, nil)
	if !v.Bool() {
		t.Fatal("expected 5 BETWEEN 1 AND 10")
	}
}

func TestInListMatch(t *testing.T) {
	expr := &ast.InExpr{Expr: lit(types.NewInt64(2)), List: []ast.Expr{lit(types.NewInt64(1)), lit(types.NewInt64(2))}}
	v := evalExpr(t, expr, nil)
	if !v.Bool() {
		t.Fatal("expected 2 IN (1, 2)")
	}
}

func TestInListNoMatchWithNullIsUnknown(t *testing.T) {
	expr := &ast.InExpr{Expr: lit(types.NewInt64(3)), List: []ast.Expr{lit(types.NewInt64(1)), lit(types.Null)}}
	v := evalExpr(t, expr, nil)
	if !v.IsNull() {
		t.Fatalf("got %+v, want NULL", v)
	}
}

func TestCaseSimpleForm(t *testing.T) {
	expr := &ast.CaseExpr{
		Operand: lit(types.NewInt64(2)),
		Whens: []ast.WhenClause{
			{When: lit(types.NewInt64(1)), Then: lit(types.NewVarchar("one"))},
			{When: lit(types.NewInt64(2)), Then: lit(types.NewVarchar("two"))},
		},
		Else: lit(types.NewVarchar("other")),
	}
	v := evalExpr(t, expr, nil)
	if v.S != "two" {
		t.Fatalf("got %q", v.S)
	}
}

func TestCaseSearchedFormFallsThroughToElse(t *testing.T) {
	expr := &ast.CaseExpr{
		Whens: []ast.WhenClause{
			{When: lit(types.NewBool(false)), Then: lit(types.NewVarchar("no"))},
		},
		Else: lit(types.NewVarchar("yes")),
	}
	v := evalExpr(t, expr, nil)
	if v.S != "yes" {
		t.Fatalf("got %q", v.S)
	}
}

func TestColumnRefLookup(t *testing.T) {
	row := Row{"name": types.NewVarchar("ada")}
	v := evalExpr(t, &ast.ColumnRef{Name: "name"}, row)
	if v.S != "ada" {
		t.Fatalf("got %q", v.S)
	}
}

func TestColumnRefQualified(t *testing.T) {
	row := Row{"t.name": types.NewVarchar("ada")}
	v := evalExpr(t, &ast.ColumnRef{Table: "t", Name: "name"}, row)
	if v.S != "ada" {
		t.Fatalf("got %q", v.S)
	}
}

func TestFuncCallCoalesceAndUpper(t *testing.T) {
	v := evalExpr(t, &ast.FuncCallExpr{Name: "COALESCE", Args: []ast.Expr{lit(types.Null), lit(types.NewVarchar("x"))}}, nil)
	if v.S != "x" {
		t.Fatalf("got %q", v.S)
	}
	v = evalExpr(t, &ast.FuncCallExpr{Name: "UPPER", Args: []ast.Expr{lit(types.NewVarchar("ab"))}}, nil)
	if v.S != "AB" {
		t.Fatalf("got %q", v.S)
	}
}

func TestUnaryNegation(t *testing.T) {
	v := evalExpr(t, &ast.UnaryExpr{Op: "-", Expr: lit(types.NewInt64(5))}, nil)
	if v.I != -5 {
		t.Fatalf("got %+v", v)
	}
}

func TestAggregateOutsideContextFails(t *testing.T) {
	_, err := New(nil).Eval(&ast.FuncCallExpr{Name: "COUNT", Star: true}, nil)
	if err == nil {
		t.Fatal("expected an error evaluating COUNT outside an aggregate context")
	}
}
