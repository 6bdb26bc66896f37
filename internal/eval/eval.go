// Package eval implements the pure expression evaluator: it reduces an
// internal/sql/ast.Expr tree to an internal/types.Value against an
// optional row context, with SQL three-valued logic.
//
// Grounded on tinySQL's engine.evalExpr/evalBinary/evalComparisonBinary
// family (the same per-node-type dispatch, the same AND/OR short-circuit
// shape, the same "numeric() helper feeds arithmetic and comparison"
// structure), retyped from the teacher's bare `any` onto
// internal/types.Value so NULL and type errors are explicit instead of
// inferred from a Go nil/type-switch.
package eval

import (
	"strings"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/types"
)

// Row maps a lowercased column name (optionally "table.column") to its value.
type Row map[string]types.Value

// SubqueryRunner executes a SELECT that appears nested inside an
// expression (scalar subquery, IN (SELECT ...)). Evaluator depends only
// on this narrow interface so it never imports internal/executor.
type SubqueryRunner interface {
	RunScalarSubquery(sel *ast.SelectStatement, outer Row) (types.Value, error)
	RunListSubquery(sel *ast.SelectStatement, outer Row) ([]types.Value, error)
}

// Evaluator reduces expression trees to values. It carries no mutable
// state of its own — Eval is safe to call concurrently from multiple
// goroutines evaluating different rows.
type Evaluator struct {
	Sub SubqueryRunner // nil if subqueries are not supported by the caller
}

// New creates an Evaluator. sub may be nil if the caller never evaluates
// expressions containing a subquery.
func New(sub SubqueryRunner) *Evaluator {
	return &Evaluator{Sub: sub}
}

// Eval reduces expr to a Value given row (nil for a row-less context,
// e.g. constant folding).
func (e *Evaluator) Eval(expr ast.Expr, row Row) (types.Value, error) {
	switch ex := expr.(type) {
	case *ast.Literal:
		return ex.Val, nil
	case *ast.ColumnRef:
		return e.evalColumnRef(ex, row)
	case *ast.UnaryExpr:
		return e.evalUnary(ex, row)
	case *ast.BinaryExpr:
		return e.evalBinary(ex, row)
	case *ast.IsNullExpr:
		return e.evalIsNull(ex, row)
	case *ast.LikeExpr:
		return e.evalLike(ex, row)
	case *ast.BetweenExpr:
		return e.evalBetween(ex, row)
	case *ast.InExpr:
		return e.evalIn(ex, row)
	case *ast.CaseExpr:
		return e.evalCase(ex, row)
	case *ast.SubqueryExpr:
		return e.evalSubquery(ex, row)
	case *ast.FuncCallExpr:
		return e.evalFuncCall(ex, row)
	case *ast.MatchAgainstExpr:
		return e.evalMatchAgainst(ex, row)
	case *ast.StarExpr:
		return types.Null, dberr.New(dberr.SemanticError, "* cannot be evaluated as a scalar expression")
	default:
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown expression node %T", expr)
	}
}

func (e *Evaluator) evalColumnRef(ex *ast.ColumnRef, row Row) (types.Value, error) {
	if row == nil {
		return types.Null, dberr.Newf(dberr.SemanticError, "no row context for column %q", ex.Name)
	}
	key := strings.ToLower(ex.Name)
	if ex.Table != "" {
		if v, ok := row[strings.ToLower(ex.Table)+"."+key]; ok {
			return v, nil
		}
	}
	if v, ok := row[key]; ok {
		return v, nil
	}
	return types.Null, dberr.Newf(dberr.SemanticError, "unknown column %q", ex.Name)
}

// ---- three-valued logic helpers ----
//
// A tri value is one of trTrue/trFalse/trUnknown, the SQL truth table's
// third state. It is kept distinct from types.KindBoolean+NULL so the
// AND/OR/NOT tables below can be plain switches instead of nil checks
// scattered through the evaluator.
type tri int

const (
	trUnknown tri = iota
	trTrue
	trFalse
)

func toTri(v types.Value) tri {
	if v.IsNull() {
		return trUnknown
	}
	if v.Kind == types.KindBoolean {
		if v.Bool() {
			return trTrue
		}
		return trFalse
	}
	return trUnknown
}

func (t tri) value() types.Value {
	switch t {
	case trTrue:
		return types.NewBool(true)
	case trFalse:
		return types.NewBool(false)
	default:
		return types.Null
	}
}

func triAnd(a, b tri) tri {
	if a == trFalse || b == trFalse {
		return trFalse
	}
	if a == trTrue && b == trTrue {
		return trTrue
	}
	return trUnknown
}

func triOr(a, b tri) tri {
	if a == trTrue || b == trTrue {
		return trTrue
	}
	if a == trFalse && b == trFalse {
		return trFalse
	}
	return trUnknown
}

func triNot(a tri) tri {
	switch a {
	case trTrue:
		return trFalse
	case trFalse:
		return trTrue
	default:
		return trUnknown
	}
}

func (e *Evaluator) evalUnary(ex *ast.UnaryExpr, row Row) (types.Value, error) {
	v, err := e.Eval(ex.Expr, row)
	if err != nil {
		return types.Null, err
	}
	switch ex.Op {
	case "NOT":
		return triNot(toTri(v)).value(), nil
	case "+":
		if v.IsNull() {
			return types.Null, nil
		}
		if !v.IsNumeric() {
			return types.Null, dberr.New(dberr.SemanticError, "unary + requires a numeric operand")
		}
		return v, nil
	case "-":
		if v.IsNull() {
			return types.Null, nil
		}
		if !v.IsNumeric() {
			return types.Null, dberr.New(dberr.SemanticError, "unary - requires a numeric operand")
		}
		if v.IsIntegral() {
			return types.NewInt64(-v.AsInt64()), nil
		}
		return types.NewFloat64(-v.AsFloat64()), nil
	default:
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown unary operator %q", ex.Op)
	}
}

func (e *Evaluator) evalBinary(ex *ast.BinaryExpr, row Row) (types.Value, error) {
	if ex.Op == "AND" || ex.Op == "OR" {
		return e.evalLogical(ex, row)
	}
	lv, err := e.Eval(ex.Left, row)
	if err != nil {
		return types.Null, err
	}
	rv, err := e.Eval(ex.Right, row)
	if err != nil {
		return types.Null, err
	}
	switch ex.Op {
	case "+", "-", "*", "/":
		return evalArithmetic(ex.Op, lv, rv)
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return evalComparison(ex.Op, lv, rv)
	default:
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown binary operator %q", ex.Op)
	}
}

// evalLogical short-circuits per spec §4.11's truth table: FALSE AND x
// is FALSE regardless of x, TRUE OR x is TRUE regardless of x, even when
// x would itself fail to evaluate or be NULL.
func (e *Evaluator) evalLogical(ex *ast.BinaryExpr, row Row) (types.Value, error) {
	lv, err := e.Eval(ex.Left, row)
	if err != nil {
		return types.Null, err
	}
	lt := toTri(lv)
	if ex.Op == "AND" && lt == trFalse {
		return types.NewBool(false), nil
	}
	if ex.Op == "OR" && lt == trTrue {
		return types.NewBool(true), nil
	}
	rv, err := e.Eval(ex.Right, row)
	if err != nil {
		return types.Null, err
	}
	rt := toTri(rv)
	if ex.Op == "AND" {
		return triAnd(lt, rt).value(), nil
	}
	return triOr(lt, rt).value(), nil
}

func evalArithmetic(op string, lv, rv types.Value) (types.Value, error) {
	if op == "+" && (lv.IsString() || rv.IsString()) {
		if lv.IsNull() || rv.IsNull() {
			return types.Null, nil
		}
		return types.NewVarchar(lv.String() + rv.String()), nil
	}
	if lv.IsNull() || rv.IsNull() {
		return types.Null, nil
	}
	if !lv.IsNumeric() || !rv.IsNumeric() {
		return types.Null, dberr.Newf(dberr.SemanticError, "%s requires numeric operands", op)
	}
	if op == "/" {
		if rv.AsFloat64() == 0 {
			return types.Null, dberr.New(dberr.DivisionByZero, "division by zero")
		}
	}
	// §4.11: integer arithmetic when both sides are integral, else double.
	if lv.IsIntegral() && rv.IsIntegral() {
		l, r := lv.AsInt64(), rv.AsInt64()
		switch op {
		case "+":
			return types.NewInt64(l + r), nil
		case "-":
			return types.NewInt64(l - r), nil
		case "*":
			return types.NewInt64(l * r), nil
		case "/":
			return types.NewInt64(l / r), nil
		}
	}
	l, r := lv.AsFloat64(), rv.AsFloat64()
	switch op {
	case "+":
		return types.NewFloat64(l + r), nil
	case "-":
		return types.NewFloat64(l - r), nil
	case "*":
		return types.NewFloat64(l * r), nil
	case "/":
		return types.NewFloat64(l / r), nil
	default:
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown arithmetic operator %q", op)
	}
}

func evalComparison(op string, lv, rv types.Value) (types.Value, error) {
	if lv.IsNull() || rv.IsNull() {
		return types.Null, nil
	}
	cmp, err := compareValues(lv, rv)
	if err != nil {
		return types.Null, err
	}
	switch op {
	case "=":
		return types.NewBool(cmp == 0), nil
	case "!=", "<>":
		return types.NewBool(cmp != 0), nil
	case "<":
		return types.NewBool(cmp < 0), nil
	case "<=":
		return types.NewBool(cmp <= 0), nil
	case ">":
		return types.NewBool(cmp > 0), nil
	case ">=":
		return types.NewBool(cmp >= 0), nil
	default:
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown comparison operator %q", op)
	}
}

// compareValues implements §4.11's rule: a string on either side compares
// lexicographically on UTF-8, the other side cast to its string form;
// otherwise numeric. Any other pairing (e.g. a blob against a number) is
// a semantic error.
func compareValues(lv, rv types.Value) (int, error) {
	if lv.IsString() || rv.IsString() {
		return strings.Compare(lv.String(), rv.String()), nil
	}
	if lv.Kind == types.KindBoolean && rv.Kind == types.KindBoolean {
		return int(lv.I - rv.I), nil
	}
	if lv.IsNumeric() && rv.IsNumeric() {
		l, r := lv.AsFloat64(), rv.AsFloat64()
		switch {
		case l < r:
			return -1, nil
		case l > r:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if (lv.Kind == types.KindDate || lv.Kind == types.KindTime || lv.Kind == types.KindDateTime) &&
		lv.Kind == rv.Kind {
		switch {
		case lv.T.Before(rv.T):
			return -1, nil
		case lv.T.After(rv.T):
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, dberr.Newf(dberr.SemanticError, "incompatible types in comparison: %s vs %s", lv.Kind, rv.Kind)
}

func (e *Evaluator) evalIsNull(ex *ast.IsNullExpr, row Row) (types.Value, error) {
	v, err := e.Eval(ex.Expr, row)
	if err != nil {
		return types.Null, err
	}
	isNull := v.IsNull()
	if ex.Negate {
		isNull = !isNull
	}
	return types.NewBool(isNull), nil
}

func (e *Evaluator) evalLike(ex *ast.LikeExpr, row Row) (types.Value, error) {
	v, err := e.Eval(ex.Expr, row)
	if err != nil {
		return types.Null, err
	}
	pv, err := e.Eval(ex.Pattern, row)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() || pv.IsNull() {
		return types.Null, nil
	}
	escape := byte('\\')
	if ex.Escape != nil {
		ev, err := e.Eval(ex.Escape, row)
		if err != nil {
			return types.Null, err
		}
		if ev.IsNull() || len(ev.S) != 1 {
			return types.Null, dberr.New(dberr.SemanticError, "ESCAPE must be a single character")
		}
		escape = ev.S[0]
	}
	matched := matchLikePattern(v.String(), pv.String(), escape)
	if ex.Negate {
		matched = !matched
	}
	return types.NewBool(matched), nil
}

// matchLikePattern implements SQL LIKE: '%' matches zero or more
// characters, '_' matches exactly one, and escape makes the following
// character literal. Grounded on tinySQL's matchLikePattern (same
// backtracking-star scan), operating on bytes rather than runes since
// the pattern alphabet ('%','_') is always ASCII.
func matchLikePattern(s, pattern string, escape byte) bool {
	sIdx, pIdx := 0, 0
	sLen, pLen := len(s), len(pattern)
	star := -1
	match := 0
	for sIdx < sLen {
		if pIdx < pLen {
			pc := pattern[pIdx]
			if pc == escape && pIdx+1 < pLen {
				pIdx++
				if s[sIdx] == pattern[pIdx] {
					sIdx++
					pIdx++
					continue
				}
				return false
			}
			if pc == '%' {
				star = pIdx
				match = sIdx
				pIdx++
				continue
			}
			if pc == '_' || s[sIdx] == pc {
				sIdx++
				pIdx++
				continue
			}
		}
		if star != -1 {
			pIdx = star + 1
			match++
			sIdx = match
			continue
		}
		return false
	}
	for pIdx < pLen && pattern[pIdx] == '%' {
		pIdx++
	}
	return pIdx == pLen
}

func (e *Evaluator) evalBetween(ex *ast.BetweenExpr, row Row) (types.Value, error) {
	v, err := e.Eval(ex.Expr, row)
	if err != nil {
		return types.Null, err
	}
	lo, err := e.Eval(ex.Low, row)
	if err != nil {
		return types.Null, err
	}
	hi, err := e.Eval(ex.High, row)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return types.Null, nil
	}
	cmpLo, err := compareValues(v, lo)
	if err != nil {
		return types.Null, err
	}
	cmpHi, err := compareValues(v, hi)
	if err != nil {
		return types.Null, err
	}
	in := cmpLo >= 0 && cmpHi <= 0
	if ex.Negate {
		in = !in
	}
	return types.NewBool(in), nil
}

func (e *Evaluator) evalIn(ex *ast.InExpr, row Row) (types.Value, error) {
	v, err := e.Eval(ex.Expr, row)
	if err != nil {
		return types.Null, err
	}
	var candidates []types.Value
	if ex.Subquery != nil {
		if e.Sub == nil {
			return types.Null, dberr.New(dberr.NotImplemented, "subqueries are not supported in this context")
		}
		candidates, err = e.Sub.RunListSubquery(ex.Subquery, row)
		if err != nil {
			return types.Null, err
		}
	} else {
		for _, item := range ex.List {
			cv, err := e.Eval(item, row)
			if err != nil {
				return types.Null, err
			}
			candidates = append(candidates, cv)
		}
	}
	if v.IsNull() {
		return types.Null, nil
	}
	sawNull := false
	for _, cv := range candidates {
		if cv.IsNull() {
			sawNull = true
			continue
		}
		cmp, err := compareValues(v, cv)
		if err == nil && cmp == 0 {
			return types.NewBool(!ex.Negate), nil
		}
	}
	// SQL's IN evaluates to NULL, not FALSE, when no match is found but a
	// NULL was present in the candidate list — the match might have been
	// against the unknown value.
	if sawNull {
		return types.Null, nil
	}
	return types.NewBool(ex.Negate), nil
}

func (e *Evaluator) evalCase(ex *ast.CaseExpr, row Row) (types.Value, error) {
	if ex.Operand != nil {
		target, err := e.Eval(ex.Operand, row)
		if err != nil {
			return types.Null, err
		}
		for _, w := range ex.Whens {
			wv, err := e.Eval(w.When, row)
			if err != nil {
				return types.Null, err
			}
			if target.IsNull() || wv.IsNull() {
				continue
			}
			if cmp, err := compareValues(target, wv); err == nil && cmp == 0 {
				return e.Eval(w.Then, row)
			}
		}
	} else {
		for _, w := range ex.Whens {
			cond, err := e.Eval(w.When, row)
			if err != nil {
				return types.Null, err
			}
			if toTri(cond) == trTrue {
				return e.Eval(w.Then, row)
			}
		}
	}
	if ex.Else != nil {
		return e.Eval(ex.Else, row)
	}
	return types.Null, nil
}

func (e *Evaluator) evalSubquery(ex *ast.SubqueryExpr, row Row) (types.Value, error) {
	if e.Sub == nil {
		return types.Null, dberr.New(dberr.NotImplemented, "subqueries are not supported in this context")
	}
	return e.Sub.RunScalarSubquery(ex.Select, row)
}

func (e *Evaluator) evalMatchAgainst(ex *ast.MatchAgainstExpr, row Row) (types.Value, error) {
	q, err := e.Eval(ex.Query, row)
	if err != nil {
		return types.Null, err
	}
	if q.IsNull() {
		return types.Null, nil
	}
	needle := strings.ToLower(q.String())
	for _, col := range ex.Columns {
		v, err := e.evalColumnRef(&ast.ColumnRef{Name: col}, row)
		if err != nil {
			return types.Null, err
		}
		if v.IsNull() {
			continue
		}
		if strings.Contains(strings.ToLower(v.String()), needle) {
			return types.NewBool(true), nil
		}
	}
	return types.NewBool(false), nil
}

// aggregateNames never reach evalFuncCall for a row-at-a-time SELECT —
// the executor's aggregate pass intercepts them before the per-row
// projection loop. Seeing one here means an aggregate was used outside
// a GROUP BY/aggregate context, which is a semantic error.
var aggregateNames = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}

func (e *Evaluator) evalFuncCall(ex *ast.FuncCallExpr, row Row) (types.Value, error) {
	if aggregateNames[ex.Name] {
		return types.Null, dberr.Newf(dberr.SemanticError, "aggregate function %s used outside of an aggregate context", ex.Name)
	}
	args := make([]types.Value, len(ex.Args))
	for i, a := range ex.Args {
		v, err := e.Eval(a, row)
		if err != nil {
			return types.Null, err
		}
		args[i] = v
	}
	fn, ok := scalarFuncs[ex.Name]
	if !ok {
		return types.Null, dberr.Newf(dberr.SemanticError, "unknown function %s", ex.Name)
	}
	return fn(args)
}
