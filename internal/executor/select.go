package executor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/eval"
	"github.com/qindb/qindb/internal/rewriter"
	"github.com/qindb/qindb/internal/sql/ast"
	"github.com/qindb/qindb/internal/txn"
	"github.com/qindb/qindb/internal/types"
)

// colRef names one column of the combined FROM/JOIN row set, qualified
// by the table name or alias it came from, for SELECT * expansion.
type colRef struct {
	Table string
	Name  string
}

// execSelect runs one SELECT, optionally nested inside another (outer
// is the enclosing row for a correlated subquery, nil at top level).
func (e *Engine) execSelect(ctx context.Context, t *txn.Transaction, sess Session, sel *ast.SelectStatement, outer eval.Row) (*Result, error) {
	if sess.Rewrite != (rewriter.Options{}) {
		res := rewriter.Rewrite(sel, sess.Rewrite)
		sel = res.Statement
	}

	rows, order, err := e.collectSourceRows(ctx, t, sess, sel, outer)
	if err != nil {
		return nil, err
	}

	ev := e.newEvaluator(ctx, t, sess)
	if sel.Where != nil {
		filtered := rows[:0]
		for _, r := range rows {
			merged := mergeForEval(outer, r)
			keep, err := ev.Eval(sel.Where, merged)
			if err != nil {
				return nil, err
			}
			if !keep.IsNull() && keep.Bool() {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	cols, projected, err := e.project(ev, sel, rows, order, outer)
	if err != nil {
		return nil, err
	}

	if sel.OrderBy != nil {
		if err := sortRows(ev, sel.OrderBy, projected, cols); err != nil {
			return nil, err
		}
	}
	if sel.Distinct {
		projected = dedupeRows(projected)
	}
	projected = applyLimitOffset(projected, sel.Limit, sel.Offset)

	res := &Result{Columns: cols, Rows: projected}
	if sel.Into != nil {
		if err := writeOutfile(sel.Into, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func mergeForEval(outer, row eval.Row) eval.Row {
	if outer == nil {
		return row
	}
	return eval.Row(mergeEvalRows(map[string]types.Value(outer), map[string]types.Value(row)))
}

// collectSourceRows materializes FROM plus every JOIN as one flat list
// of combined rows, nested-loop style: join N narrows/extends join N-1's
// output one FromItem at a time. LEFT preserves an unmatched outer row
// padded with NULLs for the inner side; RIGHT is implemented as LEFT
// with its two sides swapped.
func (e *Engine) collectSourceRows(ctx context.Context, t *txn.Transaction, sess Session, sel *ast.SelectStatement, outer eval.Row) ([]eval.Row, []colRef, error) {
	if sel.From == nil {
		row := eval.Row{}
		return []eval.Row{row}, nil, nil
	}
	base, order, err := e.fromItemRows(ctx, t, sess, *sel.From, outer)
	if err != nil {
		return nil, nil, err
	}
	ev := e.newEvaluator(ctx, t, sess)
	for _, j := range sel.Joins {
		right, rOrder, err := e.fromItemRows(ctx, t, sess, j.Right, outer)
		if err != nil {
			return nil, nil, err
		}
		leftOuter, rightOuter := base, right
		leftOrder, rightOrder := order, rOrder
		preserveLeft := j.Type == ast.JoinLeft
		if j.Type == ast.JoinRight {
			leftOuter, rightOuter = right, base
			leftOrder, rightOrder = rOrder, order
			preserveLeft = true
		}
		var combined []eval.Row
		for _, l := range leftOuter {
			matched := false
			for _, r := range rightOuter {
				merged := eval.Row(mergeEvalRows(map[string]types.Value(l), map[string]types.Value(r)))
				ok := true
				if j.On != nil {
					v, err := ev.Eval(j.On, mergeForEval(outer, merged))
					if err != nil {
						return nil, nil, err
					}
					ok = !v.IsNull() && v.Bool()
				}
				if ok {
					combined = append(combined, merged)
					matched = true
				}
			}
			if !matched && preserveLeft {
				nullSide := nullRow(rightOrder)
				combined = append(combined, eval.Row(mergeEvalRows(map[string]types.Value(l), map[string]types.Value(nullSide))))
			}
		}
		base = combined
		order = append(append([]colRef{}, leftOrder...), rightOrder...)
	}
	return base, order, nil
}

func nullRow(order []colRef) eval.Row {
	out := eval.Row{}
	for _, c := range order {
		out[lower(c.Name)] = types.Null
		out[lower(c.Table)+"."+lower(c.Name)] = types.Null
	}
	return out
}

func (e *Engine) fromItemRows(ctx context.Context, t *txn.Transaction, sess Session, item ast.FromItem, outer eval.Row) ([]eval.Row, []colRef, error) {
	alias := item.Alias
	if item.Subquery != nil {
		if alias == "" {
			alias = "subquery"
		}
		res, err := e.execSelect(ctx, t, sess, item.Subquery, outer)
		if err != nil {
			return nil, nil, err
		}
		order := make([]colRef, len(res.Columns))
		rows := make([]eval.Row, len(res.Rows))
		for i, name := range res.Columns {
			order[i] = colRef{Table: alias, Name: name}
		}
		for ri, r := range res.Rows {
			row := eval.Row{}
			for i, name := range res.Columns {
				row[lower(name)] = r[i]
				row[lower(alias)+"."+lower(name)] = r[i]
			}
			rows[ri] = row
		}
		return rows, order, nil
	}

	if alias == "" {
		alias = item.Table
	}
	def, found, err := e.Cat.GetTable(item.Table)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, dberr.Newf(dberr.SemanticError, "table %q does not exist", item.Table)
	}
	live, err := e.scanLiveLocked(ctx, t, def)
	if err != nil {
		return nil, nil, err
	}
	order := make([]colRef, len(def.Columns))
	for i, c := range def.Columns {
		order[i] = colRef{Table: alias, Name: c.Name}
	}
	rows := make([]eval.Row, len(live))
	for i, r := range live {
		rows[i] = eval.Row(rowToEvalRow(alias, def.Columns, r.Vals))
	}
	return rows, order, nil
}

var aggregateFuncs = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}

func containsAggregate(e ast.Expr) bool {
	switch ex := e.(type) {
	case *ast.FuncCallExpr:
		if aggregateFuncs[strings.ToUpper(ex.Name)] {
			return true
		}
		for _, a := range ex.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *ast.BinaryExpr:
		return containsAggregate(ex.Left) || containsAggregate(ex.Right)
	case *ast.UnaryExpr:
		return containsAggregate(ex.Expr)
	}
	return false
}

// project builds the output column list and row values: either a plain
// per-row projection, or (when GROUP BY is present or any projection
// uses an aggregate) a grouped aggregation pass followed by HAVING.
func (e *Engine) project(ev *eval.Evaluator, sel *ast.SelectStatement, rows []eval.Row, order []colRef, outer eval.Row) ([]string, [][]types.Value, error) {
	isAggregate := len(sel.GroupBy) > 0
	if !isAggregate {
		for _, p := range sel.Projs {
			if containsAggregate(p.Expr) {
				isAggregate = true
				break
			}
		}
	}
	if isAggregate {
		return e.projectAggregate(ev, sel, rows, outer)
	}

	cols := make([]string, 0, len(sel.Projs))
	for i, p := range sel.Projs {
		if _, ok := p.Expr.(*ast.StarExpr); ok {
			for _, c := range order {
				cols = append(cols, c.Name)
			}
			continue
		}
		if p.Alias != "" {
			cols = append(cols, p.Alias)
		} else if cr, ok := p.Expr.(*ast.ColumnRef); ok {
			cols = append(cols, cr.Name)
		} else {
			cols = append(cols, fmt.Sprintf("col%d", i+1))
		}
	}

	out := make([][]types.Value, 0, len(rows))
	for _, r := range rows {
		merged := mergeForEval(outer, r)
		var vals []types.Value
		for _, p := range sel.Projs {
			if star, ok := p.Expr.(*ast.StarExpr); ok {
				for _, c := range order {
					if star.Table != "" && !strings.EqualFold(star.Table, c.Table) {
						continue
					}
					v, _ := ev.Eval(&ast.ColumnRef{Table: c.Table, Name: c.Name}, merged)
					vals = append(vals, v)
				}
				continue
			}
			v, err := ev.Eval(p.Expr, merged)
			if err != nil {
				return nil, nil, err
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return cols, out, nil
}

// collectAggExprs walks a set of expressions (projections and HAVING)
// and returns every distinct aggregate FuncCallExpr found in them,
// keyed by its rendered text — the same key aggState lookups use so a
// HAVING clause can reference an aggregate that isn't also projected
// (e.g. HAVING COUNT(*) > 3 with no COUNT(*) in the SELECT list).
func collectAggExprs(exprs ...ast.Expr) map[string]*ast.FuncCallExpr {
	out := map[string]*ast.FuncCallExpr{}
	var walk func(ast.Expr)
	walk = func(e ast.Expr) {
		switch v := e.(type) {
		case nil:
			return
		case *ast.FuncCallExpr:
			if aggregateFuncs[strings.ToUpper(v.Name)] {
				out[exprText(v)] = v
				return
			}
			for _, a := range v.Args {
				walk(a)
			}
		case *ast.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
		case *ast.UnaryExpr:
			walk(v.Expr)
		}
	}
	for _, e := range exprs {
		walk(e)
	}
	return out
}

// substituteAggs returns a copy of expr with every aggregate
// subexpression (matched by rendered text against aggs) replaced by a
// Literal holding that aggregate's already-computed result, so the
// ordinary (non-aggregating) Evaluator can finish evaluating the rest
// of the expression — comparisons, arithmetic, boolean connectives.
// Nodes other than FuncCallExpr/BinaryExpr/UnaryExpr are returned
// unchanged; an aggregate nested inside, say, a CASE expression would
// not be substituted, which SQL rarely needs in practice.
func substituteAggs(expr ast.Expr, aggs map[string]*aggState) ast.Expr {
	switch v := expr.(type) {
	case nil:
		return nil
	case *ast.FuncCallExpr:
		if agg, ok := aggs[exprText(v)]; ok {
			return &ast.Literal{Val: agg.result()}
		}
		return v
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: v.Op, Left: substituteAggs(v.Left, aggs), Right: substituteAggs(v.Right, aggs)}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: v.Op, Expr: substituteAggs(v.Expr, aggs)}
	default:
		return expr
	}
}

// aggState accumulates one aggregate projection's running value across a
// group's rows.
type aggState struct {
	fn      string
	count   int64
	sum     float64
	isFloat bool
	min     *types.Value
	max     *types.Value
	seen    map[string]bool // for DISTINCT
}

func (s *aggState) add(v types.Value) {
	if v.IsNull() {
		return
	}
	s.count++
	if v.IsNumeric() {
		s.sum += v.AsFloat64()
		if !v.IsIntegral() {
			s.isFloat = true
		}
	}
	if s.min == nil {
		m := v
		s.min = &m
	} else if cmp, err := compareForAgg(v, *s.min); err == nil && cmp < 0 {
		m := v
		s.min = &m
	}
	if s.max == nil {
		m := v
		s.max = &m
	} else if cmp, err := compareForAgg(v, *s.max); err == nil && cmp > 0 {
		m := v
		s.max = &m
	}
}

func compareForAgg(a, b types.Value) (int, error) {
	if a.IsString() && b.IsString() {
		return strings.Compare(a.S, b.S), nil
	}
	if a.IsNumeric() && b.IsNumeric() {
		switch {
		case a.AsFloat64() < b.AsFloat64():
			return -1, nil
		case a.AsFloat64() > b.AsFloat64():
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, dberr.New(dberr.SemanticError, "cannot compare mismatched types in aggregate")
}

func (s *aggState) result() types.Value {
	switch strings.ToUpper(s.fn) {
	case "COUNT":
		return types.NewInt64(s.count)
	case "SUM":
		if s.count == 0 {
			return types.Null
		}
		if s.isFloat {
			return types.NewFloat64(s.sum)
		}
		return types.NewInt64(int64(s.sum))
	case "AVG":
		if s.count == 0 {
			return types.Null
		}
		return types.NewFloat64(s.sum / float64(s.count))
	case "MIN":
		if s.min == nil {
			return types.Null
		}
		return *s.min
	case "MAX":
		if s.max == nil {
			return types.Null
		}
		return *s.max
	default:
		return types.Null
	}
}

func groupKey(ev *eval.Evaluator, exprs []ast.Expr, row eval.Row) (string, error) {
	var b strings.Builder
	for _, expr := range exprs {
		v, err := ev.Eval(expr, row)
		if err != nil {
			return "", err
		}
		b.WriteString(v.String())
		b.WriteByte(0)
	}
	return b.String(), nil
}

func (e *Engine) projectAggregate(ev *eval.Evaluator, sel *ast.SelectStatement, rows []eval.Row, outer eval.Row) ([]string, [][]types.Value, error) {
	type group struct {
		repr eval.Row
		aggs map[string]*aggState
	}
	projExprs := make([]ast.Expr, len(sel.Projs))
	for i, p := range sel.Projs {
		projExprs[i] = p.Expr
	}
	aggExprs := collectAggExprs(append(projExprs, sel.Having)...)

	groups := map[string]*group{}
	var groupOrder []string

	for _, r := range rows {
		merged := mergeForEval(outer, r)
		key, err := groupKey(ev, sel.GroupBy, merged)
		if err != nil {
			return nil, nil, err
		}
		g, ok := groups[key]
		if !ok {
			g = &group{repr: merged, aggs: make(map[string]*aggState, len(aggExprs))}
			for text, fc := range aggExprs {
				g.aggs[text] = &aggState{fn: strings.ToUpper(fc.Name), seen: map[string]bool{}}
			}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		for text, fc := range aggExprs {
			var v types.Value
			if fc.Star {
				v = types.NewInt64(1)
			} else if len(fc.Args) == 1 {
				var err error
				v, err = ev.Eval(fc.Args[0], merged)
				if err != nil {
					return nil, nil, err
				}
			}
			state := g.aggs[text]
			if fc.Distinct {
				dk := v.String()
				if state.seen[dk] {
					continue
				}
				state.seen[dk] = true
			}
			state.add(v)
		}
	}

	cols := make([]string, len(sel.Projs))
	for i, p := range sel.Projs {
		if p.Alias != "" {
			cols[i] = p.Alias
		} else if cr, ok := p.Expr.(*ast.ColumnRef); ok {
			cols[i] = cr.Name
		} else if fc, ok := p.Expr.(*ast.FuncCallExpr); ok {
			cols[i] = fc.Name
		} else {
			cols[i] = fmt.Sprintf("col%d", i+1)
		}
	}

	var out [][]types.Value
	for _, key := range groupOrder {
		g := groups[key]
		if sel.Having != nil {
			keep, err := e.evalHaving(ev, sel, g.repr, g.aggs)
			if err != nil {
				return nil, nil, err
			}
			if !keep {
				continue
			}
		}
		vals := make([]types.Value, len(sel.Projs))
		for i, p := range sel.Projs {
			if fc, ok := p.Expr.(*ast.FuncCallExpr); ok && aggregateFuncs[strings.ToUpper(fc.Name)] {
				vals[i] = g.aggs[exprText(fc)].result()
				continue
			}
			var v types.Value
			var err error
			if containsAggregate(p.Expr) {
				v, err = ev.Eval(substituteAggs(p.Expr, g.aggs), g.repr)
			} else {
				v, err = ev.Eval(p.Expr, g.repr)
			}
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return cols, out, nil
}

// evalHaving evaluates HAVING against a group, with every aggregate
// subexpression (whether or not it also appears in the projection list)
// replaced by its already-accumulated result for this group.
func (e *Engine) evalHaving(ev *eval.Evaluator, sel *ast.SelectStatement, repr eval.Row, aggs map[string]*aggState) (bool, error) {
	v, err := ev.Eval(substituteAggs(sel.Having, aggs), repr)
	if err != nil {
		return false, err
	}
	return !v.IsNull() && v.Bool(), nil
}

func sortRows(ev *eval.Evaluator, orderBy []ast.OrderItem, rows [][]types.Value, cols []string) error {
	colIndex := func(e ast.Expr) int {
		if cr, ok := e.(*ast.ColumnRef); ok {
			for i, c := range cols {
				if strings.EqualFold(c, cr.Name) {
					return i
				}
			}
		}
		return -1
	}
	indices := make([]int, len(orderBy))
	for i, o := range orderBy {
		indices[i] = colIndex(o.Expr)
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for k, o := range orderBy {
			idx := indices[k]
			if idx < 0 {
				continue
			}
			a, b := rows[i][idx], rows[j][idx]
			cmp, err := compareForAgg(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

func dedupeRows(rows [][]types.Value) [][]types.Value {
	seen := map[string]bool{}
	out := rows[:0]
	for _, r := range rows {
		var b strings.Builder
		for _, v := range r {
			b.WriteString(v.String())
			b.WriteByte(0)
		}
		k := b.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func applyLimitOffset(rows [][]types.Value, limit, offset *int64) [][]types.Value {
	if offset != nil {
		o := int(*offset)
		if o >= len(rows) {
			return nil
		}
		if o > 0 {
			rows = rows[o:]
		}
	}
	if limit != nil {
		l := int(*limit)
		if l < len(rows) {
			rows = rows[:l]
		}
	}
	return rows
}

func writeOutfile(into *ast.IntoOutfile, res *Result) error {
	f, err := os.Create(into.Path)
	if err != nil {
		return dberr.Wrap(dberr.IOError, err, "INTO OUTFILE: create")
	}
	defer f.Close()

	switch into.Format {
	case ast.FormatJSON:
		var docs []map[string]any
		for _, r := range res.Rows {
			doc := map[string]any{}
			for i, c := range res.Columns {
				doc[c] = r[i].String()
			}
			docs = append(docs, doc)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case ast.FormatXML:
		type row struct {
			XMLName xml.Name `xml:"row"`
			Fields  []xmlField
		}
		type rows struct {
			XMLName xml.Name `xml:"rows"`
			Row     []row
		}
		var out rows
		for _, r := range res.Rows {
			var rw row
			for i, c := range res.Columns {
				rw.Fields = append(rw.Fields, xmlField{XMLName: xml.Name{Local: c}, Value: r[i].String()})
			}
			out.Row = append(out.Row, rw)
		}
		enc := xml.NewEncoder(f)
		enc.Indent("", "  ")
		return enc.Encode(out)
	default:
		w := csv.NewWriter(f)
		if err := w.Write(res.Columns); err != nil {
			return err
		}
		for _, r := range res.Rows {
			rec := make([]string, len(r))
			for i, v := range r {
				rec[i] = v.String()
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}
