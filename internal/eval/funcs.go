package eval

import (
	"math"
	"strings"

	"github.com/qindb/qindb/internal/dberr"
	"github.com/qindb/qindb/internal/types"
)

// scalarFunc computes a scalar builtin from its already-evaluated
// arguments. Grounded on tinySQL's funcHandler table (engine/exec.go's
// getBuiltinFunctions), trimmed to the core set spec.md's executor
// exercises directly — date/JSON/vector builtins belong to tinySQL's own
// extended surface, not this engine's scope.
type scalarFunc func(args []types.Value) (types.Value, error)

var scalarFuncs = map[string]scalarFunc{
	"COALESCE": fnCoalesce,
	"NULLIF":   fnNullif,
	"UPPER":    fnUpper,
	"LOWER":    fnLower,
	"CONCAT":   fnConcat,
	"LENGTH":   fnLength,
	"LEN":      fnLength,
	"SUBSTRING": fnSubstring,
	"SUBSTR":    fnSubstring,
	"TRIM":     fnTrim,
	"LTRIM":    fnLTrim,
	"RTRIM":    fnRTrim,
	"ABS":      fnAbs,
	"ROUND":    fnRound,
	"FLOOR":    fnFloor,
	"CEIL":     fnCeil,
	"CEILING":  fnCeil,
	"MOD":      fnMod,
}

func fnCoalesce(args []types.Value) (types.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return types.Null, nil
}

func fnNullif(args []types.Value) (types.Value, error) {
	if len(args) != 2 {
		return types.Null, dberr.New(dberr.SemanticError, "NULLIF expects 2 arguments")
	}
	if args[0].IsNull() || args[1].IsNull() {
		return args[0], nil
	}
	cmp, err := compareValues(args[0], args[1])
	if err != nil {
		return types.Null, err
	}
	if cmp == 0 {
		return types.Null, nil
	}
	return args[0], nil
}

func fnUpper(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("UPPER", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewVarchar(strings.ToUpper(v.S)), nil
}

func fnLower(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("LOWER", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewVarchar(strings.ToLower(v.S)), nil
}

func fnConcat(args []types.Value) (types.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a.IsNull() {
			return types.Null, nil
		}
		sb.WriteString(a.String())
	}
	return types.NewVarchar(sb.String()), nil
}

func fnLength(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("LENGTH", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewInt64(int64(len(v.S))), nil
}

func fnSubstring(args []types.Value) (types.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return types.Null, dberr.New(dberr.SemanticError, "SUBSTRING expects 2 or 3 arguments")
	}
	if args[0].IsNull() || args[1].IsNull() {
		return types.Null, nil
	}
	s := args[0].String()
	start := int(args[1].AsInt64())
	if start < 1 {
		start = 1
	}
	if start > len(s) {
		return types.NewVarchar(""), nil
	}
	end := len(s)
	if len(args) == 3 {
		if args[2].IsNull() {
			return types.Null, nil
		}
		n := int(args[2].AsInt64())
		if n < 0 {
			n = 0
		}
		if start-1+n < end {
			end = start - 1 + n
		}
	}
	return types.NewVarchar(s[start-1 : end]), nil
}

func fnTrim(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("TRIM", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewVarchar(strings.TrimSpace(v.S)), nil
}

func fnLTrim(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("LTRIM", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewVarchar(strings.TrimLeft(v.S, " \t\n\r")), nil
}

func fnRTrim(args []types.Value) (types.Value, error) {
	v, err := oneStringArg("RTRIM", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewVarchar(strings.TrimRight(v.S, " \t\n\r")), nil
}

func oneStringArg(name string, args []types.Value) (types.Value, error) {
	if len(args) != 1 {
		return types.Null, dberr.Newf(dberr.SemanticError, "%s expects 1 argument", name)
	}
	return args[0], nil
}

func oneNumericArg(name string, args []types.Value) (types.Value, error) {
	if len(args) != 1 {
		return types.Null, dberr.Newf(dberr.SemanticError, "%s expects 1 argument", name)
	}
	if !args[0].IsNull() && !args[0].IsNumeric() {
		return types.Null, dberr.Newf(dberr.SemanticError, "%s expects a numeric argument", name)
	}
	return args[0], nil
}

func fnAbs(args []types.Value) (types.Value, error) {
	v, err := oneNumericArg("ABS", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	if v.IsIntegral() {
		n := v.AsInt64()
		if n < 0 {
			n = -n
		}
		return types.NewInt64(n), nil
	}
	return types.NewFloat64(math.Abs(v.AsFloat64())), nil
}

func fnRound(args []types.Value) (types.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return types.Null, dberr.New(dberr.SemanticError, "ROUND expects 1 or 2 arguments")
	}
	if args[0].IsNull() {
		return types.Null, nil
	}
	if !args[0].IsNumeric() {
		return types.Null, dberr.New(dberr.SemanticError, "ROUND expects a numeric first argument")
	}
	prec := 0
	if len(args) == 2 {
		if args[1].IsNull() {
			return types.Null, nil
		}
		prec = int(args[1].AsInt64())
	}
	mult := math.Pow10(prec)
	return types.NewFloat64(math.Round(args[0].AsFloat64()*mult) / mult), nil
}

func fnFloor(args []types.Value) (types.Value, error) {
	v, err := oneNumericArg("FLOOR", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewInt64(int64(math.Floor(v.AsFloat64()))), nil
}

func fnCeil(args []types.Value) (types.Value, error) {
	v, err := oneNumericArg("CEIL", args)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() {
		return types.Null, nil
	}
	return types.NewInt64(int64(math.Ceil(v.AsFloat64()))), nil
}

func fnMod(args []types.Value) (types.Value, error) {
	if len(args) != 2 {
		return types.Null, dberr.New(dberr.SemanticError, "MOD expects 2 arguments")
	}
	if args[0].IsNull() || args[1].IsNull() {
		return types.Null, nil
	}
	if !args[0].IsNumeric() || !args[1].IsNumeric() {
		return types.Null, dberr.New(dberr.SemanticError, "MOD expects numeric arguments")
	}
	r := args[1].AsInt64()
	if r == 0 {
		return types.Null, dberr.New(dberr.DivisionByZero, "division by zero")
	}
	return types.NewInt64(args[0].AsInt64() % r), nil
}
