package template

import (
	"fmt"

	"github.com/cuemby/hassd/pkg/core"
)

// Env is the evaluation environment: bound variables (including builtin
// functions and the "states" object, which are just pre-bound Values) plus
// the clock used by time functions.
type Env struct {
	vars map[string]Value
	now  core.Clock
}

// NewEnv creates an environment with the given variables layered on top of
// the builtin function catalog.
func (e *Engine) NewEnv(vars map[string]Value) *Env {
	env := &Env{vars: make(map[string]Value, len(e.builtins)+len(vars)), now: e.now}
	for k, v := range e.builtins {
		env.vars[k] = v
	}
	for k, v := range vars {
		env.vars[k] = v
	}
	return env
}

func (env *Env) Lookup(name string) Value {
	if v, ok := env.vars[name]; ok {
		return v
	}
	return Undefined
}

// Eval evaluates a parsed expression against env.
func Eval(expr *Expr, env *Env) (Value, error) {
	return evalExpr(expr, env)
}

func evalExpr(e *Expr, env *Env) (Value, error) {
	val, err := evalOr(e.Or, env)
	if err != nil {
		return Undefined, err
	}
	if e.Cond == nil {
		return val, nil
	}
	cond, err := evalOr(e.Cond, env)
	if err != nil {
		return Undefined, err
	}
	if cond.Truthy() {
		return val, nil
	}
	if e.Else == nil {
		return Undefined, nil
	}
	return evalExpr(e.Else, env)
}

func evalOr(o *OrExpr, env *Env) (Value, error) {
	val, err := evalAnd(o.Left, env)
	if err != nil {
		return Undefined, err
	}
	for _, next := range o.Rest {
		if val.Truthy() {
			return val, nil
		}
		val, err = evalAnd(next, env)
		if err != nil {
			return Undefined, err
		}
	}
	return val, nil
}

func evalAnd(a *AndExpr, env *Env) (Value, error) {
	val, err := evalNot(a.Left, env)
	if err != nil {
		return Undefined, err
	}
	for _, next := range a.Rest {
		if !val.Truthy() {
			return val, nil
		}
		val, err = evalNot(next, env)
		if err != nil {
			return Undefined, err
		}
	}
	return val, nil
}

func evalNot(n *NotExpr, env *Env) (Value, error) {
	val, err := evalCompare(n.Cmp, env)
	if err != nil {
		return Undefined, err
	}
	if n.Negate {
		return Bool(!val.Truthy()), nil
	}
	return val, nil
}

func evalCompare(c *CompareExpr, env *Env) (Value, error) {
	left, err := evalAdd(c.Left, env)
	if err != nil {
		return Undefined, err
	}
	if len(c.Ops) == 0 {
		return left, nil
	}
	cur := left
	result := true
	for _, op := range c.Ops {
		right, err := evalAdd(op.Right, env)
		if err != nil {
			return Undefined, err
		}
		ok := compareOp(op.Op, cur, right)
		if op.Negate {
			ok = !ok
		}
		if !ok {
			result = false
		}
		cur = right
	}
	return Bool(result), nil
}

func compareOp(op string, a, b Value) bool {
	switch op {
	case "==":
		return Equal(a, b)
	case "!=":
		return !Equal(a, b)
	case "in":
		return membership(a, b)
	case "<", "<=", ">", ">=":
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if aok && bok {
			switch op {
			case "<":
				return af < bf
			case "<=":
				return af <= bf
			case ">":
				return af > bf
			case ">=":
				return af >= bf
			}
		}
		as, bs := a.String(), b.String()
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		}
	}
	return false
}

func membership(needle, haystack Value) bool {
	if items, ok := haystack.Items(); ok {
		for _, item := range items {
			if Equal(item, needle) {
				return true
			}
		}
		return false
	}
	if dict, ok := haystack.DictValue(); ok {
		_, exists := dict[needle.String()]
		return exists
	}
	return false
}

func evalAdd(a *AddExpr, env *Env) (Value, error) {
	left, err := evalMul(a.Left, env)
	if err != nil {
		return Undefined, err
	}
	for _, op := range a.Ops {
		right, err := evalMul(op.Right, env)
		if err != nil {
			return Undefined, err
		}
		left, err = arith(op.Op, left, right)
		if err != nil {
			return Undefined, err
		}
	}
	return left, nil
}

func evalMul(m *MulExpr, env *Env) (Value, error) {
	left, err := evalUnary(m.Left, env)
	if err != nil {
		return Undefined, err
	}
	for _, op := range m.Ops {
		right, err := evalUnary(op.Right, env)
		if err != nil {
			return Undefined, err
		}
		left, err = arith(op.Op, left, right)
		if err != nil {
			return Undefined, err
		}
	}
	return left, nil
}

func arith(op string, a, b Value) (Value, error) {
	if op == "+" && a.kind == kindString && b.kind == kindString {
		return String(a.s + b.s), nil
	}
	if op == "+" && a.kind == kindList && b.kind == kindList {
		return List(append(append([]Value{}, a.list...), b.list...)), nil
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return Undefined, fmt.Errorf("%w: cannot apply %q to non-numeric values", core.ErrParse, op)
	}
	bothInt := a.kind == kindInt && b.kind == kindInt
	switch op {
	case "+":
		if bothInt {
			return Int(a.i + b.i), nil
		}
		return Float(af + bf), nil
	case "-":
		if bothInt {
			return Int(a.i - b.i), nil
		}
		return Float(af - bf), nil
	case "*":
		if bothInt {
			return Int(a.i * b.i), nil
		}
		return Float(af * bf), nil
	case "/":
		if bf == 0 {
			return Undefined, fmt.Errorf("%w: division by zero", core.ErrParse)
		}
		return Float(af / bf), nil
	case "//":
		if bf == 0 {
			return Undefined, fmt.Errorf("%w: division by zero", core.ErrParse)
		}
		q := int64(af) / int64(bf)
		if (int64(af)%int64(bf) != 0) && ((af < 0) != (bf < 0)) {
			q--
		}
		return Int(q), nil
	case "%":
		if bf == 0 {
			return Undefined, fmt.Errorf("%w: modulo by zero", core.ErrParse)
		}
		if bothInt {
			m := a.i % b.i
			if m != 0 && (m < 0) != (b.i < 0) {
				m += b.i
			}
			return Int(m), nil
		}
		return Float(af - bf*float64(int64(af/bf))), nil
	}
	return Undefined, fmt.Errorf("%w: unknown operator %q", core.ErrParse, op)
}

func evalUnary(u *UnaryExpr, env *Env) (Value, error) {
	val, err := evalFilter(u.Expr, env)
	if err != nil {
		return Undefined, err
	}
	switch u.Op {
	case "-":
		if val.kind == kindInt {
			return Int(-val.i), nil
		}
		f, ok := val.AsFloat()
		if !ok {
			return Undefined, fmt.Errorf("%w: cannot negate non-numeric value", core.ErrParse)
		}
		return Float(-f), nil
	default:
		return val, nil
	}
}

func evalFilter(f *FilterExpr, env *Env) (Value, error) {
	val, err := evalPostfix(f.Left, env)
	if err != nil {
		return Undefined, err
	}
	for _, call := range f.Filters {
		args := make([]Value, 0, len(call.Args))
		for _, a := range call.Args {
			argVal, err := evalExpr(a, env)
			if err != nil {
				return Undefined, err
			}
			args = append(args, argVal)
		}
		fn, ok := filterCatalog[call.Name]
		if !ok {
			return Undefined, fmt.Errorf("%w: unknown filter %q", core.ErrParse, call.Name)
		}
		val, err = fn(val, args)
		if err != nil {
			return Undefined, err
		}
	}
	return val, nil
}

func evalPostfix(p *PostfixExpr, env *Env) (Value, error) {
	val, err := evalPrimary(p.Primary, env)
	if err != nil {
		return Undefined, err
	}
	for _, op := range p.Ops {
		switch {
		case op.Attr != "":
			val = val.Attr(String(op.Attr))
		case op.Index != nil:
			idx, err := evalExpr(op.Index, env)
			if err != nil {
				return Undefined, err
			}
			val = val.Attr(idx)
		case op.Call != nil:
			args := make([]Value, 0, len(op.Call.Args))
			for _, a := range op.Call.Args {
				argVal, err := evalExpr(a, env)
				if err != nil {
					return Undefined, err
				}
				args = append(args, argVal)
			}
			val, err = val.Call(args)
			if err != nil {
				return Undefined, err
			}
		}
	}
	return val, nil
}

func evalPrimary(p *Primary, env *Env) (Value, error) {
	switch {
	case p.Float != nil:
		return Float(*p.Float), nil
	case p.Int != nil:
		return Int(*p.Int), nil
	case p.Str != nil:
		return String(unquote(*p.Str)), nil
	case p.True:
		return Bool(true), nil
	case p.False:
		return Bool(false), nil
	case p.Null:
		return None, nil
	case p.List != nil:
		items := make([]Value, 0, len(p.List.Items))
		for _, item := range p.List.Items {
			v, err := evalExpr(item, env)
			if err != nil {
				return Undefined, err
			}
			items = append(items, v)
		}
		return List(items), nil
	case p.Dict != nil:
		m := make(map[string]Value, len(p.Dict.Entries))
		for _, entry := range p.Dict.Entries {
			k, err := evalExpr(entry.Key, env)
			if err != nil {
				return Undefined, err
			}
			v, err := evalExpr(entry.Value, env)
			if err != nil {
				return Undefined, err
			}
			m[k.String()] = v
		}
		return Dict(m), nil
	case p.Group != nil:
		return evalExpr(p.Group, env)
	case p.Ident != nil:
		return env.Lookup(*p.Ident), nil
	default:
		return Undefined, fmt.Errorf("%w: empty primary expression", core.ErrParse)
	}
}
