package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is the dynamic runtime value produced by evaluating an expression.
// The None sentinel represents Jinja's "none"; undefined (missing entity/attribute/
// variable) is represented by the distinct Undefined sentinel so it can
// stringify to empty without being confused with an explicit none.
type Value struct {
	kind kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	dict map[string]Value
	obj  Object
}

type kind int

const (
	kindUndefined kind = iota
	kindNone
	kindBool
	kindInt
	kindFloat
	kindString
	kindList
	kindDict
	kindObject
)

// Object is implemented by reflective values like the states proxy: things
// that resolve attribute/index access and calls dynamically instead of
// through a fixed Go value.
type Object interface {
	// Attr resolves obj.name or obj["name"]. ok is false if there is no
	// such attribute (distinct from an attribute whose value is none).
	Attr(name string) (Value, bool)
	// Call resolves obj(args...).
	Call(args []Value) (Value, error)
	// String is used when the object is interpolated into template text.
	String() string
}

// Undefined is the value of a missing variable, attribute, or entity.
var Undefined = Value{kind: kindUndefined}

// None is Jinja's "none"/"null" literal.
var None = Value{kind: kindNone}

func Bool(b bool) Value    { return Value{kind: kindBool, b: b} }
func Int(i int64) Value    { return Value{kind: kindInt, i: i} }
func Float(f float64) Value { return Value{kind: kindFloat, f: f} }
func String(s string) Value { return Value{kind: kindString, s: s} }
func List(items []Value) Value { return Value{kind: kindList, list: items} }
func Dict(m map[string]Value) Value { return Value{kind: kindDict, dict: m} }
func FromObject(o Object) Value { return Value{kind: kindObject, obj: o} }

func (v Value) IsUndefined() bool { return v.kind == kindUndefined }
func (v Value) IsNone() bool      { return v.kind == kindNone }

// FromJSON decodes raw JSON into a template Value; numbers without a
// fractional part become Int, and invalid JSON yields Undefined.
func FromJSON(raw json.RawMessage) Value {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Undefined
	}
	return fromAny(v)
}

func fromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return None
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case string:
		return String(t)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = fromAny(item)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = fromAny(item)
		}
		return Dict(out)
	default:
		return Undefined
	}
}

// AsFloat coerces a value to float64, the way minijinja's value_to_f64 does:
// numeric types convert directly, numeric strings parse, bools become 1 or
// 0, everything else fails.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case kindInt:
		return float64(v.i), true
	case kindFloat:
		return v.f, true
	case kindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case kindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsInt truncates toward zero, matching the `int` filter's semantics.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case kindInt:
		return v.i, true
	case kindFloat:
		return int64(v.f), true
	case kindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	case kindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// boolKeywords is the case-insensitive truthy/falsy vocabulary the `bool`
// filter recognizes, pinned against spec.md's semantics section.
var boolKeywords = map[string]bool{
	"true": true, "yes": true, "on": true, "1": true, "enable": true,
	"false": false, "no": false, "off": false, "0": false, "disable": false,
}

// AsBoolStrict implements the `bool` filter: recognized keywords map
// directly, everything else falls back to general truthiness.
func (v Value) AsBoolStrict() bool {
	if v.kind == kindString {
		if b, ok := boolKeywords[strings.ToLower(strings.TrimSpace(v.s))]; ok {
			return b
		}
	}
	return v.Truthy()
}

// Truthy implements Jinja truthiness: undefined/none/false/0/0.0/""/empty
// list/empty dict are false, everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case kindUndefined, kindNone:
		return false
	case kindBool:
		return v.b
	case kindInt:
		return v.i != 0
	case kindFloat:
		return v.f != 0
	case kindString:
		return v.s != ""
	case kindList:
		return len(v.list) > 0
	case kindDict:
		return len(v.dict) > 0
	case kindObject:
		return true
	default:
		return false
	}
}

// String renders the value for text interpolation: undefined stringifies
// to empty, not an error.
func (v Value) String() string {
	switch v.kind {
	case kindUndefined:
		return ""
	case kindNone:
		return "none"
	case kindBool:
		if v.b {
			return "true"
		}
		return "false"
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case kindString:
		return v.s
	case kindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case kindDict:
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.dict[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case kindObject:
		return v.obj.String()
	default:
		return ""
	}
}

// Attr resolves "." attribute access or ["key"]/[index] subscript access.
func (v Value) Attr(key Value) Value {
	switch v.kind {
	case kindDict:
		if val, ok := v.dict[key.String()]; ok {
			return val
		}
		return Undefined
	case kindList:
		idx, ok := key.AsInt()
		if !ok {
			return Undefined
		}
		if idx < 0 {
			idx += int64(len(v.list))
		}
		if idx < 0 || idx >= int64(len(v.list)) {
			return Undefined
		}
		return v.list[idx]
	case kindObject:
		if val, ok := v.obj.Attr(key.String()); ok {
			return val
		}
		return Undefined
	case kindString:
		idx, ok := key.AsInt()
		if !ok {
			return Undefined
		}
		runes := []rune(v.s)
		if idx < 0 {
			idx += int64(len(runes))
		}
		if idx < 0 || idx >= int64(len(runes)) {
			return Undefined
		}
		return String(string(runes[idx]))
	default:
		return Undefined
	}
}

// Call invokes an object value with args; non-callable values error.
func (v Value) Call(args []Value) (Value, error) {
	if v.kind != kindObject {
		return Undefined, fmt.Errorf("%w: value is not callable", errNotCallable)
	}
	return v.obj.Call(args)
}

// Len implements the `length` filter / len() semantics.
func (v Value) Len() (int, bool) {
	switch v.kind {
	case kindString:
		return len([]rune(v.s)), true
	case kindList:
		return len(v.list), true
	case kindDict:
		return len(v.dict), true
	default:
		return 0, false
	}
}

// Items exposes a list's elements, or a string's characters, for `in`,
// `flatten`, `first`/`last`, etc.; any other kind (dicts included) reports false.
func (v Value) Items() ([]Value, bool) {
	switch v.kind {
	case kindList:
		return v.list, true
	case kindString:
		runes := []rune(v.s)
		out := make([]Value, len(runes))
		for i, r := range runes {
			out[i] = String(string(r))
		}
		return out, true
	default:
		return nil, false
	}
}

// valueToJSON converts v into a plain Go value suitable for json.Marshal,
// used by the `to_json` filter.
func valueToJSON(v Value) (json.RawMessage, error) {
	return json.Marshal(toAny(v))
}

func toAny(v Value) any {
	switch v.kind {
	case kindUndefined, kindNone:
		return nil
	case kindBool:
		return v.b
	case kindInt:
		return v.i
	case kindFloat:
		return v.f
	case kindString:
		return v.s
	case kindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = toAny(item)
		}
		return out
	case kindDict:
		out := make(map[string]any, len(v.dict))
		for k, item := range v.dict {
			out[k] = toAny(item)
		}
		return out
	case kindObject:
		return v.obj.String()
	default:
		return nil
	}
}

// Equal compares two values the way the states wrapper's values_equal does:
// undefined==undefined and none==none are true, otherwise try string,
// then numeric, then bool comparison in that order.
func Equal(a, b Value) bool {
	if a.kind == kindUndefined && b.kind == kindUndefined {
		return true
	}
	if a.kind == kindNone && b.kind == kindNone {
		return true
	}
	if a.kind == kindString && b.kind == kindString {
		return a.s == b.s
	}
	if af, aok := a.AsFloat(); aok {
		if bf, bok := b.AsFloat(); bok {
			return af == bf
		}
	}
	if a.kind == kindBool && b.kind == kindBool {
		return a.b == b.b
	}
	if a.kind == kindList && b.kind == kindList {
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// DictValue exposes the underlying map for filters that need raw access.
func (v Value) DictValue() (map[string]Value, bool) {
	if v.kind != kindDict {
		return nil, false
	}
	return v.dict, true
}
