package template

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/hassd/pkg/core"
)

// filterFunc applies a filter to its piped-in value plus any parenthesized
// arguments: `value | filter(args...)`.
type filterFunc func(in Value, args []Value) (Value, error)

var filterCatalog = map[string]filterFunc{
	"float":         filterFloat,
	"int":           filterInt,
	"bool":          func(in Value, _ []Value) (Value, error) { return Bool(in.AsBoolStrict()), nil },
	"is_number":     filterIsNumber,
	"is_string":     func(in Value, _ []Value) (Value, error) { return Bool(in.kind == kindString), nil },
	"is_list":       func(in Value, _ []Value) (Value, error) { return Bool(in.kind == kindList), nil },
	"slugify":       func(in Value, _ []Value) (Value, error) { return String(slugify(in.String())), nil },
	"regex_replace": filterRegexReplace,
	"regex_findall": filterRegexFindall,
	"to_json":       filterToJSON,
	"from_json":     func(in Value, _ []Value) (Value, error) { return FromJSON([]byte(in.String())), nil },
	"base64_encode": func(in Value, _ []Value) (Value, error) {
		return String(base64.StdEncoding.EncodeToString([]byte(in.String()))), nil
	},
	"base64_decode": func(in Value, _ []Value) (Value, error) {
		raw, err := base64.StdEncoding.DecodeString(in.String())
		if err != nil {
			return Undefined, fmt.Errorf("%w: base64_decode: %s", core.ErrParse, err)
		}
		return String(string(raw)), nil
	},
	"urlencode": func(in Value, _ []Value) (Value, error) { return String(url.QueryEscape(in.String())), nil },
	"ordinal":   filterOrdinal,
	"flatten":   filterFlatten,
	"contains":  filterContains,
	"default":   filterDefault,
	"length":    filterLength,
	"sort":      filterSort,
	"first":     filterFirst,
	"last":      filterLast,
	"join":      filterJoin,
	"reverse":   filterReverse,
}

func filterFloat(in Value, args []Value) (Value, error) {
	if f, ok := in.AsFloat(); ok {
		return Float(f), nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return Float(0), nil
}

func filterInt(in Value, args []Value) (Value, error) {
	if i, ok := in.AsInt(); ok {
		return Int(i), nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return Int(0), nil
}

func filterIsNumber(in Value, _ []Value) (Value, error) {
	if in.kind == kindInt || in.kind == kindFloat {
		return Bool(true), nil
	}
	if in.kind == kindString {
		_, err := strconv.ParseFloat(strings.TrimSpace(in.s), 64)
		return Bool(err == nil), nil
	}
	return Bool(false), nil
}

// slugify lower-cases and replaces runs of non-alphanumeric characters
// with a single underscore, trimming leading/trailing underscores.
func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func filterRegexReplace(in Value, args []Value) (Value, error) {
	if len(args) < 2 {
		return Undefined, fmt.Errorf("%w: regex_replace requires pattern and replacement", core.ErrParse)
	}
	re, err := regexp.Compile(args[0].String())
	if err != nil {
		return Undefined, fmt.Errorf("%w: regex_replace: %s", core.ErrParse, err)
	}
	return String(re.ReplaceAllString(in.String(), args[1].String())), nil
}

func filterRegexFindall(in Value, args []Value) (Value, error) {
	if len(args) < 1 {
		return Undefined, fmt.Errorf("%w: regex_findall requires a pattern", core.ErrParse)
	}
	re, err := regexp.Compile(args[0].String())
	if err != nil {
		return Undefined, fmt.Errorf("%w: regex_findall: %s", core.ErrParse, err)
	}
	matches := re.FindAllString(in.String(), -1)
	out := make([]Value, len(matches))
	for i, m := range matches {
		out[i] = String(m)
	}
	return List(out), nil
}

func filterToJSON(in Value, _ []Value) (Value, error) {
	raw, err := valueToJSON(in)
	if err != nil {
		return Undefined, fmt.Errorf("%w: to_json: %s", core.ErrParse, err)
	}
	return String(string(raw)), nil
}

func filterOrdinal(in Value, _ []Value) (Value, error) {
	n, ok := in.AsInt()
	if !ok {
		return in, nil
	}
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
		suffix = "th"
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return String(fmt.Sprintf("%d%s", n, suffix)), nil
}

func filterFlatten(in Value, _ []Value) (Value, error) {
	items, ok := in.Items()
	if !ok {
		return in, nil
	}
	var out []Value
	var walk func([]Value)
	walk = func(vals []Value) {
		for _, v := range vals {
			if v.kind == kindList {
				walk(v.list)
			} else {
				out = append(out, v)
			}
		}
	}
	walk(items)
	return List(out), nil
}

func filterContains(in Value, args []Value) (Value, error) {
	if len(args) < 1 {
		return Bool(false), nil
	}
	if in.kind == kindString {
		return Bool(strings.Contains(in.s, args[0].String())), nil
	}
	return Bool(membership(args[0], in)), nil
}

func filterDefault(in Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return in, nil
	}
	treatFalsyAsDefault := len(args) > 1 && args[1].Truthy()
	if in.IsUndefined() || (treatFalsyAsDefault && !in.Truthy()) {
		return args[0], nil
	}
	return in, nil
}

func filterLength(in Value, _ []Value) (Value, error) {
	n, ok := in.Len()
	if !ok {
		return Int(0), nil
	}
	return Int(int64(n)), nil
}

func filterSort(in Value, args []Value) (Value, error) {
	items, ok := in.Items()
	if !ok {
		return in, nil
	}
	out := append([]Value{}, items...)
	reverse := len(args) > 0 && args[0].Truthy()
	sort.SliceStable(out, func(i, j int) bool {
		if af, aok := out[i].AsFloat(); aok {
			if bf, bok := out[j].AsFloat(); bok {
				if reverse {
					return af > bf
				}
				return af < bf
			}
		}
		if reverse {
			return out[i].String() > out[j].String()
		}
		return out[i].String() < out[j].String()
	})
	return List(out), nil
}

func filterFirst(in Value, _ []Value) (Value, error) {
	items, ok := in.Items()
	if !ok || len(items) == 0 {
		return Undefined, nil
	}
	return items[0], nil
}

func filterLast(in Value, _ []Value) (Value, error) {
	items, ok := in.Items()
	if !ok || len(items) == 0 {
		return Undefined, nil
	}
	return items[len(items)-1], nil
}

func filterJoin(in Value, args []Value) (Value, error) {
	sep := ","
	if len(args) > 0 {
		sep = args[0].String()
	}
	items, ok := in.Items()
	if !ok {
		return String(in.String()), nil
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return String(strings.Join(parts, sep)), nil
}

func filterReverse(in Value, _ []Value) (Value, error) {
	items, ok := in.Items()
	if !ok {
		return in, nil
	}
	out := make([]Value, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	if in.kind == kindString {
		var b strings.Builder
		for _, v := range out {
			b.WriteString(v.String())
		}
		return String(b.String()), nil
	}
	return List(out), nil
}
