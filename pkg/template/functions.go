package template

import (
	"fmt"
	"math"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/state"
)

// nativeFunc adapts a plain Go closure to the Object interface so it can be
// bound into an Env's variable map and invoked as `name(args...)`.
type nativeFunc struct {
	name string
	fn   func(args []Value) (Value, error)
}

func (f *nativeFunc) String() string                  { return "<function " + f.name + ">" }
func (f *nativeFunc) Attr(string) (Value, bool)        { return Undefined, false }
func (f *nativeFunc) Call(args []Value) (Value, error) { return f.fn(args) }

func fn(name string, f func(args []Value) (Value, error)) Value {
	return FromObject(&nativeFunc{name: name, fn: f})
}

// timeValue wraps a time.Time so templates can do `now().hour`,
// `now().isoformat()`, and have it stringify via str()/interpolation.
type timeValue struct {
	t time.Time
}

func (w *timeValue) String() string { return w.t.UTC().Format(rfc3339) }

func (w *timeValue) Attr(key string) (Value, bool) {
	switch key {
	case "year":
		return Int(int64(w.t.Year())), true
	case "month":
		return Int(int64(w.t.Month())), true
	case "day":
		return Int(int64(w.t.Day())), true
	case "hour":
		return Int(int64(w.t.Hour())), true
	case "minute":
		return Int(int64(w.t.Minute())), true
	case "second":
		return Int(int64(w.t.Second())), true
	case "weekday":
		return Int(int64(w.t.Weekday())), true
	default:
		return Undefined, false
	}
}

func (w *timeValue) Call(args []Value) (Value, error) {
	return String(w.t.UTC().Format(rfc3339)), nil
}

func timeVal(t time.Time) Value { return FromObject(&timeValue{t: t}) }

// builtinFunctions returns the name->Value bindings for every function in
// spec.md's catalog, including "states" itself bound as the reflective
// states object.
func builtinFunctions(store *state.Store, now core.Clock) map[string]Value {
	so := newStatesObject(store)

	return map[string]Value{
		"states": FromObject(so),
		"is_state": fn("is_state", func(args []Value) (Value, error) {
			if len(args) < 2 {
				return Undefined, errCallArity("is_state", "entity_id, value")
			}
			entityID := args[0].String()
			if args[1].kind == kindList {
				for _, item := range args[1].list {
					if so.isState(entityID, item.String()) {
						return Bool(true), nil
					}
				}
				return Bool(false), nil
			}
			return Bool(so.isState(entityID, args[1].String())), nil
		}),
		"state_attr": fn("state_attr", func(args []Value) (Value, error) {
			if len(args) < 2 {
				return Undefined, errCallArity("state_attr", "entity_id, attribute")
			}
			st, ok := so.getFullState(args[0].String())
			if !ok {
				return Undefined, nil
			}
			return stateToValue(st).Attr(String(args[1].String())), nil
		}),
		"is_state_attr": fn("is_state_attr", func(args []Value) (Value, error) {
			if len(args) < 3 {
				return Undefined, errCallArity("is_state_attr", "entity_id, attribute, value")
			}
			st, ok := so.getFullState(args[0].String())
			if !ok {
				return Bool(false), nil
			}
			attr := stateToValue(st).Attr(String(args[1].String()))
			return Bool(Equal(attr, args[2])), nil
		}),
		"has_value": fn("has_value", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("has_value", "entity_id")
			}
			return Bool(so.hasValue(args[0].String())), nil
		}),
		"now": fn("now", func(args []Value) (Value, error) {
			return timeVal(now().Local()), nil
		}),
		"utcnow": fn("utcnow", func(args []Value) (Value, error) {
			return timeVal(now().UTC()), nil
		}),
		"today_at": fn("today_at", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("today_at", "hh:mm:ss")
			}
			layout := "15:04:05"
			hms := args[0].String()
			if len(hms) <= 5 {
				layout = "15:04"
			}
			parsed, err := time.Parse(layout, hms)
			if err != nil {
				return Undefined, fmt.Errorf("%w: today_at: %s", core.ErrParse, err)
			}
			n := now().Local()
			t := time.Date(n.Year(), n.Month(), n.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, n.Location())
			return timeVal(t), nil
		}),
		"as_timestamp": fn("as_timestamp", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("as_timestamp", "value")
			}
			if tw, ok := args[0].obj.(*timeValue); ok && args[0].kind == kindObject {
				return Float(float64(tw.t.Unix())), nil
			}
			parsed, err := time.Parse(time.RFC3339, args[0].String())
			if err != nil {
				return Undefined, nil
			}
			return Float(float64(parsed.Unix())), nil
		}),
		"timedelta": fn("timedelta", func(args []Value) (Value, error) {
			var days, hours, minutes, seconds float64
			get := func(i int) float64 {
				if i < len(args) {
					f, _ := args[i].AsFloat()
					return f
				}
				return 0
			}
			days, hours, minutes, seconds = get(0), get(1), get(2), get(3)
			d := time.Duration(days*24*float64(time.Hour)) +
				time.Duration(hours*float64(time.Hour)) +
				time.Duration(minutes*float64(time.Minute)) +
				time.Duration(seconds*float64(time.Second))
			return Float(d.Seconds()), nil
		}),
		"relative_time": fn("relative_time", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("relative_time", "datetime")
			}
			tw, ok := args[0].obj.(*timeValue)
			if args[0].kind != kindObject || !ok {
				return String(""), nil
			}
			return String(humanDuration(now().Sub(tw.t))), nil
		}),
		"time_since": fn("time_since", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("time_since", "entity_id")
			}
			st, ok := so.getFullState(args[0].String())
			if !ok {
				return String(""), nil
			}
			return String(humanDuration(now().Sub(st.LastChanged))), nil
		}),
		"time_until": fn("time_until", func(args []Value) (Value, error) {
			if len(args) < 1 {
				return Undefined, errCallArity("time_until", "datetime")
			}
			tw, ok := args[0].obj.(*timeValue)
			if args[0].kind != kindObject || !ok {
				return String(""), nil
			}
			return String(humanDuration(tw.t.Sub(now()))), nil
		}),
		"distance": fn("distance", func(args []Value) (Value, error) {
			if len(args) < 4 {
				return Undefined, errCallArity("distance", "lat1, lon1, lat2, lon2")
			}
			lat1, _ := args[0].AsFloat()
			lon1, _ := args[1].AsFloat()
			lat2, _ := args[2].AsFloat()
			lon2, _ := args[3].AsFloat()
			return Float(haversineKM(lat1, lon1, lat2, lon2)), nil
		}),
		"iif": fn("iif", func(args []Value) (Value, error) {
			if len(args) < 2 {
				return Undefined, errCallArity("iif", "cond, a, b?, if_none?")
			}
			cond := args[0]
			if cond.IsNone() && len(args) >= 4 {
				return args[3], nil
			}
			if cond.Truthy() {
				return args[1], nil
			}
			if len(args) >= 3 {
				return args[2], nil
			}
			return Bool(false), nil
		}),
		"range": fn("range", func(args []Value) (Value, error) {
			var start, stop, step int64 = 0, 0, 1
			switch len(args) {
			case 1:
				stop, _ = args[0].AsInt()
			case 2:
				start, _ = args[0].AsInt()
				stop, _ = args[1].AsInt()
			case 3:
				start, _ = args[0].AsInt()
				stop, _ = args[1].AsInt()
				step, _ = args[2].AsInt()
			default:
				return Undefined, errCallArity("range", "stop | start, stop | start, stop, step")
			}
			if step == 0 {
				return Undefined, fmt.Errorf("%w: range() step cannot be 0", core.ErrParse)
			}
			var out []Value
			if step > 0 {
				for i := start; i < stop; i += step {
					out = append(out, Int(i))
				}
			} else {
				for i := start; i > stop; i += step {
					out = append(out, Int(i))
				}
			}
			return List(out), nil
		}),
	}
}

// haversineKM returns the great-circle distance between two lat/lon points
// in kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}
