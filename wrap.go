package ripple

import "reflect"

// Wrap converts v into its reactive form. Maps with string keys become a
// *State, slices other than []byte become a *List, and containers that are
// already reactive are returned unchanged. Any other value is returned as is.
func Wrap(v any) any {
	return wrap(v, newConfig(nil))
}

func wrap(v any, cfg *config) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case *State, *List:
		return v
	case map[string]any:
		return newState(tv, cfg)
	case []any:
		return newList(tv, cfg)
	case []byte:
		return v
	}
	if m, ok := asMap(v); ok {
		return newState(m, cfg)
	}
	if items, ok := asSlice(v); ok {
		return newList(items, cfg)
	}
	return v
}

// asMap returns v as a map[string]any when it is any map with string keys.
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// asSlice returns v as a []any when it is any slice except []byte.
func asSlice(v any) ([]any, bool) {
	switch tv := v.(type) {
	case []any:
		return tv, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Plain returns a deep, non-reactive copy of v. Containers are read through
// their tracked accessors, so calling Plain inside an effect subscribes it to
// every key visited.
func Plain(v any) any {
	switch tv := v.(type) {
	case *State:
		return tv.Snapshot()
	case *List:
		return tv.Snapshot()
	default:
		return v
	}
}
