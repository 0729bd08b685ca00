package ripple

import "reflect"

// Equal is the default equality used to decide whether a write changed a
// value. Containers compare by identity. Comparable values compare with ==.
// Everything else falls back to reflect.DeepEqual.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case *State:
		bv, ok := b.(*State)
		return ok && av == bv
	case *List:
		bv, ok := b.(*List)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return comparableEqual(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// comparableEqual compares two values of a comparable type. Interfaces
// nested in structs can still hold uncomparable dynamic values, so a
// runtime panic falls back to a deep comparison.
func comparableEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}
