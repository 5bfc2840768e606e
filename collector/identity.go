package collector

import "reflect"

// refIdentity computes a comparable key standing in for "the same
// runtime object". Reference kinds
// are identified by their runtime address; other kinds fall back to the
// value itself when comparable. A value whose type is not comparable
// (e.g. a struct embedding a slice) never matches any other observation,
// which is the conservative choice: the bind rule only ever reuses a
// value id, never corrupts one.
func refIdentity(v any) (key any, ok bool) {
	if v == nil {
		return nil, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return refKey{t: rv.Type(), addr: 0}, true
		}
		return refKey{t: rv.Type(), addr: rv.Pointer()}, true
	default:
		if rv.Type().Comparable() {
			return v, true
		}
		return nil, false
	}
}

type refKey struct {
	t    reflect.Type
	addr uintptr
}

// sameObject reports whether a and b are the same runtime object per
// refIdentity. Two uncomparable values are never the same object, even
// if they are byte-for-byte equal.
func sameObject(a, b any) bool {
	ka, ok := refIdentity(a)
	if !ok {
		return false
	}
	kb, ok := refIdentity(b)
	if !ok {
		return false
	}
	return ka == kb
}
