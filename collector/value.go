package collector

import (
	"fmt"
	"reflect"

	"github.com/noworkflow/provenance/store"
)

// typeOfTypesRepr is the repr recorded for the distinguished self-typed
// root, the Go analogue of CPython's `type` object being its own type.
const typeOfTypesRepr = "<type 'type'>"

// nilMarker stands in for the type of a bare Go nil, which has no
// reflect.Type of its own.
type nilMarker struct{}

// valueInterner tracks recorded Values and interns the ones that
// describe a Go type. A shared-types cache keyed by reflect.Type
// deduplicates only *type* Values; every instance observation still
// creates a fresh Value.
type valueInterner struct {
	buf         *store.Buffer[store.Value]
	sharedTypes map[reflect.Type]int64
	typeRootID  int64
}

// newValueInterner constructs the interner and mints the self-typed
// root: a Value whose own TypeID is its own id, assigned in the same
// commit so the cycle is never observable as a dangling reference.
func newValueInterner(buf *store.Buffer[store.Value]) *valueInterner {
	vi := &valueInterner{buf: buf, sharedTypes: make(map[reflect.Type]int64)}
	rec, id := buf.DryAdd(func(id int64) store.Value {
		return store.Value{ID: id, Repr: typeOfTypesRepr}
	})
	rec.TypeID = id
	buf.Commit(id, rec)
	vi.typeRootID = id
	return vi
}

// TypeRootID returns the id of the self-typed root Value.
func (vi *valueInterner) TypeRootID() int64 { return vi.typeRootID }

// AddValue interns obj as a new Value observation and returns its id.
func (vi *valueInterner) AddValue(obj any) int64 {
	if obj == nil {
		return vi.addTyped(reflect.TypeOf(nilMarker{}), "None")
	}
	return vi.addTyped(reflect.TypeOf(obj), reprOf(obj))
}

// addTyped looks up (or mints) the shared type Value for t, then always
// mints a fresh instance Value pointing at it.
func (vi *valueInterner) addTyped(t reflect.Type, repr string) int64 {
	typeID, ok := vi.sharedTypes[t]
	if !ok {
		typeID = vi.addTypeValue(t)
		vi.sharedTypes[t] = typeID
	}
	_, id := vi.buf.Add(func(id int64) store.Value {
		return store.Value{ID: id, Repr: repr, TypeID: typeID}
	})
	return id
}

// addTypeValue mints the single shared Value representing type t. Its
// own TypeID is the self-typed root, one step below the cycle.
func (vi *valueInterner) addTypeValue(t reflect.Type) int64 {
	_, id := vi.buf.Add(func(id int64) store.Value {
		return store.Value{ID: id, Repr: fmt.Sprintf("<type %q>", t.String()), TypeID: vi.typeRootID}
	})
	return id
}

// reprOf produces a stable textual representation of obj, the Go
// analogue of Python's repr().
func reprOf(obj any) string {
	if s, ok := obj.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%#v", obj)
}

// typeChainLength walks v's TypeID chain until it reaches the self-typed
// root, returning the number of hops taken.
// It is a diagnostic, not a hot path: callers pass a snapshot of the
// Value buffer.
func typeChainLength(values []store.Value, root int64, v store.Value) (int, bool) {
	byID := make(map[int64]store.Value, len(values))
	for _, rec := range values {
		byID[rec.ID] = rec
	}
	steps := 0
	cur := v
	for steps <= len(values)+1 {
		if cur.ID == root {
			return steps, true
		}
		next, ok := byID[cur.TypeID]
		if !ok {
			return steps, false
		}
		if next.ID == cur.ID {
			return steps, false
		}
		cur = next
		steps++
	}
	return steps, false
}
