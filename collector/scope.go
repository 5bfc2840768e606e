package collector

import (
	"time"

	"github.com/noworkflow/provenance/store"
)

// scopeKind is the tag of the dependencyScope sum type.
type scopeKind int

const (
	scopePlain scopeKind = iota
	scopeCompartment
	scopeCollection
)

// dependencyRecord is a pending Dependency edge plus the runtime value
// it was captured from (needed by the bind rule, findValueID) and,
// for argument-mode records, the parameter binding metadata consumed by
// MatchArguments.
type dependencyRecord struct {
	dependencyActivationID int64
	dependencyEvaluationID int64
	value                  any
	valueID                int64
	mode                   store.DependencyMode

	argName string
	argKind string // "argument" | "keyword" | "*" | "**", set only for argument.after records

	subDependencies []dependencyRecord
}

// compartmentItem is one (key, member value id, moment) triple collected
// while a collection scope (dict/list/set/tuple) is open.
type compartmentItem struct {
	keyRepr       string
	memberValueID int64
	moment        time.Time
}

// dependencyScope is one frame of a scopeStack. Plain scopes carry only
// the dependency list; compartment scopes additionally hold a pending
// key slot ("container/item"); collection scopes additionally hold
// the ordered item list used to emit Compartments ("dict/list/set/
// tuple").
type dependencyScope struct {
	kind         scopeKind
	dependencies []dependencyRecord

	pendingKey    any
	hasPendingKey bool

	items []compartmentItem
}

func newPlainScope() *dependencyScope       { return &dependencyScope{kind: scopePlain} }
func newCompartmentScope() *dependencyScope { return &dependencyScope{kind: scopeCompartment} }
func newCollectionScope() *dependencyScope  { return &dependencyScope{kind: scopeCollection} }

func (s *dependencyScope) reset(kind scopeKind) {
	s.kind = kind
	s.dependencies = s.dependencies[:0]
	s.pendingKey = nil
	s.hasPendingKey = false
	s.items = s.items[:0]
}

func (s *dependencyScope) add(dep dependencyRecord) {
	s.dependencies = append(s.dependencies, dep)
}

// clone returns a fresh plain scope carrying a copy of s's dependencies,
// all retagged with mode. Used by the assignment engine's fallback
// "aggregate clone" path.
func (s *dependencyScope) clone(mode store.DependencyMode) *dependencyScope {
	out := newPlainScope()
	for _, d := range s.dependencies {
		d.mode = mode
		out.add(d)
	}
	return out
}

// scopeStack is the per-activation LIFO stack of dependency-collection
// frames. Hooks push a fresh scope at "before" and pop it at "after";
// the total scope count must be conserved across any hook call.
type scopeStack struct {
	frames []*dependencyScope
}

func (s *scopeStack) push(scope *dependencyScope) {
	s.frames = append(s.frames, scope)
}

func (s *scopeStack) pop() *dependencyScope {
	if len(s.frames) == 0 {
		invariant("pop from empty dependency scope stack")
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

func (s *scopeStack) top() *dependencyScope {
	if len(s.frames) == 0 {
		invariant("peek of empty dependency scope stack")
	}
	return s.frames[len(s.frames)-1]
}

func (s *scopeStack) depth() int { return len(s.frames) }
