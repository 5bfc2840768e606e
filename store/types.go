// Package store holds the append-only typed record buffers that back the
// provenance collector together with the Persistence boundary contract
// it drains into.
package store

import "time"

// DependencyMode is the set of tags a Dependency edge can carry: the
// constants below, plus the "<mode>-bind" forms (such as
// "argument-bind") that WithBindSuffix derives from them. The bind rule
// (see collector.findValueID) pattern-matches over these values.
type DependencyMode string

const (
	ModeAssign         DependencyMode = "assign"
	ModeAssignment     DependencyMode = "assignment"
	ModeArgument       DependencyMode = "argument"
	ModeDependency     DependencyMode = "dependency"
	ModeDependencyBind DependencyMode = "dependency-bind"
	ModeAssignBind     DependencyMode = "assign-bind"
	ModeItem           DependencyMode = "item"
	ModeFunc           DependencyMode = "func"
	ModeCollection     DependencyMode = "collection"
	ModeDecorate       DependencyMode = "decorate"
)

// IsDependencyLike reports whether the mode starts with "dependency",
// the condition the bind rule uses to decide whether to rewrite a mode
// to "assign" outright instead of merely appending "-bind".
func (m DependencyMode) IsDependencyLike() bool {
	return len(m) >= len(ModeDependency) && m[:len(ModeDependency)] == ModeDependency
}

// HasBindSuffix reports whether the mode already ends in "-bind".
func (m DependencyMode) HasBindSuffix() bool {
	const suffix = "-bind"
	return len(m) >= len(suffix) && string(m[len(m)-len(suffix):]) == suffix
}

// WithBindSuffix applies the bind rule rewrite: dependency-like modes
// become "assign" outright; anything else gains a "-bind" suffix unless
// it already has one.
func (m DependencyMode) WithBindSuffix() DependencyMode {
	if m.IsDependencyLike() {
		return ModeAssign
	}
	if m.HasBindSuffix() {
		return m
	}
	return m + "-bind"
}

// IsArgumentLike reports whether the mode starts with "argument" (i.e.
// is ModeArgument or its bind-suffixed form), the condition
// createArgumentDependencies uses to decide which collected dependencies
// of a no-known-definition call also become dependency-mode edges.
func (m DependencyMode) IsArgumentLike() bool {
	return len(m) >= len(ModeArgument) && m[:len(ModeArgument)] == ModeArgument
}

// TrialStatus is the trial lifecycle state machine:
// created -> running -> (finished | unfinished | backup).
type TrialStatus string

const (
	TrialCreated    TrialStatus = "created"
	TrialRunning    TrialStatus = "running"
	TrialFinished   TrialStatus = "finished"
	TrialUnfinished TrialStatus = "unfinished"
	TrialBackup     TrialStatus = "backup"
)

// CodeMode is the closed set of access modes a CodeComponent can carry.
type CodeMode string

const (
	CodeRead  CodeMode = "r"
	CodeWrite CodeMode = "w"
	CodeDel   CodeMode = "d"
)

// CodeComponent is produced by the definition-time analyser (external
// collaborator); the core only ever references ids it is handed.
type CodeComponent struct {
	ID          int64
	Name        string
	Type        string
	Mode        CodeMode
	FirstLine   int
	FirstCol    int
	LastLine    int
	LastCol     int
	ContainerID int64
}

// Value is one observation of a runtime object's state. TypeID points at
// a Value whose own TypeID ultimately cycles back on the distinguished
// self-typed "type" root.
type Value struct {
	ID     int64
	Repr   string
	TypeID int64
}

// Evaluation is one observation of a value produced by a code component
// at a moment. For a call's Evaluation, Moment is overwritten when the
// call returns (CloseActivation).
type Evaluation struct {
	ID              int64
	CodeComponentID int64
	ActivationID    int64
	Moment          time.Time
	ValueID         int64
}

// Activation is one dynamic invocation of a code block: a node in the
// activation tree. ClosureID/CallerID are nil only for the synthetic
// "<now>" root.
type Activation struct {
	ID           int64
	Name         string
	Start        time.Time
	CodeBlockID  int64
	EvaluationID int64
	ClosureID    *int64
	CallerID     *int64
}

// Finish returns the activation's closing moment, i.e. its own
// Evaluation's Moment.
func (a Activation) Finish(evalByID func(int64) (Evaluation, bool)) (time.Time, bool) {
	ev, ok := evalByID(a.EvaluationID)
	if !ok {
		return time.Time{}, false
	}
	return ev.Moment, true
}

// Duration returns the activation's wall-clock span in microseconds.
func (a Activation) Duration(evalByID func(int64) (Evaluation, bool)) (int64, bool) {
	finish, ok := a.Finish(evalByID)
	if !ok {
		return 0, false
	}
	return finish.Sub(a.Start).Microseconds(), true
}

// Dependency is a tagged directed edge between two evaluations.
type Dependency struct {
	ID                      int64
	DependentActivationID   int64
	DependentEvaluationID   int64
	DependencyActivationID  int64
	DependencyEvaluationID  int64
	Mode                    DependencyMode
}

// Compartment tracks the time-indexed association between a container
// value and the value observed at one of its keys.
type Compartment struct {
	ID               int64
	ContainerValueID int64
	KeyRepr          string
	MemberValueID    int64
	Moment           time.Time
}

// ExceptionRecord captures a user exception raised during a call.
type ExceptionRecord struct {
	ID           int64
	ActivationID int64
	Type         string
	Message      string
	Moment       time.Time
}
