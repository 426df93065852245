// Package errutil provides the error aggregation and classification helpers
// shared across Stratum's core: a flattening multi-error accumulator for
// fan-out operations (Close, SaveFull) and a small set of sentinel/typed
// errors for the construction, option, and specialization failure classes.
package errutil

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Append adds err to agg, flattening nested aggregates, and returns the
// resulting aggregate. A nil err is the identity: Append(agg, nil) == agg.
// A nil agg with a non-nil err yields an aggregate that is observably
// indistinguishable from the raw error (Error(), Unwrap(), errors.Is/As all
// behave the same) until a second error is appended.
func Append(agg error, err error) error {
	if err == nil {
		return agg
	}
	if agg == nil {
		return err
	}
	return multierror.Append(agg, err)
}

// Errors returns the flat list of errors held by agg, or nil if agg is nil
// or not an aggregate (in which case it is itself the single error).
func Errors(agg error) []error {
	if agg == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(agg, &merr) {
		return merr.Errors
	}
	return []error{agg}
}

// Len reports how many errors are held by agg.
func Len(agg error) int {
	if agg == nil {
		return 0
	}
	return len(Errors(agg))
}

// Class distinguishes the error taxonomy described by the core's error
// handling design: construction errors abort the enclosing operation,
// option errors are aggregated across every option tried, and so on.
type Class string

const (
	// ClassConstruction covers missing-record/client/data-directory failures.
	ClassConstruction Class = "construction"
	// ClassOption covers a single failed functional option during construction.
	ClassOption Class = "option"
	// ClassUnknownFactory covers unknown ComponentKind/name lookups.
	ClassUnknownFactory Class = "unknown_factory"
	// ClassSpecialization covers NotSpecializable refusals.
	ClassSpecialization Class = "specialization"
	// ClassInvocation covers plugin invocation failures bubbled verbatim.
	ClassInvocation Class = "invocation"
	// ClassInterrupt is the distinguished, non-recoverable Warden interrupt kind.
	ClassInterrupt Class = "interrupt"
)

// ClassifiedError attaches a Class and optional context (kind/name) to an
// underlying error without losing the ability to errors.Is/As/Unwrap it.
type ClassifiedError struct {
	Class Class
	Kind  string
	Name  string
	Err   error
}

func (e *ClassifiedError) Error() string {
	switch {
	case e.Kind != "" && e.Name != "":
		return fmt.Sprintf("%s: %s/%s: %v", e.Class, e.Kind, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Name, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Is implements class+kind+name equality for errors.Is, the same
// contract EngineError used for class+code equality in the domain stack
// this core was adapted from.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Kind == t.Kind && e.Name == t.Name
}

// New wraps err with the given class and optional kind/name context.
func New(class Class, kind, name string, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Kind: kind, Name: name, Err: err}
}

// IsInterrupt reports whether err is (or wraps) the Warden's distinguished
// interrupt error.
func IsInterrupt(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInterrupt
	}
	return false
}
