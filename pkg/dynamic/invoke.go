// Package dynamic implements the Dynamic Invoker: the argument-mapping
// call site that supplies a plugin-provided function its declared inputs
// by type then by name, optionally asserting the returned value against an
// expected type. It is a thin, typed layer over
// github.com/hashicorp/go-argmapper — the same dependency-injection
// library the traced reference implementation uses for this exact
// responsibility.
package dynamic

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-argmapper"

	"github.com/stratumhq/stratum/pkg/errutil"
)

// UnsatisfiedError reports that fn declared an input no supplied argument
// (by type or by name) could satisfy.
type UnsatisfiedError struct {
	Name string
}

func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("dynamic: argument unsatisfied: %s", e.Name)
}

// Call invokes fn, resolving its declared parameters from args (matched by
// type, then by name) with help from mappers for any type conversions
// required along the way. If expectedType is a non-nil pointer to the
// desired return type (e.g. (*int64)(nil)), the returned value is asserted
// assignable to it; a pointer-typed return such as *component.CommandInfo
// also matches when expectedType is that pointer type itself. A nil
// expectedType returns the raw value unconverted.
//
// Argument-resolution failures are reported as a single composite error
// via errutil; invocation errors from fn itself bubble verbatim.
func Call(
	fn interface{},
	expectedType interface{},
	mappers []*argmapper.Func,
	args ...argmapper.Arg,
) (interface{}, error) {
	af, err := argmapper.NewFunc(fn)
	if err != nil {
		return nil, fmt.Errorf("dynamic: %q is not callable: %w", describe(fn), err)
	}

	callArgs := make([]argmapper.Arg, 0, len(args)+1)
	callArgs = append(callArgs, args...)
	if len(mappers) > 0 {
		callArgs = append(callArgs, argmapper.ConverterFunc(mappers...))
	}

	result := af.Call(callArgs...)
	if err := result.Err(); err != nil {
		var unsat *argmapper.ErrArgumentUnsatisfied
		if errors.As(err, &unsat) {
			return nil, composeUnsatisfied(err)
		}
		return nil, err
	}

	out := result.Out(0)
	if expectedType == nil {
		return out, nil
	}
	want := reflect.TypeOf(expectedType)
	if out != nil {
		got := reflect.TypeOf(out)
		if got.AssignableTo(want) || (want.Kind() == reflect.Ptr && got.AssignableTo(want.Elem())) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("dynamic: returned %T, not assignable to %s", out, want)
}

// composeUnsatisfied flattens argmapper's own aggregate (when it reports
// more than one missing argument) into the core's single aggregate shape
// so callers see every misuse at once rather than failing fast on the
// first.
func composeUnsatisfied(err error) error {
	type multi interface{ WrappedErrors() []error }
	m, ok := err.(multi)
	if !ok {
		return &UnsatisfiedError{Name: err.Error()}
	}

	var agg error
	for _, sub := range m.WrappedErrors() {
		agg = errutil.Append(agg, &UnsatisfiedError{Name: sub.Error()})
	}
	return agg
}

func describe(fn interface{}) string {
	if fn == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", fn)
}
