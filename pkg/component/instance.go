package component

import (
	"errors"
	"strings"
)

// Instance is a constructed plugin value paired with its close hook and a
// setter for request-scoped metadata. It has exactly one owner (a Basis or
// Project); factory lookups only ever hand out borrowed references, never
// transfer ownership.
type Instance struct {
	Kind  Kind
	Name  string
	Value interface{}
	Close func() error
}

// Specializable is the capability a plugin value may additionally expose
// to accept request-scoped metadata stamped onto it before dispatch.
type Specializable interface {
	SetRequestMetadata(key, value string)
}

// ErrNotSpecializable is returned by Specialize when the instance's value
// does not implement Specializable.
var ErrNotSpecializable = errors.New("component: not specializable")

// Specializer supplies the metadata Specialize stamps onto a specializable
// instance. A Basis and a Project both satisfy this by exposing their own
// resource id and the server endpoint they were constructed with.
type Specializer interface {
	BasisResourceID() string
	ServiceEndpoint() string
}

// Specialize stamps request-scoped metadata onto inst's value ahead of
// dispatch: at minimum basis_resource_id and vagrant_service_endpoint.
// Values that do not implement Specializable fail with
// ErrNotSpecializable; this is fatal for the specific call, never the
// owning scope.
func Specialize(inst *Instance, scope Specializer) error {
	s, ok := inst.Value.(Specializable)
	if !ok {
		return ErrNotSpecializable
	}
	s.SetRequestMetadata("basis_resource_id", scope.BasisResourceID())
	s.SetRequestMetadata("vagrant_service_endpoint", scope.ServiceEndpoint())
	return nil
}

// NormalizeCommandName reduces a command-line invocation to the root token
// used for factory lookup: everything before the first whitespace.
func NormalizeCommandName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
