// Package versioncmd is the simplest possible Command plugin: a pure
// "version" command carrying no transport or runtime dependency, used to
// exercise the Factory Registry / Dynamic Invoker / Specialization path
// end to end without any domain business logic attached.
package versioncmd

import (
	"context"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/ui"
)

// Name is the Command-kind factory name this plugin registers under.
const Name = "version"

// Plugin implements component.Command and component.Specializable. It
// reports a fixed version string and carries the request metadata
// Specialize stamps onto it, purely to prove the specialization contract
// round-trips.
type Plugin struct {
	version string
	meta    map[string]string
}

// New constructs a version Plugin reporting the given version string.
func New(version string) *Plugin {
	return &Plugin{version: version, meta: map[string]string{}}
}

// SetRequestMetadata implements component.Specializable.
func (p *Plugin) SetRequestMetadata(key, value string) {
	p.meta[key] = value
}

// Metadata returns the request metadata stamped by the most recent
// Specialize call, for callers that want to confirm it round-tripped.
func (p *Plugin) Metadata() map[string]string { return p.meta }

// CommandInfoFunc implements component.Command.
func (p *Plugin) CommandInfoFunc() interface{} {
	return func() (*component.CommandInfo, error) {
		return &component.CommandInfo{
			Name:     Name,
			Synopsis: "print the Stratum version",
			Help:     "Prints the running Stratum build version and exits.",
		}, nil
	}
}

// ExecuteFunc implements component.Command. It ignores words: "version"
// takes no arguments.
func (p *Plugin) ExecuteFunc(words []string) interface{} {
	return func(u ui.UI) (int64, error) {
		u.Output(p.version)
		return 0, nil
	}
}

var _ component.Command = (*Plugin)(nil)
var _ component.Specializable = (*Plugin)(nil)

// Register installs the version Command factory into reg.
func Register(reg *factory.Registry, version string) {
	reg.Register(component.KindCommand, Name, func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		p := New(version)
		return &component.Instance{
			Kind:  component.KindCommand,
			Name:  Name,
			Value: p,
			Close: func() error { return nil },
		}, nil
	})
}
