// Package sshexec is the "ssh-exec" Command plugin: a thin adapter from
// the Command capability set (component.Command) onto the
// pkg/transports/ssh Transport, so the ssh client already adapted from
// the teacher's stack has a real caller inside the core instead of
// sitting unwired.
package sshexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/core"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/telemetry"
	transportssh "github.com/stratumhq/stratum/pkg/transports/ssh"
	"github.com/stratumhq/stratum/pkg/ui"
)

// Name is the Command-kind factory name this plugin registers under.
const Name = "ssh-exec"

// Plugin runs a single remote command over SSH against the Target named
// by its "--target" CLI flag, translated into a keyed map by the core's
// CommandArgsToMap default mapper.
type Plugin struct {
	meta map[string]string
}

// New constructs an ssh-exec Plugin.
func New() *Plugin { return &Plugin{meta: map[string]string{}} }

// SetRequestMetadata implements component.Specializable.
func (p *Plugin) SetRequestMetadata(key, value string) { p.meta[key] = value }

// CommandInfoFunc implements component.Command.
func (p *Plugin) CommandInfoFunc() interface{} {
	return func() (*component.CommandInfo, error) {
		return &component.CommandInfo{
			Name:     Name,
			Synopsis: "run a command on a target over SSH",
			Help:     "Dials the target named by --target and runs the remaining words as a remote command.",
			Flags: []component.CommandFlag{
				{Name: "target", Description: "target resource id or name to dial"},
			},
		}, nil
	}
}

// ExecuteFunc implements component.Command. It resolves --target and the
// remote command words, dials the target's connection attributes, runs
// the command, and surfaces non-zero exit or connection failure as a
// task failure.
func (p *Plugin) ExecuteFunc(words []string) interface{} {
	return func(ctx context.Context, logger *telemetry.Logger, u ui.UI, project *core.Project, args map[string]string) (int64, error) {
		targetRef := args["target"]
		if targetRef == "" {
			return 0, fmt.Errorf("sshexec: --target is required")
		}

		target := project.Target(targetRef)
		if target == nil {
			return 0, fmt.Errorf("sshexec: target %q is not loaded on project %q", targetRef, project.Name())
		}

		remoteCmd := remoteCommand(words)
		if remoteCmd == "" {
			return 0, fmt.Errorf("sshexec: no remote command given")
		}

		cfg := transportssh.DefaultConfig(target.Address(), target.User())
		if target.Port() != 0 {
			cfg.Port = target.Port()
		}
		if target.KeyPath() != "" {
			cfg.AuthMethod = transportssh.AuthMethodKey
			cfg.PrivateKeyPath = target.KeyPath()
		}

		client, err := transportssh.NewSSHClient(cfg)
		if err != nil {
			return 0, fmt.Errorf("sshexec: building ssh client for %q: %w", targetRef, err)
		}
		if err := client.Connect(ctx); err != nil {
			return 0, fmt.Errorf("sshexec: connecting to %q: %w", targetRef, err)
		}
		defer func() {
			if derr := client.Disconnect(); derr != nil {
				logger.Warnf("sshexec: error disconnecting from %q: %v", targetRef, derr)
			}
		}()

		stdout, stderr, err := client.ExecuteCommand(ctx, remoteCmd)
		if stdout != "" {
			u.Output(stdout)
		}
		if err != nil {
			if stderr != "" {
				u.Output(stderr)
			}
			return 1, fmt.Errorf("sshexec: command %q on %q failed: %w", remoteCmd, targetRef, err)
		}
		return 0, nil
	}
}

// remoteCommand drops the leading "ssh-exec" root token and any "--flag"
// words, leaving the plain remote command.
func remoteCommand(words []string) string {
	var rest []string
	for i, w := range words {
		if i == 0 && w == Name {
			continue
		}
		if strings.HasPrefix(w, "--") {
			continue
		}
		rest = append(rest, w)
	}
	return strings.Join(rest, " ")
}

var _ component.Command = (*Plugin)(nil)
var _ component.Specializable = (*Plugin)(nil)

// Register installs the ssh-exec Command factory into reg.
func Register(reg *factory.Registry) {
	reg.Register(component.KindCommand, Name, func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		p := New()
		return &component.Instance{
			Kind:  component.KindCommand,
			Name:  Name,
			Value: p,
			Close: func() error { return nil },
		}, nil
	})
}
