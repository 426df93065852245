package component

import (
	"context"
	"encoding/json"
)

// CommandInfo describes a single command in the tree a Command plugin
// exposes. Subcommands nest under Subcommands; the core flattens the tree
// during Basis.Init by space-joining parent and child names.
type CommandInfo struct {
	Name        string
	Synopsis    string
	Help        string
	Flags       []CommandFlag
	Subcommands []*CommandInfo
}

// CommandFlag describes a single CLI flag a command accepts. The core
// never interprets flag semantics itself; it only carries them through to
// the external CLI layer via the pluggable flag mapper.
type CommandFlag struct {
	Name        string
	Description string
	Default     string
}

// Command is the capability set a plugin value must implement to be
// resolved under ComponentKind Command.
//
// CommandInfoFunc and ExecuteFunc return plain Go function values rather
// than being called directly: the core routes them through the Dynamic
// Invoker, which resolves their declared parameters from a typed argument
// vector rather than the caller supplying them positionally. This mirrors
// how the traced reference implementation shapes its Command capability.
type Command interface {
	// CommandInfoFunc returns a func(...) (*CommandInfo, error) (or a
	// subset of those inputs) to be invoked through the Dynamic Invoker.
	CommandInfoFunc() interface{}

	// ExecuteFunc returns a func(...) (int64, error) closing over words,
	// to be invoked through the Dynamic Invoker with expected return
	// type int64.
	ExecuteFunc(words []string) interface{}
}

// Host is the capability set a plugin value must implement to be resolved
// under ComponentKind Host.
type Host interface {
	// DetectFunc returns a func(...) (bool, error) to be invoked through
	// the Dynamic Invoker.
	DetectFunc() interface{}
}

// Provider is the capability set a plugin value must implement to be
// resolved under ComponentKind Provider. It is a deliberately narrow slice
// of a full resource-provider contract: the core only needs enough to
// construct, read, and tear down a provider-backed resource to exercise
// the Provider ComponentKind end to end. Deciding what a provider actually
// does to a real resource is explicitly out of scope.
type Provider interface {
	// Init initializes the provider with its configuration.
	Init(ctx context.Context, cfg ProviderConfig) error

	// Read retrieves the current state of a resource.
	Read(ctx context.Context, resourceID string) (json.RawMessage, error)

	// Apply applies a desired state to a resource, returning its new state.
	Apply(ctx context.Context, resourceID string, desired json.RawMessage) (json.RawMessage, error)

	// Destroy removes a resource.
	Destroy(ctx context.Context, resourceID string) error

	// Metadata returns static information about the provider.
	Metadata() ProviderMetadata
}

// ProviderConfig carries provider initialization configuration.
type ProviderConfig struct {
	Name         string
	Version      string
	Config       json.RawMessage
	Capabilities []string
}

// ProviderMetadata carries static provider information.
type ProviderMetadata struct {
	Name        string
	Version     string
	Description string
}

// JobInfo is the identity of the job driving the current task, if any.
// Basis.Run injects it into the Execute call; Init, Host detection and
// Project calls do not receive it.
type JobInfo struct {
	ID    string
	Phase string
}
