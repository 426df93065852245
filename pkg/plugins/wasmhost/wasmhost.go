// Package wasmhost is the "wasmhost" Host plugin: it reports whether the
// current environment can host WASM-compiled providers, backed by the
// wazero runtime wired through pkg/providers/host's manifest-scanning
// Registry rather than duplicating that logic here.
package wasmhost

import (
	"context"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/providers/host"
)

// Name is the Host-kind factory name this plugin registers under.
const Name = "wasmhost"

// Plugin detects whether ProviderDir contains at least one loadable
// WASM provider manifest, using host.Registry's wazero-backed scan/parse
// path. A missing or empty directory is a normal "not detected" result,
// never an error: Host detection is advisory, per spec.md section 6.
type Plugin struct {
	registry    *host.Registry
	providerDir string
	meta        map[string]string
}

// New constructs a wasmhost Plugin for providerDir; manifests are scanned
// when Detect runs, not here.
func New(providerDir string, hostConfig *host.WASMHostConfig) *Plugin {
	return &Plugin{
		registry:    host.NewRegistry(providerDir, hostConfig),
		providerDir: providerDir,
		meta:        map[string]string{},
	}
}

// SetRequestMetadata implements component.Specializable.
func (p *Plugin) SetRequestMetadata(key, value string) { p.meta[key] = value }

// Registry exposes the underlying WASM provider registry so a Provider-kind
// factory can resolve instances this Host plugin has already scanned,
// rather than re-scanning the same directory.
func (p *Plugin) Registry() *host.Registry { return p.registry }

// DetectFunc implements component.Host.
func (p *Plugin) DetectFunc() interface{} {
	return func(ctx context.Context) (bool, error) {
		if err := p.registry.ScanDirectory(ctx, p.providerDir); err != nil {
			return false, nil
		}
		list, err := p.registry.List(ctx)
		if err != nil {
			return false, nil
		}
		return len(list) > 0, nil
	}
}

var _ component.Host = (*Plugin)(nil)
var _ component.Specializable = (*Plugin)(nil)

// Register installs the wasmhost Host factory into reg; each construction
// builds a fresh, empty registry for providerDir, which Detect then scans.
func Register(reg *factory.Registry, providerDir string, hostConfig *host.WASMHostConfig) {
	reg.Register(component.KindHost, Name, func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		p := New(providerDir, hostConfig)
		return &component.Instance{
			Kind:  component.KindHost,
			Name:  Name,
			Value: p,
			Close: func() error { return p.registry.Close(ctx) },
		}, nil
	})
}
