package core

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-argmapper"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/config"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/policy"
	"github.com/stratumhq/stratum/pkg/serverclient"
	"github.com/stratumhq/stratum/pkg/telemetry"
	"github.com/stratumhq/stratum/pkg/ui"
)

// Option configures a Basis at construction time. Options are applied in
// the order given; every error any of them returns is aggregated (never
// short-circuited) so NewBasis reports every misuse in a single call, per
// spec.md section 4.E step 1.
type Option func(*Basis) error

// WithClient sets the Persistence Client used to resolve and save the
// Basis's record.
func WithClient(client serverclient.Client) Option {
	return func(b *Basis) error {
		b.client = client
		return nil
	}
}

// WithLogger sets the root logger a Basis derives its namespaced
// component logger from. If unset, NewBasis derives one from
// telemetry.DefaultConfig().
func WithLogger(logger *telemetry.Logger) Option {
	return func(b *Basis) error {
		b.logger = logger
		return nil
	}
}

// WithFactories sets the Factory Registry the Basis resolves plugins
// through. If unset, NewBasis uses an empty factory.New() registry.
func WithFactories(reg *factory.Registry) Option {
	return func(b *Basis) error {
		b.factories = reg
		return nil
	}
}

// WithMappers appends to the Dynamic Invoker mapper list. Supplying any
// mapper here suppresses the built-in default-mapper seeding step.
func WithMappers(mappers ...*argmapper.Func) Option {
	return func(b *Basis) error {
		b.mappers = append(b.mappers, mappers...)
		return nil
	}
}

// WithUI sets the status-indicator UI. If unset, NewBasis defaults to a
// ui.ConsoleUI bound to the construction context.
func WithUI(u ui.UI) Option {
	return func(b *Basis) error {
		b.ui = u
		return nil
	}
}

// WithJobInfo sets the job identity injected into Run's Dynamic Invoker
// call.
func WithJobInfo(info component.JobInfo) Option {
	return func(b *Basis) error {
		b.jobInfo = info
		return nil
	}
}

// WithDataDir sets the Basis's data directory. A missing data directory
// is a fatal construction error.
func WithDataDir(dir string) Option {
	return func(b *Basis) error {
		b.dataDir = dir
		return nil
	}
}

// WithConfig sets an already-evaluated Config, bypassing config.Load
// entirely.
func WithConfig(cfg *config.Config) Option {
	return func(b *Basis) error {
		b.config = cfg
		return nil
	}
}

// WithConfigSources sets the CUE/Starlark source paths config.Load
// evaluates during construction step 6, when WithConfig was not used.
func WithConfigSources(sources []string) Option {
	return func(b *Basis) error {
		b.configSources = sources
		return nil
	}
}

// WithPolicyEngine wires an OPA policy.Engine in as the gate Run
// evaluates immediately before dispatching a task. A Basis with no
// policy engine dispatches unconditionally.
func WithPolicyEngine(engine *policy.Engine) Option {
	return func(b *Basis) error {
		b.policy = engine
		return nil
	}
}

// WithBasisName resolves (inserting if necessary) the Basis's
// server-side record by name, the lazy equivalent of the source's
// WithBasisRef for the empty-resource-id case. It requires WithClient to
// have already run (options are applied in order).
func WithBasisName(ctx context.Context, name, path string) Option {
	return func(b *Basis) error {
		if b.client == nil {
			return fmt.Errorf("core: WithBasisName requires WithClient earlier in the option list")
		}
		rec, err := b.client.UpsertBasis(ctx, &serverclient.BasisRecord{Name: name, Path: path})
		if err != nil {
			return err
		}
		b.record = rec
		if b.dataDir == "" {
			b.dataDir = rec.Path
		}
		return nil
	}
}

// WithBasisResourceID resolves the Basis's server-side record by an
// already-known resource id. It requires WithClient to have already run.
// Unlike WithBasisName, it never inserts: an unknown resource id is
// fatal.
func WithBasisResourceID(ctx context.Context, resourceID string) Option {
	return func(b *Basis) error {
		if b.client == nil {
			return fmt.Errorf("core: WithBasisResourceID requires WithClient earlier in the option list")
		}
		rec, found, err := b.client.FindBasis(ctx, resourceID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("core: requested basis %q not found", resourceID)
		}
		b.record = rec
		if b.dataDir == "" {
			b.dataDir = rec.Path
		}
		return nil
	}
}

// ProjectOption configures a Project, the same way Option configures a
// Basis.
type ProjectOption func(*Project) error

// WithProjectName resolves (inserting if necessary) the Project's
// server-side record by name, scoped to the owning Basis.
func WithProjectName(ctx context.Context, name, path string) ProjectOption {
	return func(p *Project) error {
		p.record = &serverclient.ProjectRecord{Name: name, Path: path}
		return nil
	}
}

// WithProjectResourceID resolves the Project's server-side record by an
// already-known resource id.
func WithProjectResourceID(ctx context.Context, client serverclient.Client, resourceID string) ProjectOption {
	return func(p *Project) error {
		rec, found, err := client.FindProject(ctx, resourceID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("core: requested project %q not found", resourceID)
		}
		p.record = rec
		return nil
	}
}

// WithProjectDataDir overrides the Project's data directory, which
// otherwise defaults to a subdirectory of the owning Basis's.
func WithProjectDataDir(dir string) ProjectOption {
	return func(p *Project) error {
		p.dataDir = dir
		return nil
	}
}

// TargetOption configures a Target, the same way Option configures a
// Basis.
type TargetOption func(*Target) error

// WithTargetResourceID loads an already-persisted Target by resource id.
func WithTargetResourceID(resourceID string) TargetOption {
	return func(t *Target) error {
		t.pendingResourceID = resourceID
		return nil
	}
}

// WithTargetRecord seeds a Target directly from an already-constructed
// record, for targets created fresh rather than loaded from storage.
func WithTargetRecord(rec *serverclient.TargetRecord) TargetOption {
	return func(t *Target) error {
		t.record = rec
		return nil
	}
}
