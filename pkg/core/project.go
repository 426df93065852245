package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-argmapper"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/dynamic"
	"github.com/stratumhq/stratum/pkg/errutil"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/serverclient"
	"github.com/stratumhq/stratum/pkg/telemetry"
	"github.com/stratumhq/stratum/pkg/ui"
)

// Project is a child scope of exactly one Basis, owning a set of Targets
// the same way a Basis owns Projects, per spec.md section 4.F.
type Project struct {
	ctx    context.Context
	basis  *Basis
	logger *telemetry.Logger
	ui     ui.UI

	factories *factory.Registry
	mappers   []*argmapper.Func

	record  *serverclient.ProjectRecord
	dataDir string

	mu            sync.Mutex
	targetsByName map[string]*Target
	targetsByID   map[string]*Target
	closers       []func() error
	closed        bool
	closeErr      error
}

// Name returns the Project's server-side record name.
func (p *Project) Name() string {
	if p.record == nil {
		return ""
	}
	return p.record.Name
}

// ResourceID returns the Project's server-side resource id.
func (p *Project) ResourceID() string {
	if p.record == nil {
		return ""
	}
	return p.record.ResourceID
}

// BasisResourceID implements component.Specializer, delegating to the
// owning Basis: a Project-scoped plugin is still specialized against the
// root Basis's identity.
func (p *Project) BasisResourceID() string { return p.basis.BasisResourceID() }

// ServiceEndpoint implements component.Specializer.
func (p *Project) ServiceEndpoint() string { return p.basis.ServiceEndpoint() }

// Basis returns the owning Basis.
func (p *Project) Basis() *Basis { return p.basis }

// DataDir returns the Project's data directory.
func (p *Project) DataDir() string { return p.dataDir }

// Target returns the loaded Target indexed under nameOrID, checking both
// the name and resource-id indexes, or nil if none matches.
func (p *Project) Target(nameOrID string) *Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.targetsByName[nameOrID]; ok {
		return t
	}
	if t, ok := p.targetsByID[nameOrID]; ok {
		return t
	}
	return nil
}

// Closer registers c to run once during Close.
func (p *Project) Closer(c func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closers = append(p.closers, c)
}

// LoadTarget is idempotent by resource id, mirroring Basis.LoadProject.
func (p *Project) LoadTarget(ctx context.Context, opts ...TargetOption) (*Target, error) {
	t := &Target{
		ctx:     p.ctx,
		project: p,
		logger:  p.logger,
	}

	var optErr error
	for _, opt := range opts {
		if err := opt(t); err != nil {
			optErr = errutil.Append(optErr, errutil.New(errutil.ClassOption, "", "", err))
		}
	}
	if optErr != nil {
		return nil, optErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.pendingResourceID != "" {
		if existing, ok := p.targetsByID[t.pendingResourceID]; ok {
			return existing, nil
		}
		rec, err := p.basis.client.GetTarget(ctx, t.pendingResourceID)
		if err != nil {
			return nil, err
		}
		t.record = rec
	}

	if t.record == nil {
		return nil, errutil.New(errutil.ClassConstruction, "", "", errors.New("core: target data was not properly loaded"))
	}

	if existing, ok := p.targetsByID[t.record.ResourceID]; ok {
		return existing, nil
	}

	if t.record.ProjectResourceID == "" {
		t.record.ProjectResourceID = p.record.ResourceID
	}

	rec, err := p.basis.client.UpsertTarget(ctx, t.record)
	if err != nil {
		return nil, err
	}
	t.record = rec

	if t.logger.IsTrace() {
		t.logger = t.logger.NewComponentLogger("target")
	} else {
		t.logger = t.logger.NewComponentLogger("stratum.core.target")
	}

	p.targetsByName[t.record.Name] = t
	p.targetsByID[t.record.ResourceID] = t

	t.Closer(func() error { return t.Save(ctx) })

	return t, nil
}

// Close closes every loaded Target, then runs every registered Closer,
// aggregating failures from either group. Close is idempotent.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.closeErr
	}

	p.logger.Debugf("closing project %s", p.ResourceID())

	var agg error
	for name, t := range p.targetsByName {
		p.logger.Tracef("closing target %s", name)
		if err := t.Close(); err != nil {
			p.logger.Warnf("error closing target %s: %v", name, err)
			agg = errutil.Append(agg, err)
		}
	}

	for _, c := range p.closers {
		if err := c(); err != nil {
			p.logger.Warnf("error executing closer: %v", err)
			agg = errutil.Append(agg, err)
		}
	}

	p.closed = true
	p.closeErr = agg
	return agg
}

// Save upserts the Project's record through the owning Basis's
// Persistence Client.
func (p *Project) Save(ctx context.Context) error {
	p.logger.Debugf("saving project %s", p.ResourceID())
	rec, err := p.basis.client.UpsertProject(ctx, p.record)
	if err != nil {
		p.logger.Tracef("failed to save project %s: %v", p.ResourceID(), err)
		return err
	}
	p.record = rec
	return nil
}

// SaveFull saves every loaded Target and then the Project itself,
// aggregating failures from either.
func (p *Project) SaveFull(ctx context.Context) error {
	p.mu.Lock()
	targets := make([]*Target, 0, len(p.targetsByID))
	for _, t := range p.targetsByID {
		targets = append(targets, t)
	}
	p.mu.Unlock()

	var agg error
	for _, t := range targets {
		if err := t.Save(ctx); err != nil {
			agg = errutil.Append(agg, err)
		}
	}
	if err := p.Save(ctx); err != nil {
		agg = errutil.Append(agg, err)
	}
	return agg
}

// Run resolves the Command plugin named by task.Component.Name,
// specializes it against the Project's owning Basis identity, and invokes
// Execute via the Project's Dynamic Invoker call site with expected
// return type int64. This mirrors Basis.Run but additionally injects the
// Project itself (typed and named "project"), letting a Command plugin
// declare a *Project parameter to reach project-scoped state such as its
// loaded Targets.
func (p *Project) Run(ctx context.Context, task *Task) error {
	name := component.NormalizeCommandName(task.Component.Name)
	p.logger.Debugf("running task %q in project %s", name, p.Name())

	inst, err := p.buildInstance(ctx, component.KindCommand, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			p.logger.Warnf("error closing command instance %q: %v", name, cerr)
		}
	}()

	if err := component.Specialize(inst, p); err != nil {
		return errutil.New(errutil.ClassSpecialization, string(component.KindCommand), name, err)
	}

	cmd, ok := inst.Value.(component.Command)
	if !ok {
		return fmt.Errorf("core: %q does not implement component.Command", name)
	}

	words := strings.Fields(task.CommandName)
	raw, err := p.call(ctx, cmd.ExecuteFunc(words), (*int64)(nil), argmapper.Typed(task.CLIArgs))
	if err != nil {
		p.logger.Errorf("failed to execute command: type=%s name=%s error=%v", component.KindCommand, name, err)
		return err
	}

	code, _ := raw.(int64)
	if code != 0 {
		return fmt.Errorf("core: task %q exited with code %d", name, code)
	}
	return nil
}

// buildInstance resolves and constructs a plugin instance scoped to this
// Project, the same contract as Basis.buildInstance.
func (p *Project) buildInstance(ctx context.Context, kind component.Kind, name string) (*component.Instance, error) {
	fn, err := p.factories.Lookup(kind, name)
	if err != nil {
		if errors.Is(err, factory.ErrUnknownKind) || errors.Is(err, factory.ErrUnknownName) {
			return nil, errutil.New(errutil.ClassUnknownFactory, string(kind), name, err)
		}
		return nil, err
	}

	logger := p.logger.NewComponentLogger(fmt.Sprintf("plugin.%s.%s", kind, name))
	inst, err := fn(ctx, logger)
	if err != nil {
		return nil, errutil.New(errutil.ClassInvocation, string(kind), name, err)
	}
	return inst, nil
}

// call is the Project's Dynamic Invoker call site, parallel to
// Basis.call but also injecting the owning Project typed and named
// "project".
func (p *Project) call(ctx context.Context, fn interface{}, expectedType interface{}, extra ...argmapper.Arg) (interface{}, error) {
	status := p.ui.Status()
	defer status.Close()

	args := make([]argmapper.Arg, 0, len(extra)+3)
	args = append(args, extra...)
	args = append(args,
		argmapper.Typed(p.basis, p, p.ui, ctx, p.logger),
		argmapper.Named("basis", p.basis),
		argmapper.Named("project", p),
	)

	return dynamic.Call(fn, expectedType, p.mappers, args...)
}

var _ component.Specializer = (*Project)(nil)
