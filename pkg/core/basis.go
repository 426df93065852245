package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-argmapper"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/config"
	"github.com/stratumhq/stratum/pkg/dynamic"
	"github.com/stratumhq/stratum/pkg/errutil"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/policy"
	"github.com/stratumhq/stratum/pkg/serverclient"
	"github.com/stratumhq/stratum/pkg/telemetry"
	"github.com/stratumhq/stratum/pkg/ui"
)

// Basis is the root scope: it owns the Factory Registry, the Dynamic
// Invoker's mapper list, the data directory, the UI, job info, every
// loaded Project, and every registered Closer, per spec.md section 3's
// Basis data model.
type Basis struct {
	ctx context.Context

	logger  *telemetry.Logger
	client  serverclient.Client
	record  *serverclient.BasisRecord
	dataDir string
	ui      ui.UI
	jobInfo component.JobInfo

	factories *factory.Registry
	mappers   []*argmapper.Func

	config        *config.Config
	configSources []string

	policy *policy.Engine

	mu             sync.Mutex
	projectsByName map[string]*Project
	projectsByID   map[string]*Project
	closers        []func() error
	closed         bool
	closeErr       error
}

// Task describes a single dispatch through Run: the Command plugin to
// resolve, the whitespace-joined words passed to its Execute, and the
// raw CLI argument vector routed to plugin functions via the
// CommandArgsToMap mapper.
type Task struct {
	Component   ComponentRef
	CommandName string
	CLIArgs     CLIArgs
}

// ComponentRef names the plugin a Task or Init enumeration resolves.
type ComponentRef struct {
	Name string
}

// CommandRecord is one flattened entry of Basis.Init's command-tree
// output: the whitespace-joined path from root command to this entry,
// plus the static description fields a CommandInfo carries.
type CommandRecord struct {
	Name     string
	Synopsis string
	Help     string
	Flags    []component.CommandFlag
}

// NewBasis constructs a Basis per the seven-step algorithm in spec.md
// section 4.E: apply options (aggregating failures); derive the logger
// namespace; enforce the basis-record/client/data-directory invariants;
// default the UI; seed mappers; load configuration (recovering to an
// empty stub on failure); and finally register the self-save Closer.
func NewBasis(ctx context.Context, opts ...Option) (*Basis, error) {
	b := &Basis{
		ctx:            ctx,
		factories:      factory.New(),
		projectsByName: map[string]*Project{},
		projectsByID:   map[string]*Project{},
	}

	var optErr error
	for _, opt := range opts {
		if err := opt(b); err != nil {
			optErr = errutil.Append(optErr, errutil.New(errutil.ClassOption, "", "", err))
		}
	}
	if optErr != nil {
		return nil, optErr
	}

	if b.logger == nil {
		root, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, fmt.Errorf("core: constructing default logger: %w", err)
		}
		b.logger = root
	}
	if b.logger.IsTrace() {
		b.logger = b.logger.NewComponentLogger("basis")
	} else {
		b.logger = b.logger.NewComponentLogger("stratum.core.basis")
	}

	if b.record == nil {
		return nil, errutil.New(errutil.ClassConstruction, "", "", errors.New("core: basis data was not properly loaded"))
	}
	if b.client == nil {
		return nil, errutil.New(errutil.ClassConstruction, "", "", errors.New("core: client was not provided to basis"))
	}
	if b.dataDir == "" {
		return nil, errutil.New(errutil.ClassConstruction, "", "", errors.New("core: data directory was not provided to basis"))
	}

	if b.ui == nil {
		b.ui = ui.NewConsoleUI(ctx)
	}

	if len(b.mappers) == 0 {
		mappers, err := defaultMappers()
		if err != nil {
			return nil, fmt.Errorf("core: seeding default mappers: %w", err)
		}
		b.mappers = mappers
	}

	if b.config == nil {
		cfg, err := config.Load(ctx, b.configSources)
		if err != nil {
			b.logger.Warnf("failed to load config, using stub: %v", err)
			cfg = &config.Config{}
		}
		b.config = cfg
	}

	// Registered last so it runs before any Closer a caller registers
	// after construction returns: Close iterates closers in registration
	// order.
	b.Closer(func() error { return b.Save(b.ctx) })

	b.logger.Info("basis initialized")
	return b, nil
}

// Name returns the Basis's server-side record name, or "" if the record
// has not resolved one.
func (b *Basis) Name() string {
	if b.record == nil {
		return ""
	}
	return b.record.Name
}

// BasisResourceID implements component.Specializer.
func (b *Basis) BasisResourceID() string {
	if b.record == nil {
		return ""
	}
	return b.record.ResourceID
}

// ServiceEndpoint implements component.Specializer.
func (b *Basis) ServiceEndpoint() string {
	if b.client == nil {
		return ""
	}
	return b.client.Endpoint()
}

// DataDir returns the Basis's data directory.
func (b *Basis) DataDir() string { return b.dataDir }

// UI returns the Basis's status-indicator UI.
func (b *Basis) UI() ui.UI { return b.ui }

// JobInfo returns the job identity this Basis injects into Run.
func (b *Basis) JobInfo() component.JobInfo { return b.jobInfo }

// Client returns the Persistence Client this Basis was constructed with.
func (b *Basis) Client() serverclient.Client { return b.client }

// Factories returns the Factory Registry this Basis (and every Project
// it loads) resolves plugins through.
func (b *Basis) Factories() *factory.Registry { return b.factories }

// Project returns the loaded Project indexed under nameOrID, checking
// both the name and resource-id indexes, or nil if none matches.
func (b *Basis) Project(nameOrID string) *Project {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.projectsByName[nameOrID]; ok {
		return p
	}
	if p, ok := b.projectsByID[nameOrID]; ok {
		return p
	}
	return nil
}

// Closer registers c to run once during Close.
func (b *Basis) Closer(c func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, c)
}

// Init enumerates every registered Command plugin (in deterministic
// Names() order), resolves and specializes each, calls CommandInfo, and
// flattens the returned tree into CommandRecords by space-joining parent
// and child names, per spec.md section 4.E and Scenario 5.
func (b *Basis) Init(ctx context.Context) ([]CommandRecord, error) {
	b.logger.Debug("running init for basis")

	var out []CommandRecord
	for _, name := range b.factories.Names(component.KindCommand) {
		inst, err := b.buildInstance(ctx, component.KindCommand, name)
		if err != nil {
			return nil, err
		}

		if err := component.Specialize(inst, b); err != nil {
			_ = inst.Close()
			return nil, errutil.New(errutil.ClassSpecialization, string(component.KindCommand), name, err)
		}

		cmd, ok := inst.Value.(component.Command)
		if !ok {
			_ = inst.Close()
			return nil, fmt.Errorf("core: %q does not implement component.Command", name)
		}

		raw, err := b.call(ctx, cmd.CommandInfoFunc(), (*component.CommandInfo)(nil))
		closeErr := inst.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			b.logger.Warnf("error closing command instance %q: %v", name, closeErr)
		}

		info, ok := raw.(*component.CommandInfo)
		if !ok {
			return nil, fmt.Errorf("core: %q returned unexpected CommandInfo type %T", name, raw)
		}
		out = append(out, flattenCommandInfo(info, nil)...)
	}

	return out, nil
}

func flattenCommandInfo(info *component.CommandInfo, parents []string) []CommandRecord {
	names := make([]string, 0, len(parents)+1)
	names = append(names, parents...)
	names = append(names, info.Name)

	records := []CommandRecord{{
		Name:     strings.Join(names, " "),
		Synopsis: info.Synopsis,
		Help:     info.Help,
		Flags:    info.Flags,
	}}
	for _, sub := range info.Subcommands {
		records = append(records, flattenCommandInfo(sub, names)...)
	}
	return records
}

// Run resolves the Command plugin named by task.Component.Name,
// specializes it, runs the optional policy gate, and invokes Execute via
// the Dynamic Invoker with expected return type int64. A non-zero result
// or an error is a task failure; zero is success.
func (b *Basis) Run(ctx context.Context, task *Task) error {
	name := component.NormalizeCommandName(task.Component.Name)
	b.logger.Debugf("running task %q", name)

	inst, err := b.buildInstance(ctx, component.KindCommand, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			b.logger.Warnf("error closing command instance %q: %v", name, cerr)
		}
	}()

	if err := component.Specialize(inst, b); err != nil {
		return errutil.New(errutil.ClassSpecialization, string(component.KindCommand), name, err)
	}

	if b.policy != nil {
		verdict, err := b.policy.EvaluateTask(ctx, &policy.TaskInput{
			Command: name,
			Words:   strings.Fields(task.CommandName),
		})
		if err != nil {
			return fmt.Errorf("core: policy evaluation for %q: %w", name, err)
		}
		if !verdict.Allowed {
			return fmt.Errorf("core: task %q denied by policy: %d violation(s)", name, len(verdict.Violations))
		}
	}

	cmd, ok := inst.Value.(component.Command)
	if !ok {
		return fmt.Errorf("core: %q does not implement component.Command", name)
	}

	words := strings.Fields(task.CommandName)
	raw, err := b.call(ctx, cmd.ExecuteFunc(words), (*int64)(nil),
		argmapper.Typed(task.CLIArgs, b.jobInfo))
	if err != nil {
		b.logger.Errorf("failed to execute command: type=%s name=%s error=%v", component.KindCommand, name, err)
		return err
	}

	code, _ := raw.(int64)
	if code != 0 {
		return fmt.Errorf("core: task %q exited with code %d", name, code)
	}
	return nil
}

// Host locates the first registered Host plugin whose Detect reports
// true. Per the resolved open question in SPEC_FULL.md section 9, this
// iterates every registered name rather than filtering on a hardcoded
// one.
func (b *Basis) Host(ctx context.Context) (component.Host, error) {
	inst, err := b.findHostPlugin(ctx)
	if err != nil {
		return nil, err
	}
	host, ok := inst.Value.(component.Host)
	if !ok {
		_ = inst.Close()
		return nil, fmt.Errorf("core: resolved host plugin does not implement component.Host")
	}
	b.Closer(inst.Close)
	return host, nil
}

func (b *Basis) findHostPlugin(ctx context.Context) (*component.Instance, error) {
	for _, name := range b.factories.Names(component.KindHost) {
		inst, err := b.buildInstance(ctx, component.KindHost, name)
		if err != nil {
			return nil, err
		}

		host, ok := inst.Value.(component.Host)
		if !ok {
			_ = inst.Close()
			continue
		}

		raw, err := b.call(ctx, host.DetectFunc(), (*bool)(nil))
		if err != nil {
			_ = inst.Close()
			return nil, err
		}
		if detected, _ := raw.(bool); detected {
			return inst, nil
		}
		_ = inst.Close()
	}
	return nil, fmt.Errorf("core: no host plugin detected this environment")
}

// LoadProject is idempotent by resource id: if a project matching the
// resolved record's resource id is already loaded, the existing Project
// is returned rather than constructing a new one.
func (b *Basis) LoadProject(ctx context.Context, opts ...ProjectOption) (*Project, error) {
	p := &Project{
		ctx:           b.ctx,
		basis:         b,
		logger:        b.logger,
		mappers:       b.mappers,
		factories:     b.factories,
		ui:            b.ui,
		targetsByName: map[string]*Target{},
		targetsByID:   map[string]*Target{},
	}

	var optErr error
	for _, opt := range opts {
		if err := opt(p); err != nil {
			optErr = errutil.Append(optErr, errutil.New(errutil.ClassOption, "", "", err))
		}
	}
	if optErr != nil {
		return nil, optErr
	}

	if p.record == nil {
		return nil, errutil.New(errutil.ClassConstruction, "", "", errors.New("core: project data was not properly loaded"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.record.ResourceID != "" {
		if existing, ok := b.projectsByID[p.record.ResourceID]; ok {
			return existing, nil
		}
	}

	if p.logger.IsTrace() {
		p.logger = p.logger.NewComponentLogger("project")
	} else {
		p.logger = p.logger.NewComponentLogger("stratum.core.project")
	}

	if p.record.BasisResourceID == "" {
		p.record.BasisResourceID = b.record.ResourceID
	}

	rec, err := b.client.UpsertProject(ctx, p.record)
	if err != nil {
		return nil, err
	}
	p.record = rec

	if p.dataDir == "" {
		p.dataDir = b.dataDir + "/" + p.record.Name
	}

	b.projectsByName[p.record.Name] = p
	b.projectsByID[p.record.ResourceID] = p

	for _, targetID := range p.record.Targets {
		if _, err := p.LoadTarget(ctx, WithTargetResourceID(targetID)); err != nil {
			return nil, err
		}
	}

	p.Closer(func() error { return p.Save(ctx) })

	return p, nil
}

// Close closes every loaded Project, then runs every registered Closer,
// aggregating failures from either group. Close is idempotent: a second
// call is a no-op that returns whatever the first call returned.
func (b *Basis) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.closeErr
	}

	b.logger.Debugf("closing basis %s", b.BasisResourceID())

	var agg error
	for name, p := range b.projectsByName {
		b.logger.Tracef("closing project %s", name)
		if err := p.Close(); err != nil {
			b.logger.Warnf("error closing project %s: %v", name, err)
			agg = errutil.Append(agg, err)
		}
	}

	for _, c := range b.closers {
		if err := c(); err != nil {
			b.logger.Warnf("error executing closer: %v", err)
			agg = errutil.Append(agg, err)
		}
	}

	b.closed = true
	b.closeErr = agg
	return agg
}

// Save upserts the Basis's record through the Persistence Client,
// resolving a resource id on first save if one was not already assigned.
func (b *Basis) Save(ctx context.Context) error {
	b.logger.Debugf("saving basis %s", b.BasisResourceID())
	rec, err := b.client.UpsertBasis(ctx, b.record)
	if err != nil {
		b.logger.Tracef("failed to save basis %s: %v", b.BasisResourceID(), err)
		return err
	}
	b.record = rec
	return nil
}

// SaveFull saves every loaded Project (recursively, including their
// Targets) and then the Basis itself, aggregating failures from either.
func (b *Basis) SaveFull(ctx context.Context) error {
	b.logger.Debugf("performing full save of basis %s", b.BasisResourceID())

	var agg error
	b.mu.Lock()
	projects := make([]*Project, 0, len(b.projectsByID))
	for _, p := range b.projectsByID {
		projects = append(projects, p)
	}
	b.mu.Unlock()

	for _, p := range projects {
		if err := p.SaveFull(ctx); err != nil {
			agg = errutil.Append(agg, err)
		}
	}
	if err := b.Save(ctx); err != nil {
		agg = errutil.Append(agg, err)
	}
	return agg
}

// buildInstance resolves and constructs a plugin instance for (kind,
// name), wrapping factory lookup failures as ClassUnknownFactory.
func (b *Basis) buildInstance(ctx context.Context, kind component.Kind, name string) (*component.Instance, error) {
	fn, err := b.factories.Lookup(kind, name)
	if err != nil {
		if errors.Is(err, factory.ErrUnknownKind) || errors.Is(err, factory.ErrUnknownName) {
			return nil, errutil.New(errutil.ClassUnknownFactory, string(kind), name, err)
		}
		return nil, err
	}

	logger := b.logger.NewComponentLogger(fmt.Sprintf("plugin.%s.%s", kind, name))
	inst, err := fn(ctx, logger)
	if err != nil {
		return nil, errutil.New(errutil.ClassInvocation, string(kind), name, err)
	}
	return inst, nil
}

// call is the Basis's Dynamic Invoker call site: it always injects the
// Basis itself (typed and named "basis"), its UI, ctx, and its logger;
// the UI status handle is closed on every return path.
func (b *Basis) call(ctx context.Context, fn interface{}, expectedType interface{}, extra ...argmapper.Arg) (interface{}, error) {
	status := b.ui.Status()
	defer status.Close()

	args := make([]argmapper.Arg, 0, len(extra)+2)
	args = append(args, extra...)
	args = append(args,
		argmapper.Typed(b, b.ui, ctx, b.logger),
		argmapper.Named("basis", b),
	)

	return dynamic.Call(fn, expectedType, b.mappers, args...)
}

var _ component.Specializer = (*Basis)(nil)
