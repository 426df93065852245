package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/serverclient"
)

// fakeClient is an in-memory serverclient.Client good enough to drive
// Basis/Project/Target construction and persistence in tests without a
// real SQLite file, mirroring how the source's own test doubles stand in
// for the server.
type fakeClient struct {
	mu       sync.Mutex
	seq      int
	basis    map[string]*serverclient.BasisRecord
	projects map[string]*serverclient.ProjectRecord
	targets  map[string]*serverclient.TargetRecord
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		basis:    map[string]*serverclient.BasisRecord{},
		projects: map[string]*serverclient.ProjectRecord{},
		targets:  map[string]*serverclient.TargetRecord{},
	}
}

func (c *fakeClient) nextID() string {
	c.seq++
	return fmt.Sprintf("id-%d", c.seq)
}

func (c *fakeClient) UpsertBasis(ctx context.Context, rec *serverclient.BasisRecord) (*serverclient.BasisRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	if cp.ResourceID == "" {
		cp.ResourceID = c.nextID()
	}
	c.basis[cp.ResourceID] = &cp
	out := cp
	return &out, nil
}

func (c *fakeClient) GetBasis(ctx context.Context, resourceID string) (*serverclient.BasisRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.basis[resourceID]
	if !ok {
		return nil, serverclient.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (c *fakeClient) FindBasis(ctx context.Context, resourceID string) (*serverclient.BasisRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.basis[resourceID]
	if !ok {
		return nil, false, nil
	}
	out := *rec
	return &out, true, nil
}

func (c *fakeClient) UpsertProject(ctx context.Context, rec *serverclient.ProjectRecord) (*serverclient.ProjectRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	if cp.ResourceID == "" {
		cp.ResourceID = c.nextID()
	}
	c.projects[cp.ResourceID] = &cp
	out := cp
	return &out, nil
}

func (c *fakeClient) GetProject(ctx context.Context, resourceID string) (*serverclient.ProjectRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.projects[resourceID]
	if !ok {
		return nil, serverclient.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (c *fakeClient) FindProject(ctx context.Context, resourceID string) (*serverclient.ProjectRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.projects[resourceID]
	if !ok {
		return nil, false, nil
	}
	out := *rec
	return &out, true, nil
}

func (c *fakeClient) UpsertTarget(ctx context.Context, rec *serverclient.TargetRecord) (*serverclient.TargetRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	if cp.ResourceID == "" {
		cp.ResourceID = c.nextID()
	}
	c.targets[cp.ResourceID] = &cp
	out := cp
	return &out, nil
}

func (c *fakeClient) GetTarget(ctx context.Context, resourceID string) (*serverclient.TargetRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.targets[resourceID]
	if !ok {
		return nil, serverclient.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (c *fakeClient) FindTarget(ctx context.Context, resourceID string) (*serverclient.TargetRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.targets[resourceID]
	if !ok {
		return nil, false, nil
	}
	out := *rec
	return &out, true, nil
}

func (c *fakeClient) Endpoint() string { return "fake://server" }
func (c *fakeClient) Close() error     { return nil }

var _ serverclient.Client = (*fakeClient)(nil)

// fakeCommand is a minimal component.Command/Specializable plugin used to
// drive Init and Run. It records the metadata Specialize stamps and
// returns a canned CommandInfo/exit code.
type fakeCommand struct {
	info     *component.CommandInfo
	exitCode int64
	execErr  error
	closed   bool
	meta     map[string]string
}

func (f *fakeCommand) SetRequestMetadata(key, value string) {
	if f.meta == nil {
		f.meta = map[string]string{}
	}
	f.meta[key] = value
}

func (f *fakeCommand) CommandInfoFunc() interface{} {
	return func() (*component.CommandInfo, error) { return f.info, nil }
}

func (f *fakeCommand) ExecuteFunc(words []string) interface{} {
	return func() (int64, error) { return f.exitCode, f.execErr }
}

var _ component.Command = (*fakeCommand)(nil)
var _ component.Specializable = (*fakeCommand)(nil)

func registerCommand(reg *factory.Registry, name string, cmd *fakeCommand) {
	reg.Register(component.KindCommand, name, func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{
			Kind:  component.KindCommand,
			Name:  name,
			Value: cmd,
			Close: func() error { cmd.closed = true; return nil },
		}, nil
	})
}

func newTestBasis(t *testing.T, client *fakeClient, reg *factory.Registry) *Basis {
	t.Helper()
	ctx := context.Background()
	b, err := NewBasis(ctx,
		WithClient(client),
		WithFactories(reg),
		WithDataDir(t.TempDir()),
		WithBasisName(ctx, "test-basis", t.TempDir()),
	)
	if err != nil {
		t.Fatalf("NewBasis: %v", err)
	}
	return b
}

// TestBasis_InitFlattensCommandTree pins Scenario 5 from spec.md section
// 8: two Command plugins, "foo" (with subcommand "bar") and "baz",
// flatten to ["baz", "foo", "foo bar"] in Names() (lexicographic) order.
func TestBasis_InitFlattensCommandTree(t *testing.T) {
	reg := factory.New()
	registerCommand(reg, "baz", &fakeCommand{info: &component.CommandInfo{Name: "baz"}})
	registerCommand(reg, "foo", &fakeCommand{info: &component.CommandInfo{
		Name:        "foo",
		Subcommands: []*component.CommandInfo{{Name: "bar"}},
	}})

	b := newTestBasis(t, newFakeClient(), reg)

	records, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	want := []string{"baz", "foo", "foo bar"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBasis_RunSuccessAndFailure(t *testing.T) {
	reg := factory.New()
	ok := &fakeCommand{info: &component.CommandInfo{Name: "ok"}, exitCode: 0}
	bad := &fakeCommand{info: &component.CommandInfo{Name: "bad"}, exitCode: 1}
	boom := &fakeCommand{info: &component.CommandInfo{Name: "boom"}, execErr: errors.New("boom")}
	registerCommand(reg, "ok", ok)
	registerCommand(reg, "bad", bad)
	registerCommand(reg, "boom", boom)

	b := newTestBasis(t, newFakeClient(), reg)

	if err := b.Run(context.Background(), &Task{Component: ComponentRef{Name: "ok"}, CommandName: "ok"}); err != nil {
		t.Errorf("Run(ok) = %v, want nil", err)
	}
	if !ok.closed {
		t.Error("Run(ok) did not close the plugin instance")
	}
	if ok.meta["basis_resource_id"] != b.BasisResourceID() {
		t.Errorf("Run(ok) did not specialize basis_resource_id")
	}

	if err := b.Run(context.Background(), &Task{Component: ComponentRef{Name: "bad"}, CommandName: "bad"}); err == nil {
		t.Error("Run(bad) = nil, want non-zero-exit error")
	}

	if err := b.Run(context.Background(), &Task{Component: ComponentRef{Name: "boom"}, CommandName: "boom"}); !errors.Is(err, boom.execErr) {
		t.Errorf("Run(boom) = %v, want %v", err, boom.execErr)
	}
}

func TestBasis_RunUnknownCommand(t *testing.T) {
	b := newTestBasis(t, newFakeClient(), factory.New())
	err := b.Run(context.Background(), &Task{Component: ComponentRef{Name: "nope"}, CommandName: "nope"})
	if err == nil {
		t.Fatal("Run(nope) = nil, want unknown-factory error")
	}
}

// TestBasis_CloseAggregatesAndIsIdempotent pins Scenario 6: two projects
// whose close hooks each fail aggregate into one error, and a second
// Close call returns the same result without re-running anything.
func TestBasis_CloseAggregatesAndIsIdempotent(t *testing.T) {
	client := newFakeClient()
	b := newTestBasis(t, client, factory.New())

	e1 := errors.New("project one failed to close")
	e2 := errors.New("project two failed to close")

	ctx := context.Background()
	p1, err := b.LoadProject(ctx, WithProjectName(ctx, "p1", ""))
	if err != nil {
		t.Fatalf("LoadProject(p1): %v", err)
	}
	p1.Closer(func() error { return e1 })

	p2, err := b.LoadProject(ctx, WithProjectName(ctx, "p2", ""))
	if err != nil {
		t.Fatalf("LoadProject(p2): %v", err)
	}
	p2.Closer(func() error { return e2 })

	err = b.Close()
	if err == nil {
		t.Fatal("Close() = nil, want aggregate of e1+e2")
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("Close() = %v, want to contain both %v and %v", err, e1, e2)
	}

	second := b.Close()
	if second != err {
		t.Errorf("second Close() = %v, want identical %v", second, err)
	}
}

func TestBasis_LoadProjectIdempotentByResourceID(t *testing.T) {
	client := newFakeClient()
	b := newTestBasis(t, client, factory.New())
	ctx := context.Background()

	p1, err := b.LoadProject(ctx, WithProjectName(ctx, "dup", ""))
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	p2, err := b.LoadProject(ctx, WithProjectResourceID(ctx, client, p1.ResourceID()))
	if err != nil {
		t.Fatalf("LoadProject(by id): %v", err)
	}

	if p1 != p2 {
		t.Error("LoadProject with the already-loaded resource id returned a distinct Project")
	}
	if b.Project("dup") != b.Project(p1.ResourceID()) {
		t.Error("basis.Project(name) != basis.Project(resource_id) for the same loaded project")
	}
}

func TestBasis_HostDetectsFirstMatch(t *testing.T) {
	reg := factory.New()
	reg.Register(component.KindHost, "never", func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{Value: fakeHost{detected: false}, Close: func() error { return nil }}, nil
	})
	reg.Register(component.KindHost, "always", func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{Value: fakeHost{detected: true}, Close: func() error { return nil }}, nil
	})

	b := newTestBasis(t, newFakeClient(), reg)
	host, err := b.Host(context.Background())
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	detected, err := host.DetectFunc().(func() (bool, error))()
	if err != nil || !detected {
		t.Errorf("Host() resolved a non-detecting host")
	}
}

// TestBasis_HostRegistersCloserForMatchedInstance pins the fix for a
// leak: the matched Host instance's Close hook must be registered on
// the Basis so Close eventually runs it, instead of being discarded
// when Host returns the bare component.Host value.
func TestBasis_HostRegistersCloserForMatchedInstance(t *testing.T) {
	reg := factory.New()
	var matchedClosed, skippedClosed bool
	reg.Register(component.KindHost, "never", func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{
			Value: fakeHost{detected: false},
			Close: func() error { skippedClosed = true; return nil },
		}, nil
	})
	reg.Register(component.KindHost, "always", func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{
			Value: fakeHost{detected: true},
			Close: func() error { matchedClosed = true; return nil },
		}, nil
	})

	b := newTestBasis(t, newFakeClient(), reg)
	if _, err := b.Host(context.Background()); err != nil {
		t.Fatalf("Host: %v", err)
	}
	if !skippedClosed {
		t.Error("non-matching host instance was never closed during detection")
	}
	if matchedClosed {
		t.Fatal("matched host instance closed before Basis.Close was called")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !matchedClosed {
		t.Error("Basis.Close did not close the matched host instance")
	}
}

type fakeHost struct{ detected bool }

func (h fakeHost) DetectFunc() interface{} {
	return func() (bool, error) { return h.detected, nil }
}

var _ component.Host = fakeHost{}

// fakeProjectCommand asserts that the *Project injected into a
// Project-scoped call is the same Project the task was dispatched
// through, proving Project.Run's Dynamic Invoker call site wires its own
// scope in (not just the owning Basis).
type fakeProjectCommand struct {
	sawProjectName string
}

func (f *fakeProjectCommand) SetRequestMetadata(key, value string) {}

func (f *fakeProjectCommand) CommandInfoFunc() interface{} {
	return func() (*component.CommandInfo, error) {
		return &component.CommandInfo{Name: "scoped"}, nil
	}
}

func (f *fakeProjectCommand) ExecuteFunc(words []string) interface{} {
	return func(p *Project) (int64, error) {
		f.sawProjectName = p.Name()
		return 0, nil
	}
}

var _ component.Command = (*fakeProjectCommand)(nil)
var _ component.Specializable = (*fakeProjectCommand)(nil)

func TestProject_RunInjectsOwnScope(t *testing.T) {
	reg := factory.New()
	cmd := &fakeProjectCommand{}
	reg.Register(component.KindCommand, "scoped", func(ctx context.Context, logger factory.Logger) (*component.Instance, error) {
		return &component.Instance{Value: cmd, Close: func() error { return nil }}, nil
	})

	b := newTestBasis(t, newFakeClient(), reg)
	ctx := context.Background()
	p, err := b.LoadProject(ctx, WithProjectName(ctx, "scoped-project", ""))
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	if err := p.Run(ctx, &Task{Component: ComponentRef{Name: "scoped"}, CommandName: "scoped"}); err != nil {
		t.Fatalf("Project.Run: %v", err)
	}
	if cmd.sawProjectName != "scoped-project" {
		t.Errorf("ExecuteFunc saw project %q, want %q", cmd.sawProjectName, "scoped-project")
	}
}

func TestProject_LoadTargetAndSpecialization(t *testing.T) {
	client := newFakeClient()
	b := newTestBasis(t, client, factory.New())
	ctx := context.Background()

	p, err := b.LoadProject(ctx, WithProjectName(ctx, "with-targets", ""))
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	target, err := p.LoadTarget(ctx, WithTargetRecord(&serverclient.TargetRecord{
		Name:    "web-1",
		Address: "10.0.0.5",
		Port:    22,
		User:    "ops",
	}))
	if err != nil {
		t.Fatalf("LoadTarget: %v", err)
	}
	if target.ResourceID() == "" {
		t.Error("LoadTarget did not assign a resource id")
	}
	if got := p.Target("web-1"); got != target {
		t.Error("project.Target(name) did not return the loaded target")
	}
	if got := p.Target(target.ResourceID()); got != target {
		t.Error("project.Target(resource_id) did not return the loaded target")
	}
	if target.BasisResourceID() != b.BasisResourceID() {
		t.Error("target did not delegate BasisResourceID through its owning project")
	}
}
