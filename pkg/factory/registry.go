// Package factory implements the Factory Registry: the mapping from a
// component kind and name to the callable that constructs a live plugin
// instance for it.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stratumhq/stratum/pkg/component"
)

// ErrUnknownKind is returned by Lookup when no factory was ever
// registered for the given ComponentKind.
var ErrUnknownKind = errors.New("factory: unknown component kind")

// ErrUnknownName is returned by Lookup when the kind is known but no
// factory is registered under the given name.
var ErrUnknownName = errors.New("factory: unknown component name")

// Func constructs a live plugin instance. Basis and Project call it
// directly with the context and a per-plugin component logger; it is not
// routed through the Dynamic Invoker and receives no other arguments.
type Func func(ctx context.Context, logger Logger) (*component.Instance, error)

// Logger is the minimal logging capability a Factory Func needs; it is
// satisfied by *telemetry.Logger without this package importing telemetry
// and creating a dependency cycle.
type Logger interface {
	Debug(msg string)
}

// Registry maps ComponentKind to a set of named factories. Insertion order
// is not significant; Names returns a deterministic (lexicographic) order
// so command-tree enumeration is reproducible.
type Registry struct {
	mu    sync.RWMutex
	funcs map[component.Kind]map[string]Func
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{funcs: make(map[component.Kind]map[string]Func)}
}

// Register associates name under kind with factory. Re-registering the
// identical (kind, name) pair with the same factory is a no-op;
// registering a different factory under an existing (kind, name) replaces
// it.
func (r *Registry) Register(kind component.Kind, name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[kind] == nil {
		r.funcs[kind] = make(map[string]Func)
	}
	r.funcs[kind][name] = fn
}

// Names returns the lexicographically sorted list of names registered
// under kind.
func (r *Registry) Names(kind component.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs[kind]))
	for name := range r.funcs[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the factory registered under (kind, name).
func (r *Registry) Lookup(kind component.Kind, name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName, ok := r.funcs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	fn, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownName, kind, name)
	}
	return fn, nil
}
