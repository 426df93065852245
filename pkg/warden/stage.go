package warden

import (
	"context"
	"errors"
)

// Stage is a unit in the Warden pipeline: something that can be called,
// and that may optionally support recovery by additionally implementing
// Recoverable.
type Stage interface {
	Name() string
	Call(ctx context.Context, env *Env) error
}

// Recoverable is implemented by stages that need to run teardown logic
// when the pipeline they are part of fails. Trigger stages and nested
// Wardens deliberately do not implement it.
type Recoverable interface {
	Recover(ctx context.Context, env *Env)
}

// Middleware is the capability set a constructible pipeline stage must
// implement. StableName keys the BeforeTrigger/AfterTrigger pair the
// Warden wraps around it during finalization.
type Middleware interface {
	StableName() string
	Call(ctx context.Context, env *Env) error
}

// MiddlewareFactory constructs a Middleware given the Warden it will run
// inside, the shared Env, and the descriptor's positional arguments. It is
// the Go stand-in for "a constructible middleware class" in the source
// design: a class there is a factory here.
type MiddlewareFactory func(w *Warden, env *Env, args ...interface{}) (Middleware, error)

// Callable is a bare function stage: invoked once, with no recovery
// semantics of its own.
type Callable func(ctx context.Context, w *Warden, env *Env) error

// ErrInvalidStage is returned by finalization when a Descriptor carries
// neither a Factory nor a Callable.
var ErrInvalidStage = errors.New("warden: invalid stage descriptor")

// Descriptor is a raw, unfinalized pipeline entry. Exactly one of Stage,
// Factory, or Callable must be set:
//
//   - Stage is a pre-built Stage (most commonly another *Warden, letting a
//     pipeline embed a nested pipeline as a single entry) — passed through
//     untouched, with no trigger wrapping, since it is already a complete
//     unit rather than something the Warden needs to construct.
//   - Factory constructs a Middleware, which is then wrapped in a
//     BeforeTrigger/AfterTrigger pair.
//   - Callable is a bare function, wrapped in a single adapter stage with
//     no recovery semantics of its own.
type Descriptor struct {
	Stage    Stage
	Factory  MiddlewareFactory
	Args     []interface{}
	Callable Callable
}

// finalize turns raw descriptors into the concrete stage list a Warden
// dispatches over: a constructible middleware expands into three stages
// (BeforeTrigger, the middleware, AfterTrigger); a bare callable becomes
// one adapter stage; a pre-built Stage passes through unchanged; anything
// else is ErrInvalidStage.
func finalize(w *Warden, env *Env, triggers TriggerSource, descriptors []Descriptor) ([]Stage, error) {
	stages := make([]Stage, 0, len(descriptors)*3)
	for _, d := range descriptors {
		switch {
		case d.Stage != nil:
			stages = append(stages, d.Stage)
		case d.Factory != nil:
			mw, err := d.Factory(w, env, d.Args...)
			if err != nil {
				return nil, err
			}
			name := mw.StableName()
			stages = append(stages,
				newTriggerStage(triggers, name, triggerBefore),
				&middlewareStage{mw: mw},
				newTriggerStage(triggers, name, triggerAfter),
			)
		case d.Callable != nil:
			stages = append(stages, &callableStage{w: w, fn: d.Callable})
		default:
			return nil, ErrInvalidStage
		}
	}
	return stages, nil
}

// middlewareStage adapts a Middleware onto Stage, forwarding Recover when
// the underlying middleware supports it.
type middlewareStage struct {
	mw Middleware
}

func (s *middlewareStage) Name() string { return s.mw.StableName() }

func (s *middlewareStage) Call(ctx context.Context, env *Env) error {
	return s.mw.Call(ctx, env)
}

func (s *middlewareStage) Recover(ctx context.Context, env *Env) {
	if r, ok := s.mw.(Recoverable); ok {
		r.Recover(ctx, env)
	}
}

// callableStage adapts a bare Callable onto Stage. It has no recover
// behavior: the one-stage case in finalize carries no middleware object to
// recover.
type callableStage struct {
	w  *Warden
	fn Callable
}

func (s *callableStage) Name() string { return "callable" }

func (s *callableStage) Call(ctx context.Context, env *Env) error {
	return s.fn(ctx, s.w, env)
}
