package warden

import (
	"context"
	"errors"
	"fmt"

	"github.com/stratumhq/stratum/pkg/errutil"
)

// Logger is the minimal logging capability Call needs for its IN/OUT
// stage trace and once-per-failure error log; satisfied by
// *telemetry.Logger without this package importing telemetry.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything; used when New is called without a
// Logger so Call never has to nil-check.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}

// errInterrupted is the Warden's distinguished, non-recoverable-itself
// interrupt error: it triggers the recover pass like any other failure
// but callers should never attempt to retry past it. It is a package
// singleton so identity comparison (the "same object" check the exception
// policy requires) works across nested Wardens sharing one Env.
var errInterrupted = errutil.New(errutil.ClassInterrupt, "", "", errors.New("warden: interrupted"))

// ErrInterrupted reports whether err is the Warden's interrupt error, for
// callers that want to distinguish it from ordinary stage failures.
func ErrInterrupted(err error) bool {
	return errors.Is(err, errInterrupted)
}

// Warden executes a finalized middleware pipeline with two-phase
// (forward/recover) semantics. It is built once per pipeline invocation
// via New and is not safe for concurrent reuse across multiple Call
// invocations, matching the source's synchronous, re-entrant-by-nesting
// execution model.
type Warden struct {
	name         string
	pending      []Stage
	recoverStack []Stage
	logger       Logger
}

// Option configures a Warden at construction time.
type Option func(*Warden)

// WithLogger sets the Logger used for the IN/OUT stage trace and the
// once-per-failure error log.
func WithLogger(logger Logger) Option {
	return func(w *Warden) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithName sets the Warden's own stage name, used when this Warden is
// embedded as a nested stage inside another Warden's pipeline.
func WithName(name string) Option {
	return func(w *Warden) { w.name = name }
}

// New finalizes descriptors against env and triggers into a Warden ready
// to Call. Finalization order matches descriptors: each constructible
// middleware expands into its BeforeTrigger/middleware/AfterTrigger trio
// in place.
func New(env *Env, triggers TriggerSource, descriptors []Descriptor, opts ...Option) (*Warden, error) {
	w := &Warden{name: "warden", logger: nopLogger{}}
	for _, opt := range opts {
		opt(w)
	}

	stages, err := finalize(w, env, triggers, descriptors)
	if err != nil {
		return nil, err
	}
	w.pending = stages
	return w, nil
}

// Name satisfies Stage, so a Warden may be embedded as a single entry in
// another Warden's pipeline.
func (w *Warden) Name() string { return w.name }

// Call dispatches the finalized pipeline. Before and after every stage it
// checks env.Interrupted; if set, it fails with the interrupt error
// without ever invoking the next stage's Call. On any other failure it
// records the error on env (once, identity-checked against whatever is
// already recorded there), recovers every stage entered so far in LIFO
// order, clears the recover stack, and returns the error verbatim.
func (w *Warden) Call(ctx context.Context, env *Env) error {
	for len(w.pending) > 0 {
		if env.Interrupted() {
			return w.fail(ctx, env, errInterrupted)
		}

		stage := w.pending[0]
		w.pending = w.pending[1:]
		w.recoverStack = append([]Stage{stage}, w.recoverStack...)

		w.logger.Debugf("IN  %s", stage.Name())
		if err := w.invoke(ctx, stage, env); err != nil {
			return w.fail(ctx, env, err)
		}

		if env.Interrupted() {
			return w.fail(ctx, env, errInterrupted)
		}
		w.logger.Debugf("OUT %s", stage.Name())
	}
	return nil
}

// invoke runs a single stage's Call, converting a panic from arbitrary
// plugin code into an ordinary error so it still goes through the
// recover pass rather than crashing the process.
func (w *Warden) invoke(ctx context.Context, stage Stage, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warden: panic in stage %s: %v", stage.Name(), r)
		}
	}()
	return stage.Call(ctx, env)
}

// fail implements the exception policy: log once per distinct recorded
// error, run recover over the stack entered so far, clear the stack, and
// return err verbatim.
func (w *Warden) fail(ctx context.Context, env *Env, err error) error {
	if env.Error() != err {
		w.logger.Errorf("warden: stage failed: %v", err)
		env.SetError(err)
	}
	w.recover(ctx, env)
	return err
}

// recover calls Recover on every stage in the recover stack, in the
// order they were entered (LIFO: the most recently entered stage first),
// then clears the stack so a parent Warden recovering this nested one
// does not re-invoke the same stages.
func (w *Warden) recover(ctx context.Context, env *Env) {
	for _, stage := range w.recoverStack {
		if r, ok := stage.(Recoverable); ok {
			r.Recover(ctx, env)
		}
	}
	w.recoverStack = nil
}
