package warden

import (
	"sync"
	"sync/atomic"
)

// keyVagrantError is the literal env key the core records the first
// recorded failure under, so nested Wardens recovering the same error do
// not log it twice.
const keyVagrantError = "vagrant.error"

// Env is the open mapping carrying per-invocation state shared by every
// stage in a pipeline, and by any nested Warden embedded in that pipeline.
// It is safe for concurrent use: interrupted is set from outside the
// Warden's own goroutine (a caller requesting cancellation), and stages
// themselves may run arbitrary plugin code that reads or writes payload
// keys.
type Env struct {
	mu          sync.RWMutex
	values      map[string]interface{}
	interrupted atomic.Bool
}

// NewEnv returns an empty Env ready for use.
func NewEnv() *Env {
	return &Env{values: make(map[string]interface{})}
}

// Get returns the value stored under key, if any.
func (e *Env) Get(key string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[key]
	return v, ok
}

// Set stores val under key.
func (e *Env) Set(key string, val interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = val
}

// Interrupted reports whether the pipeline has been asked to stop at the
// next checkpoint.
func (e *Env) Interrupted() bool {
	return e.interrupted.Load()
}

// Interrupt requests that the pipeline stop at its next checkpoint. Safe
// to call from a goroutine other than the one running Call.
func (e *Env) Interrupt() {
	e.interrupted.Store(true)
}

// Error returns the first failure recorded on the env by any Warden
// (nested or outer) that has already handled it, or nil if none has.
func (e *Env) Error() error {
	v, ok := e.Get(keyVagrantError)
	if !ok {
		return nil
	}
	err, _ := v.(error)
	return err
}

// SetError records err as the env's failure, if one is not already
// recorded. It is a no-op once an error has been set, since the first
// recorded error is the one every enclosing Warden checks identity
// against to avoid duplicate logging on rethrow.
func (e *Env) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[keyVagrantError]; ok {
		return
	}
	e.values[keyVagrantError] = err
}
