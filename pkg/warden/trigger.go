package warden

import "context"

// TriggerSource is the consumed contract for the before/after hooks a
// project or basis configuration may register around a named middleware
// stage. A nil TriggerSource is a pass-through: Pre and Post are never
// called against it.
type TriggerSource interface {
	Pre(ctx context.Context, name string, env *Env) error
	Post(ctx context.Context, name string, env *Env) error
}

type triggerPhase int

const (
	triggerBefore triggerPhase = iota
	triggerAfter
)

// triggerStage invokes the pre or post hook registered for a named
// middleware, then passes through. It never implements Recoverable: a
// trigger runs its hook exactly once regardless of whether the wrapped
// middleware later fails.
type triggerStage struct {
	source TriggerSource
	name   string
	phase  triggerPhase
}

func newTriggerStage(source TriggerSource, name string, phase triggerPhase) *triggerStage {
	return &triggerStage{source: source, name: name, phase: phase}
}

func (s *triggerStage) Name() string {
	if s.phase == triggerBefore {
		return s.name + ".before"
	}
	return s.name + ".after"
}

func (s *triggerStage) Call(ctx context.Context, env *Env) error {
	if s.source == nil {
		return nil
	}
	if s.phase == triggerBefore {
		return s.source.Pre(ctx, s.name, env)
	}
	return s.source.Post(ctx, s.name, env)
}
