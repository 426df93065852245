// Package ui provides the status-indicator surface the Dynamic Invoker and
// Basis/Project construction default to when a caller does not supply its
// own. It is intentionally thin: Stratum's core only ever needs a place to
// report transient status around a plugin call and close it on every
// return path, never a full terminal rendering stack (that belongs to the
// external CLI layer, out of scope for the core).
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Status is a single transient status indicator. Close must be safe to
// call more than once: the Dynamic Invoker closes it unconditionally on
// every return path regardless of whether the call already closed it.
type Status interface {
	Update(msg string)
	Close()
}

// UI is the capability set the core's Dynamic Invoker and Basis/Project
// construction consume. A nil UI is never passed to plugin code: Basis
// construction defaults to ConsoleUI when the caller leaves it unset.
type UI interface {
	// Status returns a new status indicator. Callers are expected to
	// close it when the operation it tracks completes.
	Status() Status

	// Output writes a line of plain output, bypassing the status line.
	Output(msg string)
}

// ConsoleUI renders status and output to a writer using the same
// zerolog console formatting Stratum's structured logs use, so status
// lines and log lines share one visual idiom when both land on a
// terminal.
type ConsoleUI struct {
	mu  sync.Mutex
	out io.Writer
	ctx context.Context
}

// NewConsoleUI returns a ConsoleUI bound to ctx, writing to os.Stdout.
func NewConsoleUI(ctx context.Context) *ConsoleUI {
	return &ConsoleUI{out: os.Stdout, ctx: ctx}
}

// NewConsoleUIWithWriter returns a ConsoleUI writing to an explicit
// writer, primarily for tests that want to capture output.
func NewConsoleUIWithWriter(ctx context.Context, out io.Writer) *ConsoleUI {
	return &ConsoleUI{out: out, ctx: ctx}
}

func (c *ConsoleUI) Status() Status {
	return &consoleStatus{ui: c}
}

func (c *ConsoleUI) Output(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}

// consoleStatus writes each Update as its own console-formatted line and
// is a no-op once Close has been called.
type consoleStatus struct {
	ui     *ConsoleUI
	mu     sync.Mutex
	closed bool
}

func (s *consoleStatus) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ui.mu.Lock()
	defer s.ui.mu.Unlock()
	event := zerolog.New(s.ui.out).With().Logger()
	event.Info().Msg(msg)
}

func (s *consoleStatus) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

var _ UI = (*ConsoleUI)(nil)
