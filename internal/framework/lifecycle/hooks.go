// Package lifecycle provides ordered pre/post hooks for a service's start
// and stop phases, used by the Bus Service to sequence graceful shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// HookFunc runs during a lifecycle phase and fails the phase by returning
// a non-nil error.
type HookFunc func(ctx context.Context) error

// NamedHook pairs a hook with an optional name used in error messages.
type NamedHook struct {
	Name string
	Fn   HookFunc
}

// Hooks holds the pre/post hooks for a service's start and stop phases.
type Hooks struct {
	mu sync.RWMutex

	preStart  []NamedHook
	postStart []NamedHook
	preStop   []NamedHook
	postStop  []NamedHook
}

// NewHooks returns an empty Hooks.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnPreStart registers an unnamed hook to run before start.
func (h *Hooks) OnPreStart(fn HookFunc) { h.OnPreStartNamed("", fn) }

// OnPreStartNamed registers a named hook to run before start.
func (h *Hooks) OnPreStartNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preStart = append(h.preStart, NamedHook{Name: name, Fn: fn})
}

// OnPostStart registers an unnamed hook to run after a successful start.
func (h *Hooks) OnPostStart(fn HookFunc) { h.OnPostStartNamed("", fn) }

// OnPostStartNamed registers a named hook to run after a successful start.
func (h *Hooks) OnPostStartNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postStart = append(h.postStart, NamedHook{Name: name, Fn: fn})
}

// OnPreStop registers an unnamed hook to run before stop.
func (h *Hooks) OnPreStop(fn HookFunc) { h.OnPreStopNamed("", fn) }

// OnPreStopNamed registers a named hook to run before stop.
func (h *Hooks) OnPreStopNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preStop = append(h.preStop, NamedHook{Name: name, Fn: fn})
}

// OnPostStop registers an unnamed hook to run after stop, in LIFO order.
func (h *Hooks) OnPostStop(fn HookFunc) { h.OnPostStopNamed("", fn) }

// OnPostStopNamed registers a named hook to run after stop, in LIFO order.
func (h *Hooks) OnPostStopNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postStop = append(h.postStop, NamedHook{Name: name, Fn: fn})
}

// RunPreStart runs the pre-start hooks in registration order, stopping at
// the first error.
func (h *Hooks) RunPreStart(ctx context.Context) error {
	return h.run(ctx, "PreStart", h.snapshot(&h.preStart))
}

// RunPostStart runs the post-start hooks in registration order, stopping at
// the first error.
func (h *Hooks) RunPostStart(ctx context.Context) error {
	return h.run(ctx, "PostStart", h.snapshot(&h.postStart))
}

// RunPreStop runs the pre-stop hooks in registration order, stopping at the
// first error.
func (h *Hooks) RunPreStop(ctx context.Context) error {
	return h.run(ctx, "PreStop", h.snapshot(&h.preStop))
}

// RunPostStop runs the post-stop hooks in reverse registration order, so
// the last resource acquired during startup is the first torn down.
func (h *Hooks) RunPostStop(ctx context.Context) error {
	hooks := h.snapshot(&h.postStop)
	for i, j := 0, len(hooks)-1; i < j; i, j = i+1, j-1 {
		hooks[i], hooks[j] = hooks[j], hooks[i]
	}
	return h.run(ctx, "PostStop", hooks)
}

func (h *Hooks) snapshot(hooks *[]NamedHook) []NamedHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]NamedHook, len(*hooks))
	copy(out, *hooks)
	return out
}

func (h *Hooks) run(ctx context.Context, phase string, hooks []NamedHook) error {
	for i, hook := range hooks {
		if hook.Fn == nil {
			continue
		}
		if err := hook.Fn(ctx); err != nil {
			if hook.Name != "" {
				return fmt.Errorf("%s hook %q (#%d) failed: %w", phase, hook.Name, i, err)
			}
			return fmt.Errorf("%s hook #%d failed: %w", phase, i, err)
		}
	}
	return nil
}

// Clear removes every registered hook.
func (h *Hooks) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preStart = nil
	h.postStart = nil
	h.preStop = nil
	h.postStop = nil
}

// HookCounts reports how many hooks are registered per phase.
type HookCounts struct {
	PreStart  int
	PostStart int
	PreStop   int
	PostStop  int
}

// Counts returns the current hook counts per phase.
func (h *Hooks) Counts() HookCounts {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HookCounts{
		PreStart:  len(h.preStart),
		PostStart: len(h.postStart),
		PreStop:   len(h.preStop),
		PostStop:  len(h.postStop),
	}
}
