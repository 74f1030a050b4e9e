// Package tools manages the tool boundary: registering handlers, enforcing
// the safety policy, normalizing results, and bridging to remote services
// over HTTP.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Func is a tool handler. It receives the already-resolved argument map and
// returns a result map. A returned error is folded into an {ok:false} result
// by the registry, so handlers may use either convention.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry holds named tool handlers and dispatches calls through the
// safety policy. It implements engine.ToolInvoker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
	policy   *SafetyPolicy
	log      zerolog.Logger
}

// NewRegistry creates an empty registry guarded by the given policy.
// A nil policy means every registered tool is invocable.
func NewRegistry(policy *SafetyPolicy, log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Func),
		policy:   policy,
		log:      log,
	}
}

// Register binds a handler under name, replacing any prior binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Names returns the registered tool names, sorted, with policy-denied
// names filtered out. The engine uses this set for plan validation.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		if r.policy != nil && r.policy.Check(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a tool call. It never returns nil: policy denials,
// unknown tools, handler errors, and deadline hits all come back as
// {ok:false, error:...} maps so the engine can apply on_fail uniformly.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) map[string]any {
	name = strings.TrimSpace(name)
	if name == "" {
		return Fail("tool name required")
	}
	if r.policy != nil {
		if err := r.policy.Check(name); err != nil {
			return Fail(err.Error())
		}
	}

	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Fail(fmt.Sprintf("unknown tool %q", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	// Run the handler in its own goroutine so a handler that ignores its
	// context still respects the per-step deadline.
	type outcome struct {
		res map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %q panicked: %v", name, rec)}
			}
		}()
		res, err := fn(ctx, args)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.log.Warn().Str("tool", name).Err(out.err).Msg("tool failed")
			return Fail(out.err.Error())
		}
		return Normalize(out.res)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			r.log.Warn().Str("tool", name).Msg("tool deadline exceeded")
			return Fail(fmt.Sprintf("tool %q timed out", name))
		}
		return Fail("cancelled")
	}
}

// Normalize coerces a handler result into the ok-envelope convention:
// a map with "ok" passes through, a map with only "error" becomes a
// failure, anything else is marked ok:true.
func Normalize(res map[string]any) map[string]any {
	if res == nil {
		return map[string]any{"ok": true}
	}
	if _, has := res["ok"]; has {
		return res
	}
	if msg, has := res["error"]; has {
		return map[string]any{"ok": false, "error": msg}
	}
	out := map[string]any{"ok": true}
	for k, v := range res {
		out[k] = v
	}
	return out
}

// Fail builds an {ok:false} result with the given message.
func Fail(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}
