package debugger

import (
	"context"
	"sync"

	"github.com/calegria/roboplan/pkg/engine"
)

// gatedInvoker blocks each tool invocation until the REPL grants a permit.
// Release opens the gate permanently for free running.
type gatedInvoker struct {
	inner engine.ToolInvoker

	mu      sync.Mutex
	free    bool
	permits chan struct{}
}

func newGatedInvoker(inner engine.ToolInvoker) *gatedInvoker {
	return &gatedInvoker{
		inner:   inner,
		permits: make(chan struct{}, 64),
	}
}

// Step grants one permit.
func (g *gatedInvoker) Step() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.free {
		return
	}
	select {
	case g.permits <- struct{}{}:
	default:
	}
}

// Release opens the gate so every later invocation runs unimpeded, and
// unblocks anything currently waiting.
func (g *gatedInvoker) Release() {
	g.mu.Lock()
	if g.free {
		g.mu.Unlock()
		return
	}
	g.free = true
	close(g.permits)
	g.mu.Unlock()
}

func (g *gatedInvoker) isFree() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.free
}

func (g *gatedInvoker) Invoke(ctx context.Context, name string, args map[string]any) map[string]any {
	if !g.isFree() {
		select {
		case <-g.permits:
		case <-ctx.Done():
			return map[string]any{"ok": false, "error": "cancelled"}
		}
	}
	return g.inner.Invoke(ctx, name, args)
}

func (g *gatedInvoker) Names() []string {
	return g.inner.Names()
}
