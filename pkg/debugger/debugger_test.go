package debugger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/plan"
)

type countingInvoker struct {
	calls chan string
}

func (c *countingInvoker) Invoke(ctx context.Context, name string, args map[string]any) map[string]any {
	c.calls <- name
	return map[string]any{"ok": true, "tool": name}
}

func (c *countingInvoker) Names() []string {
	return []string{"kb_query", "notify_say"}
}

func twoStepPlan() *plan.Plan {
	return &plan.Plan{
		Version:  plan.FormatVersion,
		GoalType: "debug_session",
		Steps: []*plan.Step{
			{Type: plan.StepTool, Name: "kb_query", Args: map[string]any{"entity": "cup"}},
			{Type: plan.StepTool, Name: "notify_say", Args: map[string]any{"text": "done"}},
		},
	}
}

func waitCall(t *testing.T, calls chan string, want string) {
	t.Helper()
	select {
	case got := <-calls:
		if got != want {
			t.Fatalf("invoked %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s invocation", want)
	}
}

func assertNoCall(t *testing.T, calls chan string) {
	t.Helper()
	select {
	case got := <-calls:
		t.Fatalf("unexpected invocation of %q before a permit was granted", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateBlocksUntilStep(t *testing.T) {
	inner := &countingInvoker{calls: make(chan string, 4)}
	gate := newGatedInvoker(inner)
	eng := engine.New(gate)

	done := make(chan *engine.Run, 1)
	go func() {
		done <- eng.Run(context.Background(), twoStepPlan())
	}()

	assertNoCall(t, inner.calls)

	gate.Step()
	waitCall(t, inner.calls, "kb_query")
	assertNoCall(t, inner.calls)

	gate.Step()
	waitCall(t, inner.calls, "notify_say")

	select {
	case run := <-done:
		if run.Status != engine.StatusSucceeded {
			t.Fatalf("status = %s, want %s", run.Status, engine.StatusSucceeded)
		}
		if len(run.Trace) != 2 {
			t.Fatalf("trace length = %d, want 2", len(run.Trace))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after both permits")
	}
}

func TestGateReleaseRunsToCompletion(t *testing.T) {
	inner := &countingInvoker{calls: make(chan string, 4)}
	gate := newGatedInvoker(inner)
	eng := engine.New(gate)

	done := make(chan *engine.Run, 1)
	go func() {
		done <- eng.Run(context.Background(), twoStepPlan())
	}()

	gate.Release()

	select {
	case run := <-done:
		if run.Status != engine.StatusSucceeded {
			t.Fatalf("status = %s, want %s", run.Status, engine.StatusSucceeded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after release")
	}

	// Release after release is a no-op.
	gate.Release()
	gate.Step()
}

func TestGateHonoursCancellation(t *testing.T) {
	inner := &countingInvoker{calls: make(chan string, 4)}
	gate := newGatedInvoker(inner)
	eng := engine.New(gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *engine.Run, 1)
	go func() {
		done <- eng.Run(ctx, twoStepPlan())
	}()

	assertNoCall(t, inner.calls)
	cancel()

	// The cancel arrives while the gate is holding the first step back, so
	// that step surfaces as a cancelled tool failure and the run stops.
	select {
	case run := <-done:
		if run.Status != engine.StatusFailed {
			t.Fatalf("status = %s, want %s", run.Status, engine.StatusFailed)
		}
		if len(run.Trace) != 1 {
			t.Fatalf("trace length = %d, want 1", len(run.Trace))
		}
		if !strings.Contains(run.Trace[0].Error, "cancelled") {
			t.Fatalf("step error = %q, want a cancellation message", run.Trace[0].Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}

	// The gated tool never actually ran.
	select {
	case got := <-inner.calls:
		t.Fatalf("tool %q ran despite the cancelled gate", got)
	default:
	}
}
