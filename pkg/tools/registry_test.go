package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRegistry(policy *SafetyPolicy) *Registry {
	return NewRegistry(policy, zerolog.Nop())
}

func TestInvokeNormalizesResults(t *testing.T) {
	r := testRegistry(nil)
	r.Register("bare", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"found": true}, nil
	})
	r.Register("explicit", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"ok": false, "error": "nope"}, nil
	})
	r.Register("erroring", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	r.Register("empty", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, nil
	})

	res := r.Invoke(context.Background(), "bare", nil)
	if res["ok"] != true || res["found"] != true {
		t.Errorf("bare = %v", res)
	}

	res = r.Invoke(context.Background(), "explicit", nil)
	if res["ok"] != false || res["error"] != "nope" {
		t.Errorf("explicit = %v", res)
	}

	res = r.Invoke(context.Background(), "erroring", nil)
	if res["ok"] != false || res["error"] != "boom" {
		t.Errorf("erroring = %v", res)
	}

	res = r.Invoke(context.Background(), "empty", nil)
	if res["ok"] != true {
		t.Errorf("empty = %v", res)
	}
}

func TestInvokeUnknownAndBlankTool(t *testing.T) {
	r := testRegistry(nil)
	if res := r.Invoke(context.Background(), "ghost", nil); res["ok"] != false {
		t.Errorf("unknown tool = %v", res)
	}
	if res := r.Invoke(context.Background(), "  ", nil); res["ok"] != false {
		t.Errorf("blank name = %v", res)
	}
}

func TestInvokeDeadline(t *testing.T) {
	r := testRegistry(nil)
	r.Register("slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond) // keeps ignoring the deadline
		return map[string]any{"ok": true}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	res := r.Invoke(ctx, "slow", nil)
	if res["ok"] != false {
		t.Errorf("deadline result = %v", res)
	}
}

func TestInvokePanicRecovered(t *testing.T) {
	r := testRegistry(nil)
	r.Register("panicky", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		panic("bad state")
	})
	res := r.Invoke(context.Background(), "panicky", nil)
	if res["ok"] != false {
		t.Errorf("panic result = %v", res)
	}
}

func TestSafetyPolicy(t *testing.T) {
	p := DefaultSafetyPolicy()

	for _, name := range []string{"plan_execute", "plan_cancel", "planner_plan", "plan_anything"} {
		if err := p.Check(name); err == nil {
			t.Errorf("%s must be denied", name)
		}
	}
	if err := p.Check("kb_query"); err != nil {
		t.Errorf("kb_query denied: %v", err)
	}

	allow := &SafetyPolicy{AllowTools: map[string]bool{"kb_query": true}}
	if err := allow.Check("notify_say"); err == nil {
		t.Error("allowlist must exclude unlisted tools")
	}
	if err := allow.Check("kb_query"); err != nil {
		t.Errorf("allowlisted tool denied: %v", err)
	}
}

func TestNamesFiltersDenied(t *testing.T) {
	r := testRegistry(DefaultSafetyPolicy())
	r.Register("kb_query", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, nil
	})
	r.Register("plan_execute", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, nil
	})

	names := r.Names()
	if len(names) != 1 || names[0] != "kb_query" {
		t.Errorf("names = %v", names)
	}

	if res := r.Invoke(context.Background(), "plan_execute", nil); res["ok"] != false {
		t.Errorf("denied tool invoked: %v", res)
	}
}
