package mcpserver

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/store"
)

type stubInvoker struct{}

func (stubInvoker) Names() []string {
	names := []string{"notify_say", "kb_query"}
	sort.Strings(names)
	return names
}

func (stubInvoker) Invoke(_ context.Context, name string, _ map[string]any) map[string]any {
	if name == "kb_query" {
		return map[string]any{"ok": true, "found": true}
	}
	return map[string]any{"ok": true}
}

func testHandlers() *Handlers {
	inv := stubInvoker{}
	st := store.New(engine.New(inv), zerolog.Nop())
	allowed := make(map[string]bool)
	for _, n := range inv.Names() {
		allowed[n] = true
	}
	return &Handlers{Store: st, AllowedTools: allowed}
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func planArg(goal string, steps ...map[string]any) map[string]any {
	stepList := make([]any, len(steps))
	for i, s := range steps {
		stepList[i] = s
	}
	return map[string]any{
		"version":   "mcp.plan.v1",
		"goal_type": goal,
		"steps":     stepList,
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return tc.Text
}

func TestHandleValidate(t *testing.T) {
	h := testHandlers()

	res, err := h.HandleValidate(context.Background(), callReq(map[string]any{
		"plan": planArg("greet", map[string]any{"type": "tool", "name": "notify_say"}),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("valid plan rejected: %s", resultText(t, res))
	}

	res, _ = h.HandleValidate(context.Background(), callReq(map[string]any{
		"plan": planArg("greet", map[string]any{"type": "tool", "name": "teleport"}),
	}))
	if !res.IsError {
		t.Error("unregistered tool must be rejected")
	}

	res, _ = h.HandleValidate(context.Background(), callReq(map[string]any{}))
	if !res.IsError {
		t.Error("missing plan argument must be an error")
	}
}

func TestHandleExecuteWait(t *testing.T) {
	h := testHandlers()

	res, err := h.HandleExecute(context.Background(), callReq(map[string]any{
		"plan": planArg("greet", map[string]any{"type": "tool", "name": "kb_query", "save_as": "kb"}),
		"wait": true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("execute failed: %s", resultText(t, res))
	}

	var run engine.Run
	if err := json.Unmarshal([]byte(resultText(t, res)), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != engine.StatusSucceeded || len(run.Trace) != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleExecuteAsyncAndStatus(t *testing.T) {
	h := testHandlers()

	res, _ := h.HandleExecute(context.Background(), callReq(map[string]any{
		"plan": planArg("greet", map[string]any{"type": "tool", "name": "notify_say"}),
	}))
	if res.IsError {
		t.Fatalf("execute: %s", resultText(t, res))
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	id, _ := out["run_id"].(string)
	if id == "" {
		t.Fatalf("out = %v", out)
	}

	if _, err := h.Store.Wait(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	res, _ = h.HandleStatus(context.Background(), callReq(map[string]any{"run_id": id}))
	if res.IsError || !strings.Contains(resultText(t, res), id) {
		t.Errorf("status = %s", resultText(t, res))
	}

	res, _ = h.HandleStatus(context.Background(), callReq(map[string]any{"run_id": "missing"}))
	if !res.IsError {
		t.Error("unknown run id must be an error")
	}

	// No id lists recent runs.
	res, _ = h.HandleStatus(context.Background(), callReq(map[string]any{}))
	if res.IsError || !strings.Contains(resultText(t, res), id) {
		t.Errorf("list = %s", resultText(t, res))
	}
}

func TestHandleCancel(t *testing.T) {
	h := testHandlers()

	res, _ := h.HandleCancel(context.Background(), callReq(map[string]any{}))
	if !res.IsError {
		t.Error("missing run_id must be an error")
	}

	res, _ = h.HandleCancel(context.Background(), callReq(map[string]any{"run_id": "missing"}))
	if !res.IsError {
		t.Error("unknown run must be an error")
	}
}

func TestHandleSchema(t *testing.T) {
	h := testHandlers()
	res, err := h.HandleSchema(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(resultText(t, res), "Robot Plan v1") {
		t.Errorf("schema = %s", resultText(t, res))
	}
}
