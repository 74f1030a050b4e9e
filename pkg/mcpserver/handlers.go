package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calegria/roboplan/pkg/plan"
	"github.com/calegria/roboplan/pkg/store"
)

// waitCap bounds a blocking plan_execute call so a host that forgets a
// timeout does not hang its session forever.
const waitCap = 5 * time.Minute

// Handlers carries the dependencies the MCP tools need.
type Handlers struct {
	Store        *store.Store
	AllowedTools map[string]bool
}

// HandleValidate implements the plan_validate MCP tool.
func (h *Handlers) HandleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, result := h.decodePlan(req)
	if result != nil {
		return result, nil
	}
	errs := plan.Validate(p, h.AllowedTools)
	if plan.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("plan %q is valid (%d steps)", p.GoalType, len(p.Steps))), nil
}

// HandleExecute implements the plan_execute MCP tool.
func (h *Handlers) HandleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, result := h.decodePlan(req)
	if result != nil {
		return result, nil
	}
	if errs := plan.Validate(p, h.AllowedTools); plan.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	id := h.Store.Start(ctx, p)

	wait, _ := req.GetArguments()["wait"].(bool)
	if !wait {
		return jsonResult(map[string]any{"ok": true, "run_id": id}, false), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitCap)
	defer cancel()
	run, err := h.Store.Wait(waitCtx, id)
	if err != nil {
		return jsonResult(map[string]any{"ok": true, "run_id": id, "note": "still running"}, false), nil
	}
	return jsonResult(run, !run.OK), nil
}

// HandleStatus implements the plan_status MCP tool.
func (h *Handlers) HandleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["run_id"].(string)
	if id == "" {
		return jsonResult(h.Store.List(20), false), nil
	}
	run, err := h.Store.Get(id)
	if err != nil {
		return errorResult(fmt.Sprintf("run %q not found", id)), nil
	}
	return jsonResult(run, false), nil
}

// HandleCancel implements the plan_cancel MCP tool.
func (h *Handlers) HandleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["run_id"].(string)
	if id == "" {
		return errorResult("run_id argument is required"), nil
	}
	if err := h.Store.Cancel(id); err != nil {
		return errorResult(fmt.Sprintf("run %q not found", id)), nil
	}
	return textResult(fmt.Sprintf("cancel requested for run %s", id)), nil
}

// HandleSchema implements the plan_schema MCP tool.
func (h *Handlers) HandleSchema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := plan.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// decodePlan pulls the plan argument out of the request. A non-nil result
// is the error to return to the host.
func (h *Handlers) decodePlan(req mcp.CallToolRequest) (*plan.Plan, *mcp.CallToolResult) {
	raw, ok := req.GetArguments()["plan"]
	if !ok || raw == nil {
		return nil, errorResult("plan argument is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errorResult(fmt.Sprintf("encode plan: %v", err))
	}
	p, err := plan.ParseJSON(data)
	if err != nil {
		return nil, errorResult(err.Error())
	}
	return p, nil
}

func formatErrors(errs []*plan.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isError,
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(msg)},
		IsError: true,
	}
}
