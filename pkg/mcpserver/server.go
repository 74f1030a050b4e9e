// Package mcpserver exposes plan execution over the Model Context
// Protocol so agent hosts can submit, inspect, and cancel runs.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calegria/roboplan/pkg/store"
)

// NewServer creates an MCP server with the plan tools registered.
func NewServer(version string, st *store.Store, allowedTools map[string]bool) *server.MCPServer {
	s := server.NewMCPServer(
		"roboplan",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{Store: st, AllowedTools: allowedTools}

	s.AddTool(
		mcp.NewTool("plan_validate",
			mcp.WithDescription("Validate a plan document without executing it"),
			mcp.WithObject("plan", mcp.Required(), mcp.Description("The mcp.plan.v1 plan document")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("plan_execute",
			mcp.WithDescription("Execute a plan document; returns the run id immediately unless wait is set"),
			mcp.WithObject("plan", mcp.Required(), mcp.Description("The mcp.plan.v1 plan document")),
			mcp.WithBoolean("wait", mcp.Description("Block until the run finishes and return the full run record")),
		),
		h.HandleExecute,
	)

	s.AddTool(
		mcp.NewTool("plan_status",
			mcp.WithDescription("Fetch the run record for a run id, or list recent runs when no id is given"),
			mcp.WithString("run_id", mcp.Description("Run id returned by plan_execute")),
		),
		h.HandleStatus,
	)

	s.AddTool(
		mcp.NewTool("plan_cancel",
			mcp.WithDescription("Request cancellation of a running plan"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by plan_execute")),
		),
		h.HandleCancel,
	)

	s.AddTool(
		mcp.NewTool("plan_schema",
			mcp.WithDescription("Export the JSON Schema for mcp.plan.v1 plan documents"),
		),
		h.HandleSchema,
	)

	return s
}
