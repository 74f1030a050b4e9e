// Package planner is the client for the external planning service, which
// turns a spoken-transcript goal into an mcp.plan.v1 plan document.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calegria/roboplan/pkg/plan"
	"github.com/calegria/roboplan/pkg/store"
)

// DefaultTimeout bounds one planning request. Planning goes through a
// language model, so this is much longer than a tool-bridge call.
const DefaultTimeout = 30 * time.Second

// Client talks to the planner's POST /plan endpoint.
type Client struct {
	base   string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// New creates a planner client. token may be empty when the service runs
// without auth.
func New(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:  token,
		client: &http.Client{Timeout: DefaultTimeout},
		log:    log,
	}
}

// Configured reports whether a planner URL is set.
func (c *Client) Configured() bool { return c.base != "" }

// planResponse is the planner's wire envelope.
type planResponse struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Raw   string          `json:"raw"`
	Plan  json.RawMessage `json:"plan"`
}

// Plan asks the service to produce a plan for transcript. toolNames is the
// set of tools the plan may use; the service constrains its output to them.
func (c *Client) Plan(ctx context.Context, transcript string, goalContext map[string]any, toolNames []string) (*plan.Plan, error) {
	if c.base == "" {
		return nil, fmt.Errorf("planner URL not configured")
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("transcript required")
	}

	payload := map[string]any{
		"transcript": transcript,
		"context":    goalContext,
	}
	if len(toolNames) > 0 {
		payload["tools"] = toolNames
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Planner-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read planner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("planner HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env planResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}
	if !env.OK {
		if env.Error == "" {
			env.Error = "planner failed"
		}
		return nil, fmt.Errorf("planner: %s", env.Error)
	}
	if len(env.Plan) == 0 {
		return nil, fmt.Errorf("planner returned no plan")
	}

	p, err := plan.ParseJSON(env.Plan)
	if err != nil {
		return nil, fmt.Errorf("planner emitted a malformed plan: %w", err)
	}
	c.log.Debug().Str("goal_type", p.GoalType).Int("steps", len(p.Steps)).Msg("plan received")
	return p, nil
}

// PlanAndStart plans a transcript, validates the result against the
// invocable tool set, and launches it on the store. It returns the run id.
func (c *Client) PlanAndStart(ctx context.Context, st *store.Store, transcript string, goalContext map[string]any, toolNames []string) (string, error) {
	p, err := c.Plan(ctx, transcript, goalContext, toolNames)
	if err != nil {
		return "", err
	}

	allowed := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		allowed[n] = true
	}
	if errs := plan.Validate(p, allowed); plan.HasErrors(errs) {
		return "", fmt.Errorf("planner emitted an invalid plan: %s", errs[0].Error())
	}

	return st.Start(ctx, p), nil
}
