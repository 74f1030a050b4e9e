package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calegria/roboplan/pkg/engine"
)

// Client is the watcher's view of the REST surface.
type Client struct {
	base string
	http *http.Client
}

// NewClient points the watcher at a running roboplan serve instance.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

type runsEnvelope struct {
	OK   bool          `json:"ok"`
	Runs []*engine.Run `json:"runs"`
}

type runEnvelope struct {
	OK    bool        `json:"ok"`
	Run   *engine.Run `json:"run"`
	Error string      `json:"error"`
}

// ListRuns fetches recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*engine.Run, error) {
	var env runsEnvelope
	if err := c.getJSON(ctx, fmt.Sprintf("/runs?limit=%d", limit), &env); err != nil {
		return nil, err
	}
	return env.Runs, nil
}

// GetRun fetches one run record.
func (c *Client) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	var env runEnvelope
	if err := c.getJSON(ctx, "/runs/"+id, &env); err != nil {
		return nil, err
	}
	if env.Run == nil {
		return nil, fmt.Errorf("run %s: %s", id, env.Error)
	}
	return env.Run, nil
}

// CancelRun requests cancellation of a running plan.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/runs/"+id+"/cancel", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, dst)
}
