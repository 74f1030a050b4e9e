package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBridgeTimeout bounds a single bridge request. Tools backed by the
// bridge are expected to answer quickly; long operations go through wait
// steps instead.
const DefaultBridgeTimeout = 2 * time.Second

// Bridge posts tool arguments as JSON to a remote service and normalizes
// the response into the ok-envelope convention. One bridge per base URL.
type Bridge struct {
	base   string
	client *http.Client
}

// NewBridge creates a bridge for baseURL. An empty baseURL produces a
// bridge whose tools always fail with a configuration error, so a partially
// configured deployment still starts and reports the gap at call time.
func NewBridge(baseURL string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	return &Bridge{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the bridge has a base URL.
func (b *Bridge) Configured() bool { return b.base != "" }

// Post sends payload to base/path and returns the normalized result map.
func (b *Bridge) Post(ctx context.Context, path string, payload map[string]any) map[string]any {
	if b.base == "" {
		return Fail("bridge base URL not set")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Fail(fmt.Sprintf("encode payload: %v", err))
	}

	url := b.base + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Fail(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Fail(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fail(err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return map[string]any{
			"ok":     false,
			"error":  fmt.Sprintf("HTTP %d", resp.StatusCode),
			"detail": string(raw),
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{"ok": true}
	}

	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]any{"ok": false, "error": "invalid json response", "raw": string(raw)}
	}
	if m, ok := obj.(map[string]any); ok {
		return Normalize(m)
	}
	return map[string]any{"ok": true, "result": obj}
}

// Tool builds a handler that posts its arguments to path on this bridge.
func (b *Bridge) Tool(path string) Func {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return b.Post(ctx, path, args), nil
	}
}
