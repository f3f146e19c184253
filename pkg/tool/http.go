package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/odvcencio/stepwise/pkg/errors"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxToolResponse    = 4 << 20
)

// HTTPTool invokes a collaborator executor reachable at a fixed endpoint.
type HTTPTool struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPTool builds an HTTP-backed tool. A nil client gets a default one.
func NewHTTPTool(name, endpoint string, client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPTool{name: name, endpoint: endpoint, client: client}
}

// Name returns the tool name.
func (t *HTTPTool) Name() string {
	return t.name
}

// Endpoint returns the collaborator URL.
func (t *HTTPTool) Endpoint() string {
	return t.endpoint
}

type httpToolRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Execute POSTs the call and decodes the reply. A reply shaped like
// {"success": bool, "result": ..., "error": "..."} is honored; any other
// JSON body is the result itself and non-JSON bodies come back as text.
func (t *HTTPTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(httpToolRequest{Tool: t.name, Params: params})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeToolExecution, "encode tool request").
			WithContext("tool", t.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeToolExecution, "build tool request").
			WithContext("tool", t.name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeToolExecution, "tool request failed").
			WithContext("tool", t.name)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponse))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeToolExecution, "read tool response").
			WithContext("tool", t.name)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, apperrors.Newf(apperrors.ErrCodeToolExecution,
			"tool endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))).
			WithContext("tool", t.name)
	}

	return decodeToolBody(t.name, data)
}

func decodeToolBody(name string, data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return string(trimmed), nil
	}

	envelope, ok := decoded.(map[string]any)
	if !ok {
		return decoded, nil
	}
	success, hasSuccess := envelope["success"].(bool)
	if !hasSuccess {
		return decoded, nil
	}
	if !success {
		msg, _ := envelope["error"].(string)
		if strings.TrimSpace(msg) == "" {
			msg = "tool reported failure"
		}
		return nil, apperrors.New(apperrors.ErrCodeToolExecution, msg).WithContext("tool", name)
	}
	return envelope["result"], nil
}

// String identifies the tool in logs.
func (t *HTTPTool) String() string {
	return fmt.Sprintf("%s -> %s", t.name, t.endpoint)
}
