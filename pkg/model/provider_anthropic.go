package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// anthropicStrategy forces a single "respond" tool call whose input schema
// is the response schema, then reads the tool input back as the payload.
type anthropicStrategy struct{}

type anthropicRequest struct {
	Model      string             `json:"model"`
	System     string             `json:"system,omitempty"`
	Messages   []anthropicMessage `json:"messages"`
	MaxTokens  int                `json:"max_tokens"`
	Tools      []anthropicTool    `json:"tools"`
	ToolChoice map[string]any     `json:"tool_choice"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
}

func (anthropicStrategy) ID() string        { return ProviderAnthropic }
func (anthropicStrategy) RequiresKey() bool { return true }

func (anthropicStrategy) BuildRequest(ctx context.Context, p Prompt, creds Credentials) (*http.Request, error) {
	payload := anthropicRequest{
		Model:     p.Model,
		System:    p.System,
		Messages:  []anthropicMessage{{Role: "user", Content: p.User}},
		MaxTokens: maxTokens(p),
		Tools: []anthropicTool{{
			Name:        responseToolName,
			Description: "Return this iteration's structured response.",
			InputSchema: ResponseSchema(),
		}},
		ToolChoice: map[string]any{"type": "tool", "name": responseToolName},
	}

	req, err := newJSONRequest(ctx, baseURL(creds, anthropicBaseURL)+"/v1/messages", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", creds.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (anthropicStrategy) ExtractText(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == responseToolName && len(block.Input) > 0 {
				return string(block.Input), nil
			}
		case "text":
			texts = append(texts, block.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}
