package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	openAIBaseURL     = "https://api.openai.com"
	openRouterBaseURL = "https://openrouter.ai"
)

// openAIStrategy uses schema-constrained JSON mode. OpenRouter speaks the
// same dialect under a different base path.
type openAIStrategy struct {
	id      string
	baseURL string
	path    string
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any  `json:"response_format"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s openAIStrategy) ID() string      { return s.id }
func (openAIStrategy) RequiresKey() bool { return true }

func (s openAIStrategy) BuildRequest(ctx context.Context, p Prompt, creds Credentials) (*http.Request, error) {
	var messages []openAIMessage
	if p.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: p.User})

	payload := openAIRequest{
		Model:     p.Model,
		Messages:  messages,
		MaxTokens: p.MaxTokens,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"schema": ResponseSchema(),
				"strict": false,
			},
		},
	}

	req, err := newJSONRequest(ctx, baseURL(creds, s.baseURL)+s.path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	return req, nil
}

func (s openAIStrategy) ExtractText(body []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s response: %w", s.id, err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", fmt.Errorf("%s error: %s", s.id, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return contentText(resp.Choices[0].Message.Content), nil
}

// contentText flattens string or content-part array message bodies.
func contentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}
