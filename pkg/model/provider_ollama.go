package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const ollamaBaseURL = "http://localhost:11434"

type ollamaStrategy struct{}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Format   map[string]any  `json:"format"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

func (ollamaStrategy) ID() string        { return ProviderOllama }
func (ollamaStrategy) RequiresKey() bool { return false }

func (ollamaStrategy) BuildRequest(ctx context.Context, p Prompt, creds Credentials) (*http.Request, error) {
	var messages []openAIMessage
	if p.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: p.User})

	payload := ollamaRequest{
		Model:    p.Model,
		Messages: messages,
		Format:   ResponseSchema(),
		Stream:   false,
	}
	if p.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": p.MaxTokens}
	}

	req, err := newJSONRequest(ctx, baseURL(creds, ollamaBaseURL)+"/api/chat", payload)
	if err != nil {
		return nil, err
	}
	if creds.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	return req, nil
}

func (ollamaStrategy) ExtractText(body []byte) (string, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}
	return resp.Message.Content, nil
}
