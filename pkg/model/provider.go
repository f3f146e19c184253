// Package model talks to model providers. Each provider family is one
// Strategy that knows how to shape a request for structured output and how
// to pull the response text back out; nothing outside this package is
// provider-aware.
package model

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/odvcencio/stepwise/pkg/errors"
)

// Provider family identifiers. They double as the model id prefix.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGoogle     = "google"
	ProviderOllama     = "ollama"
)

// Prompt is the canonical input to one model call.
type Prompt struct {
	// Model is the namespaced id, e.g. "anthropic/claude-sonnet-4".
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Credentials are process-scoped settings for one provider family.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Strategy builds a provider-native request and extracts the response
// text. BuildRequest receives the provider-native model name in p.Model.
type Strategy interface {
	ID() string
	RequiresKey() bool
	BuildRequest(ctx context.Context, p Prompt, creds Credentials) (*http.Request, error)
	ExtractText(body []byte) (string, error)
}

var strategies = map[string]Strategy{
	ProviderAnthropic:  anthropicStrategy{},
	ProviderOpenAI:     openAIStrategy{id: ProviderOpenAI, baseURL: openAIBaseURL, path: "/v1/chat/completions"},
	ProviderOpenRouter: openAIStrategy{id: ProviderOpenRouter, baseURL: openRouterBaseURL, path: "/api/v1/chat/completions"},
	ProviderGoogle:     geminiStrategy{},
	ProviderOllama:     ollamaStrategy{},
}

// StrategyFor maps a namespaced model id to its strategy and the
// provider-native model name.
func StrategyFor(modelID string) (Strategy, string, error) {
	prefix, native, ok := strings.Cut(strings.TrimSpace(modelID), "/")
	if !ok || native == "" {
		return nil, "", apperrors.Newf(apperrors.ErrCodeConfiguration, "model id %q has no provider prefix", modelID)
	}
	prefix = strings.ToLower(prefix)
	if prefix == "gemini" {
		prefix = ProviderGoogle
	}
	s, ok := strategies[prefix]
	if !ok {
		return nil, "", apperrors.Newf(apperrors.ErrCodeConfiguration, "unknown model provider %q", prefix).
			WithContext("model", modelID)
	}
	return s, native, nil
}

// ProviderOf returns the provider family of modelID, or "" when unknown.
func ProviderOf(modelID string) string {
	s, _, err := StrategyFor(modelID)
	if err != nil {
		return ""
	}
	return s.ID()
}
