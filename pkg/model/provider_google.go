package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const googleBaseURL = "https://generativelanguage.googleapis.com"

// geminiStrategy asks for application/json output guided by the schema.
type geminiStrategy struct{}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  map[string]any  `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (geminiStrategy) ID() string        { return ProviderGoogle }
func (geminiStrategy) RequiresKey() bool { return true }

func (geminiStrategy) BuildRequest(ctx context.Context, p Prompt, creds Credentials) (*http.Request, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.User}}}},
		GenerationConfig: map[string]any{
			"responseMimeType":   "application/json",
			"responseJsonSchema": ResponseSchema(),
			"maxOutputTokens":    maxTokens(p),
		},
	}
	if p.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.System}}}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL(creds, googleBaseURL), url.PathEscape(p.Model))
	req, err := newJSONRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", creds.APIKey)
	return req, nil
}

func (geminiStrategy) ExtractText(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode google response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
