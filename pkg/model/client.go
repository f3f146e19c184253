package model

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/odvcencio/stepwise/pkg/errors"
	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/telemetry"
)

const defaultTimeout = 2 * time.Minute

// Completion is the normalized text of one model call.
type Completion struct {
	Text       string
	Provider   string
	Model      string
	StatusCode int
	Latency    time.Duration
}

// Options configures a Client.
type Options struct {
	Credentials map[string]Credentials
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *logging.Logger
	NetworkLogs bool
}

// Client issues one provider call per Complete. It never retries.
type Client struct {
	creds      map[string]Credentials
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a client. Without an explicit HTTPClient, requests go
// through a LoggingTransport.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: NewLoggingTransport(nil, logger, opts.NetworkLogs),
		}
	}
	creds := make(map[string]Credentials, len(opts.Credentials))
	for id, c := range opts.Credentials {
		creds[id] = c
	}
	return &Client{creds: creds, httpClient: httpClient, logger: logger}
}

// HasCredentials reports whether provider can be called at all.
func (c *Client) HasCredentials(provider string) bool {
	s, ok := strategies[provider]
	if !ok {
		return false
	}
	creds, configured := c.creds[provider]
	if !s.RequiresKey() {
		return configured
	}
	return creds.APIKey != ""
}

// Complete runs one provider exchange for p.
func (c *Client) Complete(ctx context.Context, p Prompt) (completion *Completion, err error) {
	strategy, native, err := StrategyFor(p.Model)
	if err != nil {
		return nil, err
	}
	provider := strategy.ID()

	creds := c.creds[provider]
	if strategy.RequiresKey() && creds.APIKey == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeConfiguration, "missing API key for provider %s", provider).
			WithContext("provider", provider)
	}

	ctx, span := telemetry.StartSpan(ctx, "model.complete",
		telemetry.AttrProvider.String(provider),
		telemetry.AttrModel.String(native),
	)
	start := time.Now()
	defer func() {
		telemetry.ProviderRequests.WithLabelValues(provider, telemetry.Outcome(err == nil)).Inc()
		telemetry.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}()

	call := p
	call.Model = native
	req, err := strategy.BuildRequest(ctx, call, creds)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build provider request").
			WithContext("provider", provider)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProvider, "provider "+provider+" request failed").
			WithContext("provider", provider)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProvider, "read provider response").
			WithContext("provider", provider)
	}
	span.SetAttributes(telemetry.AttrHTTPCode.Int(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Newf(apperrors.ErrCodeProvider, "provider %s returned status %d: %s", provider, resp.StatusCode, string(body)).
			WithContext("status", resp.StatusCode).
			WithContext("body", string(body))
	}

	text, err := strategy.ExtractText(body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProvider, "extract response text").
			WithContext("provider", provider)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeProvider, "provider %s returned empty response text", provider).
			WithContext("status", resp.StatusCode)
	}

	latency := time.Since(start)
	_ = c.logger.Info(logging.CategoryModel, "model.complete", "provider call finished", map[string]any{
		"provider":    provider,
		"model":       native,
		"status":      resp.StatusCode,
		"duration_ms": latency.Milliseconds(),
	})

	return &Completion{
		Text:       text,
		Provider:   provider,
		Model:      native,
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}, nil
}
