package model

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/stepwise/pkg/logging"
)

const maxLoggedBody = 10000

var redactedHeaders = map[string]bool{
	"authorization":  true,
	"x-api-key":      true,
	"x-goog-api-key": true,
}

// LoggingTransport is an http.RoundTripper that records every provider
// exchange as a network event. Bodies are captured only when enabled.
type LoggingTransport struct {
	base        http.RoundTripper
	logger      *logging.Logger
	captureBody bool
}

// NewLoggingTransport wraps base, defaulting to http.DefaultTransport.
func NewLoggingTransport(base http.RoundTripper, logger *logging.Logger, captureBody bool) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{base: base, logger: logger, captureBody: captureBody}
}

// RoundTrip implements http.RoundTripper
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	if t.logger == nil {
		return t.base.RoundTrip(req)
	}

	details := map[string]any{
		"method":          req.Method,
		"url":             req.URL.String(),
		"request_headers": sanitizeHeaders(req.Header),
	}

	if t.captureBody && req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		if err == nil {
			details["request_body"] = truncateBody(string(bodyBytes))
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	details["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		details["error"] = err.Error()
		_ = t.logger.Warn(logging.CategoryNetwork, "network.error", "provider request failed", details)
		return nil, err
	}

	details["status"] = resp.StatusCode
	if t.captureBody && resp.Body != nil {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		details["response_body"] = truncateBody(string(bodyBytes))
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	if t.captureBody {
		_ = t.logger.Info(logging.CategoryNetwork, "network.exchange", "provider exchange", details)
	} else {
		_ = t.logger.Debug(logging.CategoryNetwork, "network.exchange", "provider exchange", details)
	}
	return resp, nil
}

// sanitizeHeaders converts headers to a map, masking credentials.
func sanitizeHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		if redactedHeaders[strings.ToLower(key)] {
			result[key] = "[REDACTED]"
		} else {
			result[key] = strings.Join(values, ", ")
		}
	}
	return result
}

func truncateBody(body string) string {
	if len(body) > maxLoggedBody {
		return body[:maxLoggedBody] + "\n...[truncated]"
	}
	return body
}
