package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/stepwise/pkg/archive"
	"github.com/odvcencio/stepwise/pkg/bus"
	"github.com/odvcencio/stepwise/pkg/engine"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []*engine.Request
	respond  func(*engine.Request) *engine.Response
}

func (f *fakeEngine) Iterate(_ context.Context, req *engine.Request) *engine.Response {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(req)
	}
	return &engine.Response{
		Success: true,
		Status:  engine.StatusInProgress,
		Debug:   engine.Debug{TraceID: "trace-1", UserPrompt: req.Prompt},
	}
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestServer(eng Iterator, opts ...func(*ServerConfig)) *httptest.Server {
	cfg := ServerConfig{Engine: eng}
	for _, opt := range opts {
		opt(&cfg)
	}
	return httptest.NewServer(NewServer(cfg).Handler())
}

func post(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		engine Iterator
		ready  func() bool
		want   int
	}{
		{"no engine", nil, nil, http.StatusServiceUnavailable},
		{"no provider", &fakeEngine{}, func() bool { return false }, http.StatusServiceUnavailable},
		{"provider ready", &fakeEngine{}, func() bool { return true }, http.StatusOK},
		{"default ready", &fakeEngine{}, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(tt.engine, func(c *ServerConfig) { c.Ready = tt.ready })
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/readyz")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestIterateReturnsEngineResponse(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(eng)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/v1/iterate", `{"prompt":"plan a trip","model":"openai/gpt-4o","iteration":2}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[engine.Response](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "plan a trip", body.Debug.UserPrompt)

	require.Equal(t, 1, eng.count())
	assert.Equal(t, 2, eng.requests[0].Iteration)
}

func TestIterateProviderFailureIsStill200(t *testing.T) {
	eng := &fakeEngine{respond: func(req *engine.Request) *engine.Response {
		return &engine.Response{
			Success:   false,
			Status:    engine.StatusError,
			Error:     "provider openai returned status 500: boom",
			ErrorCode: "PROVIDER",
		}
	}}
	srv := newTestServer(eng)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/v1/iterate", `{"prompt":"x","model":"openai/gpt-4o"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "PROVIDER", body["errorCode"])
	assert.Equal(t, "", body["debug"].(map[string]any)["rawLLMResponse"])
}

func TestIterateRejectsBadBodies(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(eng, func(c *ServerConfig) { c.MaxBodyBytes = 64 })
	defer srv.Close()

	resp := post(t, srv.URL+"/api/v1/iterate", `{"prompt": `, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/v1/iterate", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/v1/iterate", `{"prompt":"`+strings.Repeat("a", 200)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	assert.Equal(t, 0, eng.count())
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	eng := &fakeEngine{}
	srv := newTestServer(eng, func(c *ServerConfig) { c.JWTSecret = secret })
	defer srv.Close()

	auth := NewAuthenticator(secret)
	valid, err := auth.Issue("workflow-ui", time.Hour)
	require.NoError(t, err)
	expired, err := auth.Issue("workflow-ui", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret").Issue("intruder", time.Hour)
	require.NoError(t, err)

	body := `{"prompt":"x","model":"openai/gpt-4o"}`
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			resp := post(t, srv.URL+"/api/v1/iterate", body, headers)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 1, eng.count())

	// Health stays public.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticatorRejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{Caller: "x", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewAuthenticator("secret").Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatorExpiredToken(t *testing.T) {
	auth := NewAuthenticator("secret")
	token, err := auth.Issue("ui", -time.Second)
	require.NoError(t, err)

	_, err = auth.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRateLimit(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(eng, func(c *ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	defer srv.Close()

	body := `{"prompt":"x","model":"openai/gpt-4o"}`
	first := post(t, srv.URL+"/api/v1/iterate", body, nil)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, srv.URL+"/api/v1/iterate", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))
	assert.Equal(t, 1, eng.count())
}

func TestTracesAndReplay(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, archive.Record{
		TraceID:   "01JTRACE",
		Model:     "anthropic/claude-sonnet-4-5",
		Iteration: 3,
		Status:    "in_progress",
		Success:   true,
		Request:   json.RawMessage(`{"prompt":"summarize the report","model":"anthropic/claude-sonnet-4-5","iteration":3}`),
		Response:  json.RawMessage(`{"success":true,"status":"in_progress"}`),
	}))

	eng := &fakeEngine{}
	srv := newTestServer(eng, func(c *ServerConfig) { c.Archive = store })
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/traces/01JTRACE")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[archive.Record](t, resp)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", rec.Model)

	listed, err := http.Get(srv.URL + "/api/v1/traces?limit=10")
	require.NoError(t, err)
	defer listed.Body.Close()
	require.Equal(t, http.StatusOK, listed.StatusCode)
	body := decode[struct {
		Traces []archive.Summary `json:"traces"`
	}](t, listed)
	require.Len(t, body.Traces, 1)
	assert.Equal(t, "01JTRACE", body.Traces[0].TraceID)

	badLimit, err := http.Get(srv.URL + "/api/v1/traces?limit=zero")
	require.NoError(t, err)
	defer badLimit.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badLimit.StatusCode)

	missing, err := http.Get(srv.URL + "/api/v1/traces/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	replay := post(t, srv.URL+"/api/v1/traces/01JTRACE/replay", "", nil)
	require.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "01JTRACE", replay.Header.Get("X-Replay-Of"))
	require.Equal(t, 1, eng.count())
	assert.Equal(t, "summarize the report", eng.requests[0].Prompt)
	assert.Equal(t, 3, eng.requests[0].Iteration)
}

func TestTracesDisabled(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/traces/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	eng := &fakeEngine{respond: func(*engine.Request) *engine.Response { panic("boom") }}
	srv := newTestServer(eng)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/v1/iterate", `{"prompt":"x","model":"openai/gpt-4o"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	mb := bus.NewMemoryBus()
	defer mb.Close()
	events := bus.NewEvents(mb, "stepwise")

	srv := newTestServer(&fakeEngine{}, func(c *ServerConfig) { c.Events = events })
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered just after the handshake; keep
	// publishing until the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = events.PublishIteration(context.Background(), bus.IterationCompleted{
					TraceID: "01JEVENT", Model: "openai/gpt-4o", Iteration: 4, Status: "in_progress", Success: true,
				})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var evt bus.IterationCompleted
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "01JEVENT", evt.TraceID)
	assert.Equal(t, 4, evt.Iteration)
}

func TestEventStreamDisabled(t *testing.T) {
	srv := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
