package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(true))
	assert.Equal(t, "failure", Outcome(false))
}

func TestHandlerExposesEngineMetrics(t *testing.T) {
	ParseTiers.WithLabelValues("strict").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stepwise_parse_tier_total"))
}

func TestTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("stepwise-test", "test", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "engine.iterate", AttrModel.String("openai/gpt-4o"))
	EndSpan(span, errors.New("provider failed"))

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "engine.iterate")
	assert.Contains(t, buf.String(), "provider failed")
}

func TestNilTracerProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}
