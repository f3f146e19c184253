package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	return events
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	if err := logger.Info(CategoryParse, "tier_succeeded", "parsed response", map[string]any{"tier": "strict"}); err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	events := decodeEvents(t, &buf)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event := events[0]
	if event.Level != LevelInfo || event.Category != CategoryParse || event.EventType != "tier_succeeded" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Details["tier"] != "strict" {
		t.Errorf("details = %v", event.Details)
	}
	if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Minute {
		t.Errorf("timestamp not populated: %v", event.Timestamp)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel Level
		log      func(l *Logger)
		want     int
	}{
		{
			name:     "debug suppressed at info",
			minLevel: LevelInfo,
			log:      func(l *Logger) { l.Debug(CategoryEngine, "x", "", nil) },
			want:     0,
		},
		{
			name:     "warn passes at info",
			minLevel: LevelInfo,
			log:      func(l *Logger) { l.Warn(CategoryEngine, "x", "", nil) },
			want:     1,
		},
		{
			name:     "info suppressed at error",
			minLevel: LevelError,
			log:      func(l *Logger) { l.Info(CategoryEngine, "x", "", nil) },
			want:     0,
		},
		{
			name:     "debug passes at debug",
			minLevel: LevelDebug,
			log:      func(l *Logger) { l.Debug(CategoryEngine, "x", "", nil) },
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf)
			logger.SetMinLevel(tt.minLevel)
			tt.log(logger)
			if got := len(decodeEvents(t, &buf)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestLoggerErrorOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := New(&out)
	logger.SetErrorOutput(&errOut)

	logger.Info(CategoryTool, "ok", "", nil)
	logger.Error(CategoryTool, "failed", "boom", nil)

	if got := len(decodeEvents(t, &out)); got != 2 {
		t.Errorf("main output events = %d, want 2", got)
	}
	errs := decodeEvents(t, &errOut)
	if len(errs) != 1 || errs[0].EventType != "failed" {
		t.Errorf("error output = %+v", errs)
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf).WithTrace("01HTRACE")

	logger.Info(CategoryEngine, "iteration_started", "", nil)

	events := decodeEvents(t, &buf)
	if len(events) != 1 || events[0].TraceID != "01HTRACE" {
		t.Fatalf("trace id not stamped: %+v", events)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	if err := logger.Info(CategoryEngine, "x", "", nil); err != nil {
		t.Fatalf("nil logger returned error: %v", err)
	}
	if logger.WithTrace("abc") != nil {
		t.Fatal("nil logger WithTrace should stay nil")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
