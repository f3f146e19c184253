package terminal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/odvcencio/stepwise/pkg/engine"
	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/tool"
)

func TestWriterMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithOutput(&buf)

	w.Error("something went wrong")
	w.Warn("be careful")
	w.Success("it worked")
	w.Dim("trace %s", "01J")

	got := buf.String()
	for _, want := range []string{"error: something went wrong", "warning: be careful", "✓ it worked", "trace 01J"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestWriterMarkdownPlainFallback(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithOutput(&buf)

	if err := w.Markdown("# Title"); err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if got := buf.String(); got != "# Title\n" {
		t.Errorf("Markdown = %q, want plain passthrough", got)
	}
}

func TestIterationSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithOutput(&buf)

	w.Iteration(&engine.Response{
		Success:         true,
		Status:          engine.StatusCompleted,
		Reasoning:       "Had enough data",
		BlackboardEntry: &memory.Entry{Category: memory.CategoryDecision, Content: "finish"},
		ToolResults: []tool.Result{
			{Tool: "get_time", Success: true},
			{Tool: "web_search", Success: false, Error: "timeout"},
		},
		FrontendHandlers: []tool.Call{{Tool: "render_chart"}},
		Warnings:         []string{"reference not found: attribute:x"},
		FinalReport:      "## Findings\nAll good.",
		Debug:            engine.Debug{TraceID: "01JTRACE", Model: "openai/gpt-4o", ParseTier: "strict"},
	})

	got := buf.String()
	for _, want := range []string{
		"iteration 01JTRACE",
		"completed",
		"[DECISION] finish",
		"get_time ok",
		"web_search timeout",
		"render_chart",
		"reference not found",
		"## Findings",
		"parse=strict",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestIterationFailureShowsCode(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithOutput(&buf)

	w.Iteration(&engine.Response{
		Success:     false,
		Status:      engine.StatusError,
		Error:       "missing credentials for provider anthropic",
		ErrorCode:   "CONFIGURATION",
		FinalReport: map[string]any{"ignored": true},
	})

	got := buf.String()
	if !strings.Contains(got, "[CONFIGURATION] missing credentials") {
		t.Errorf("failure summary missing error:\n%s", got)
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("report should only render for completed runs:\n%s", got)
	}
}

func TestReportMarkdownStructured(t *testing.T) {
	md := reportMarkdown(map[string]any{"answer": 42})
	if !strings.HasPrefix(md, "```json\n") || !strings.Contains(md, `"answer": 42`) {
		t.Errorf("reportMarkdown = %q", md)
	}
	if got := reportMarkdown("plain"); got != "plain" {
		t.Errorf("reportMarkdown(string) = %q", got)
	}
}

func TestIterationNil(t *testing.T) {
	var buf bytes.Buffer
	NewWithOutput(&buf).Iteration(nil)
	if buf.Len() != 0 {
		t.Errorf("nil response wrote %q", buf.String())
	}
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "thinking")
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	s.Stop()

	if !strings.Contains(buf.String(), "thinking") {
		t.Errorf("spinner never drew: %q", buf.String())
	}
	if s.Elapsed() <= 0 {
		t.Error("Elapsed should be positive after Start")
	}
}

func TestClipUsesDisplayWidth(t *testing.T) {
	w := &Writer{width: 31}

	got := w.clip("first line\nsecond   line that keeps going well past the edge")
	if strings.Contains(got, "\n") {
		t.Errorf("clip kept a newline: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("clip should mark truncation: %q", got)
	}
	if width := runewidth.StringWidth(got); width > 20 {
		t.Errorf("clip width = %d, want <= 20", width)
	}

	wide := w.clip("東京の天気を調べて東京の天気を調べて")
	if width := runewidth.StringWidth(wide); width > 20 {
		t.Errorf("wide clip width = %d, want <= 20", width)
	}
	if got := w.clip("short"); got != "short" {
		t.Errorf("clip(short) = %q", got)
	}
}
