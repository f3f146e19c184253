// Package terminal renders iteration results for people reading a
// terminal: a styled summary line per field and markdown for reports.
package terminal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/odvcencio/stepwise/pkg/engine"
)

// Writer prints styled output with markdown rendering.
type Writer struct {
	out      io.Writer
	renderer *glamour.TermRenderer
	width    int
	mu       sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	labelStyle   lipgloss.Style
	headerStyle  lipgloss.Style
}

// New creates a Writer on stdout.
func New() *Writer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a Writer on out. NO_COLOR or a non-terminal out
// disables colors and markdown styling.
func NewWithOutput(out io.Writer) *Writer {
	plain := termenv.EnvNoColor() || !IsTerminal(out)
	width := terminalWidth(out)
	if plain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	var renderer *glamour.TermRenderer
	if !plain {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(width, 100)),
		)
	}

	return &Writer{
		out:      out,
		renderer: renderer,
		width:    width,

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		labelStyle: lipgloss.NewStyle().Bold(true).Width(10),
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}),
	}
}

// Markdown renders md, falling back to plain text.
func (w *Writer) Markdown(md string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.markdownLocked(md)
}

func (w *Writer) markdownLocked(md string) error {
	if w.renderer == nil {
		fmt.Fprintln(w.out, md)
		return nil
	}
	rendered, err := w.renderer.Render(md)
	if err != nil {
		fmt.Fprintln(w.out, md)
		return err
	}
	fmt.Fprint(w.out, rendered)
	return nil
}

// Error prints an error message.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "error: "+fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, "warning: "+fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(format string, args ...any) {
	w.line(w.successStyle, "✓ "+fmt.Sprintf(format, args...))
}

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.line(w.dimStyle, fmt.Sprintf(format, args...))
}

func (w *Writer) line(style lipgloss.Style, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, style.Render(msg))
}

// Iteration prints a human summary of resp. The final report is rendered
// as markdown once the run has completed.
func (w *Writer) Iteration(resp *engine.Response) {
	if resp == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	header := fmt.Sprintf("iteration %s", resp.Debug.TraceID)
	fmt.Fprintln(w.out, w.headerStyle.Render(strings.TrimSpace(header)))

	statusStyle := w.successStyle
	switch {
	case !resp.Success || resp.Status == engine.StatusError:
		statusStyle = w.errorStyle
	case resp.Status == engine.StatusNeedsAssistance:
		statusStyle = w.warnStyle
	}
	w.field("status", statusStyle.Render(string(resp.Status)))
	if resp.Debug.Model != "" {
		w.field("model", resp.Debug.Model)
	}
	if !resp.Success {
		w.field("error", w.errorStyle.Render(fmt.Sprintf("[%s] %s", resp.ErrorCode, resp.Error)))
	}
	if resp.Reasoning != "" {
		w.field("reasoning", w.clip(resp.Reasoning))
	}
	if resp.BlackboardEntry != nil {
		w.field("entry", fmt.Sprintf("[%s] %s", strings.ToUpper(string(resp.BlackboardEntry.Category)), resp.BlackboardEntry.Content))
	}
	for _, r := range resp.ToolResults {
		outcome := w.successStyle.Render("ok")
		if !r.Success {
			outcome = w.errorStyle.Render(r.Error)
		}
		w.field("tool", fmt.Sprintf("%s %s", r.Tool, outcome))
	}
	for _, call := range resp.FrontendHandlers {
		w.field("frontend", w.infoStyle.Render(call.Tool))
	}
	for _, warning := range resp.Warnings {
		w.field("warning", w.warnStyle.Render(warning))
	}
	if resp.MessageToUser != "" {
		w.field("message", w.infoStyle.Render(resp.MessageToUser))
	}
	if resp.Status == engine.StatusCompleted && resp.FinalReport != nil {
		fmt.Fprintln(w.out)
		_ = w.markdownLocked(reportMarkdown(resp.FinalReport))
	}
	fmt.Fprintln(w.out, w.dimStyle.Render(fmt.Sprintf("parse=%s prompt_tokens=%d duration=%dms",
		resp.Debug.ParseTier, resp.Debug.PromptTokens, resp.Debug.DurationMs)))
}

// clip shortens a single-line value to the terminal width, measured in
// display cells.
func (w *Writer) clip(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	return runewidth.Truncate(value, max(w.width-11, 20), "…")
}

func (w *Writer) field(label, value string) {
	fmt.Fprintf(w.out, "%s %s\n", w.labelStyle.Render(label), value)
}

// reportMarkdown turns a final report into markdown. Strings render as-is;
// structured reports become a JSON code block.
func reportMarkdown(report any) string {
	switch v := report.(type) {
	case string:
		return v
	default:
		return "```json\n" + prettyJSON(v) + "\n```"
	}
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// IsTerminal reports whether out is an interactive terminal.
func IsTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}
