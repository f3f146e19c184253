package prompt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Variable names recognized in dynamic sections.
const (
	VarTools            = "TOOLS"
	VarSessionFiles     = "SESSION_FILES"
	VarBlackboard       = "BLACKBOARD"
	VarScratchpad       = "SCRATCHPAD"
	VarPreviousResults  = "PREVIOUS_RESULTS"
	VarIteration        = "ITERATION"
	VarAssistanceAnswer = "ASSISTANCE_ANSWER"
	VarAttributes       = "ATTRIBUTES"
	VarArtifacts        = "ARTIFACTS"
	VarUserPrompt       = "USER_PROMPT"
)

// Variables maps variable names to rendered values.
type Variables map[string]string

// State is everything the renderer reads for one iteration.
type State struct {
	Prompt           string
	Iteration        int
	Memory           memory.Snapshot
	SessionFiles     []memory.SessionFile
	PreviousResults  []tool.Result
	AssistanceAnswer string
	Tools            []tool.Spec
	LoopWarning      string
}

// Render builds the variable table for s. Output is deterministic for a
// given state.
func Render(s State) Variables {
	return Variables{
		VarTools:            tool.CatalogLines(s.Tools),
		VarSessionFiles:     renderSessionFiles(s.SessionFiles),
		VarBlackboard:       RenderBlackboard(s.Memory.Blackboard, s.LoopWarning),
		VarScratchpad:       string(s.Memory.Scratchpad),
		VarPreviousResults:  renderResults(s.PreviousResults),
		VarIteration:        strconv.Itoa(s.Iteration),
		VarAssistanceAnswer: strings.TrimSpace(s.AssistanceAnswer),
		VarAttributes:       renderAttributes(s.Memory.Attributes),
		VarArtifacts:        renderArtifacts(s.Memory.Artifacts),
		VarUserPrompt:       s.Prompt,
	}
}

// RenderBlackboard prefixes each entry with its iteration and appends the
// loop warning, if any.
func RenderBlackboard(b memory.Blackboard, warning string) string {
	var sb strings.Builder
	for i, entry := range b {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[iter %d] [%s] %s", entry.Iteration, strings.ToUpper(string(entry.Category)), entry.Content)
	}
	if warning != "" && sb.Len() > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(warning)
	}
	return sb.String()
}

func renderSessionFiles(files []memory.SessionFile) string {
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(f.Name)
		var meta []string
		if f.Type != "" {
			meta = append(meta, f.Type)
		}
		if f.Size > 0 {
			meta = append(meta, fmt.Sprintf("%d bytes", f.Size))
		}
		if len(meta) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(meta, ", "))
		}
		if f.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(f.Description)
		}
	}
	return sb.String()
}

func renderResults(results []tool.Result) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		state := "success"
		if !r.Success {
			state = "error"
		}
		fmt.Fprintf(&sb, "### %s (%s)\n", r.Tool, state)
		if !r.Success {
			sb.WriteString(r.Error)
			continue
		}
		sb.WriteString(renderValue(r.Result))
	}
	return sb.String()
}

func renderAttributes(attrs memory.Attributes) string {
	var sb strings.Builder
	for i, name := range attrs.Names() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s (~%d bytes)", name, attrs[name].Size)
	}
	return sb.String()
}

func renderArtifacts(list memory.Artifacts) string {
	var sb strings.Builder
	for i, a := range list {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(a.Name)
		if a.Type != "" {
			fmt.Fprintf(&sb, " (%s)", a.Type)
		}
	}
	return sb.String()
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
