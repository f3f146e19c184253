package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Response is the canonical structured output of one model turn.
type Response struct {
	Reasoning        string                   `json:"reasoning"`
	ToolCalls        []tool.Call              `json:"tool_calls"`
	BlackboardEntry  *BlackboardEntry         `json:"blackboard_entry,omitempty"`
	Status           string                   `json:"status"`
	MessageToUser    string                   `json:"message_to_user,omitempty"`
	Artifacts        []memory.Artifact        `json:"artifacts,omitempty"`
	FinalReport      any                      `json:"final_report,omitempty"`
	ScratchpadUpdate *memory.ScratchpadUpdate `json:"scratchpad_update,omitempty"`
}

// BlackboardEntry is the entry as the model wrote it. The category is not
// validated here.
type BlackboardEntry struct {
	Category string `json:"category"`
	Content  string `json:"content"`
}

// nestedFields may arrive as JSON encoded inside a string.
var nestedFields = []string{"tool_calls", "blackboard_entry", "final_report", "artifacts", "scratchpad_update"}

// fromObject coerces a decoded object field by field. Fields that cannot be
// coerced fall back to their zero value and add a warning.
func fromObject(obj map[string]any) (*Response, []string) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	for _, field := range nestedFields {
		raw, ok := obj[field].(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(raw)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			if field == "final_report" {
				continue
			}
			if trimmed != "" {
				warn("%s was a plain string; ignored", field)
			}
			delete(obj, field)
			continue
		}
		value, ok := decodeValue(trimmed)
		if !ok {
			if field == "final_report" {
				continue
			}
			warn("%s held unparseable nested JSON; ignored", field)
			delete(obj, field)
			continue
		}
		obj[field] = value
	}

	resp := &Response{
		Reasoning:     asString(obj["reasoning"]),
		Status:        strings.ToLower(strings.TrimSpace(asString(obj["status"]))),
		MessageToUser: asString(obj["message_to_user"]),
		ToolCalls:     []tool.Call{},
	}

	switch calls := obj["tool_calls"].(type) {
	case nil:
	case []any:
		for i, item := range calls {
			call, ok := toCall(item)
			if !ok {
				warn("tool_calls[%d] has no tool name; skipped", i)
				continue
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
	case map[string]any:
		if call, ok := toCall(calls); ok {
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
	default:
		warn("tool_calls has unexpected type %T; ignored", calls)
	}

	if entry, ok := obj["blackboard_entry"].(map[string]any); ok {
		be := BlackboardEntry{
			Category: strings.TrimSpace(asString(entry["category"])),
			Content:  asString(entry["content"]),
		}
		if be.Category != "" || strings.TrimSpace(be.Content) != "" {
			resp.BlackboardEntry = &be
		}
	}

	switch arts := obj["artifacts"].(type) {
	case []any:
		for _, item := range arts {
			if a, ok := toArtifact(item); ok {
				resp.Artifacts = append(resp.Artifacts, a)
			}
		}
	case map[string]any:
		if a, ok := toArtifact(arts); ok {
			resp.Artifacts = append(resp.Artifacts, a)
		}
	}

	switch report := obj["final_report"].(type) {
	case nil:
	case string:
		if strings.TrimSpace(report) != "" {
			resp.FinalReport = report
		}
	default:
		resp.FinalReport = report
	}

	if update, ok := obj["scratchpad_update"].(map[string]any); ok {
		su := memory.ScratchpadUpdate{
			Mode:    memory.WriteMode(strings.ToLower(strings.TrimSpace(asString(update["mode"])))),
			Content: asString(update["content"]),
		}
		if su.Mode == "" {
			su.Mode = memory.WriteAppend
		}
		if err := su.Validate(); err != nil {
			warn("scratchpad_update ignored: %v", err)
		} else {
			resp.ScratchpadUpdate = &su
		}
	}

	return resp, warnings
}

func toCall(item any) (tool.Call, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return tool.Call{}, false
	}
	name := strings.TrimSpace(firstString(m, "tool", "name"))
	if name == "" {
		return tool.Call{}, false
	}

	call := tool.Call{
		ID:     strings.TrimSpace(asString(m["id"])),
		Tool:   name,
		SaveAs: strings.TrimSpace(firstString(m, "save_as", "saveAs")),
		Params: map[string]any{},
	}

	for _, key := range []string{"params", "parameters", "arguments"} {
		switch p := m[key].(type) {
		case map[string]any:
			call.Params = p
		case string:
			if v, ok := decodeValue(p); ok {
				if pm, ok := v.(map[string]any); ok {
					call.Params = pm
				}
			}
		default:
			continue
		}
		break
	}
	return call, true
}

func toArtifact(item any) (memory.Artifact, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return memory.Artifact{}, false
	}
	name := strings.TrimSpace(asString(m["name"]))
	if name == "" {
		return memory.Artifact{}, false
	}
	return memory.Artifact{Name: name, Type: asString(m["type"]), Content: m["content"]}, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
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
