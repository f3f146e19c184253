package engine

import (
	"fmt"
	"strings"

	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/parse"
)

// normalize copies the model's output into resp, enforcing the state
// machine. The model decides the status; the engine only corrects values it
// cannot honor.
func normalize(resp *Response, out *parse.Response, iteration int) {
	resp.Reasoning = out.Reasoning
	resp.MessageToUser = out.MessageToUser
	resp.Artifacts = out.Artifacts
	resp.FinalReport = out.FinalReport

	resp.BlackboardEntry = normalizeEntry(resp, out.BlackboardEntry, iteration)
	resp.Status = normalizeStatus(resp, out.Status, out.FinalReport)
}

func normalizeEntry(resp *Response, raw *parse.BlackboardEntry, iteration int) *memory.Entry {
	if raw == nil {
		resp.warn("missing blackboard_entry")
		return nil
	}
	category, err := memory.ParseCategory(raw.Category)
	if err != nil {
		resp.warn(fmt.Sprintf("unknown blackboard category %q; recorded as observation", raw.Category))
		category = memory.CategoryObservation
	}
	return &memory.Entry{
		Category:  category,
		Content:   strings.TrimSpace(raw.Content),
		Iteration: iteration,
	}
}

func normalizeStatus(resp *Response, raw string, finalReport any) Status {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusInProgress, StatusNeedsAssistance, StatusError:
		return status
	case StatusCompleted:
		if emptyReport(finalReport) {
			resp.warn("status completed without final_report; continuing as in_progress")
			return StatusInProgress
		}
		return status
	case "":
		resp.warn("missing status; defaulting to in_progress")
		return StatusInProgress
	default:
		resp.warn(fmt.Sprintf("unknown status %q; defaulting to in_progress", raw))
		return StatusInProgress
	}
}

func emptyReport(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(r) == ""
	case map[string]any:
		return len(r) == 0
	case []any:
		return len(r) == 0
	default:
		return false
	}
}
