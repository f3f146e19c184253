package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tool executes one named tool call. Implementations are collaborators
// outside the engine; the engine only knows how to reach them.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Call is a canonical tool invocation produced by the model.
type Call struct {
	ID     string         `json:"id,omitempty"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	SaveAs string         `json:"saveAs,omitempty"`
}

// Clone returns a copy of the call with a shallow-copied params map.
func (c Call) Clone() Call {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Result is the outcome of one dispatched call. It is visible to the model
// for exactly one iteration unless the caller resubmits it.
type Result struct {
	ID         string `json:"id,omitempty"`
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	SavedAs    string `json:"savedAs,omitempty"`
}

// Spec describes a tool in the catalog shown to the model.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CatalogLines renders specs as "- name: description" lines sorted by name,
// with the parameter schema inlined as compact JSON when present.
func CatalogLines(specs []Spec) string {
	sorted := append([]Spec(nil), specs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	for i, spec := range sorted {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(spec.Name)
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
		if len(spec.Parameters) > 0 {
			if data, err := json.Marshal(spec.Parameters); err == nil {
				fmt.Fprintf(&sb, " params=%s", data)
			}
		}
	}
	return sb.String()
}
