package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/stepwise/pkg/memory"
)

func testSnapshot(t *testing.T) memory.Snapshot {
	t.Helper()
	attrs, err := memory.AttributesFromList([]memory.Attribute{
		{Name: "search_results", Value: map[string]any{"hits": []any{"a", "b"}}},
		{Name: "summary", Value: "short text"},
	})
	require.NoError(t, err)
	return memory.Snapshot{
		Blackboard: memory.Blackboard{
			{Category: memory.CategoryPlan, Content: "search first", Iteration: 1},
			{Category: memory.CategoryObservation, Content: "two hits", Iteration: 2},
		},
		Scratchpad: "working notes",
		Attributes: attrs,
		Artifacts: memory.Artifacts{
			{Name: "report.md", Type: "text/markdown", Content: "# Report"},
		},
	}
}

func TestResolveWholeTokens(t *testing.T) {
	r := New(testSnapshot(t))

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{name: "scratchpad", input: "{{scratchpad}}", want: "working notes"},
		{name: "blackboard", input: "{{blackboard}}", want: "[PLAN]: search first\n[OBSERVATION]: two hits"},
		{name: "attribute value keeps structure", input: "{{attribute:search_results}}", want: map[string]any{"hits": []any{"a", "b"}}},
		{name: "attribute with spacing", input: " {{ attribute : summary }} ", want: "short text"},
		{name: "artifact content", input: "{{artifact:report.md}}", want: "# Report"},
		{name: "whole attribute table", input: "{{attributes}}", want: map[string]any{
			"search_results": map[string]any{"hits": []any{"a", "b"}},
			"summary":        "short text",
		}},
		{name: "artifact list", input: "{{artifacts}}", want: []any{
			map[string]any{"name": "report.md", "type": "text/markdown", "content": "# Report"},
		}},
		{name: "plain string untouched", input: "no tokens here", want: "no tokens here"},
		{name: "uppercase prompt variable untouched", input: "{{BLACKBOARD}}", want: "{{BLACKBOARD}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, misses := r.Resolve(tt.input)
			assert.Empty(t, misses)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveUnknownAttributeYieldsMarker(t *testing.T) {
	r := New(testSnapshot(t))

	got, misses := r.Resolve("{{attribute:does_not_exist}}")
	assert.Equal(t, NotFoundMarker, got)
	assert.Equal(t, []Miss{{Kind: KindAttribute, Name: "does_not_exist"}}, misses)

	got, misses = r.Resolve("{{artifact:nope.pdf}}")
	assert.Equal(t, NotFoundMarker, got)
	assert.Equal(t, []Miss{{Kind: KindArtifact, Name: "nope.pdf"}}, misses)
}

func TestResolveEmbeddedTokens(t *testing.T) {
	r := New(testSnapshot(t))

	got, misses := r.ResolveString("Summary: {{attribute:summary}}; data={{attribute:search_results}}; x={{attribute:gone}}")
	assert.Equal(t, `Summary: short text; data={"hits":["a","b"]}; x=[not found]`, got)
	assert.Len(t, misses, 1)
}

func TestResolveParamsRecursive(t *testing.T) {
	r := New(testSnapshot(t))
	params := map[string]any{
		"body": "Notes:\n{{scratchpad}}",
		"headers": map[string]any{
			"X-Context": "{{attribute:summary}}",
		},
		"items":   []any{"{{attribute:summary}}", 42.0, map[string]any{"ref": "{{attribute:missing}}"}},
		"count":   3.0,
		"enabled": true,
	}

	got, misses := r.ResolveParams(params)

	assert.Equal(t, "Notes:\nworking notes", got["body"])
	assert.Equal(t, map[string]any{"X-Context": "short text"}, got["headers"])
	assert.Equal(t, []any{"short text", 42.0, map[string]any{"ref": NotFoundMarker}}, got["items"])
	assert.Equal(t, 3.0, got["count"])
	assert.Equal(t, true, got["enabled"])
	assert.Equal(t, []Miss{{Kind: KindAttribute, Name: "missing"}}, misses)

	// Input is not modified.
	assert.Equal(t, "{{attribute:summary}}", params["headers"].(map[string]any)["X-Context"])
}

func TestResolveEmptyMemory(t *testing.T) {
	r := New(memory.Snapshot{})

	got, misses := r.Resolve("{{scratchpad}}|{{blackboard}}|{{attributes}}")
	assert.Equal(t, "||{}", got)
	assert.Empty(t, misses)
}
