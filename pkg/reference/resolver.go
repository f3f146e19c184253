// Package reference expands memory reference tokens found in tool
// parameters and text.
//
// Tokens are double-braced and lowercase so they never collide with the
// uppercase prompt template variables:
//
//	{{scratchpad}}          the scratchpad text
//	{{blackboard}}          "[CATEGORY]: content" lines
//	{{attributes}}          every named attribute as name -> value
//	{{attribute:NAME}}      one attribute value
//	{{artifacts}}           the artifact list
//	{{artifact:NAME}}       one artifact's content
//
// A string that is exactly one token is replaced by the referenced value
// itself; tokens embedded in longer text are substituted as text. Named
// references that cannot be found become NotFoundMarker.
package reference

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/odvcencio/stepwise/pkg/memory"
)

// NotFoundMarker replaces unresolvable named references so the model can
// see that its reference failed.
const NotFoundMarker = "[not found]"

// Kind identifies the token form.
type Kind string

const (
	KindScratchpad Kind = "scratchpad"
	KindBlackboard Kind = "blackboard"
	KindAttributes Kind = "attributes"
	KindAttribute  Kind = "attribute"
	KindArtifacts  Kind = "artifacts"
	KindArtifact   Kind = "artifact"
)

// Miss records a reference that could not be resolved.
type Miss struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

var tokenPattern = regexp.MustCompile(`\{\{\s*(scratchpad|blackboard|attributes|artifacts|attribute|artifact)\s*(?::\s*([^{}]+?)\s*)?\}\}`)

// Resolver expands tokens against one memory snapshot.
type Resolver struct {
	mem memory.Snapshot
}

// New builds a resolver over mem.
func New(mem memory.Snapshot) *Resolver {
	return &Resolver{mem: mem}
}

// Resolve walks value recursively and returns a resolved copy. Maps and
// slices are rebuilt; the input is not modified.
func (r *Resolver) Resolve(value any) (any, []Miss) {
	var misses []Miss
	out := r.resolve(value, &misses)
	return out, misses
}

// ResolveParams resolves a parameter map.
func (r *Resolver) ResolveParams(params map[string]any) (map[string]any, []Miss) {
	if params == nil {
		return nil, nil
	}
	var misses []Miss
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = r.resolve(v, &misses)
	}
	return out, misses
}

// ResolveString substitutes every token in s as text.
func (r *Resolver) ResolveString(s string) (string, []Miss) {
	var misses []Miss
	return r.substitute(s, &misses), misses
}

func (r *Resolver) resolve(value any, misses *[]Miss) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, misses)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.resolve(item, misses)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.resolve(item, misses)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.resolveString(item, misses)
		}
		return out
	default:
		return value
	}
}

func (r *Resolver) resolveString(s string, misses *[]Miss) any {
	if !strings.Contains(s, "{{") {
		return s
	}
	trimmed := strings.TrimSpace(s)
	if loc := tokenPattern.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		kind, name := submatches(trimmed, loc)
		return r.lookup(kind, name, misses)
	}
	return r.substitute(s, misses)
}

func (r *Resolver) substitute(s string, misses *[]Miss) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		loc := tokenPattern.FindStringSubmatchIndex(token)
		kind, name := submatches(token, loc)
		return asText(r.lookup(kind, name, misses))
	})
}

func submatches(s string, loc []int) (Kind, string) {
	kind := Kind(s[loc[2]:loc[3]])
	name := ""
	if loc[4] >= 0 {
		name = strings.TrimSpace(s[loc[4]:loc[5]])
	}
	return kind, name
}

func (r *Resolver) lookup(kind Kind, name string, misses *[]Miss) any {
	switch kind {
	case KindScratchpad:
		return string(r.mem.Scratchpad)
	case KindBlackboard:
		return r.mem.Blackboard.Lines()
	case KindAttributes:
		return r.mem.Attributes.Values()
	case KindArtifacts:
		list := make([]any, 0, len(r.mem.Artifacts))
		for _, a := range r.mem.Artifacts {
			list = append(list, map[string]any{"name": a.Name, "type": a.Type, "content": a.Content})
		}
		return list
	case KindAttribute:
		if attr, ok := r.mem.Attributes[name]; ok && name != "" {
			return attr.Value
		}
	case KindArtifact:
		if art, ok := r.mem.Artifacts.Find(name); ok && name != "" {
			return art.Content
		}
	}
	*misses = append(*misses, Miss{Kind: kind, Name: name})
	return NotFoundMarker
}

func asText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return NotFoundMarker
		}
		return string(data)
	}
}
