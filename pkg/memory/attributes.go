package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Attribute is a named, out-of-band value. Large tool outputs land here so
// the model can refer to them by name.
type Attribute struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Size  int    `json:"size"`
}

// NewAttribute builds an attribute with its approximate size filled in.
func NewAttribute(name string, value any) Attribute {
	return Attribute{Name: name, Value: value, Size: SizeOf(value)}
}

// Attributes is the attribute table keyed by name.
type Attributes map[string]Attribute

// AttributesFromList builds the table; later duplicates win.
func AttributesFromList(list []Attribute) (Attributes, error) {
	out := make(Attributes, len(list))
	for i, attr := range list {
		name := strings.TrimSpace(attr.Name)
		if name == "" {
			return nil, fmt.Errorf("attribute %d: name is required", i)
		}
		attr.Name = name
		if attr.Size == 0 {
			attr.Size = SizeOf(attr.Value)
		}
		out[name] = attr
	}
	return out, nil
}

// Names returns attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns name -> value for every attribute.
func (a Attributes) Values() map[string]any {
	out := make(map[string]any, len(a))
	for name, attr := range a {
		out[name] = attr.Value
	}
	return out
}

// SizeOf approximates a value's size as the length of its JSON encoding.
func SizeOf(value any) int {
	if s, ok := value.(string); ok {
		return len(s)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}

// Artifact is a named deliverable produced by the model or the caller.
type Artifact struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content any    `json:"content"`
}

// Artifacts is an ordered artifact list.
type Artifacts []Artifact

// Find returns the last artifact with the given name.
func (a Artifacts) Find(name string) (Artifact, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i].Name == name {
			return a[i], true
		}
	}
	return Artifact{}, false
}

// SessionFile is metadata about a file the caller has attached to the
// session. The engine never sees file bytes.
type SessionFile struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
}

// Snapshot groups the memory a resolver or renderer reads from.
type Snapshot struct {
	Blackboard Blackboard
	Scratchpad Scratchpad
	Attributes Attributes
	Artifacts  Artifacts
}
