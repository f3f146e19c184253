package memory

import (
	"fmt"
	"strings"
)

// WriteMode selects how a scratchpad update is applied.
type WriteMode string

const (
	WriteAppend  WriteMode = "append"
	WriteReplace WriteMode = "replace"
)

// Scratchpad is the free-form working notes blob. It may embed reference
// tokens instead of large payloads.
type Scratchpad string

// ScratchpadUpdate is the model's explicit write operation.
type ScratchpadUpdate struct {
	Mode    WriteMode `json:"mode"`
	Content string    `json:"content"`
}

// Validate checks the write mode.
func (u ScratchpadUpdate) Validate() error {
	switch u.Mode {
	case WriteAppend, WriteReplace:
		return nil
	default:
		return fmt.Errorf("unknown scratchpad write mode: %q", string(u.Mode))
	}
}

// Apply returns the scratchpad after the update. Append inserts a newline
// when the existing text does not already end with one.
func (s Scratchpad) Apply(u ScratchpadUpdate) (Scratchpad, error) {
	if err := u.Validate(); err != nil {
		return s, err
	}
	if u.Mode == WriteReplace {
		return Scratchpad(u.Content), nil
	}
	current := string(s)
	if current == "" {
		return Scratchpad(u.Content), nil
	}
	if !strings.HasSuffix(current, "\n") {
		current += "\n"
	}
	return Scratchpad(current + u.Content), nil
}
