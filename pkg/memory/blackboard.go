// Package memory defines the caller-owned working memory that travels with
// every iteration request: the blackboard journal, the scratchpad, named
// attributes and artifacts.
//
// Everything here is plain data. The engine reads what the caller sends and
// returns deltas; nothing is retained between iterations.
package memory

import (
	"fmt"
	"strings"
)

// Category classifies a blackboard entry.
type Category string

const (
	CategoryObservation      Category = "observation"
	CategoryInsight          Category = "insight"
	CategoryPlan             Category = "plan"
	CategoryDecision         Category = "decision"
	CategoryError            Category = "error"
	CategoryQuestion         Category = "question"
	CategoryArtifact         Category = "artifact"
	CategoryUserInterjection Category = "user_interjection"
)

var validCategories = map[Category]bool{
	CategoryObservation:      true,
	CategoryInsight:          true,
	CategoryPlan:             true,
	CategoryDecision:         true,
	CategoryError:            true,
	CategoryQuestion:         true,
	CategoryArtifact:         true,
	CategoryUserInterjection: true,
}

// Validate ensures the category is one of the known values.
func (c Category) Validate() error {
	if !validCategories[c] {
		return fmt.Errorf("unknown blackboard category: %q", string(c))
	}
	return nil
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Entry is one line of the blackboard journal.
type Entry struct {
	Category  Category `json:"category"`
	Content   string   `json:"content"`
	Iteration int      `json:"iteration"`
}

// Validate checks the entry's category.
func (e Entry) Validate() error {
	return e.Category.Validate()
}

// Blackboard is the append-only planning journal, ordered by iteration.
type Blackboard []Entry

// Append returns a new blackboard with entry added at the end. The receiver
// is left untouched.
func (b Blackboard) Append(entry Entry) Blackboard {
	out := make(Blackboard, len(b), len(b)+1)
	copy(out, b)
	return append(out, entry)
}

// Last returns up to n trailing entries.
func (b Blackboard) Last(n int) Blackboard {
	if n <= 0 {
		return nil
	}
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// Validate checks every category and that iterations never go backwards.
func (b Blackboard) Validate() error {
	prev := 0
	for i, entry := range b {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("blackboard entry %d: %w", i, err)
		}
		if entry.Iteration < prev {
			return fmt.Errorf("blackboard entry %d: iteration %d precedes %d", i, entry.Iteration, prev)
		}
		prev = entry.Iteration
	}
	return nil
}

// Lines renders entries as "[CATEGORY]: content" lines.
func (b Blackboard) Lines() string {
	var sb strings.Builder
	for i, entry := range b {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s]: %s", strings.ToUpper(string(entry.Category)), entry.Content)
	}
	return sb.String()
}
