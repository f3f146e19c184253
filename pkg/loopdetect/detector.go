// Package loopdetect flags repeated blackboard content so the next prompt
// can nudge the model toward a different strategy. Detection is advisory:
// it never blocks tool dispatch.
package loopdetect

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/odvcencio/stepwise/pkg/memory"
)

const (
	DefaultWindow    = 5
	DefaultThreshold = 3
)

var (
	stepPrefix = regexp.MustCompile(`^step\s*\d+\s*[:.)\-]*\s*`)
	spaces     = regexp.MustCompile(`\s+`)
	folder     = cases.Fold()
)

// Result describes the most repeated entry in the window.
type Result struct {
	Detected bool
	Content  string
	Count    int
	Window   int
}

// Detector counts normalized duplicates in the trailing window.
type Detector struct {
	Window    int
	Threshold int
}

// New returns a detector, substituting defaults for non-positive values.
func New(window, threshold int) Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Detector{Window: window, Threshold: threshold}
}

// Detect inspects the last Window entries of b.
func (d Detector) Detect(b memory.Blackboard) Result {
	recent := b.Last(d.Window)
	res := Result{Window: len(recent)}

	counts := make(map[string]int, len(recent))
	for _, entry := range recent {
		key := Normalize(entry.Content)
		if key == "" {
			continue
		}
		counts[key]++
		// Ties go to the earliest content to reach the count.
		if counts[key] > res.Count {
			res.Count = counts[key]
			res.Content = key
		}
	}
	res.Detected = res.Count >= d.Threshold
	return res
}

// Normalize trims, folds case, strips a leading "step N" marker and
// collapses whitespace.
func Normalize(content string) string {
	s := norm.NFKC.String(strings.TrimSpace(content))
	s = folder.String(s)
	s = stepPrefix.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Warning is the text appended to the rendered blackboard when a loop is
// detected. It is empty otherwise.
func Warning(r Result) string {
	if !r.Detected {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: possible loop detected. The same entry appears %d times in the last %d blackboard entries: %q. "+
			"Change strategy, try a different tool or parameters, or set status to needs_assistance and ask the user.",
		r.Count, r.Window, r.Content)
}
