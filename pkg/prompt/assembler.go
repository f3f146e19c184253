// Package prompt renders the instruction text for one iteration from
// caller-supplied template sections and live request state.
//
// There is no built-in prompt: every word the model sees comes from the
// caller's sections, with {{VARIABLE}} placeholders substituted in dynamic
// sections.
package prompt

import (
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/odvcencio/stepwise/pkg/errors"
)

// Kind distinguishes verbatim sections from templated ones.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
)

// Section is one ordered block of the template.
type Section struct {
	ID      string `json:"id,omitempty"`
	Kind    Kind   `json:"kind"`
	Order   int    `json:"order"`
	Content string `json:"content"`
}

var variablePattern = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)

// Assemble renders sections in ascending Order. Dynamic sections whose
// variables all render empty are dropped. Unknown variables are left in
// place.
func Assemble(sections []Section, vars Variables) (string, error) {
	if len(sections) == 0 {
		return "", apperrors.New(apperrors.ErrCodeConfiguration, "no prompt template sections supplied")
	}

	ordered := append([]Section(nil), sections...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	rendered := make([]string, 0, len(ordered))
	for i, section := range ordered {
		switch section.Kind {
		case KindStatic:
			if strings.TrimSpace(section.Content) == "" {
				continue
			}
			rendered = append(rendered, section.Content)
		case KindDynamic:
			text, keep := renderDynamic(section.Content, vars)
			if keep {
				rendered = append(rendered, text)
			}
		default:
			return "", apperrors.Newf(apperrors.ErrCodeConfiguration, "template section %d has unknown kind %q", i, section.Kind).
				WithContext("section", section.ID)
		}
	}

	return strings.Join(rendered, "\n\n"), nil
}

func renderDynamic(content string, vars Variables) (string, bool) {
	refs := variablePattern.FindAllStringSubmatch(content, -1)

	known := 0
	nonEmpty := 0
	pairs := make([]string, 0, len(refs)*2)
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		name := ref[1]
		value, ok := vars[name]
		if !ok {
			// Unknown variables stay verbatim and count as content.
			nonEmpty++
			continue
		}
		known++
		if strings.TrimSpace(value) != "" {
			nonEmpty++
		}
		if !seen[name] {
			seen[name] = true
			pairs = append(pairs, ref[0], value)
		}
	}

	if len(refs) > 0 && nonEmpty == 0 && known > 0 {
		return "", false
	}

	text := content
	if len(pairs) > 0 {
		text = strings.NewReplacer(pairs...).Replace(content)
	}
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
