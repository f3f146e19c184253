package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// decodeObject parses text as a single JSON object.
func decodeObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// decodeValue parses any JSON value, retrying once after sanitizing.
func decodeValue(text string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, true
	}
	if fixed, changed := sanitize(text); changed {
		if err := json.Unmarshal([]byte(fixed), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// sanitize escapes raw control characters that appear inside string
// literals. It reports whether anything changed.
func sanitize(s string) (string, bool) {
	var sb strings.Builder
	changed := false
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			sb.WriteByte(b)
			continue
		}
		if inString {
			switch {
			case b == '\\':
				escape = true
			case b == '"':
				inString = false
			case b < 0x20:
				changed = true
				switch b {
				case '\n':
					sb.WriteString(`\n`)
				case '\r':
					sb.WriteString(`\r`)
				case '\t':
					sb.WriteString(`\t`)
				default:
					fmt.Fprintf(&sb, `\u%04x`, b)
				}
				continue
			}
			sb.WriteByte(b)
			continue
		}
		if b == '"' {
			inString = true
		}
		sb.WriteByte(b)
	}
	return sb.String(), changed
}

// outermostObject returns the text between the first '{' and the last '}'.
func outermostObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// objectCandidates scans for balanced top-level {...} spans, skipping braces
// inside string literals. Candidates are returned largest first.
func objectCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	return candidates
}

var reasoningPattern = regexp.MustCompile(`(?s)"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// salvageReasoning pulls the reasoning string out of otherwise broken
// output.
func salvageReasoning(s string) (string, bool) {
	m := reasoningPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	raw := m[1]
	var text string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &text); err != nil {
		if fixed, _ := sanitize(`"` + raw + `"`); json.Unmarshal([]byte(fixed), &text) != nil {
			text = raw
		}
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}
