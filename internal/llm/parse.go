package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from a model
// answer.
var ErrNoJSON = errors.New("no JSON object found in response")

var fenceRe = regexp.MustCompile("```(?:json)?")

// ExtractJSON recovers the first JSON object from a model answer. Markdown
// fences are removed; if the remaining text is not valid JSON the first
// balanced {...} block is tried.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(fenceRe.ReplaceAllString(strings.TrimSpace(text), ""))
	text = strings.TrimSpace(strings.TrimRight(text, "`"))

	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, ErrNoJSON
	}
	if end := balancedEnd(text[start:]); end > 0 {
		candidate := text[start : start+end]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoJSON
}

// balancedEnd returns the length of the leading {...} block of s, or 0 if it
// never closes. Braces inside strings are ignored.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
