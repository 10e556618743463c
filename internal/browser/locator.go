package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// Locator addresses one element among the matches of a selector.
// Index counts from zero; a negative Index counts from the end (-1 is the last match).
type Locator struct {
	Selector string
	Index    int
}

// Locate returns a locator for the first match of selector.
func Locate(selector string) Locator {
	return Locator{Selector: selector}
}

// Last returns a locator for the last match.
func (l Locator) Last() Locator {
	return Locator{Selector: l.Selector, Index: -1}
}

// Nth returns a locator for the i-th match.
func (l Locator) Nth(i int) Locator {
	return Locator{Selector: l.Selector, Index: i}
}

func (l Locator) String() string {
	switch {
	case l.Index == 0:
		return l.Selector
	case l.Index < 0:
		return fmt.Sprintf("%s >> last", l.Selector)
	default:
		return fmt.Sprintf("%s >> nth=%d", l.Selector, l.Index)
	}
}

// Clause is one alternative of a selector in the dialect the page understands:
//
//	#id, .class, input[name='x']        plain CSS
//	button:has-text('Sign in')          CSS filtered by case-insensitive text containment
//	text=Accept all                     any element whose own text contains the string
//	xpath=//select/following-sibling::span
type Clause struct {
	CSS   string `json:"css,omitempty"`
	XPath string `json:"xpath,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Query is a parsed selector. It matches the union of its clauses in document order.
type Query struct {
	Clauses []Clause `json:"clauses"`
}

var hasTextPattern = regexp.MustCompile(`^(.*?):has-text\((?:'([^']*)'|"([^"]*)")\)\s*$`)

// ParseSelector splits a selector into its comma-separated clauses. XPath and
// text= selectors are never split.
func ParseSelector(selector string) Query {
	s := strings.TrimSpace(selector)
	if isWholeSelector(s) {
		return Query{Clauses: []Clause{parseClause(s)}}
	}

	var clauses []Clause
	for _, part := range splitTopLevel(s) {
		if part = strings.TrimSpace(part); part != "" {
			clauses = append(clauses, parseClause(part))
		}
	}
	if len(clauses) == 0 {
		clauses = []Clause{{CSS: s}}
	}
	return Query{Clauses: clauses}
}

func isWholeSelector(s string) bool {
	return strings.HasPrefix(s, "xpath=") ||
		strings.HasPrefix(s, "//") ||
		strings.HasPrefix(s, "(//") ||
		strings.HasPrefix(s, "text=")
}

func parseClause(s string) Clause {
	switch {
	case strings.HasPrefix(s, "xpath="):
		return Clause{XPath: strings.TrimPrefix(s, "xpath=")}
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return Clause{XPath: s}
	case strings.HasPrefix(s, "text="):
		return Clause{CSS: "*", Text: unquote(strings.TrimPrefix(s, "text="))}
	}

	if m := hasTextPattern.FindStringSubmatch(s); m != nil {
		css := strings.TrimSpace(m[1])
		if css == "" {
			css = "*"
		}
		text := m[2]
		if text == "" {
			text = m[3]
		}
		return Clause{CSS: css, Text: text}
	}
	return Clause{CSS: s}
}

// splitTopLevel splits s on commas outside quotes, brackets and parentheses.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
