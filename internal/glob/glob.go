// Package glob compiles the shell-style patterns used in protection rules.
//
// Wildcards cross "/" boundaries, so "*.db" matches "data/cache.db". A
// character class is negated by a leading "!" or "^". A pattern ending in "/"
// is a directory glob: it matches the directory itself and everything below.
package glob

import (
	"fmt"
	"regexp"
	"strings"
)

// Compile translates pattern and compiles the anchored expression.
func Compile(pattern string) (*regexp.Regexp, error) {
	expr, err := Translate(pattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return re, nil
}

// IsDir reports whether pattern is a directory glob.
func IsDir(pattern string) bool {
	return strings.HasSuffix(pattern, "/")
}

// Translate converts a shell pattern into an anchored regular expression.
func Translate(pattern string) (string, error) {
	body := pattern
	dir := IsDir(pattern)
	if dir {
		body = strings.TrimRight(pattern, "/")
		if body == "" {
			return "", fmt.Errorf("invalid glob %q: empty directory pattern", pattern)
		}
	}

	var b strings.Builder
	b.WriteString(`^`)
	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				return "", fmt.Errorf("invalid glob %q: unterminated character class", pattern)
			}
			b.WriteString(translateClass(runes[i+1 : j]))
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if dir {
		b.WriteString(`(/.*)?`)
	}
	b.WriteString(`$`)
	return b.String(), nil
}

func translateClass(body []rune) string {
	var b strings.Builder
	b.WriteString(`[`)
	for k, r := range body {
		switch {
		case k == 0 && (r == '!' || r == '^'):
			b.WriteString(`^`)
		case r == '\\' || r == '[' || r == ']':
			b.WriteString(`\`)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(`]`)
	return b.String()
}
