// Package pathmatch matches archive paths against glob patterns.
//
// Supported syntax:
//   - * matches any run of characters except /
//   - ** matches across directories (**/ matches zero or more directories)
//   - ? matches one character except /
//   - [abc] and [!abc] character classes
//   - {a,b} alternatives, which may nest
//   - a leading ! turns the pattern into an exclusion
//
// Patterns are rooted at the archive root: "*.json" and "/*.json" are the
// same pattern. A path matches a pattern set when it matches at least one
// inclusion and no exclusion.
package pathmatch

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Matcher is a compiled set of patterns. It is safe for concurrent use.
type Matcher struct {
	patterns []string
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
}

const cacheSize = 512

var cache, _ = lru.New[string, *regexp.Regexp](cacheSize)

// Compile compiles patterns into a Matcher.
func Compile(patterns ...string) (*Matcher, error) {
	m := &Matcher{patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		if negate {
			p = p[1:]
		}
		if p == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		re, err := compile(p)
		if err != nil {
			return nil, err
		}
		if negate {
			m.exclude = append(m.exclude, re)
		} else {
			m.include = append(m.include, re)
		}
	}
	return m, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(patterns ...string) *Matcher {
	m, err := Compile(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether path is selected by the pattern set.
func (m *Matcher) Match(path string) bool {
	path = Clean(path)
	matched := false
	for _, re := range m.include {
		if re.MatchString(path) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, re := range m.exclude {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

// Clean roots path at / and strips a trailing slash.
func Clean(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := cache.Get(pattern); ok {
		return re, nil
	}
	expr, err := patternToRegex(Clean(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	cache.Add(pattern, re)
	return re, nil
}

// patternToRegex converts a glob to an unanchored regular expression.
func patternToRegex(pattern string) (string, error) {
	var result strings.Builder
	braces := 0

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				atSegmentStart := i == 0 || pattern[i-1] == '/'
				switch {
				case atSegmentStart && i+2 < len(pattern) && pattern[i+2] == '/':
					// **/ matches zero or more directories
					result.WriteString("(?:[^/]*/)*")
					i += 3
					continue
				case atSegmentStart && i+2 == len(pattern):
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
			j := i + 1
			if j < len(pattern) && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				result.WriteString(regexp.QuoteMeta("["))
				i++
				continue
			}
			class := pattern[i+1 : j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			result.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = j + 1

		case '{':
			braces++
			result.WriteString("(?:")
			i++

		case ',':
			if braces > 0 {
				result.WriteString("|")
			} else {
				result.WriteString(",")
			}
			i++

		case '}':
			if braces == 0 {
				result.WriteString(regexp.QuoteMeta("}"))
			} else {
				braces--
				result.WriteString(")")
			}
			i++

		case '\\':
			if i+1 < len(pattern) {
				result.WriteString(regexp.QuoteMeta(pattern[i+1 : i+2]))
				i += 2
			} else {
				result.WriteString(regexp.QuoteMeta(`\`))
				i++
			}

		default:
			result.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}

	if braces != 0 {
		return "", fmt.Errorf("unbalanced braces")
	}
	return result.String(), nil
}
