package utils

import (
	"regexp"
	"strings"
)

// CompilePattern translates a glob-style key pattern (`*` and `?` wildcards)
// into an anchored regexp. Every other character is matched literally.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchesAll reports whether the pattern clears everything, so tiers can take
// a truncate fast path instead of scanning.
func MatchesAll(pattern string) bool {
	return pattern == "" || pattern == "*"
}
