// Package privacy masks sensitive text before a post body is sent to the
// summarizer.
package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder replaces every match.
const Placeholder = "[REDACTED]"

// builtinPrefix marks a pattern entry that names one of the builtins.
const builtinPrefix = "builtin:"

// builtins are credentials that tend to get pasted into internal posts.
var builtins = map[string]string{
	"slack_token":    `\bxox[abposr]-[0-9A-Za-z-]{10,}`,
	"openai_key":     `\bsk-[A-Za-z0-9_-]{20,}`,
	"aws_access_key": `\b(AKIA|ASIA)[0-9A-Z]{16}\b`,
	"bearer":         `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
	"email":          `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
}

// Builtins lists the names accepted after "builtin:".
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile compiles redaction patterns. An entry "builtin:<name>" expands to
// the named builtin pattern; anything else is a regular expression.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if name, ok := strings.CutPrefix(p, builtinPrefix); ok {
			b, found := builtins[name]
			if !found {
				return nil, fmt.Errorf("unknown builtin redact pattern %q (known: %s)", name, strings.Join(Builtins(), ", "))
			}
			expr = b
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Apply replaces all matches of patterns in text and reports how many
// matches were replaced.
func Apply(text string, patterns []*regexp.Regexp) (string, int) {
	n := 0
	for _, re := range patterns {
		n += len(re.FindAllStringIndex(text, -1))
		text = re.ReplaceAllString(text, Placeholder)
	}
	return text, n
}
