// Package template implements {{variable}} placeholder substitution for
// prompt bodies. It is deliberately dumb: no conditionals, no loops, no
// escaping rules. Unresolved placeholders pass through untouched unless the
// caller asks for strict mode.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches {{name}} with optional inner whitespace.
// Names are restricted to the identifier-ish charset the original templates
// use; anything else is treated as literal text.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// Options controls substitution behavior
type Options struct {
	// Strict causes Compile to fail when a placeholder has no matching
	// variable. The permissive default leaves the placeholder untouched.
	Strict bool
}

// Compile substitutes every {{key}} occurrence in text with the stringified
// value of variables[key]. Placeholders without a matching variable are left
// as-is, or reported via error in strict mode.
func Compile(text string, variables map[string]interface{}, opts Options) (string, error) {
	var missing []string

	compiled := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := variables[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return stringify(value)
	})

	if opts.Strict && len(missing) > 0 {
		return "", &MissingVariablesError{Variables: dedupe(missing)}
	}

	return compiled, nil
}

// Placeholders returns the distinct placeholder names in text, in order of
// first appearance.
func Placeholders(text string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return dedupe(names)
}

// MissingVariablesError reports placeholders left unresolved in strict mode
type MissingVariablesError struct {
	Variables []string
}

// Error implements the error interface
func (e *MissingVariablesError) Error() string {
	sorted := make([]string, len(e.Variables))
	copy(sorted, e.Variables)
	sort.Strings(sorted)
	return fmt.Sprintf("unresolved template variables: %s", strings.Join(sorted, ", "))
}

// stringify renders a variable value into template output
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// dedupe removes duplicates while preserving first-appearance order
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
