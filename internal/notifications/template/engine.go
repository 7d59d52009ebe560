// Package template extracts, validates and renders {{Variable}} placeholders
// in notification templates. Variable names match context keys regardless of
// case and accents.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}\s]+)\}\}`)

// MissingVariablesError is returned by Render when the context does not cover
// every placeholder in the body.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing template variables: %s", strings.Join(e.Names, ", "))
}

// ExtractVariables returns the distinct placeholder names in body, in order
// of first appearance.
func ExtractVariables(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// Validate lists the placeholders in body that have no matching context key.
// An empty result means Render will succeed.
func Validate(body string, ctx map[string]string) []string {
	folded := foldContext(ctx)
	var missing []string
	for _, name := range ExtractVariables(body) {
		if _, ok := folded[FoldKey(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Render substitutes every placeholder with its context value.
func Render(body string, ctx map[string]string) (string, error) {
	if missing := Validate(body, ctx); len(missing) > 0 {
		return "", &MissingVariablesError{Names: missing}
	}

	folded := foldContext(ctx)
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return folded[FoldKey(name)]
	}), nil
}
