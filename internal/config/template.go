package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// placeholderRegex matches {key} substitution markers.
var placeholderRegex = regexp.MustCompile(`\{([a-z_]+)\}`)

// CommandTemplate is a shell-word command line with {key} placeholders.
// Only the keys given at parse time may appear.
type CommandTemplate struct {
	raw  string
	argv []string
	keys []string
}

// ParseTemplate splits raw into words and checks its placeholders against
// allowed. Every key in required must appear at least once.
func ParseTemplate(raw string, allowed, required []string) (*CommandTemplate, error) {
	argv, err := shellquote.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot split %q: %w", raw, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}

	var keys []string
	for _, word := range argv {
		for _, m := range placeholderRegex.FindAllStringSubmatch(word, -1) {
			key := m[1]
			if !slices.Contains(allowed, key) {
				return nil, fmt.Errorf("unknown placeholder {%s} (allowed: %s)", key, formatKeys(allowed))
			}
			if !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
	}

	for _, key := range required {
		if !slices.Contains(keys, key) {
			return nil, fmt.Errorf("missing required placeholder {%s}", key)
		}
	}

	return &CommandTemplate{raw: raw, argv: argv, keys: keys}, nil
}

// Render substitutes values into a copy of the template's argv.
// Keys without a value are left as-is.
func (t *CommandTemplate) Render(values map[string]string) []string {
	out := make([]string, len(t.argv))
	for i, word := range t.argv {
		out[i] = placeholderRegex.ReplaceAllStringFunc(word, func(m string) string {
			if v, ok := values[m[1:len(m)-1]]; ok {
				return v
			}
			return m
		})
	}
	return out
}

// Keys returns the placeholders used, in order of first appearance.
func (t *CommandTemplate) Keys() []string {
	return slices.Clone(t.keys)
}

func (t *CommandTemplate) String() string {
	return t.raw
}

func formatKeys(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = "{" + k + "}"
	}
	return strings.Join(parts, ", ")
}
