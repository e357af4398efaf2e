package scenario

import (
	"fmt"
	"strings"
)

// Expand replaces {{targets.<name>}} with a target base URL and
// {{vars.<name>}} with a captured value.
func Expand(s string, targets, vars map[string]string) (string, error) {
	result := s
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			return result, nil
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression at position %d", start)
		}
		end += start + 2

		expr := strings.TrimSpace(result[start+2 : end-2])
		value, err := resolve(expr, targets, vars)
		if err != nil {
			return "", err
		}
		result = result[:start] + value + result[end:]
	}
}

func resolve(expr string, targets, vars map[string]string) (string, error) {
	kind, name, ok := strings.Cut(expr, ".")
	if !ok || name == "" {
		return "", fmt.Errorf("invalid template expression %q (expected targets.<name> or vars.<name>)", expr)
	}
	switch kind {
	case "targets":
		if v, ok := targets[name]; ok {
			return v, nil
		}
		return "", fmt.Errorf("template %q: unknown target %q", expr, name)
	case "vars":
		if v, ok := vars[name]; ok {
			return v, nil
		}
		return "", fmt.Errorf("template %q: variable %q not captured", expr, name)
	default:
		return "", fmt.Errorf("invalid template expression %q (expected targets.<name> or vars.<name>)", expr)
	}
}
