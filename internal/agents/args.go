package agents

import "fmt"

// Argument accessors. Steps reaching an agent have passed validation, so a
// missing required argument here is a wiring defect; the accessors still fail
// cleanly rather than panic.

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is not a string", name)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(args map[string]any, name string, fallback int) int {
	v, ok := args[name]
	if !ok {
		return fallback
	}
	n, ok := v.(int)
	if !ok {
		return fallback
	}
	return n
}

func stringListArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, element := range list {
			s, ok := element.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q has a non-string element", name)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("argument %q is not a list", name)
}
