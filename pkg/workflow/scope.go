package workflow

import "strings"

// Scope is the read-only binding environment for template rendering and
// condition evaluation. Available keys depend on phase: user, run,
// round, maxRounds, state, steps, and (after a step executes) parsed
// and args for the current step.
//
// Scopes are layered by copying: With returns a shallow copy extended
// with one binding, so a child scope never aliases its parent.
type Scope map[string]interface{}

// With returns a copy of the scope extended with one binding.
func (s Scope) With(key string, value interface{}) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[key] = value
	return out
}

// Resolve looks up a dotted path. The second return reports whether the
// path is defined; undefined paths never error.
func (s Scope) Resolve(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = map[string]interface{}(s)
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			val, ok := v[part]
			if !ok {
				return nil, false
			}
			current = val
		case Scope:
			val, ok := v[part]
			if !ok {
				return nil, false
			}
			current = val
		case map[string]string:
			val, ok := v[part]
			if !ok {
				return nil, false
			}
			current = val
		default:
			return nil, false
		}
	}
	return current, true
}
