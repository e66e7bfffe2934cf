package workflow

import (
	"strings"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/parser"
)

// Render evaluates the {{path||fallback}} expressions in a template
// against the scope.
//
// Each expression holds one or more segments separated by "||". A
// segment is either a double-quoted literal ("\"" escapes a quote) or a
// dotted scope path. The first segment yielding a defined, non-empty
// value wins; an empty string counts as defined only when it is a
// literal. Non-string scope values are stringified as canonical JSON.
// An expression whose segments all miss renders as the empty string.
//
// Rendering is side-effect-free and deterministic given the same scope.
func Render(template string, scope Scope) (string, error) {
	var out strings.Builder
	i := 0
	for {
		start := strings.Index(template[i:], "{{")
		if start < 0 {
			out.WriteString(template[i:])
			return out.String(), nil
		}
		start += i
		out.WriteString(template[i:start])

		segments, end, err := parseExpression(template, start+2)
		if err != nil {
			return "", err
		}
		out.WriteString(evaluateSegments(segments, scope))
		i = end
	}
}

// RenderTree recursively renders every string leaf of a JSON-like
// structure, returning a new structure. Non-string leaves pass through
// unchanged.
func RenderTree(value interface{}, scope Scope) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return Render(v, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			rendered, err := RenderTree(item, scope)
			if err != nil {
				return nil, errors.Wrapf(err, "rendering field %q", k)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			rendered, err := RenderTree(item, scope)
			if err != nil {
				return nil, errors.Wrapf(err, "rendering index %d", i)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderMap renders every value of a string map (state updates, initial
// state, argsObject).
func RenderMap(templates map[string]string, scope Scope) (map[string]string, error) {
	out := make(map[string]string, len(templates))
	for k, t := range templates {
		rendered, err := Render(t, scope)
		if err != nil {
			return nil, errors.Wrapf(err, "rendering %q", k)
		}
		out[k] = rendered
	}
	return out, nil
}

// ValidateTemplate checks expression syntax without evaluating. Document
// validation uses this to reject malformed templates early.
func ValidateTemplate(template string) error {
	_, err := Render(template, Scope{})
	return err
}

type segment struct {
	literal bool
	text    string
}

// parseExpression parses the segments of one expression starting just
// after "{{" and returns the position just after the closing "}}".
func parseExpression(template string, pos int) ([]segment, int, error) {
	var segments []segment
	var current strings.Builder
	literal := false
	sawLiteral := false

	flush := func() {
		text := current.String()
		if !sawLiteral {
			text = strings.TrimSpace(text)
		}
		segments = append(segments, segment{literal: sawLiteral, text: text})
		current.Reset()
		sawLiteral = false
	}

	i := pos
	for i < len(template) {
		ch := template[i]
		switch {
		case literal:
			if ch == '\\' && i+1 < len(template) {
				next := template[i+1]
				if next == '"' || next == '\\' {
					current.WriteByte(next)
					i += 2
					continue
				}
			}
			if ch == '"' {
				literal = false
				i++
				continue
			}
			current.WriteByte(ch)
			i++

		case ch == '"':
			literal = true
			sawLiteral = true
			i++

		case strings.HasPrefix(template[i:], "}}"):
			flush()
			return segments, i + 2, nil

		case strings.HasPrefix(template[i:], "||"):
			flush()
			i += 2

		default:
			current.WriteByte(ch)
			i++
		}
	}

	return nil, 0, &errors.TemplateError{
		Expression: truncateExpr(template[pos-2:]),
		Message:    "unterminated expression",
	}
}

func evaluateSegments(segments []segment, scope Scope) string {
	for _, seg := range segments {
		if seg.literal {
			// Literals always win, including the empty string.
			return seg.text
		}
		value, defined := scope.Resolve(seg.text)
		if !defined {
			continue
		}
		s := stringify(value)
		if s != "" {
			return s
		}
	}
	return ""
}

// stringify renders a scope value into a template: strings keep their
// raw form, everything else becomes canonical JSON.
func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return parser.CanonicalJSON(value)
}

func truncateExpr(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
