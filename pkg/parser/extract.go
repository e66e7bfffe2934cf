package parser

import (
	"encoding/json"
	"strings"
)

// ExtractJSON attempts to recover a JSON document from an agent reply that
// may wrap it in markdown fences or surrounding prose. It returns the
// decoded value and true on success.
//
// The recovery is a single pass: strip code fences, then take the
// substring from the first '{' to the last '}' (or '[' to ']' for
// arrays). Replies that are already valid JSON decode directly.
func ExtractJSON(raw string) (interface{}, bool) {
	trimmed := strings.TrimSpace(raw)
	if v, ok := decodeJSON(trimmed); ok {
		return v, true
	}

	stripped := stripFences(trimmed)
	if v, ok := decodeJSON(stripped); ok {
		return v, true
	}

	if inner, ok := sliceDelimited(stripped, '{', '}'); ok {
		if v, ok := decodeJSON(inner); ok {
			return v, true
		}
	}
	if inner, ok := sliceDelimited(stripped, '[', ']'); ok {
		if v, ok := decodeJSON(inner); ok {
			return v, true
		}
	}
	return nil, false
}

func decodeJSON(s string) (interface{}, bool) {
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Reject trailing garbage so prose after a JSON fragment does not
	// silently decode.
	if dec.More() {
		return nil, false
	}
	return normalizeNumbers(v), true
}

// stripFences removes a leading ```lang fence and its closing fence.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func sliceDelimited(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// normalizeNumbers converts json.Number to float64 so extracted values
// compare equal to values decoded elsewhere in the runtime.
func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
