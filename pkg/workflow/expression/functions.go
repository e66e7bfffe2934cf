package expression

import (
	"reflect"
	"strings"
)

// containsFunc implements has(collection, item) / includes(collection, item)
// for arrays, maps (key membership), and strings (substring).
func containsFunc(args ...interface{}) interface{} {
	if len(args) != 2 {
		return false
	}
	collection, item := args[0], args[1]
	if collection == nil {
		return false
	}

	switch c := collection.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case map[string]interface{}:
		key, ok := item.(string)
		if !ok {
			return false
		}
		_, present := c[key]
		return present
	}

	rv := reflect.ValueOf(collection)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if reflect.DeepEqual(rv.Index(i).Interface(), item) {
				return true
			}
		}
	}
	return false
}

// lenFunc implements length(value) for strings, arrays, and maps.
func lenFunc(args ...interface{}) interface{} {
	if len(args) != 1 {
		return 0
	}
	switch v := args[0].(type) {
	case string:
		return len(v)
	case map[string]interface{}:
		return len(v)
	case nil:
		return 0
	}
	rv := reflect.ValueOf(args[0])
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len()
	}
	return 0
}
