package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
)

// Validator is a compiled schema. Validators are pure: the same candidate
// always produces the same result, and validating a validator's own
// output returns that output unchanged.
type Validator struct {
	schema  *Schema
	pattern *regexp.Regexp
	items   *Validator
	props   map[string]*Validator
}

// Compile validates the schema and compiles it to a Validator.
func Compile(schema *Schema) (*Validator, error) {
	if schema == nil {
		schema = Unknown()
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return compile(schema), nil
}

// MustCompile is like Compile but panics on an invalid schema.
// Intended for schemas declared in code, mirroring regexp.MustCompile.
func MustCompile(schema *Schema) *Validator {
	v, err := Compile(schema)
	if err != nil {
		panic(fmt.Sprintf("parser: invalid schema: %v", err))
	}
	return v
}

func compile(schema *Schema) *Validator {
	v := &Validator{schema: schema}
	if schema.Pattern != "" {
		v.pattern = regexp.MustCompile(schema.Pattern)
	}
	if schema.Items != nil {
		v.items = compile(schema.Items)
	}
	if len(schema.Properties) > 0 {
		v.props = make(map[string]*Validator, len(schema.Properties))
		for name, prop := range schema.Properties {
			v.props[name] = compile(prop)
		}
	}
	return v
}

// Schema returns the schema this validator was compiled from.
func (v *Validator) Schema() *Schema { return v.schema }

// Validate coerces the candidate value against the schema. On success the
// coerced value is returned: defaults applied recursively, integer-bound
// numbers rounded, enums checked. Absent values are represented as nil.
func (v *Validator) Validate(value interface{}) (interface{}, error) {
	return v.validate(value, "")
}

func (v *Validator) validate(value interface{}, path string) (interface{}, error) {
	if value == nil && v.schema.Default != nil {
		value = deepCopy(v.schema.Default)
	}

	typ := v.schema.EffectiveType()
	if typ == TypeUnknown {
		return value, nil
	}

	if value == nil {
		return nil, fieldErr(path, "value is required")
	}

	var coerced interface{}
	switch typ {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fieldErr(path, fmt.Sprintf("expected string, got %T", value))
		}
		if v.schema.MinLength != nil && len(s) < *v.schema.MinLength {
			return nil, fieldErr(path, fmt.Sprintf("string shorter than minLength %d", *v.schema.MinLength))
		}
		if v.schema.MaxLength != nil && len(s) > *v.schema.MaxLength {
			return nil, fieldErr(path, fmt.Sprintf("string longer than maxLength %d", *v.schema.MaxLength))
		}
		if v.pattern != nil && !v.pattern.MatchString(s) {
			return nil, fieldErr(path, fmt.Sprintf("string does not match pattern %s", v.schema.Pattern))
		}
		coerced = s

	case TypeNumber:
		n, ok := asFloat(value)
		if !ok {
			return nil, fieldErr(path, fmt.Sprintf("expected number, got %T", value))
		}
		if v.schema.Integer {
			n = math.Round(n)
		}
		if v.schema.Minimum != nil && n < *v.schema.Minimum {
			return nil, fieldErr(path, fmt.Sprintf("number below minimum %v", *v.schema.Minimum))
		}
		if v.schema.Maximum != nil && n > *v.schema.Maximum {
			return nil, fieldErr(path, fmt.Sprintf("number above maximum %v", *v.schema.Maximum))
		}
		coerced = n

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fieldErr(path, fmt.Sprintf("expected boolean, got %T", value))
		}
		coerced = b

	case TypeArray:
		list, ok := asSlice(value)
		if !ok {
			return nil, fieldErr(path, fmt.Sprintf("expected array, got %T", value))
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			itemV := v.items
			if itemV == nil {
				itemV = compile(Unknown())
			}
			c, err := itemV.validate(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		coerced = out

	case TypeObject:
		obj, ok := asMap(value)
		if !ok {
			return nil, fieldErr(path, fmt.Sprintf("expected object, got %T", value))
		}
		out := make(map[string]interface{}, len(obj))
		for key, val := range obj {
			if prop, ok := v.props[key]; ok {
				c, err := prop.validate(val, joinPath(path, key))
				if err != nil {
					return nil, err
				}
				out[key] = c
				continue
			}
			if v.schema.AdditionalProperties != nil && !*v.schema.AdditionalProperties {
				return nil, fieldErr(path, fmt.Sprintf("unknown property: %s", key))
			}
			out[key] = val
		}
		// Apply property defaults for absent keys.
		for name, prop := range v.props {
			if _, present := out[name]; present {
				continue
			}
			c, err := prop.validate(nil, joinPath(path, name))
			if err == nil && c != nil {
				out[name] = c
			}
		}
		for _, req := range v.schema.Required {
			if _, present := out[req]; !present {
				return nil, fieldErr(path, fmt.Sprintf("missing required property: %s", req))
			}
		}
		coerced = out
	}

	if len(v.schema.Enum) > 0 && !enumContains(v.schema.Enum, coerced) {
		return nil, fieldErr(path, fmt.Sprintf("value %v not in enum %v", coerced, v.schema.Enum))
	}
	return coerced, nil
}

func fieldErr(path, msg string) error {
	if path == "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %s", path, msg)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// asFloat widens any numeric representation YAML or JSON decoding can
// produce to float64.
func asFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asSlice(value interface{}) ([]interface{}, bool) {
	if list, ok := value.([]interface{}); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(value interface{}) (map[string]interface{}, bool) {
	if m, ok := value.(map[string]interface{}); ok {
		return m, true
	}
	// yaml.v3 decodes nested maps as map[string]interface{} already, but
	// accept map[interface{}]interface{} from older decoders.
	if m, ok := value.(map[interface{}]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	}
	return nil, false
}

// enumContains compares by canonical JSON so numerically equal values of
// different Go types match.
func enumContains(enum []interface{}, candidate interface{}) bool {
	cj := CanonicalJSON(candidate)
	for _, e := range enum {
		if CanonicalJSON(e) == cj {
			return true
		}
	}
	return false
}

// deepCopy copies a JSON-like value so callers cannot mutate schema
// defaults through validated output.
func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// CanonicalJSON renders a JSON-like value as deterministic JSON: object
// keys are sorted and numbers use the shortest round-trip form. Values
// that cannot be marshaled render via fmt.
func CanonicalJSON(value interface{}) string {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
