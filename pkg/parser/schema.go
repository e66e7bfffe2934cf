// Package parser implements the compact schema language used by workflow
// documents to describe agent response shapes, run inputs, and step
// argument objects.
//
// A Schema is a tagged variant over the types unknown, string, number,
// boolean, array, and object. Compile turns a Schema into a Validator
// that coerces candidate values: defaults are applied recursively, enums
// are checked, and integer-constrained numbers are rounded.
package parser

import (
	"fmt"
	"regexp"
)

// Type enumerates the schema variants.
type Type string

const (
	// TypeUnknown accepts any value as-is, including nil.
	TypeUnknown Type = "unknown"
	// TypeString accepts string values.
	TypeString Type = "string"
	// TypeNumber accepts numeric values.
	TypeNumber Type = "number"
	// TypeBoolean accepts boolean values.
	TypeBoolean Type = "boolean"
	// TypeArray accepts lists whose elements satisfy Items.
	TypeArray Type = "array"
	// TypeObject accepts maps whose entries satisfy Properties.
	TypeObject Type = "object"
)

var validTypes = map[Type]bool{
	TypeUnknown: true,
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeArray:   true,
	TypeObject:  true,
}

// Schema describes the expected shape of a value.
//
// Every variant may carry Default and Enum. Numeric variants may carry
// Integer, Minimum, and Maximum; string variants MinLength, MaxLength,
// and Pattern.
type Schema struct {
	// Type selects the variant. Empty defaults to unknown.
	Type Type `yaml:"type" json:"type"`

	// Default is adopted when the candidate value is absent.
	// For objects the default is applied deeply.
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`

	// Enum restricts accepted values to this set.
	Enum []interface{} `yaml:"enum,omitempty" json:"enum,omitempty"`

	// Description explains what the value is for.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Integer requires an integral number; non-integral candidates are
	// rounded to the nearest integer during coercion.
	Integer bool `yaml:"integer,omitempty" json:"integer,omitempty"`

	// Minimum and Maximum bound numeric values (inclusive).
	Minimum *float64 `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty" json:"maximum,omitempty"`

	// MinLength and MaxLength bound string length in bytes.
	MinLength *int `yaml:"minLength,omitempty" json:"minLength,omitempty"`
	MaxLength *int `yaml:"maxLength,omitempty" json:"maxLength,omitempty"`

	// Pattern is a regular expression string values must match.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Items describes array elements (array variant only).
	Items *Schema `yaml:"items,omitempty" json:"items,omitempty"`

	// Properties describes object entries (object variant only).
	Properties map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`

	// Required lists object keys that must be present after defaults
	// are applied.
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`

	// AdditionalProperties controls whether unknown object keys are
	// accepted. Unset means true: unknown keys are preserved.
	AdditionalProperties *bool `yaml:"additionalProperties,omitempty" json:"additionalProperties,omitempty"`
}

// Unknown returns a schema accepting any value.
func Unknown() *Schema { return &Schema{Type: TypeUnknown} }

// EffectiveType returns the schema's type, defaulting to unknown.
func (s *Schema) EffectiveType() Type {
	if s == nil || s.Type == "" {
		return TypeUnknown
	}
	return s.Type
}

// Validate checks that the schema itself is well-formed: the type is
// known, patterns compile, and nested schemas are valid.
func (s *Schema) Validate() error {
	if s == nil {
		return nil
	}
	if s.Type != "" && !validTypes[s.Type] {
		return fmt.Errorf("invalid schema type: %s (must be unknown, string, number, boolean, array, or object)", s.Type)
	}
	if s.Pattern != "" {
		if s.EffectiveType() != TypeString {
			return fmt.Errorf("pattern can only be used with string schemas")
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("invalid pattern regex: %w", err)
		}
	}
	if s.Integer && s.EffectiveType() != TypeNumber {
		return fmt.Errorf("integer can only be used with number schemas")
	}
	if s.Items != nil {
		if s.EffectiveType() != TypeArray {
			return fmt.Errorf("items can only be used with array schemas")
		}
		if err := s.Items.Validate(); err != nil {
			return fmt.Errorf("invalid items schema: %w", err)
		}
	}
	if len(s.Properties) > 0 && s.EffectiveType() != TypeObject {
		return fmt.Errorf("properties can only be used with object schemas")
	}
	for name, prop := range s.Properties {
		if err := prop.Validate(); err != nil {
			return fmt.Errorf("invalid property %s: %w", name, err)
		}
	}
	for _, req := range s.Required {
		if len(s.Properties) > 0 {
			if _, ok := s.Properties[req]; !ok {
				return fmt.Errorf("required key %s has no property schema", req)
			}
		}
	}
	return nil
}
