package tool

import (
	"fmt"
	"math"

	"github.com/virek/engram/internal/fault"
)

// Property describes one argument field.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is an object schema over a tool's arguments: required field
// names plus a primitive type per declared property.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ObjectSchema builds an object schema with the given properties.
func ObjectSchema(properties map[string]Property, required ...string) Schema {
	return Schema{Type: "object", Properties: properties, Required: required}
}

// StringProperty creates a string property.
func StringProperty(description string) Property {
	return Property{Type: "string", Description: description}
}

// StringEnumProperty creates a string property restricted to values.
func StringEnumProperty(description string, values ...string) Property {
	return Property{Type: "string", Description: description, Enum: values}
}

// NumberProperty creates a number property.
func NumberProperty(description string) Property {
	return Property{Type: "number", Description: description}
}

// IntegerProperty creates an integer property.
func IntegerProperty(description string) Property {
	return Property{Type: "integer", Description: description}
}

// BooleanProperty creates a boolean property.
func BooleanProperty(description string) Property {
	return Property{Type: "boolean", Description: description}
}

// ArrayProperty creates an array property with the given item type.
func ArrayProperty(description string, items Property) Property {
	it := items
	return Property{Type: "array", Description: description, Items: &it}
}

// wellFormed rejects malformed schemas at registration time.
func (s Schema) wellFormed() error {
	if s.Type != "" && s.Type != "object" {
		return fault.Validation("schema root must be an object, got %q", s.Type)
	}
	for name, p := range s.Properties {
		switch p.Type {
		case "", "string", "number", "integer", "boolean", "array", "object":
		default:
			return fault.Validation("property %q has unsupported type %q", name, p.Type)
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fault.Validation("required field %q is not declared in properties", req)
		}
	}
	return nil
}

// Validate checks args for required-field presence and per-field type
// match. Keys the schema does not declare pass through untouched.
func (s Schema) Validate(args map[string]any) error {
	for _, req := range s.Required {
		if _, ok := args[req]; !ok {
			return fault.Validation("missing required argument %q", req)
		}
	}
	for name, p := range s.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if err := p.check(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (p Property) check(name string, v any) error {
	switch p.Type {
	case "string":
		str, ok := v.(string)
		if !ok {
			return fault.Validation("argument %q must be a string", name)
		}
		if len(p.Enum) > 0 {
			found := false
			for _, e := range p.Enum {
				if e == str {
					found = true
					break
				}
			}
			if !found {
				return fault.Validation("argument %q must be one of %v", name, p.Enum)
			}
		}
	case "number":
		if !isNumber(v) {
			return fault.Validation("argument %q must be a number", name)
		}
	case "integer":
		if !isInteger(v) {
			return fault.Validation("argument %q must be an integer", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fault.Validation("argument %q must be a boolean", name)
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fault.Validation("argument %q must be an array", name)
		}
		if p.Items != nil {
			for i, el := range arr {
				if err := p.Items.check(fmt.Sprintf("%s[%d]", name, i), el); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fault.Validation("argument %q must be an object", name)
		}
	}
	return nil
}

// isNumber accepts JSON-decoded float64 plus native numeric types from
// in-process callers.
func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	}
	return false
}
