package tools

import (
	"fmt"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// ValidateInput checks input against a tool's parameter schema. It enforces
// required fields, primitive types, enums and nested objects/arrays. It is a
// structural validator, not a full JSON Schema implementation.
func ValidateInput(schema ports.ParameterSchema, input map[string]any) error {
	for _, req := range schema.Required {
		if _, ok := input[req]; !ok {
			return fmt.Errorf("missing required field %q", req)
		}
	}
	for key, value := range input {
		prop, ok := schema.Properties[key]
		if !ok {
			return fmt.Errorf("unknown field %q", key)
		}
		if err := validateValue(key, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, prop ports.Property, value any) error {
	if value == nil {
		return fmt.Errorf("field %q is null", path)
	}
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", path)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, s) {
			return fmt.Errorf("field %q must be one of %v", path, prop.Enum)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q must be a number", path)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("field %q must be an integer", path)
			}
		default:
			return fmt.Errorf("field %q must be an integer", path)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", path)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("field %q must be an array", path)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", path, i), *prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q must be an object", path)
		}
		for _, req := range prop.Required {
			if _, ok := obj[req]; !ok {
				return fmt.Errorf("field %q missing required key %q", path, req)
			}
		}
		for key, nested := range obj {
			np, ok := prop.Properties[key]
			if !ok {
				// Free-form objects (no declared properties) pass through.
				if len(prop.Properties) == 0 {
					continue
				}
				return fmt.Errorf("field %q has unknown key %q", path, key)
			}
			if err := validateValue(path+"."+key, np, nested); err != nil {
				return err
			}
		}
	case "":
		// Untyped property accepts anything.
	default:
		return fmt.Errorf("field %q has unsupported schema type %q", path, prop.Type)
	}
	return nil
}

func enumContains(enum []any, s string) bool {
	for _, e := range enum {
		if es, ok := e.(string); ok && es == s {
			return true
		}
	}
	return false
}
