package registry

import (
	"fmt"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
)

var knownSchemaTypes = map[string]struct{}{
	"string": {}, "number": {}, "integer": {}, "boolean": {},
	"object": {}, "array": {}, "null": {},
}

// CheckSchema validates a tool's input schema at registration time.
// An invalid schema is a registration failure, not a call-time error.
func CheckSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if t, ok := schema["type"]; ok {
		ts, ok := t.(string)
		if !ok {
			return errorsx.Wrap(fmt.Errorf("schema type must be a string, got %T", t), errorsx.ReasonToolSchema)
		}
		if _, known := knownSchemaTypes[ts]; !known {
			return errorsx.Wrap(fmt.Errorf("unsupported schema type %q", ts), errorsx.ReasonToolSchema)
		}
	}
	props, _ := schema["properties"].(map[string]any)
	if raw, ok := schema["properties"]; ok && props == nil {
		return errorsx.Wrap(fmt.Errorf("schema properties must be an object, got %T", raw), errorsx.ReasonToolSchema)
	}
	for name, def := range props {
		if _, ok := def.(map[string]any); !ok {
			return errorsx.Wrap(fmt.Errorf("property %s must be an object, got %T", name, def), errorsx.ReasonToolSchema)
		}
	}
	for _, field := range requiredFields(schema) {
		if props == nil {
			return errorsx.Wrap(fmt.Errorf("required field %s has no property definition", field), errorsx.ReasonToolSchema)
		}
		if _, ok := props[field]; !ok {
			return errorsx.Wrap(fmt.Errorf("required field %s has no property definition", field), errorsx.ReasonToolSchema)
		}
	}
	return nil
}

// ValidateArguments checks call arguments against the schema before
// dispatch. A failure here never reaches the owning server.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, field := range requiredFields(schema) {
		if _, ok := args[field]; !ok {
			return errorsx.Wrap(fmt.Errorf("missing required field: %s", field), errorsx.ReasonToolSchema)
		}
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	for key, value := range args {
		def, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		expected, _ := def["type"].(string)
		if expected == "" {
			continue
		}
		if err := validateType(value, expected); err != nil {
			return errorsx.Wrap(fmt.Errorf("field %s: %w", key, err), errorsx.ReasonToolSchema)
		}
		if err := validateEnum(value, def["enum"]); err != nil {
			return errorsx.Wrap(fmt.Errorf("field %s: %w", key, err), errorsx.ReasonToolSchema)
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = req
	case []any:
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func validateType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func validateEnum(value any, enum any) error {
	options, ok := enum.([]any)
	if !ok || len(options) == 0 {
		if strs, ok := enum.([]string); ok && len(strs) > 0 {
			options = make([]any, len(strs))
			for i, s := range strs {
				options[i] = s
			}
		} else {
			return nil
		}
	}
	for _, opt := range options {
		if value == opt {
			return nil
		}
	}
	return fmt.Errorf("value %v not in enum", value)
}

func isNumber(value any) bool {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	}
	return false
}
