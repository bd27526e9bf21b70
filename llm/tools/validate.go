package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/agentrelay/types"
)

// ValidationResult is the outcome of validating one tool call.
type ValidationResult struct {
	Valid  bool            `json:"valid"`
	Errors []string        `json:"errors,omitempty"`
	Code   types.ErrorCode `json:"code,omitempty"`
}

// Err converts an invalid result to a *types.Error; nil when valid.
func (v ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	code := v.Code
	if code == "" {
		code = types.ErrValidation
	}
	return types.NewError(code, strings.Join(v.Errors, "; "))
}

// ValidateArguments checks required parameters, primitive types and enums.
// Parameters not declared by def are ignored.
func ValidateArguments(def types.ToolDefinition, args map[string]any) ValidationResult {
	var errs []string
	for _, p := range def.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				errs = append(errs, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if !matchesParamType(p.Type, v) {
			errs = append(errs, fmt.Sprintf("parameter %q must be %s, got %s", p.Name, p.Type, describeType(v)))
			continue
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, v) {
			errs = append(errs, fmt.Sprintf("parameter %q must be one of [%s], got %v", p.Name, strings.Join(p.Enum, ", "), v))
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs, Code: types.ErrValidation}
	}
	return ValidationResult{Valid: true}
}

// NormalizeArguments compensates for loosely serialized model output:
// numeric strings become numbers and "true"/"false" become booleans where the
// schema asks for them, empty strings for optional parameters are dropped,
// and defaults fill in absent optional parameters. args is not modified.
func NormalizeArguments(def types.ToolDefinition, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(def.Parameters))
	for k, v := range args {
		spec, known := def.Param(k)
		if !known {
			out[k] = v
			continue
		}
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		if s, ok := v.(string); ok {
			trimmed := strings.TrimSpace(s)
			if trimmed == "" && !spec.Required {
				continue
			}
			switch spec.Type {
			case types.ParamNumber:
				if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
					v = f
				}
			case types.ParamBoolean:
				switch strings.ToLower(trimmed) {
				case "true":
					v = true
				case "false":
					v = false
				}
			}
		}
		out[k] = v
	}
	for _, p := range def.Parameters {
		if _, present := out[p.Name]; !present && !p.Required && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// ParseArguments decodes raw tool-call arguments. It accepts an object, a
// JSON string containing an object, or nothing.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		return ParseArguments(json.RawMessage(inner))
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

// CanonicalArguments renders args deterministically for comparisons and logs.
func CanonicalArguments(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		val, err := json.Marshal(args[k])
		if err != nil {
			val = []byte(fmt.Sprintf("%v", args[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(val)
	}
	return b.String()
}

func matchesParamType(expected types.ParamType, value any) bool {
	switch expected {
	case types.ParamString:
		_, ok := value.(string)
		return ok
	case types.ParamBoolean:
		_, ok := value.(bool)
		return ok
	case types.ParamNumber:
		return isNumber(value)
	case types.ParamObject:
		if _, ok := value.(map[string]any); ok {
			return true
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	case types.ParamArray:
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Array || kind == reflect.Slice
	default:
		return true
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func enumContains(allowed []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

func describeType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if isNumber(value) {
		return "number"
	}
	return reflect.TypeOf(value).String()
}
