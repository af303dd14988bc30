package schema

import (
	stdjson "encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Parse decodes raw JSON and validates it. The decoded value is returned
// only when it conforms.
func (s *Schema) Parse(raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &ValidationError{Path: "$", Expected: "valid JSON", Actual: truncate(err.Error(), 80)}
	}
	if err := s.validate(value, "$"); err != nil {
		return nil, err
	}
	return value, nil
}

// Validate checks a value against the schema and returns the first failure
// as a *ValidationError. Values may be decoded JSON or plain Go values that
// encode to JSON.
func (s *Schema) Validate(value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return &ValidationError{Path: "$", Expected: "a JSON value", Actual: err.Error()}
	}
	return s.validate(normalized, "$")
}

// Normalize converts a Go value to the decoded JSON form used by Validate:
// map[string]any, []any, float64, string, bool and nil.
func Normalize(value any) (any, error) {
	return normalize(value)
}

func (s *Schema) validate(value any, path string) error {
	if s.never {
		return &ValidationError{Path: path, Expected: "no value", Actual: describeValue(value)}
	}
	if len(s.types) > 0 && !typeMatches(s.types, value) {
		return &ValidationError{Path: path, Expected: joinTypes(s.types), Actual: describeValue(value)}
	}
	if s.hasConst && !reflect.DeepEqual(value, s.constVal) {
		return &ValidationError{Path: path, Expected: "constant " + literal(s.constVal), Actual: describeValue(value)}
	}
	if len(s.enum) > 0 && !containsValue(s.enum, value) {
		return &ValidationError{Path: path, Expected: "one of " + literal(s.enum), Actual: describeValue(value)}
	}

	switch v := value.(type) {
	case string:
		if err := s.validateString(v, path); err != nil {
			return err
		}
	case float64:
		if s.minimum != nil && v < *s.minimum {
			return &ValidationError{Path: path, Expected: fmt.Sprintf("number >= %v", *s.minimum), Actual: describeValue(v)}
		}
		if s.maximum != nil && v > *s.maximum {
			return &ValidationError{Path: path, Expected: fmt.Sprintf("number <= %v", *s.maximum), Actual: describeValue(v)}
		}
	case []any:
		if err := s.validateArray(v, path); err != nil {
			return err
		}
	case map[string]any:
		if err := s.validateObject(v, path); err != nil {
			return err
		}
	}

	for _, sub := range s.allOf {
		if err := sub.validate(value, path); err != nil {
			return err
		}
	}
	if len(s.anyOf) > 0 {
		matched := false
		for _, sub := range s.anyOf {
			if sub.validate(value, path) == nil {
				matched = true
				break
			}
		}
		if !matched {
			return &ValidationError{Path: path, Expected: "any of " + summarize(s.anyOf), Actual: describeValue(value)}
		}
	}
	if len(s.oneOf) > 0 {
		matches := 0
		for _, sub := range s.oneOf {
			if sub.validate(value, path) == nil {
				matches++
			}
		}
		switch {
		case matches == 0:
			return &ValidationError{Path: path, Expected: "one of " + summarize(s.oneOf), Actual: describeValue(value)}
		case matches > 1:
			return &ValidationError{Path: path, Expected: "exactly one matching variant", Actual: fmt.Sprintf("%d matching variants", matches)}
		}
	}
	return nil
}

func (s *Schema) validateString(v, path string) error {
	n := utf8.RuneCountInString(v)
	if s.minLength != nil && n < *s.minLength {
		return &ValidationError{Path: path, Expected: fmt.Sprintf("string of at least %d characters", *s.minLength), Actual: describeValue(v)}
	}
	if s.maxLength != nil && n > *s.maxLength {
		return &ValidationError{Path: path, Expected: fmt.Sprintf("string of at most %d characters", *s.maxLength), Actual: fmt.Sprintf("string of %d characters", n)}
	}
	if s.pattern != nil && !s.pattern.MatchString(v) {
		return &ValidationError{Path: path, Expected: "string matching " + s.pattern.String(), Actual: describeValue(v)}
	}
	return nil
}

func (s *Schema) validateArray(v []any, path string) error {
	if s.minItems != nil && len(v) < *s.minItems {
		return &ValidationError{Path: path, Expected: fmt.Sprintf("at least %d items", *s.minItems), Actual: fmt.Sprintf("%d items", len(v))}
	}
	if s.maxItems != nil && len(v) > *s.maxItems {
		return &ValidationError{Path: path, Expected: fmt.Sprintf("at most %d items", *s.maxItems), Actual: fmt.Sprintf("%d items", len(v))}
	}
	if s.items != nil {
		for i, item := range v {
			if err := s.items.validate(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Schema) validateObject(v map[string]any, path string) error {
	for _, name := range s.required {
		if _, ok := v[name]; !ok {
			return &ValidationError{Path: joinPath(path, name), Expected: "required property", Actual: "missing"}
		}
	}
	for _, name := range s.propOrder {
		if pv, ok := v[name]; ok {
			if err := s.properties[name].validate(pv, joinPath(path, name)); err != nil {
				return err
			}
		}
	}
	if !s.forbidAdditional && s.additional == nil {
		return nil
	}
	extra := make([]string, 0)
	for name := range v {
		if _, declared := s.properties[name]; !declared {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if s.forbidAdditional {
			return &ValidationError{Path: joinPath(path, name), Expected: "no additional properties", Actual: "unexpected property"}
		}
		if err := s.additional.validate(v[name], joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// -- helpers --

var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func joinPath(base, name string) string {
	if identPattern.MatchString(name) {
		return base + "." + name
	}
	return fmt.Sprintf("%s[%q]", base, name)
}

func typeMatches(types []Type, value any) bool {
	for _, t := range types {
		switch t {
		case TypeNull:
			if value == nil {
				return true
			}
		case TypeBoolean:
			if _, ok := value.(bool); ok {
				return true
			}
		case TypeString:
			if _, ok := value.(string); ok {
				return true
			}
		case TypeNumber:
			if _, ok := value.(float64); ok {
				return true
			}
		case TypeInteger:
			if f, ok := value.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
				return true
			}
		case TypeArray:
			if _, ok := value.([]any); ok {
				return true
			}
		case TypeObject:
			if _, ok := value.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}

func kindOf(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		if v == math.Trunc(v) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func describeValue(value any) string {
	switch v := value.(type) {
	case string:
		return "string " + truncate(fmt.Sprintf("%q", v), 40)
	case float64, bool:
		return fmt.Sprintf("%s %v", kindOf(v), v)
	default:
		return kindOf(value)
	}
}

func joinTypes(types []Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, " | ")
}

func summarize(variants []*Schema) string {
	parts := make([]string, len(variants))
	for i, v := range variants {
		switch {
		case v.hasConst:
			parts[i] = literal(v.constVal)
		case len(v.types) > 0:
			parts[i] = joinTypes(v.types)
		default:
			parts[i] = "any"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func literal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(raw), 80)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func containsValue(list []any, value any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, value) {
			return true
		}
	}
	return false
}

// normalize maps Go values onto the decoded JSON form. Anything it does not
// recognize goes through a JSON round trip.
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case stdjson.Number:
		return v.Float64()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case stdjson.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, fmt.Errorf("invalid raw JSON: %w", err)
		}
		return decoded, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("value of type %T is not representable as JSON: %w", value, err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("value of type %T did not round trip through JSON: %w", value, err)
		}
		return decoded, nil
	}
}
