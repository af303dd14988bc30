// Package schema compiles JSON-Schema style descriptions into validators.
//
// The accepted grammar is closed. Keywords outside it are rejected when the
// description is compiled rather than silently ignored at validation time, so
// a caller never believes a constraint is enforced when it is not.
package schema

import (
	"regexp"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// json is the package wide codec. Map keys are sorted, which keeps cache keys
// and rendered guidance stable.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type is a JSON value type name.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

var knownTypes = map[Type]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeNull: true, TypeObject: true, TypeArray: true,
}

// Schema is a compiled description. It is immutable and safe for concurrent use.
type Schema struct {
	types []Type // Empty accepts every type.
	never bool   // The literal false schema.

	title       string
	description string
	examples    []any
	defaultVal  any
	hasDefault  bool
	format      string

	enum     []any
	constVal any
	hasConst bool

	properties map[string]*Schema
	propOrder  []string
	required   []string
	// additional validates unknown properties. A nil value with
	// forbidAdditional false accepts anything.
	additional       *Schema
	forbidAdditional bool

	items    *Schema
	minItems *int
	maxItems *int

	minLength *int
	maxLength *int
	pattern   *regexp.Regexp

	minimum *float64
	maximum *float64

	anyOf []*Schema
	oneOf []*Schema
	allOf []*Schema
}

var anySchema = &Schema{}

// Any returns the schema that accepts every JSON value.
func Any() *Schema { return anySchema }

// Types returns the declared types. An empty result means any type.
func (s *Schema) Types() []Type { return append([]Type(nil), s.types...) }

// Title returns the title keyword.
func (s *Schema) Title() string { return s.title }

// Description returns the description keyword.
func (s *Schema) Description() string { return s.description }

// Examples returns the examples keyword values.
func (s *Schema) Examples() []any { return append([]any(nil), s.examples...) }

// Property returns the compiled schema of a declared property.
func (s *Schema) Property(name string) (*Schema, bool) {
	p, ok := s.properties[name]
	return p, ok
}

// Required returns the sorted required property names.
func (s *Schema) Required() []string { return append([]string(nil), s.required...) }

// Items returns the compiled items schema, if any.
func (s *Schema) Items() *Schema { return s.items }

// Guidance re-emits the compiled schema as a JSON-Schema document suitable
// for showing to a model. Descriptions and examples are kept.
func (s *Schema) Guidance() map[string]any {
	return s.guidance()
}

// JSON renders Guidance as indented JSON.
func (s *Schema) JSON() string {
	raw, err := json.MarshalIndent(s.guidance(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (s *Schema) guidance() map[string]any {
	if s.never {
		return map[string]any{"not": map[string]any{}}
	}
	out := make(map[string]any)
	switch len(s.types) {
	case 0:
	case 1:
		out["type"] = string(s.types[0])
	default:
		ts := make([]string, len(s.types))
		for i, t := range s.types {
			ts[i] = string(t)
		}
		out["type"] = ts
	}
	if s.title != "" {
		out["title"] = s.title
	}
	if s.description != "" {
		out["description"] = s.description
	}
	if len(s.examples) > 0 {
		out["examples"] = s.examples
	}
	if s.hasDefault {
		out["default"] = s.defaultVal
	}
	if s.format != "" {
		out["format"] = s.format
	}
	if len(s.enum) > 0 {
		out["enum"] = s.enum
	}
	if s.hasConst {
		out["const"] = s.constVal
	}
	if len(s.properties) > 0 {
		props := make(map[string]any, len(s.properties))
		for name, p := range s.properties {
			props[name] = p.guidance()
		}
		out["properties"] = props
	}
	if len(s.required) > 0 {
		out["required"] = append([]string(nil), s.required...)
	}
	if s.forbidAdditional {
		out["additionalProperties"] = false
	} else if s.additional != nil {
		out["additionalProperties"] = s.additional.guidance()
	}
	if s.items != nil {
		out["items"] = s.items.guidance()
	}
	putInt(out, "minItems", s.minItems)
	putInt(out, "maxItems", s.maxItems)
	putInt(out, "minLength", s.minLength)
	putInt(out, "maxLength", s.maxLength)
	if s.pattern != nil {
		out["pattern"] = s.pattern.String()
	}
	if s.minimum != nil {
		out["minimum"] = *s.minimum
	}
	if s.maximum != nil {
		out["maximum"] = *s.maximum
	}
	putList(out, "anyOf", s.anyOf)
	putList(out, "oneOf", s.oneOf)
	putList(out, "allOf", s.allOf)
	return out
}

func putInt(out map[string]any, key string, v *int) {
	if v != nil {
		out[key] = *v
	}
}

func putList(out map[string]any, key string, list []*Schema) {
	if len(list) == 0 {
		return
	}
	docs := make([]any, len(list))
	for i, s := range list {
		docs[i] = s.guidance()
	}
	out[key] = docs
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
