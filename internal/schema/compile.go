package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
)

// metadataKeywords carry no validation semantics but are kept for guidance.
var metadataKeywords = map[string]bool{
	"$schema": true, "$id": true, "$comment": true,
	"readOnly": true, "writeOnly": true, "deprecated": true,
}

// CompileJSON compiles a description given as JSON text.
func CompileJSON(raw []byte) (*Schema, error) {
	var description any
	if err := json.Unmarshal(raw, &description); err != nil {
		return nil, &UnsupportedConstructError{Path: "#", Reason: fmt.Sprintf("description is not valid JSON: %v", err)}
	}
	return Compile(description)
}

// MustCompile is Compile for descriptions known at build time.
func MustCompile(description any) *Schema {
	s, err := Compile(description)
	if err != nil {
		panic(err)
	}
	return s
}

// Compile turns a decoded description into a validator. Accepted forms are
// the booleans true and false and a JSON object using the closed keyword set.
// Compile has no side effects.
func Compile(description any) (*Schema, error) {
	normalized, err := normalize(description)
	if err != nil {
		return nil, &UnsupportedConstructError{Path: "#", Reason: err.Error()}
	}
	return compileNode(normalized, "#")
}

func compileNode(description any, path string) (*Schema, error) {
	switch d := description.(type) {
	case bool:
		if d {
			return &Schema{}, nil
		}
		return &Schema{never: true}, nil
	case map[string]any:
		return compileObject(d, path)
	case nil:
		return nil, &UnsupportedConstructError{Path: path, Reason: "schema must be an object or boolean, got null"}
	default:
		return nil, &UnsupportedConstructError{Path: path, Reason: fmt.Sprintf("schema must be an object or boolean, got %s", kindOf(d))}
	}
}

func compileObject(d map[string]any, path string) (*Schema, error) {
	s := &Schema{}
	// Keys are walked in sorted order so the first reported error is stable.
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := d[key]
		kwPath := path + "/" + key
		var err error
		switch key {
		case "type":
			s.types, err = compileTypes(value, kwPath)
		case "title":
			s.title, err = stringKeyword(value, key, path)
		case "description":
			s.description, err = stringKeyword(value, key, path)
		case "format":
			s.format, err = stringKeyword(value, key, path)
		case "examples":
			list, ok := value.([]any)
			if !ok {
				err = &UnsupportedConstructError{Path: path, Keyword: key, Reason: "must be an array"}
			}
			s.examples = list
		case "default":
			s.defaultVal, s.hasDefault = value, true
		case "enum":
			list, ok := value.([]any)
			if !ok || len(list) == 0 {
				err = &UnsupportedConstructError{Path: path, Keyword: key, Reason: "must be a non-empty array"}
			}
			s.enum = list
		case "const":
			s.constVal, s.hasConst = value, true
		case "properties":
			s.properties, err = compileProperties(value, kwPath)
		case "required":
			s.required, err = compileRequired(value, path)
		case "additionalProperties":
			switch v := value.(type) {
			case bool:
				s.forbidAdditional = !v
			default:
				s.additional, err = compileNode(v, kwPath)
			}
		case "items":
			if _, isTuple := value.([]any); isTuple {
				err = &UnsupportedConstructError{Path: path, Keyword: key, Reason: "tuple validation is not supported"}
				break
			}
			s.items, err = compileNode(value, kwPath)
		case "minItems":
			s.minItems, err = countKeyword(value, key, path)
		case "maxItems":
			s.maxItems, err = countKeyword(value, key, path)
		case "minLength":
			s.minLength, err = countKeyword(value, key, path)
		case "maxLength":
			s.maxLength, err = countKeyword(value, key, path)
		case "pattern":
			var src string
			if src, err = stringKeyword(value, key, path); err == nil {
				s.pattern, err = regexp.Compile(src)
				if err != nil {
					err = &UnsupportedConstructError{Path: path, Keyword: key, Reason: err.Error()}
				}
			}
		case "minimum":
			s.minimum, err = numberKeyword(value, key, path)
		case "maximum":
			s.maximum, err = numberKeyword(value, key, path)
		case "anyOf":
			s.anyOf, err = compileList(value, key, path)
		case "oneOf":
			s.oneOf, err = compileList(value, key, path)
		case "allOf":
			s.allOf, err = compileList(value, key, path)
		default:
			if !metadataKeywords[key] {
				err = &UnsupportedConstructError{Path: path, Keyword: key, Reason: "keyword is not supported"}
			}
		}
		if err != nil {
			return nil, err
		}
	}

	for _, name := range s.required {
		if s.forbidAdditional {
			if _, declared := s.properties[name]; !declared {
				return nil, &UnsupportedConstructError{
					Path: path, Keyword: "required",
					Reason: fmt.Sprintf("property %q is required but additional properties are forbidden and it is not declared", name),
				}
			}
		}
	}
	s.propOrder = sortedKeys(s.properties)
	if s.hasConst {
		if err := checkLiteral(s, s.constVal, path, "const"); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// checkLiteral rejects const values that contradict the declared type, which
// would make the schema unsatisfiable.
func checkLiteral(s *Schema, v any, path, keyword string) error {
	if len(s.types) > 0 && !typeMatches(s.types, v) {
		return &UnsupportedConstructError{Path: path, Keyword: keyword, Reason: "value does not match the declared type"}
	}
	return nil
}

func compileTypes(value any, path string) ([]Type, error) {
	var names []any
	switch v := value.(type) {
	case string:
		names = []any{v}
	case []any:
		if len(v) == 0 {
			return nil, &UnsupportedConstructError{Path: path, Keyword: "type", Reason: "type list must not be empty"}
		}
		names = v
	default:
		return nil, &UnsupportedConstructError{Path: path, Keyword: "type", Reason: "must be a string or array of strings"}
	}
	out := make([]Type, 0, len(names))
	seen := make(map[Type]bool)
	for _, n := range names {
		str, ok := n.(string)
		if !ok {
			return nil, &UnsupportedConstructError{Path: path, Keyword: "type", Reason: "type names must be strings"}
		}
		t := Type(str)
		if !knownTypes[t] {
			return nil, &UnsupportedConstructError{Path: path, Keyword: "type", Reason: fmt.Sprintf("unknown type %q", str)}
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func compileProperties(value any, path string) (map[string]*Schema, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &UnsupportedConstructError{Path: path, Keyword: "properties", Reason: "must be an object"}
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]*Schema, len(m))
	for _, name := range names {
		compiled, err := compileNode(m[name], path+"/"+name)
		if err != nil {
			return nil, err
		}
		out[name] = compiled
	}
	return out, nil
}

func compileRequired(value any, path string) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, &UnsupportedConstructError{Path: path, Keyword: "required", Reason: "must be an array of strings"}
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, &UnsupportedConstructError{Path: path, Keyword: "required", Reason: "must be an array of strings"}
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func compileList(value any, keyword, path string) ([]*Schema, error) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil, &UnsupportedConstructError{Path: path, Keyword: keyword, Reason: "must be a non-empty array of schemas"}
	}
	out := make([]*Schema, len(list))
	for i, sub := range list {
		compiled, err := compileNode(sub, fmt.Sprintf("%s/%s/%d", path, keyword, i))
		if err != nil {
			return nil, err
		}
		out[i] = compiled
	}
	return out, nil
}

func stringKeyword(value any, keyword, path string) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &UnsupportedConstructError{Path: path, Keyword: keyword, Reason: "must be a string"}
	}
	return s, nil
}

func countKeyword(value any, keyword, path string) (*int, error) {
	f, ok := value.(float64)
	if !ok || f < 0 || f != math.Trunc(f) {
		return nil, &UnsupportedConstructError{Path: path, Keyword: keyword, Reason: "must be a non-negative integer"}
	}
	n := int(f)
	return &n, nil
}

func numberKeyword(value any, keyword, path string) (*float64, error) {
	f, ok := value.(float64)
	if !ok {
		return nil, &UnsupportedConstructError{Path: path, Keyword: keyword, Reason: "must be a number"}
	}
	return &f, nil
}
