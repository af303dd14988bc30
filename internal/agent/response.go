package agent

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/llmutil"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// actionDef describes one action kind: its catalogue line and parameters.
type actionDef struct {
	summary  string
	params   map[string]any
	required []string
}

var elementIndex = map[string]any{
	"type":        "integer",
	"minimum":     1,
	"description": "Index of the target element in the current observation.",
}

var actionDefs = map[schemas.ActionKind]actionDef{
	schemas.ActionClick: {
		summary:  "Click the element with the given index.",
		params:   map[string]any{"index": elementIndex},
		required: []string{"index"},
	},
	schemas.ActionType: {
		summary: "Replace the value of the input with the given index by text. Use {{Name}} placeholders for inventory values.",
		params: map[string]any{
			"index": elementIndex,
			"text":  map[string]any{"type": "string", "description": "Text to type. May contain {{Name}} placeholders."},
		},
		required: []string{"index", "text"},
	},
	schemas.ActionEnter: {
		summary:  "Focus the element with the given index and press Enter.",
		params:   map[string]any{"index": elementIndex},
		required: []string{"index"},
	},
	schemas.ActionHover: {
		summary:  "Move the pointer over the element with the given index.",
		params:   map[string]any{"index": elementIndex},
		required: []string{"index"},
	},
	schemas.ActionScroll: {
		summary: "Scroll the page one viewport up or down.",
		params: map[string]any{
			"direction": map[string]any{"type": "string", "enum": []any{string(schemas.ScrollUp), string(schemas.ScrollDown)}},
		},
		required: []string{"direction"},
	},
	schemas.ActionBack: {
		summary: "Go back to the previous page in history.",
	},
	schemas.ActionWait: {
		summary: "Wait for the page to settle. durationMs defaults to one second.",
		params: map[string]any{
			"durationMs": map[string]any{"type": "integer", "minimum": 0, "maximum": schemas.MaxWaitMs},
		},
	},
	schemas.ActionGoto: {
		summary: "Navigate to an absolute URL.",
		params: map[string]any{
			"url": map[string]any{"type": "string", "minLength": 1, "description": "Absolute URL. May contain {{Name}} placeholders."},
		},
		required: []string{"url"},
	},
}

const progressDescription = "One or two sentences on what has been achieved so far and what remains."

func actionDescription(kind schemas.ActionKind) map[string]any {
	def := actionDefs[kind]
	props := map[string]any{"kind": map[string]any{"const": string(kind)}}
	for name, p := range def.params {
		props[name] = p
	}
	required := []any{"kind"}
	for _, r := range def.required {
		required = append(required, r)
	}
	return map[string]any{
		"type":                 "object",
		"description":          def.summary,
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func envelopeDescription(kind DecisionKind, payload string, payloadSchema any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind":               map[string]any{"const": string(kind)},
			"progressAssessment": map[string]any{"type": "string", "description": progressDescription},
			payload:              payloadSchema,
		},
		"required":             []any{"kind", "progressAssessment", payload},
		"additionalProperties": false,
	}
}

// Envelopes and action variants do not depend on the caller's result schema,
// so they are compiled once.
var (
	actionSchemas = func() map[schemas.ActionKind]*schema.Schema {
		out := make(map[schemas.ActionKind]*schema.Schema, len(schemas.AllActionKinds))
		for _, kind := range schemas.AllActionKinds {
			out[kind] = schema.MustCompile(actionDescription(kind))
		}
		return out
	}()

	envelopeSchemas = map[DecisionKind]*schema.Schema{
		KindBrowserAction: schema.MustCompile(envelopeDescription(KindBrowserAction, "action",
			map[string]any{"type": "object", "description": "The next browser action."})),
		KindObjectiveComplete: schema.MustCompile(envelopeDescription(KindObjectiveComplete, "result",
			map[string]any{"description": "The objective's result payload."})),
		KindObjectiveFailed: schema.MustCompile(envelopeDescription(KindObjectiveFailed, "reason",
			map[string]any{"type": "string", "minLength": 1, "description": "Why the objective cannot be achieved."})),
	}
)

// ResponseSchema validates model replies: a tagged union of a browser action,
// a completed objective carrying a caller-defined result, or a failure.
type ResponseSchema struct {
	result *schema.Schema
}

// BuildResponseSchema wraps a compiled result schema. A nil result accepts any payload.
func BuildResponseSchema(result *schema.Schema) *ResponseSchema {
	if result == nil {
		result = schema.Any()
	}
	return &ResponseSchema{result: result}
}

// CompileResponseSchema compiles a result description and wraps it. A nil
// description accepts any payload.
func CompileResponseSchema(description any) (*ResponseSchema, error) {
	if description == nil {
		return BuildResponseSchema(nil), nil
	}
	result, err := schema.Compile(description)
	if err != nil {
		return nil, fmt.Errorf("compiling result schema: %w", err)
	}
	return BuildResponseSchema(result), nil
}

// Result returns the schema applied to ObjectiveComplete payloads.
func (r *ResponseSchema) Result() *schema.Schema { return r.result }

// ParseReply extracts the JSON value from raw model text and validates it.
func (r *ResponseSchema) ParseReply(text string) (Decision, error) {
	value, err := llmutil.DecodeAny(text)
	if err != nil {
		actual := "unparseable text"
		if errors.Is(err, llmutil.ErrNoJSON) {
			actual = "no JSON value"
		}
		return Decision{}, &schema.ValidationError{Path: "$", Expected: "a JSON object", Actual: actual}
	}
	return r.Validate(value)
}

// Validate checks a decoded reply and converts it into a Decision. The tag is
// never guessed: a missing or unknown kind is a validation failure.
func (r *ResponseSchema) Validate(value any) (Decision, error) {
	normalized, err := schema.Normalize(value)
	if err != nil {
		return Decision{}, &schema.ValidationError{Path: "$", Expected: "a JSON object", Actual: err.Error()}
	}
	obj, ok := normalized.(map[string]any)
	if !ok {
		return Decision{}, &schema.ValidationError{Path: "$", Expected: "object", Actual: typeName(normalized)}
	}

	kind, err := tagOf(obj, "$", decisionKindNames())
	if err != nil {
		return Decision{}, err
	}
	envelope, ok := envelopeSchemas[DecisionKind(kind)]
	if !ok {
		return Decision{}, unknownTag("$", kind, decisionKindNames())
	}
	if err := envelope.Validate(obj); err != nil {
		return Decision{}, err
	}

	d := Decision{Kind: DecisionKind(kind), ProgressAssessment: obj["progressAssessment"].(string)}
	switch d.Kind {
	case KindBrowserAction:
		action, err := validateAction(obj["action"].(map[string]any))
		if err != nil {
			return Decision{}, err
		}
		d.Action = &action
	case KindObjectiveComplete:
		if err := r.result.Validate(obj["result"]); err != nil {
			return Decision{}, rebase(err, "$.result")
		}
		d.Result = obj["result"]
	case KindObjectiveFailed:
		d.Reason = obj["reason"].(string)
	}
	return d, nil
}

func validateAction(obj map[string]any) (schemas.BrowserAction, error) {
	kind, err := tagOf(obj, "$.action", actionKindNames())
	if err != nil {
		return schemas.BrowserAction{}, err
	}
	variant, ok := actionSchemas[schemas.ActionKind(kind)]
	if !ok {
		return schemas.BrowserAction{}, unknownTag("$.action", kind, actionKindNames())
	}
	if err := variant.Validate(obj); err != nil {
		return schemas.BrowserAction{}, rebase(err, "$.action")
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return schemas.BrowserAction{}, fmt.Errorf("re-encoding action: %w", err)
	}
	var action schemas.BrowserAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return schemas.BrowserAction{}, &schema.ValidationError{Path: "$.action", Expected: "a browser action", Actual: err.Error()}
	}
	return action, nil
}

func tagOf(obj map[string]any, path string, allowed []string) (string, error) {
	raw, present := obj["kind"]
	if !present {
		return "", &schema.ValidationError{Path: path + ".kind", Expected: "required property", Actual: "missing"}
	}
	kind, ok := raw.(string)
	if !ok {
		return "", &schema.ValidationError{Path: path + ".kind", Expected: "one of " + strings.Join(allowed, " | "), Actual: typeName(raw)}
	}
	return kind, nil
}

func unknownTag(path, kind string, allowed []string) error {
	return &schema.ValidationError{Path: path + ".kind", Expected: "one of " + strings.Join(allowed, " | "), Actual: fmt.Sprintf("string %q", kind)}
}

// rebase moves a validation error reported relative to a sub-value under prefix.
func rebase(err error, prefix string) error {
	var vErr *schema.ValidationError
	if !errors.As(err, &vErr) {
		return err
	}
	return &schema.ValidationError{
		Path:     prefix + strings.TrimPrefix(vErr.Path, "$"),
		Expected: vErr.Expected,
		Actual:   vErr.Actual,
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func decisionKindNames() []string {
	out := make([]string, len(AllDecisionKinds))
	for i, k := range AllDecisionKinds {
		out[i] = string(k)
	}
	return out
}

func actionKindNames() []string {
	out := make([]string, len(schemas.AllActionKinds))
	for i, k := range schemas.AllActionKinds {
		out[i] = string(k)
	}
	return out
}

// Guidance renders the whole reply shape as a single oneOf document for the
// prompt, with the action variants and the caller's result schema inlined.
func (r *ResponseSchema) Guidance() map[string]any {
	actions := make([]any, 0, len(schemas.AllActionKinds))
	for _, kind := range schemas.AllActionKinds {
		actions = append(actions, actionSchemas[kind].Guidance())
	}

	variants := make([]any, 0, len(AllDecisionKinds))
	for _, kind := range AllDecisionKinds {
		g := envelopeSchemas[kind].Guidance()
		props := g["properties"].(map[string]any)
		switch kind {
		case KindBrowserAction:
			props["action"] = map[string]any{"description": "The next browser action.", "oneOf": actions}
		case KindObjectiveComplete:
			result := r.result.Guidance()
			if _, ok := result["description"]; !ok {
				result["description"] = "The objective's result payload."
			}
			props["result"] = result
		}
		variants = append(variants, g)
	}
	return map[string]any{"oneOf": variants}
}

// GuidanceJSON renders Guidance as indented JSON.
func (r *ResponseSchema) GuidanceJSON() string {
	raw, err := json.MarshalIndent(r.Guidance(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
