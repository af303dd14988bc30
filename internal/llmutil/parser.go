// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoJSON is returned when a reply contains no JSON object or array.
var ErrNoJSON = errors.New("reply contains no JSON value")

var (
	// Backticks are written as \x60 because Go raw strings cannot contain them.

	// fencedRegex extracts the body of the first markdown code fence, with or
	// without a language tag.
	fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ExtractJSON returns the JSON text embedded in a model reply. It handles the
// usual formatting noise: markdown fences and conversational text around a
// single object or array. The returned text is not guaranteed to be valid.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrNoJSON
	}

	// 1. Markdown fences, anywhere in the reply.
	if m := fencedRegex.FindStringSubmatch(response); len(m) > 1 {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			return body, nil
		}
	}

	// 2. Bare JSON.
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response, nil
	}

	// 3. A structure inside conversational text. Objects win over arrays
	// since decisions are always objects.
	if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
		return response[fb : lb+1], nil
	}
	if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
		return response[fb : lb+1], nil
	}
	return "", ErrNoJSON
}

// ParseJSONResponse extracts JSON from a model reply and decodes it into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, TruncateString(raw, 500))
	}
	return &result, nil
}

// DecodeAny extracts JSON from a model reply and decodes it into the generic
// JSON form (map[string]any, []any, float64, string, bool, nil).
func DecodeAny(response string) (any, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, TruncateString(raw, 500))
	}
	return result, nil
}

// TruncateString truncates s to at most maxLen bytes, appending "..." when
// anything was cut. It never splits a UTF-8 sequence.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
