package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// unwrapResponseBody normalizes the provider-specific response shapes into
// one JSON object. The attempts fall through deterministically: a top-level
// analysis/result/data object, then a chat-completion choices array, then
// the body itself, then the first element of a top-level array.
func unwrapResponseBody(body any) (map[string]any, error) {
	switch v := body.(type) {
	case map[string]any:
		for _, key := range []string{"analysis", "result", "data"} {
			if inner, ok := v[key].(map[string]any); ok {
				return inner, nil
			}
		}
		if choices, ok := v["choices"].([]any); ok {
			return extractFromChoices(choices)
		}
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty llm response array: %w", ErrResponseFormat)
		}
		return unwrapResponseBody(v[0])
	}
	return nil, fmt.Errorf("llm response is %T, not a JSON object: %w", body, ErrResponseFormat)
}

// extractFromChoices pulls choices[0].message.content and parses it as a
// JSON object, stripping Markdown code fences first.
func extractFromChoices(choices []any) (map[string]any, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("llm response choices array was empty: %w", ErrResponseFormat)
	}

	first, _ := choices[0].(map[string]any)
	var content string
	if message, ok := first["message"].(map[string]any); ok {
		content, _ = message["content"].(string)
	}
	if content == "" {
		content, _ = first["content"].(string)
	}
	if content == "" {
		return nil, fmt.Errorf("llm response missing message content: %w", ErrResponseFormat)
	}

	cleaned := stripCodeFences(strings.TrimSpace(content))
	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parsing JSON content from llm choice: %w", ErrResponseFormat)
	}
	return parsed, nil
}

// stripCodeFences removes a surrounding ```...``` block, including an
// optional language tag on the opening fence.
func stripCodeFences(text string) string {
	if strings.HasPrefix(text, "```") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = ""
		}
	}
	if strings.HasSuffix(text, "```") {
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// keyAliases lists the field-name synonyms different backends use for the
// canonical keys. Order matters: when a payload carries several aliases for
// the same key, the first listed one wins.
var keyAliases = []struct {
	alias  string
	target string
}{
	{"importance", "importance_level"},
	{"importanceLevel", "importance_level"},
	{"importance_label", "importance_level"},
	{"priority", "importance_level"},
	{"score", "importance_score"},
	{"importanceScore", "importance_score"},
	{"danger", "risk_level"},
	{"danger_level", "risk_level"},
	{"risk", "risk_level"},
	{"risk_assessment", "risk_level"},
	{"safety", "is_safe"},
	{"safe", "is_safe"},
}

// decodeResult turns an unwrapped payload into a Result, absorbing key
// aliases and loose typing (stringified numbers, string booleans,
// comma-separated tag strings).
func decodeResult(payload map[string]any) *Result {
	normalized := make(map[string]any, len(payload))
	for k, v := range payload {
		normalized[k] = v
	}
	for _, a := range keyAliases {
		if v, ok := normalized[a.alias]; ok {
			if _, exists := normalized[a.target]; !exists {
				normalized[a.target] = v
			}
		}
	}

	r := &Result{Raw: payload}
	r.Category = getString(normalized, "category")
	r.Sentiment = getString(normalized, "sentiment")
	r.ImportanceLevel = getString(normalized, "importance_level")
	r.RiskLevel = getString(normalized, "risk_level")
	r.Summary = getString(normalized, "summary")

	if v, ok := normalized["importance_score"]; ok {
		if f, ok := toFloat(v); ok {
			r.ImportanceScore = &f
		} else {
			r.Warnings = append(r.Warnings, "importance_score was not numeric; dropping its value")
		}
	}

	if v, ok := normalized["is_safe"]; ok {
		b := toBool(v)
		r.IsSafe = &b
	}

	if v, ok := normalized["tags"]; ok {
		tags, warning := toTags(v)
		r.Tags = tags
		if warning != "" {
			r.Warnings = append(r.Warnings, warning)
		}
	}

	return r
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case int:
		return float64(n), true
	}
	return 0, false
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "safe":
			return true
		}
		return false
	case float64:
		return b != 0
	}
	return false
}

func toTags(v any) ([]string, string) {
	switch t := v.(type) {
	case []any:
		var tags []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
		return tags, ""
	case string:
		var tags []string
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				tags = append(tags, p)
			}
		}
		return tags, ""
	}
	return nil, "tags field was not a list; dropping its value"
}
