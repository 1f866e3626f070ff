// Package json recovers JSON objects from model output.
//
// Planners do not always return clean JSON: arguments arrive wrapped in
// markdown fences, preceded by commentary, or followed by a second object.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the first well-formed JSON object found in response.
//
// It tries, in order: the whole response (after stripping a markdown code
// fence), the span from the first '{' to the last '}', and finally each '{'
// in turn decoded as a standalone object.
func ExtractJSON(response string) (string, error) {
	trimmed := stripMarkdownCodeBlocks(response)

	if isObject(trimmed) {
		return trimmed, nil
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start != -1 && end > start {
		if span := trimmed[start : end+1]; isObject(span) {
			return span, nil
		}
	}

	for i := start; i != -1 && i < len(trimmed); {
		dec := json.NewDecoder(strings.NewReader(trimmed[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && isObject(string(raw)) {
			return string(raw), nil
		}
		next := strings.IndexByte(trimmed[i+1:], '{')
		if next == -1 {
			break
		}
		i += next + 1
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview)
}

// ExtractJSONFromResponse extracts the first JSON object in response and
// decodes it into T.
func ExtractJSONFromResponse[T any](response string) (T, error) {
	var result T
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

func isObject(s string) bool {
	b := bytes.TrimSpace([]byte(s))
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

// stripMarkdownCodeBlocks removes a surrounding ```json ... ``` or ``` ... ``` fence.
func stripMarkdownCodeBlocks(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}

	return trimmed
}
