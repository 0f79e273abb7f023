package brain

import (
	"encoding/json"
	"strings"
)

// wireResponse is the JSON shape models are prompted to emit.
type wireResponse struct {
	Thought string         `json:"thought"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Message string         `json:"message"`
}

// Parse extracts the structured reply from raw model output. Malformed or
// absent JSON is not an error: the result degrades to a no-tool variant
// carrying the raw text as the final message.
func Parse(text string) *Response {
	resp := &Response{Raw: text}

	jsonStr := extractJSON(text)
	if jsonStr == "" {
		resp.FinalMessage = strings.TrimSpace(text)
		return resp
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		resp.FinalMessage = strings.TrimSpace(text)
		return resp
	}

	resp.Thought = wire.Thought
	if wire.Tool != "" {
		resp.ToolCall = &ToolCall{Name: wire.Tool, Args: wire.Args}
	}
	resp.FinalMessage = wire.Message
	if resp.ToolCall == nil && resp.FinalMessage == "" {
		resp.FinalMessage = strings.TrimSpace(text)
	}
	return resp
}

// extractJSON finds a JSON object in the response text: fenced ```json
// blocks first, then generic fences, then balanced-brace scanning.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON object from the start of the
// string, tracking string literals and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
