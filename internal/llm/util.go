// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock removes markdown code block wrappers and surrounding prose from JSON responses.
// Models often wrap JSON in ```json ... ``` blocks or add a sentence before it even when instructed not to.
func CleanJSONBlock(text string) string {
	text = StripCodeFence(text)

	if text == "" || text[0] == '{' || text[0] == '[' {
		if extracted := extractJSON(text); extracted != "" {
			return extracted
		}
		return text
	}

	// Preamble: start at the first brace or bracket
	idx := strings.IndexAny(text, "{[")
	if idx < 0 {
		return text
	}
	if extracted := extractJSON(text[idx:]); extracted != "" {
		return extracted
	}
	return text
}

// StripCodeFence trims text and removes a surrounding markdown code fence with
// its language tag. Text without a leading fence is only trimmed.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Skip a language identifier on the first line
	if idx := strings.Index(text, "\n"); idx >= 0 {
		firstLine := text[:idx]
		if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.ContainsAny(firstLine, "{[") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func extractJSON(text string) string {
	if strings.HasPrefix(text, "[") {
		return extractJSONArray(text)
	}
	return extractJSONObject(text)
}

// extractJSONObject returns the balanced {...} prefix of text, or "".
func extractJSONObject(text string) string {
	return extractBalanced(text, '{', '}')
}

// extractJSONArray returns the balanced [...] prefix of text, or "".
func extractJSONArray(text string) string {
	return extractBalanced(text, '[', ']')
}

func extractBalanced(text string, open, close byte) string {
	if text == "" || text[0] != open {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
