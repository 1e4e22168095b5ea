// Package ingestion normalizes free-form candidate profile text before it is measured and sent downstream.
package ingestion

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	spaceRunRE   = regexp.MustCompile(`[ \t]+`)
	blankLinesRE = regexp.MustCompile(`\n\n\n+`)
)

// nonBreakingSpaces are replaced by a plain space before any other cleanup.
var nonBreakingSpaces = strings.NewReplacer(
	"\u00a0", " ",
	"\u2007", " ",
	"\u202f", " ",
	"\u3000", " ",
	"\ufeff", "",
)

// CleanText cleans and normalizes text content while preserving line structure
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	// 1. Normalize line endings (CRLF → LF)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	// 2. Non-breaking and ideographic spaces become ASCII spaces
	content = nonBreakingSpaces.Replace(content)

	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, cleanLine(line))
	}

	result := strings.Join(cleaned, "\n")
	result = blankLinesRE.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine collapses inner whitespace runs; bullet indentation is kept
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return ""
	}

	content := spaceRunRE.ReplaceAllString(trimmed, " ")
	if isBulletLine(trimmed) {
		if indent := len(line) - len(trimmed); indent > 0 {
			return strings.Repeat(" ", indent) + content
		}
	}
	return content
}

func isBulletLine(line string) bool {
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ") || strings.HasPrefix(line, "・")
}

// NormalizeProfile prepares pasted profile text for packing.
// Markup copied from a profile page is reduced to its visible text first.
func NormalizeProfile(content string) string {
	if LooksLikeHTML(content) {
		if text, err := HTMLToText(content); err == nil && text != "" {
			content = text
		}
	}
	return CleanText(content)
}

// IngestFromFile reads a profile file and returns its normalized text
func IngestFromFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %w", err)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return NormalizeProfile(string(content)), nil
}
