package parsing

import (
	"fmt"
	"strings"
)

// MalformedResponseError means no candidate in the response matched any known shape
type MalformedResponseError struct {
	SeenKeys []string
}

func (e *MalformedResponseError) Error() string {
	if len(e.SeenKeys) == 0 {
		return "malformed response: no JSON object found"
	}
	return fmt.Sprintf("malformed response: no recognized result shape (keys seen: %s)", strings.Join(e.SeenKeys, ", "))
}

// IncompleteResultError means a decoded result lacks a required part
type IncompleteResultError struct {
	Field   string
	Message string
}

func (e *IncompleteResultError) Error() string {
	return fmt.Sprintf("incomplete result: %s: %s", e.Field, e.Message)
}
