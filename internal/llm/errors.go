package llm

import "fmt"

// APICallError represents a failed generative-service call
type APICallError struct {
	Model   string
	Message string
	Cause   error
}

func (e *APICallError) Error() string {
	prefix := "API call failed"
	if e.Model != "" {
		prefix = fmt.Sprintf("API call to %s failed", e.Model)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}
