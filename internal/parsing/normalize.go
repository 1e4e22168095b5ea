// Package parsing turns loosely structured downstream responses into a canonical ServiceResult.
package parsing

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/types"
)

// DefaultMaxDepth bounds how many wrapper levels are unwrapped.
const DefaultMaxDepth = 6

// WrapperKeys are searched, in order, for nested or string-encoded payloads.
var WrapperKeys = []string{"result", "data", "payload", "response", "note", "body", "text", "json", "message", "raw"}

// Required text fields for the in-mail flow
var InMailRequired = []string{"subject", "intro", "closing"}

// Normalizer searches a response breadth-first for the first value matching a known shape.
type Normalizer struct {
	Required []string
	MaxDepth int
	Variants []Variant
}

// NewNormalizer returns a Normalizer with the default shapes.
// required names text fields an alternate shape must carry to be accepted.
func NewNormalizer(required ...string) *Normalizer {
	return &Normalizer{
		Required: required,
		MaxDepth: DefaultMaxDepth,
		Variants: DefaultVariants(),
	}
}

type candidate struct {
	value any
	depth int
}

// Normalize accepts []byte, string, json.RawMessage or already-decoded JSON values.
// It returns *IncompleteResultError when the only recognized shape selects no
// positions, and *MalformedResponseError when nothing matches.
func (n *Normalizer) Normalize(raw any) (*types.ServiceResult, error) {
	var seen []string
	seenSet := map[string]bool{}
	emptySelection := false

	queue := []candidate{{value: raw}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		value, ok := decodeValue(cur.value)
		if !ok {
			continue
		}

		if obj, isObj := value.(map[string]any); isObj {
			for _, k := range sortedKeys(obj) {
				if !seenSet[k] {
					seenSet[k] = true
					seen = append(seen, k)
				}
			}
		}

		for _, variant := range n.Variants {
			if result, ok := variant.Decode(value, n.Required); ok {
				result.Variant = variant.Name
				return result, nil
			}
		}
		if !emptySelection {
			emptySelection = isEmptySelection(value)
		}

		obj, isObj := value.(map[string]any)
		if !isObj || cur.depth >= n.MaxDepth {
			continue
		}
		for _, key := range WrapperKeys {
			if inner, exists := obj[key]; exists && inner != nil {
				queue = append(queue, candidate{value: inner, depth: cur.depth + 1})
			}
		}
	}

	if emptySelection {
		return nil, &IncompleteResultError{Field: "positions", Message: "no suitable positions"}
	}
	return nil, &MalformedResponseError{SeenKeys: seen}
}

// isEmptySelection reports a recognized position list holding no usable positions.
func isEmptySelection(v any) bool {
	switch x := v.(type) {
	case []any:
		return len(x) == 0
	case map[string]any:
		for _, key := range selectionKeys {
			if list, ok := x[key].([]any); ok && len(decodePositions(list)) == 0 {
				return true
			}
		}
	}
	return false
}

// decodeValue turns string-like input into decoded JSON; unparsable strings are dropped.
func decodeValue(v any) (any, bool) {
	var text string
	switch x := v.(type) {
	case map[string]any, []any:
		return x, true
	case []byte:
		text = string(x)
	case json.RawMessage:
		text = string(x)
	case string:
		text = x
	default:
		return nil, false
	}

	text = llm.CleanJSONBlock(text)
	if text == "" || (text[0] != '{' && text[0] != '[') {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return decoded, true
	}
	return nil, false
}

// Validate checks that result has at least one position and every required text field.
func Validate(result *types.ServiceResult, required []string) error {
	if result == nil || len(result.Positions) == 0 {
		return &IncompleteResultError{Field: "positions", Message: "no positions selected"}
	}
	for _, field := range required {
		if strings.TrimSpace(result.TextField(field)) == "" {
			return &IncompleteResultError{Field: field, Message: "required text is empty"}
		}
	}
	return nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
