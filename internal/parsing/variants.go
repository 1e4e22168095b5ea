package parsing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/scout-agent/internal/types"
)

// Variant decodes one named response shape.
// Decode reports false when the candidate value does not have this shape.
type Variant struct {
	Name   string
	Decode func(v any, required []string) (*types.ServiceResult, bool)
}

// DefaultVariants lists the accepted shapes in priority order.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "positions", Decode: decodeCanonical},
		{Name: "selected_positions", Decode: decodeSelected},
		{Name: "position_list", Decode: decodeList},
	}
}

// Field aliases, first match wins
var (
	selectionKeys = []string{"positions", "selected_positions"}

	idKeys      = []string{"id", "job_id", "position_id"}
	titleKeys   = []string{"title", "job_title", "position", "role"}
	companyKeys = []string{"company_desc", "company", "company_description", "company_name"}
	salaryKeys  = []string{"salary", "salary_range", "compensation"}
	appealKeys  = []string{"appeal_points", "reasons", "appeal"}
	reasonKeys  = []string{"reason_for_candidate_fit", "reason_for_company_fit"}

	textKeys = map[string][]string{
		"subject": {"subject"},
		"intro":   {"intro_sentence", "intro"},
		"closing": {"closing_sentence", "closing"},
		"note":    {"note", "friend_request_note"},
	}
)

// decodeCanonical accepts {"positions": [...]} with at least one position.
// Text fields are carried but not required here; Validate checks them.
func decodeCanonical(v any, _ []string) (*types.ServiceResult, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	positions := decodePositions(obj["positions"])
	if len(positions) == 0 {
		return nil, false
	}
	return withText(obj, positions), true
}

// decodeSelected accepts the matching service's {"selected_positions": [...]} shape.
func decodeSelected(v any, required []string) (*types.ServiceResult, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	positions := decodePositions(obj["selected_positions"])
	if len(positions) == 0 {
		return nil, false
	}
	result := withText(obj, positions)
	return result, hasRequired(result, required)
}

// decodeList accepts a bare array of position objects.
func decodeList(v any, required []string) (*types.ServiceResult, bool) {
	if _, ok := v.([]any); !ok {
		return nil, false
	}
	positions := decodePositions(v)
	if len(positions) == 0 {
		return nil, false
	}
	result := &types.ServiceResult{Positions: positions}
	return result, hasRequired(result, required)
}

func withText(obj map[string]any, positions []types.Position) *types.ServiceResult {
	return &types.ServiceResult{
		Positions: positions,
		Subject:   firstString(obj, textKeys["subject"]),
		Intro:     firstString(obj, textKeys["intro"]),
		Closing:   firstString(obj, textKeys["closing"]),
		Note:      firstString(obj, textKeys["note"]),
	}
}

func hasRequired(r *types.ServiceResult, required []string) bool {
	for _, field := range required {
		if strings.TrimSpace(r.TextField(field)) == "" {
			return false
		}
	}
	return true
}

func decodePositions(v any) []types.Position {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	positions := make([]types.Position, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := types.Position{
			ID:           firstString(obj, idKeys),
			Title:        firstString(obj, titleKeys),
			CompanyDesc:  firstString(obj, companyKeys),
			Salary:       firstString(obj, salaryKeys),
			AppealPoints: appealPoints(obj),
		}
		if p.ID == "" && p.Title == "" {
			continue
		}
		positions = append(positions, p)
	}
	return positions
}

// appealPoints accepts a list or a scalar; fit reasons are the fallback.
func appealPoints(obj map[string]any) []string {
	for _, key := range appealKeys {
		if points := stringList(obj[key]); len(points) > 0 {
			return points
		}
	}
	var points []string
	for _, key := range reasonKeys {
		if s := asString(obj[key]); s != "" {
			points = append(points, s)
		}
	}
	return points
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return nil
	default:
		if s := asString(x); s != "" {
			return []string{s}
		}
	}
	return nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if s := asString(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

// asString renders scalars; objects and arrays yield "".
func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return fmt.Sprint(x)
	}
	return ""
}
