package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jonathan/scout-agent/internal/types"
)

// Record is a job posting in the importer shape.
// List fields may be given as a JSON array or a plain string.
type Record struct {
	JobID           string   `json:"job_id"`
	CompanyName     string   `json:"company_name"`
	PositionName    string   `json:"position_name"`
	Status          string   `json:"status"`
	JobSummary      string   `json:"job_summary"`
	WorkLocation    string   `json:"work_location"`
	SalaryRange     string   `json:"salary_range"`
	RequiredSkills  TextList `json:"required_skills"`
	PreferredSkills TextList `json:"preferred_skills"`
	IdealCandidate  string   `json:"ideal_candidate_profile"`
	AppealPoints    TextList `json:"appeal_points"`
}

// TextList decodes from a string or an array of strings
type TextList []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *TextList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	if s == "" {
		*t = nil
	} else {
		*t = TextList{s}
	}
	return nil
}

func (t TextList) String() string {
	return strings.Join(t, "\n")
}

// Item converts a record into a catalog item. Status defaults to open.
func (r Record) Item() types.CatalogItem {
	status := r.Status
	if status == "" {
		status = DefaultOpenStatus
	}
	return types.CatalogItem{
		ID:       r.JobID,
		Company:  r.CompanyName,
		Title:    r.PositionName,
		Status:   status,
		Summary:  r.JobSummary,
		Location: r.WorkLocation,
		Salary:   r.SalaryRange,
		Must:     r.RequiredSkills.String(),
		Plus:     r.PreferredSkills.String(),
		Person:   r.IdealCandidate,
		Appeal:   r.AppealPoints.String(),
	}
}

// ReadJSON reads a JSON array of catalog items or importer records.
func ReadJSON(path string) ([]types.CatalogItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseJSON(data)
}

// ParseJSON decodes catalog JSON. Each element may use either field layout.
func ParseJSON(data []byte) ([]types.CatalogItem, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	items := make([]types.CatalogItem, 0, len(raw))
	for i, elem := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if _, ok := fields["company_name"]; ok {
			var rec Record
			if err := json.Unmarshal(elem, &rec); err != nil {
				return nil, fmt.Errorf("catalog entry %d: %w", i, err)
			}
			items = append(items, rec.Item())
			continue
		}
		var item types.CatalogItem
		if err := json.Unmarshal(elem, &item); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
