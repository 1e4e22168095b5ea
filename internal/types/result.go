package types

import (
	"fmt"
	"strings"
)

// Position is one selected job in a service result
type Position struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	CompanyDesc  string   `json:"company_desc,omitempty"`
	Salary       string   `json:"salary,omitempty"`
	AppealPoints []string `json:"appeal_points,omitempty"`
}

// Line renders the position as "id - title".
func (p Position) Line() string {
	switch {
	case p.ID == "":
		return p.Title
	case p.Title == "":
		return p.ID
	}
	return fmt.Sprintf("%s - %s", p.ID, p.Title)
}

// ServiceResult is the canonical normalized form of a downstream response
type ServiceResult struct {
	Positions []Position `json:"positions"`
	Subject   string     `json:"subject,omitempty"`
	Intro     string     `json:"intro_sentence,omitempty"`
	Closing   string     `json:"closing_sentence,omitempty"`
	Note      string     `json:"note,omitempty"`
	Variant   string     `json:"-"` // name of the shape variant that matched
}

// TextField returns the value of a named text field ("subject", "intro", "closing", "note").
func (r *ServiceResult) TextField(name string) string {
	switch name {
	case "subject":
		return r.Subject
	case "intro", "intro_sentence":
		return r.Intro
	case "closing", "closing_sentence":
		return r.Closing
	case "note":
		return r.Note
	}
	return ""
}

// PositionLines joins Position.Line for the first n positions (all when n <= 0).
func (r *ServiceResult) PositionLines(n int) string {
	positions := r.Positions
	if n > 0 && len(positions) > n {
		positions = positions[:n]
	}
	lines := make([]string, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, p.Line())
	}
	return strings.Join(lines, "\n")
}
