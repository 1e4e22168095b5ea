// Package types provides type definitions for structured data used throughout the scout-agent system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "strings"

// RowStatus is the processing state recorded against a candidate row.
// The empty status is the only state a batch will pick up.
type RowStatus string

// Row status values
const (
	StatusEmpty      RowStatus = ""
	StatusProcessing RowStatus = "processing"
	StatusDone       RowStatus = "done"
	StatusError      RowStatus = "error"
)

// IsEmpty reports whether the row is eligible for processing.
// Whitespace-only labels count as empty.
func (s RowStatus) IsEmpty() bool {
	return strings.TrimSpace(string(s)) == ""
}

// IsKnown reports whether s is one of the defined status values.
func (s RowStatus) IsKnown() bool {
	switch s {
	case StatusEmpty, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// Row is one candidate record in a row store
type Row struct {
	ID      string     `json:"id"`
	Index   int        `json:"index"`
	Name    string     `json:"name"`
	Profile string     `json:"profile"`
	Status  RowStatus  `json:"status"`
	Result  *RowResult `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// RowResult is the artifact written back for a successfully processed row
type RowResult struct {
	Positions string `json:"positions"`         // one "id - title" line per selected position
	Subject   string `json:"subject,omitempty"` // in-mail subject, empty for notes
	Message   string `json:"message"`           // composed outreach text
	Raw       string `json:"raw,omitempty"`     // raw downstream response
}
