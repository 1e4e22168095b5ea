package types

// CatalogItem is one job entry sent alongside a candidate as matching context
type CatalogItem struct {
	ID       string `json:"id" validate:"required"`
	Company  string `json:"company" validate:"required"`
	Title    string `json:"title" validate:"required"`
	Status   string `json:"status,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Location string `json:"location,omitempty"`
	Salary   string `json:"salary,omitempty"`
	Must     string `json:"must,omitempty"`
	Plus     string `json:"plus,omitempty"`
	Person   string `json:"person,omitempty"`
	Appeal   string `json:"appeal,omitempty"`
}

// CandidateProfile carries the free-form profile text of a candidate
type CandidateProfile struct {
	Text string `json:"text"`
}

// Candidate is the identity part of a request envelope
type Candidate struct {
	Name            string           `json:"name,omitempty"`
	LinkedInProfile CandidateProfile `json:"linkedin_profile"`
}

// RequestEnvelope is the JSON body sent to the matching service.
// Its serialized size must stay under the configured byte ceiling.
type RequestEnvelope struct {
	Candidate Candidate     `json:"candidate"`
	Catalog   []CatalogItem `json:"catalog,omitempty"`
}
