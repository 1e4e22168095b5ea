package compose

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/jonathan/scout-agent/internal/types"
)

// DefaultPlaceholder stands in for the candidate's surname in reusable copy.
const DefaultPlaceholder = "{姓}"

//go:embed inmail.tmpl
var defaultInMailTemplate string

// Sender identifies who the outreach is from
type Sender struct {
	Name        string `json:"name" toml:"name"`
	Company     string `json:"company" toml:"company"`
	MeetingHost string `json:"meeting_host" toml:"meeting_host"`
	BookingURL  string `json:"booking_url" toml:"booking_url" validate:"omitempty,url"`
}

// InMailData is passed to the in-mail template
type InMailData struct {
	Placeholder string
	Sender      Sender
	Intro       string
	Closing     string
	Subject     string
	Positions   []types.Position
}

// InMailComposer renders in-mail bodies
type InMailComposer struct {
	tmpl         *template.Template
	sender       Sender
	placeholder  string
	maxPositions int
}

// NewInMailComposer parses the template at templatePath, or the built-in one when empty.
func NewInMailComposer(sender Sender, templatePath string, maxPositions int) (*InMailComposer, error) {
	content := defaultInMailTemplate
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &TemplateError{Message: fmt.Sprintf("template file not found: %s", templatePath), Cause: err}
			}
			return nil, &TemplateError{Message: fmt.Sprintf("failed to read template file: %s", templatePath), Cause: err}
		}
		content = string(data)
	}

	tmpl, err := template.New("inmail").Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, &TemplateError{Message: "failed to parse template", Cause: err}
	}

	return &InMailComposer{
		tmpl:         tmpl,
		sender:       sender,
		placeholder:  DefaultPlaceholder,
		maxPositions: maxPositions,
	}, nil
}

// Compose renders the body for a candidate.
// Occurrences of the candidate's name in generated sentences are replaced by the placeholder.
func (c *InMailComposer) Compose(fullName string, r *types.ServiceResult) (string, error) {
	positions := r.Positions
	if c.maxPositions > 0 && len(positions) > c.maxPositions {
		positions = positions[:c.maxPositions]
	}

	data := InMailData{
		Placeholder: c.placeholder,
		Sender:      c.sender,
		Intro:       c.maskName(r.Intro, fullName),
		Closing:     c.maskName(r.Closing, fullName),
		Subject:     r.Subject,
		Positions:   positions,
	}

	var sb strings.Builder
	if err := c.tmpl.Execute(&sb, data); err != nil {
		return "", &TemplateError{Message: "failed to execute template", Cause: err}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *InMailComposer) maskName(text, fullName string) string {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return text
	}
	text = strings.ReplaceAll(text, fullName, c.placeholder)
	if surname := Surname(fullName); surname != "" {
		text = strings.ReplaceAll(text, surname, c.placeholder)
	}
	return text
}
