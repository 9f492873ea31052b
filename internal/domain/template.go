package domain

import "time"

// TemplateType categorizes what a template is used for.
type TemplateType string

const (
	TemplateInitialFollowup TemplateType = "initial_followup"
	TemplateReminder        TemplateType = "reminder"
	TemplateNPS             TemplateType = "nps"
	TemplateCustom          TemplateType = "custom"
)

// EmailTemplate holds the content for one outbound email. Once a sent job
// references a template, edits only affect future resolutions; the resolver
// reads the template lazily at dispatch time, never at planning time.
type EmailTemplate struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Type      TemplateType `json:"type" db:"type"`
	Subject   string       `json:"subject" db:"subject"`
	BodyHTML  string       `json:"body_html" db:"body_html"`
	BodyText  string       `json:"body_text" db:"body_text"`
	Variables []string     `json:"variables" db:"variables"`
	IsActive  bool         `json:"is_active" db:"is_active"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
