package domain

import "time"

// Contact is the recipient view the engine needs: an address, display
// fields for template resolution, and the scheduling bookkeeping columns.
// The wider CRM owns the full record.
type Contact struct {
	ID              string            `json:"id" db:"id"`
	Email           string            `json:"email" db:"email"`
	FirstName       string            `json:"first_name" db:"first_name"`
	LastName        string            `json:"last_name" db:"last_name"`
	Company         string            `json:"company" db:"company"`
	Fields          map[string]string `json:"fields,omitempty"`
	Unsubscribed    bool              `json:"unsubscribed" db:"unsubscribed"`
	LastContactedAt *time.Time        `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
	NextFollowUpAt  *time.Time        `json:"next_follow_up_at,omitempty" db:"next_follow_up_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name, tolerating either being empty.
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// TemplateVars flattens the contact into the variable map used for template
// resolution. Custom fields never shadow the built-in keys.
func (c *Contact) TemplateVars() map[string]string {
	vars := make(map[string]string, len(c.Fields)+5)
	for k, v := range c.Fields {
		vars[k] = v
	}
	vars["email"] = c.Email
	vars["first_name"] = c.FirstName
	vars["last_name"] = c.LastName
	vars["name"] = c.FullName()
	vars["company"] = c.Company
	return vars
}
