package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConditionEvaluate(t *testing.T) {
	contact := &Contact{
		ID:        "c1",
		Email:     "jordan@acme.test",
		FirstName: "Jordan",
		Company:   "Acme",
		Fields: map[string]string{
			"plan":       "pro",
			"seats":      "12",
			"churn_risk": "high",
			"notes":      "",
			"renews_at":  "2026-09-15T00:00:00Z",
		},
	}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil condition passes", nil, true},
		{"eq match", &Condition{Field: "plan", Op: OpEquals, Value: "pro"}, true},
		{"eq mismatch", &Condition{Field: "plan", Op: OpEquals, Value: "free"}, false},
		{"eq missing field", &Condition{Field: "region", Op: OpEquals, Value: "eu"}, false},
		{"neq match", &Condition{Field: "plan", Op: OpNotEquals, Value: "free"}, true},
		{"neq missing field fails closed", &Condition{Field: "region", Op: OpNotEquals, Value: "eu"}, false},
		{"gt numeric", &Condition{Field: "seats", Op: OpGreater, Value: "10"}, true},
		{"gt not greater", &Condition{Field: "seats", Op: OpGreater, Value: "12"}, false},
		{"lt numeric", &Condition{Field: "seats", Op: OpLess, Value: "20"}, true},
		{"gt non-numeric fails closed", &Condition{Field: "churn_risk", Op: OpGreater, Value: "5"}, false},
		{"gt non-numeric value fails closed", &Condition{Field: "seats", Op: OpGreater, Value: "many"}, false},
		{"gt date after", &Condition{Field: "renews_at", Op: OpGreater, Value: "2026-06-01T00:00:00Z"}, true},
		{"lt date not before", &Condition{Field: "renews_at", Op: OpLess, Value: "2026-06-01T00:00:00Z"}, false},
		{"lt date before", &Condition{Field: "renews_at", Op: OpLess, Value: "2027-01-01T00:00:00Z"}, true},
		{"gt date against number fails closed", &Condition{Field: "renews_at", Op: OpGreater, Value: "5"}, false},
		{"exists present", &Condition{Field: "plan", Op: OpExists}, true},
		{"exists empty string", &Condition{Field: "notes", Op: OpExists}, false},
		{"exists missing", &Condition{Field: "region", Op: OpExists}, false},
		{"exists built-in field", &Condition{Field: "company", Op: OpExists}, true},
		{"unknown op fails closed", &Condition{Field: "plan", Op: ConditionOp("like"), Value: "p%"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(contact))
		})
	}
}

func TestTemplateVarsBuiltinsNotShadowed(t *testing.T) {
	contact := &Contact{
		Email:     "a@b.test",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Fields:    map[string]string{"email": "spoof@evil.test", "name": "spoof"},
	}
	vars := contact.TemplateVars()
	assert.Equal(t, "a@b.test", vars["email"])
	assert.Equal(t, "Ada Lovelace", vars["name"])
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{8, time.Hour},
	}
	for _, tt := range tests {
		got := NextRetryDelay(tt.attempts, time.Minute, time.Hour)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
	}
}
