package domain

import (
	"strconv"
	"time"
)

// ConditionOp is a comparison operator for step gating conditions.
type ConditionOp string

const (
	OpEquals    ConditionOp = "eq"
	OpNotEquals ConditionOp = "neq"
	OpGreater   ConditionOp = "gt"
	OpLess      ConditionOp = "lt"
	OpExists    ConditionOp = "exists"
)

// Condition gates a sequence step on a contact field. Conditions are stored
// with the job at scheduling time and re-evaluated against the live contact
// at dispatch, so a field that changes between scheduling and send is
// honoured.
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value string      `json:"value,omitempty"`
}

// Evaluate applies the condition to the contact's flattened variable map.
// Unknown operators and non-numeric operands for gt/lt evaluate to false;
// a condition that cannot be decided must not trigger a send.
func (c *Condition) Evaluate(contact *Contact) bool {
	if c == nil {
		return true
	}
	vars := contact.TemplateVars()
	val, ok := vars[c.Field]

	switch c.Op {
	case OpExists:
		return ok && val != ""
	case OpEquals:
		return ok && val == c.Value
	case OpNotEquals:
		return ok && val != c.Value
	case OpGreater, OpLess:
		if !ok {
			return false
		}
		return compareOrdered(val, c.Value, c.Op == OpGreater)
	}
	return false
}

// compareOrdered tries both operands as numbers, then as RFC 3339
// timestamps. Operands that parse as neither cannot be ordered and the
// comparison fails closed.
func compareOrdered(lhs, rhs string, greater bool) bool {
	lf, err1 := strconv.ParseFloat(lhs, 64)
	rf, err2 := strconv.ParseFloat(rhs, 64)
	if err1 == nil && err2 == nil {
		if greater {
			return lf > rf
		}
		return lf < rf
	}

	lt, err1 := time.Parse(time.RFC3339, lhs)
	rt, err2 := time.Parse(time.RFC3339, rhs)
	if err1 == nil && err2 == nil {
		if greater {
			return lt.After(rt)
		}
		return lt.Before(rt)
	}
	return false
}
