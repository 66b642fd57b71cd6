package entity

import "time"

// Rule is a department-scoped amount range with an ordered approver chain.
// The range is half-open: an amount matches when MinCents <= amount < MaxCents.
type Rule struct {
	ID                  int64      `json:"id"`
	DepartmentID        int64      `json:"department_id"`
	MinCents            int64      `json:"min_cents"`
	MaxCents            int64      `json:"max_cents"`
	CanBeSingleApproved bool       `json:"can_be_single_approved"`
	Steps               []RuleStep `json:"steps"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Matches reports whether the amount falls inside the rule's range.
func (r *Rule) Matches(amountCents int64) bool {
	return amountCents >= r.MinCents && amountCents < r.MaxCents
}

// Overlaps reports whether two half-open ranges intersect.
func (r *Rule) Overlaps(other *Rule) bool {
	return r.MinCents < other.MaxCents && other.MinCents < r.MaxCents
}

// LastStep returns the highest step number, or 0 for an empty chain.
func (r *Rule) LastStep() int {
	last := 0
	for _, s := range r.Steps {
		if s.Step > last {
			last = s.Step
		}
	}
	return last
}

// StepAt returns the step with the given ordinal, or nil.
func (r *Rule) StepAt(step int) *RuleStep {
	for i := range r.Steps {
		if r.Steps[i].Step == step {
			return &r.Steps[i]
		}
	}
	return nil
}

// RuleStep is one link in a rule's chain. Exactly one of
// ApprovingDepartmentID / ApprovingUserID is set.
type RuleStep struct {
	ID                    int64  `json:"id"`
	RuleID                int64  `json:"rule_id"`
	Step                  int    `json:"step"`
	ApprovingDepartmentID *int64 `json:"approving_department_id,omitempty"`
	ApprovingUserID       *int64 `json:"approving_user_id,omitempty"`
}

// ApproverRef is a resolved decision-maker for a rule step.
type ApproverRef struct {
	Type   ApproverType `json:"type"`
	UserID int64        `json:"user_id"`
	// DepartmentID is set when the step named a department and UserID was
	// picked from its capability holders.
	DepartmentID *int64 `json:"department_id,omitempty"`
}
