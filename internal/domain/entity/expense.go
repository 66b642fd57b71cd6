package entity

import "time"

// ExpenseStatusValue is the persisted lifecycle status of an expense.
type ExpenseStatusValue string

const (
	StatusDraft           ExpenseStatusValue = "DRAFT"
	StatusWaitingWorkflow ExpenseStatusValue = "WAITING_WORKFLOW"
	StatusPendingApproval ExpenseStatusValue = "PENDING_APPROVAL"
	StatusPendingInfo     ExpenseStatusValue = "PENDING_ADDITIONAL_INFO"
	StatusApproved        ExpenseStatusValue = "APPROVED"
	StatusRejected        ExpenseStatusValue = "REJECTED"
	StatusCancelled       ExpenseStatusValue = "CANCELLED"
)

// ApproverType distinguishes whether the next approver is a concrete user or
// any capability holder within a department.
type ApproverType string

const (
	ApproverUser       ApproverType = "USER"
	ApproverDepartment ApproverType = "DEPARTMENT"
)

// Expense is a reimbursement request routed through the approval chain.
// RuleID, CurrentStep and the NextApprover fields are set only while the
// expense sits in PENDING_APPROVAL; everywhere else they are nil.
type Expense struct {
	ID            int64              `json:"id"`
	CategoryID    int64              `json:"category_id"`
	DepartmentID  int64              `json:"department_id"`
	RequesterID   int64              `json:"requester_id"`
	AmountCents   int64              `json:"amount_cents"`
	Currency      string             `json:"currency"`
	Title         string             `json:"title"`
	Justification string             `json:"justification"`
	Status        ExpenseStatusValue `json:"status"`

	RuleID           *int64        `json:"rule_id,omitempty"`
	CurrentStep      *int          `json:"current_step,omitempty"`
	NextApproverType *ApproverType `json:"next_approver_type,omitempty"`
	NextApproverID   *int64        `json:"next_approver_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the expense admits no further workflow activity.
func (e *Expense) IsTerminal() bool {
	switch e.Status {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// WorkflowState bundles the fields the engine owns on an expense row. A nil
// pointer set clears the routing fields (terminal and pre-workflow statuses).
type WorkflowState struct {
	Status           ExpenseStatusValue
	RuleID           *int64
	CurrentStep      *int
	NextApproverType *ApproverType
	NextApproverID   *int64
}

// ExpenseUpdate carries the requester-editable fields of an expense.
// Nil means "leave unchanged". Department and category changes are rejected
// by the engine while the expense is in PENDING_ADDITIONAL_INFO.
type ExpenseUpdate struct {
	CategoryID    *int64
	DepartmentID  *int64
	AmountCents   *int64
	Currency      *string
	Title         *string
	Justification *string
}
