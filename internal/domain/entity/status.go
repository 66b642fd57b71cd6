package entity

import "time"

// ExpenseStatus is one append-only audit entry recording a status transition.
// Rows are never updated or deleted; ordered by CreatedAt they form the
// compliance audit trail for the expense.
type ExpenseStatus struct {
	ID        int64              `json:"id"`
	ExpenseID int64              `json:"expense_id"`
	Status    ExpenseStatusValue `json:"status"`
	// UserID is the acting identity; nil marks a system-authored entry
	// (e.g. the auto-reject when no rule covers the amount).
	UserID         *int64    `json:"user_id,omitempty"`
	Comment        string    `json:"comment,omitempty"`
	NextApproverID *int64    `json:"next_approver_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
