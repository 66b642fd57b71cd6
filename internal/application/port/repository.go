package port

import (
	"context"
	"time"

	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// ExpenseRepository defines persistence operations for Expense
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, id int64) (*entity.Expense, error)

	// UpdateFields persists requester-editable fields only; workflow fields
	// are untouched.
	UpdateFields(ctx context.Context, id int64, update entity.ExpenseUpdate) error

	// UpdateWorkflowState atomically moves the expense from the expected
	// status and step to the new workflow state. It must return ErrStaleState
	// when the row's current status or step no longer matches the expectation,
	// which is the sole serialization mechanism for concurrent transitions.
	// The step guard matters for step advances, where both the old and the new
	// status are PENDING_APPROVAL and status alone cannot tell snapshots apart.
	// A nil fromStep means the row is expected to have no step cursor.
	UpdateWorkflowState(ctx context.Context, id int64, fromStatus entity.ExpenseStatusValue, fromStep *int, to entity.WorkflowState) error

	// ListByStatusOlderThan returns expenses stuck in the given status whose
	// last update predates the cutoff. Used by the reconciliation sweep.
	ListByStatusOlderThan(ctx context.Context, status entity.ExpenseStatusValue, cutoff time.Time, limit int) ([]*entity.Expense, error)
}

// RuleRepository defines persistence operations for Rule and RuleStep.
// Rules are always read and written together with their full step set; no
// partial step list is ever visible to readers.
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.Rule) error
	GetByID(ctx context.Context, id int64) (*entity.Rule, error)
	ListByDepartment(ctx context.Context, departmentID int64) ([]*entity.Rule, error)

	// FindApplicable returns every rule of the department whose half-open
	// range covers the amount. The catalog enforces that at most one exists.
	FindApplicable(ctx context.Context, departmentID int64, amountCents int64) ([]*entity.Rule, error)

	// Update persists the rule row and replaces its steps with the
	// authoritative final list.
	Update(ctx context.Context, rule *entity.Rule) error
	Delete(ctx context.Context, id int64) error
}

// StatusRepository defines persistence operations for the append-only
// ExpenseStatus audit trail. There is deliberately no update or delete.
type StatusRepository interface {
	Create(ctx context.Context, status *entity.ExpenseStatus) error
	ListByExpenseID(ctx context.Context, expenseID int64) ([]*entity.ExpenseStatus, error)
}

// UserRepository exposes the read-only user lookups the core needs.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
