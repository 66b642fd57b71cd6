package engine

import (
	"context"

	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// Decision is an approver's verdict on a pending expense.
type Decision string

const (
	DecisionApprove     Decision = "APPROVE"
	DecisionReject      Decision = "REJECT"
	DecisionRequestInfo Decision = "REQUEST_INFO"
)

// SubmitInput carries the requester-supplied fields of a new expense.
type SubmitInput struct {
	CategoryID    int64
	DepartmentID  int64
	RequesterID   int64
	AmountCents   int64
	Currency      string
	Title         string
	Justification string
}

// Engine drives the expense approval workflow: submission, routing through
// the applicable rule's approver chain, decisions, cancellation and edits.
// Every transition is one atomic unit: the expense row's workflow fields and
// exactly one audit entry change together, or neither does. The expected
// prior status is re-validated inside the transaction, so two concurrent
// transitions on one expense resolve to one winner and one ErrStaleState.
type Engine interface {
	// Submit creates an expense in DRAFT (asDraft) or WAITING_WORKFLOW and
	// publishes the routing event after commit.
	Submit(ctx context.Context, input SubmitInput, asDraft bool) (*entity.Expense, error)

	// Route computes the expense's approval chain: selects the applicable
	// rule, resolves the first approver and moves to PENDING_APPROVAL, or
	// auto-rejects when no rule covers the amount. Idempotent: an expense no
	// longer in WAITING_WORKFLOW is left untouched.
	Route(ctx context.Context, expenseID int64) error

	// Decide records the current approver's verdict and advances, finalizes
	// or parks the expense accordingly.
	Decide(ctx context.Context, expenseID, deciderID int64, decision Decision, comment string) (*entity.Expense, error)

	// Cancel terminates a non-terminal expense; requester only.
	Cancel(ctx context.Context, expenseID, requesterID int64, comment string) (*entity.Expense, error)

	// Update edits requester-owned fields while the expense is in DRAFT or
	// PENDING_ADDITIONAL_INFO, optionally republishing it into the workflow.
	Update(ctx context.Context, expenseID, requesterID int64, fields entity.ExpenseUpdate, republish bool, comment string) (*entity.Expense, error)

	// SetDraft administratively pulls a non-terminal expense back to DRAFT.
	SetDraft(ctx context.Context, expenseID, actorID int64) (*entity.Expense, error)

	// Get returns the expense.
	Get(ctx context.Context, expenseID int64) (*entity.Expense, error)

	// History returns the append-only audit trail, oldest first.
	History(ctx context.Context, expenseID int64) ([]*entity.ExpenseStatus, error)
}
