package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

const expenseColumns = `
	id, category_id, department_id, requester_id,
	amount_cents, currency, title, justification, status,
	rule_id, current_step, next_approver_type, next_approver_id,
	created_at, updated_at
`

// Create inserts a new expense
func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	query := `
		INSERT INTO expenses (
			category_id, department_id, requester_id,
			amount_cents, currency, title, justification, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		expense.CategoryID,
		expense.DepartmentID,
		expense.RequesterID,
		expense.AmountCents,
		expense.Currency,
		expense.Title,
		expense.Justification,
		string(expense.Status),
	)
	if err != nil {
		r.logger.Error("Failed to create expense",
			zap.Int64("requester_id", expense.RequesterID),
			zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	expense.ID = id
	return nil
}

// GetByID retrieves an expense by its ID, nil when absent
func (r *ExpenseRepository) GetByID(ctx context.Context, id int64) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	expense, err := scanExpense(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense by ID",
			zap.Int64("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	return expense, nil
}

// UpdateFields persists requester-editable fields, leaving workflow columns alone
func (r *ExpenseRepository) UpdateFields(ctx context.Context, id int64, update entity.ExpenseUpdate) error {
	sets := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)

	if update.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *update.CategoryID)
	}
	if update.DepartmentID != nil {
		sets = append(sets, "department_id = ?")
		args = append(args, *update.DepartmentID)
	}
	if update.AmountCents != nil {
		sets = append(sets, "amount_cents = ?")
		args = append(args, *update.AmountCents)
	}
	if update.Currency != nil {
		sets = append(sets, "currency = ?")
		args = append(args, *update.Currency)
	}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Justification != nil {
		sets = append(sets, "justification = ?")
		args = append(args, *update.Justification)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := `UPDATE expenses SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update expense fields",
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update expense fields: %w", err)
	}

	return nil
}

// UpdateWorkflowState conditionally moves the expense between workflow
// states. The WHERE clause on the prior status and step makes concurrent
// transitions race on the row: one UPDATE matches, the others see zero rows
// and get ErrStaleState. Guarding on the step as well as the status is what
// serializes step advances, which keep the status at PENDING_APPROVAL on
// both sides of the transition. The step comparison uses IS so a nil
// expectation matches a NULL cursor.
func (r *ExpenseRepository) UpdateWorkflowState(ctx context.Context, id int64, fromStatus entity.ExpenseStatusValue, fromStep *int, to entity.WorkflowState) error {
	query := `
		UPDATE expenses
		SET status = ?, rule_id = ?, current_step = ?,
			next_approver_type = ?, next_approver_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND current_step IS ?
	`

	var ruleID, nextApproverID sql.NullInt64
	var currentStep, expectedStep sql.NullInt64
	var nextApproverType sql.NullString

	if fromStep != nil {
		expectedStep = sql.NullInt64{Int64: int64(*fromStep), Valid: true}
	}

	if to.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *to.RuleID, Valid: true}
	}
	if to.CurrentStep != nil {
		currentStep = sql.NullInt64{Int64: int64(*to.CurrentStep), Valid: true}
	}
	if to.NextApproverType != nil {
		nextApproverType = sql.NullString{String: string(*to.NextApproverType), Valid: true}
	}
	if to.NextApproverID != nil {
		nextApproverID = sql.NullInt64{Int64: *to.NextApproverID, Valid: true}
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		string(to.Status),
		ruleID,
		currentStep,
		nextApproverType,
		nextApproverID,
		id,
		string(fromStatus),
		expectedStep,
	)
	if err != nil {
		r.logger.Error("Failed to update expense workflow state",
			zap.Int64("id", id),
			zap.String("from_status", string(fromStatus)),
			zap.String("to_status", string(to.Status)),
			zap.Error(err))
		return fmt.Errorf("failed to update expense workflow state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		r.logger.Warn("Expense workflow state update lost the race",
			zap.Int64("id", id),
			zap.String("expected_status", string(fromStatus)))
		return port.ErrStaleState
	}

	return nil
}

// ListByStatusOlderThan returns expenses sitting in a status since before cutoff
func (r *ExpenseRepository) ListByStatusOlderThan(ctx context.Context, status entity.ExpenseStatusValue, cutoff time.Time, limit int) ([]*entity.Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, string(status), cutoff.UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to list expenses by status",
			zap.String("status", string(status)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}

	return expenses, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanExpense scans one expense row including nullable workflow columns
func scanExpense(row rowScanner) (*entity.Expense, error) {
	var expense entity.Expense
	var status string
	var ruleID, nextApproverID, currentStep sql.NullInt64
	var nextApproverType sql.NullString

	err := row.Scan(
		&expense.ID,
		&expense.CategoryID,
		&expense.DepartmentID,
		&expense.RequesterID,
		&expense.AmountCents,
		&expense.Currency,
		&expense.Title,
		&expense.Justification,
		&status,
		&ruleID,
		&currentStep,
		&nextApproverType,
		&nextApproverID,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	expense.Status = entity.ExpenseStatusValue(status)
	if ruleID.Valid {
		expense.RuleID = &ruleID.Int64
	}
	if currentStep.Valid {
		step := int(currentStep.Int64)
		expense.CurrentStep = &step
	}
	if nextApproverType.Valid {
		t := entity.ApproverType(nextApproverType.String)
		expense.NextApproverType = &t
	}
	if nextApproverID.Valid {
		expense.NextApproverID = &nextApproverID.Int64
	}

	return &expense, nil
}

// Verify interface compliance
var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
