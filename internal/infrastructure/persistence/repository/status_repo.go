package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// StatusRepository implements port.StatusRepository. The table is append-only:
// there is no update or delete here, the trail is the compliance record.
type StatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStatusRepository creates a new status repository
func NewStatusRepository(db *sql.DB, logger *zap.Logger) port.StatusRepository {
	return &StatusRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends one audit entry
func (r *StatusRepository) Create(ctx context.Context, status *entity.ExpenseStatus) error {
	query := `
		INSERT INTO expense_statuses (expense_id, status, user_id, comment, next_approver_id)
		VALUES (?, ?, ?, ?, ?)
	`

	var userID, nextApproverID sql.NullInt64
	if status.UserID != nil {
		userID = sql.NullInt64{Int64: *status.UserID, Valid: true}
	}
	if status.NextApproverID != nil {
		nextApproverID = sql.NullInt64{Int64: *status.NextApproverID, Valid: true}
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		status.ExpenseID,
		string(status.Status),
		userID,
		status.Comment,
		nextApproverID,
	)
	if err != nil {
		r.logger.Error("Failed to create expense status entry",
			zap.Int64("expense_id", status.ExpenseID),
			zap.String("status", string(status.Status)),
			zap.Error(err))
		return fmt.Errorf("failed to create expense status entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	status.ID = id
	return nil
}

// ListByExpenseID returns the audit trail, oldest first
func (r *StatusRepository) ListByExpenseID(ctx context.Context, expenseID int64) ([]*entity.ExpenseStatus, error) {
	query := `
		SELECT id, expense_id, status, user_id, comment, next_approver_id, created_at
		FROM expense_statuses
		WHERE expense_id = ?
		ORDER BY id
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list expense status entries",
			zap.Int64("expense_id", expenseID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list expense status entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ExpenseStatus
	for rows.Next() {
		var entry entity.ExpenseStatus
		var status string
		var userID, nextApproverID sql.NullInt64

		err := rows.Scan(
			&entry.ID,
			&entry.ExpenseID,
			&status,
			&userID,
			&entry.Comment,
			&nextApproverID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense status entry: %w", err)
		}

		entry.Status = entity.ExpenseStatusValue(status)
		if userID.Valid {
			entry.UserID = &userID.Int64
		}
		if nextApproverID.Valid {
			entry.NextApproverID = &nextApproverID.Int64
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Verify interface compliance
var _ port.StatusRepository = (*StatusRepository)(nil)
