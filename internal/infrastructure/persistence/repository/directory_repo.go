package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// DirectoryRepository implements port.ApproverDirectory over the
// user_capabilities join table. A grant row with a NULL department scopes the
// capability globally; a row naming a department scopes it to that department.
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new approver directory. The concrete type
// is returned because Grant and Revoke sit outside the port interface.
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// HasCapability reports whether the user holds the capability within the
// scope. A nil scope accepts any grant; a department scope accepts a grant
// for that department or a global one.
func (r *DirectoryRepository) HasCapability(ctx context.Context, userID int64, capability entity.Capability, scopeDepartmentID *int64) (bool, error) {
	var query string
	var args []interface{}

	if scopeDepartmentID == nil {
		query = `
			SELECT COUNT(1) FROM user_capabilities
			WHERE user_id = ? AND capability = ?
		`
		args = []interface{}{userID, string(capability)}
	} else {
		query = `
			SELECT COUNT(1) FROM user_capabilities
			WHERE user_id = ? AND capability = ?
			AND (department_id = ? OR department_id IS NULL)
		`
		args = []interface{}{userID, string(capability), *scopeDepartmentID}
	}

	var count int
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to check capability",
			zap.Int64("user_id", userID),
			zap.String("capability", string(capability)),
			zap.Error(err))
		return false, fmt.Errorf("failed to check capability: %w", err)
	}

	return count > 0, nil
}

// UsersWithCapability lists members of the department holding the capability
// there (directly or via a global grant), ascending by user ID. The stable
// order keeps department-step approver resolution deterministic.
func (r *DirectoryRepository) UsersWithCapability(ctx context.Context, departmentID int64, capability entity.Capability) ([]int64, error) {
	query := `
		SELECT DISTINCT u.id
		FROM users u
		JOIN user_capabilities uc ON uc.user_id = u.id
		WHERE u.department_id = ?
		AND uc.capability = ?
		AND (uc.department_id = ? OR uc.department_id IS NULL)
		ORDER BY u.id
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, departmentID, string(capability), departmentID)
	if err != nil {
		r.logger.Error("Failed to list capability holders",
			zap.Int64("department_id", departmentID),
			zap.String("capability", string(capability)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list capability holders: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

// Grant records a capability for a user, optionally scoped to a department
func (r *DirectoryRepository) Grant(ctx context.Context, userID int64, capability entity.Capability, departmentID *int64) error {
	query := `
		INSERT OR IGNORE INTO user_capabilities (user_id, capability, department_id)
		VALUES (?, ?, ?)
	`

	var deptID sql.NullInt64
	if departmentID != nil {
		deptID = sql.NullInt64{Int64: *departmentID, Valid: true}
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, userID, string(capability), deptID)
	if err != nil {
		r.logger.Error("Failed to grant capability",
			zap.Int64("user_id", userID),
			zap.String("capability", string(capability)),
			zap.Error(err))
		return fmt.Errorf("failed to grant capability: %w", err)
	}

	return nil
}

// Revoke removes a capability grant
func (r *DirectoryRepository) Revoke(ctx context.Context, userID int64, capability entity.Capability, departmentID *int64) error {
	var query string
	var args []interface{}

	if departmentID == nil {
		query = `DELETE FROM user_capabilities WHERE user_id = ? AND capability = ? AND department_id IS NULL`
		args = []interface{}{userID, string(capability)}
	} else {
		query = `DELETE FROM user_capabilities WHERE user_id = ? AND capability = ? AND department_id = ?`
		args = []interface{}{userID, string(capability), *departmentID}
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to revoke capability",
			zap.Int64("user_id", userID),
			zap.String("capability", string(capability)),
			zap.Error(err))
		return fmt.Errorf("failed to revoke capability: %w", err)
	}

	return nil
}

// Verify interface compliance
var _ port.ApproverDirectory = (*DirectoryRepository)(nil)
