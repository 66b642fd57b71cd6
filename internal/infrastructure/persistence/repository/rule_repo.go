package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// RuleRepository implements port.RuleRepository. Rules and their steps are
// written together; callers run mutations inside a transaction so readers
// never observe a rule with a partial step set.
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) port.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a rule with its steps
func (r *RuleRepository) Create(ctx context.Context, rule *entity.Rule) error {
	query := `
		INSERT INTO rules (department_id, min_cents, max_cents, can_be_single_approved)
		VALUES (?, ?, ?, ?)
	`

	exec := getExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		rule.DepartmentID,
		rule.MinCents,
		rule.MaxCents,
		rule.CanBeSingleApproved,
	)
	if err != nil {
		r.logger.Error("Failed to create rule",
			zap.Int64("department_id", rule.DepartmentID),
			zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rule.ID = id

	if err := r.insertSteps(ctx, exec, rule); err != nil {
		return err
	}

	return nil
}

// GetByID retrieves a rule with its full step set, nil when absent
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*entity.Rule, error) {
	query := `
		SELECT id, department_id, min_cents, max_cents, can_be_single_approved, created_at, updated_at
		FROM rules
		WHERE id = ?
	`

	rule, err := scanRule(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get rule by ID",
			zap.Int64("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := r.loadSteps(ctx, []*entity.Rule{rule}); err != nil {
		return nil, err
	}

	return rule, nil
}

// ListByDepartment returns every rule of a department with steps, ordered by range
func (r *RuleRepository) ListByDepartment(ctx context.Context, departmentID int64) ([]*entity.Rule, error) {
	query := `
		SELECT id, department_id, min_cents, max_cents, can_be_single_approved, created_at, updated_at
		FROM rules
		WHERE department_id = ?
		ORDER BY min_cents
	`

	rules, err := r.queryRules(ctx, query, departmentID)
	if err != nil {
		r.logger.Error("Failed to list rules by department",
			zap.Int64("department_id", departmentID),
			zap.Error(err))
		return nil, err
	}

	if err := r.loadSteps(ctx, rules); err != nil {
		return nil, err
	}

	return rules, nil
}

// FindApplicable returns every rule of the department covering the amount,
// matching the half-open range convention min <= amount < max
func (r *RuleRepository) FindApplicable(ctx context.Context, departmentID int64, amountCents int64) ([]*entity.Rule, error) {
	query := `
		SELECT id, department_id, min_cents, max_cents, can_be_single_approved, created_at, updated_at
		FROM rules
		WHERE department_id = ? AND min_cents <= ? AND ? < max_cents
		ORDER BY min_cents
	`

	rules, err := r.queryRules(ctx, query, departmentID, amountCents, amountCents)
	if err != nil {
		r.logger.Error("Failed to find applicable rules",
			zap.Int64("department_id", departmentID),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err))
		return nil, err
	}

	if err := r.loadSteps(ctx, rules); err != nil {
		return nil, err
	}

	return rules, nil
}

// Update rewrites the rule row and replaces its step set
func (r *RuleRepository) Update(ctx context.Context, rule *entity.Rule) error {
	query := `
		UPDATE rules
		SET department_id = ?, min_cents = ?, max_cents = ?,
			can_be_single_approved = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	exec := getExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, query,
		rule.DepartmentID,
		rule.MinCents,
		rule.MaxCents,
		rule.CanBeSingleApproved,
		rule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update rule",
			zap.Int64("id", rule.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if _, err := exec.ExecContext(ctx, `DELETE FROM rule_steps WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule steps: %w", err)
	}

	return r.insertSteps(ctx, exec, rule)
}

// Delete removes the rule; rule_steps go with it via ON DELETE CASCADE
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	_, err := getExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete rule",
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) insertSteps(ctx context.Context, exec executor, rule *entity.Rule) error {
	query := `
		INSERT INTO rule_steps (rule_id, step, approving_department_id, approving_user_id)
		VALUES (?, ?, ?, ?)
	`

	for i := range rule.Steps {
		step := &rule.Steps[i]

		var deptID, userID sql.NullInt64
		if step.ApprovingDepartmentID != nil {
			deptID = sql.NullInt64{Int64: *step.ApprovingDepartmentID, Valid: true}
		}
		if step.ApprovingUserID != nil {
			userID = sql.NullInt64{Int64: *step.ApprovingUserID, Valid: true}
		}

		result, err := exec.ExecContext(ctx, query, rule.ID, step.Step, deptID, userID)
		if err != nil {
			r.logger.Error("Failed to insert rule step",
				zap.Int64("rule_id", rule.ID),
				zap.Int("step", step.Step),
				zap.Error(err))
			return fmt.Errorf("failed to insert rule step: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		step.ID = id
		step.RuleID = rule.ID
	}

	return nil
}

// loadSteps attaches the full step set to each rule in one query
func (r *RuleRepository) loadSteps(ctx context.Context, rules []*entity.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[int64]*entity.Rule, len(rules))
	placeholders := ""
	args := make([]interface{}, 0, len(rules))
	for i, rule := range rules {
		byID[rule.ID] = rule
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, rule.ID)
	}

	query := `
		SELECT id, rule_id, step, approving_department_id, approving_user_id
		FROM rule_steps
		WHERE rule_id IN (` + placeholders + `)
		ORDER BY rule_id, step
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load rule steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step entity.RuleStep
		var deptID, userID sql.NullInt64

		if err := rows.Scan(&step.ID, &step.RuleID, &step.Step, &deptID, &userID); err != nil {
			return fmt.Errorf("failed to scan rule step: %w", err)
		}
		if deptID.Valid {
			step.ApprovingDepartmentID = &deptID.Int64
		}
		if userID.Valid {
			step.ApprovingUserID = &userID.Int64
		}

		if rule, ok := byID[step.RuleID]; ok {
			rule.Steps = append(rule.Steps, step)
		}
	}

	return rows.Err()
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*entity.Rule, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func scanRule(row rowScanner) (*entity.Rule, error) {
	var rule entity.Rule
	err := row.Scan(
		&rule.ID,
		&rule.DepartmentID,
		&rule.MinCents,
		&rule.MaxCents,
		&rule.CanBeSingleApproved,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Verify interface compliance
var _ port.RuleRepository = (*RuleRepository)(nil)
