package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Catalog owns rule definitions per department: validated create/edit/delete
// and applicable-rule lookup for workflow routing.
type Catalog interface {
	Create(ctx context.Context, rule *entity.Rule) error
	Update(ctx context.Context, rule *entity.Rule) error
	Delete(ctx context.Context, ruleID int64) error
	Get(ctx context.Context, ruleID int64) (*entity.Rule, error)
	ListByDepartment(ctx context.Context, departmentID int64) ([]*entity.Rule, error)

	// FindApplicable returns the single rule of the department covering the
	// amount, or nil when no rule matches ("no route"). More than one match
	// is an invariant violation reported as ErrAmbiguousRules.
	FindApplicable(ctx context.Context, departmentID int64, amountCents int64) (*entity.Rule, error)
}

type catalogImpl struct {
	ruleRepo  port.RuleRepository
	directory port.ApproverDirectory
	txManager port.TransactionManager
	logger    Logger
}

// NewCatalog creates a new rule catalog
func NewCatalog(
	ruleRepo port.RuleRepository,
	directory port.ApproverDirectory,
	txManager port.TransactionManager,
	logger Logger,
) Catalog {
	return &catalogImpl{
		ruleRepo:  ruleRepo,
		directory: directory,
		txManager: txManager,
		logger:    logger,
	}
}

// Create validates and atomically persists a rule with its steps. Validation
// runs inside the same transaction as the insert so the overlap check and the
// write see one consistent view of the department's rules; two concurrent
// creations of intersecting ranges cannot both pass.
func (c *catalogImpl) Create(ctx context.Context, rule *entity.Rule) error {
	err := c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := c.validate(txCtx, rule); err != nil {
			return err
		}
		return c.ruleRepo.Create(txCtx, rule)
	})
	if err != nil {
		c.logger.Error("Failed to create rule", "department_id", rule.DepartmentID, "error", err)
		return err
	}

	c.logger.Info("Rule created",
		"rule_id", rule.ID,
		"department_id", rule.DepartmentID,
		"min_cents", rule.MinCents,
		"max_cents", rule.MaxCents,
		"steps", len(rule.Steps),
	)
	return nil
}

// Update validates and atomically replaces the rule row and its step set.
// The existence check and the validation share the replace transaction.
func (c *catalogImpl) Update(ctx context.Context, rule *entity.Rule) error {
	err := c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := c.ruleRepo.GetByID(txCtx, rule.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrRuleNotFound
		}
		if err := c.validate(txCtx, rule); err != nil {
			return err
		}
		return c.ruleRepo.Update(txCtx, rule)
	})
	if err != nil {
		c.logger.Error("Failed to update rule", "rule_id", rule.ID, "error", err)
		return err
	}

	c.logger.Info("Rule updated", "rule_id", rule.ID, "steps", len(rule.Steps))
	return nil
}

// Delete removes a rule and its steps
func (c *catalogImpl) Delete(ctx context.Context, ruleID int64) error {
	existing, err := c.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrRuleNotFound
	}

	err = c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return c.ruleRepo.Delete(txCtx, ruleID)
	})
	if err != nil {
		c.logger.Error("Failed to delete rule", "rule_id", ruleID, "error", err)
		return err
	}

	c.logger.Info("Rule deleted", "rule_id", ruleID)
	return nil
}

// Get retrieves a rule with its steps
func (c *catalogImpl) Get(ctx context.Context, ruleID int64) (*entity.Rule, error) {
	rule, err := c.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListByDepartment returns all rules of a department
func (c *catalogImpl) ListByDepartment(ctx context.Context, departmentID int64) ([]*entity.Rule, error) {
	return c.ruleRepo.ListByDepartment(ctx, departmentID)
}

// FindApplicable finds the rule routing an amount for a department
func (c *catalogImpl) FindApplicable(ctx context.Context, departmentID int64, amountCents int64) (*entity.Rule, error) {
	matches, err := c.ruleRepo.FindApplicable(ctx, departmentID, amountCents)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		c.logger.Error("Overlapping rules found for amount",
			"department_id", departmentID,
			"amount_cents", amountCents,
			"matches", len(matches),
		)
		return nil, fmt.Errorf("%w: department %d, amount %d", ErrAmbiguousRules, departmentID, amountCents)
	}
}

// validate enforces every rule invariant before anything is persisted:
// positive half-open range, no overlap with department siblings, contiguous
// steps with exclusive approver references, no approver named twice, and
// named users actually holding the approve capability.
func (c *catalogImpl) validate(ctx context.Context, rule *entity.Rule) error {
	if rule.MinCents >= rule.MaxCents {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, rule.MinCents, rule.MaxCents)
	}
	if len(rule.Steps) == 0 {
		return ErrNoSteps
	}

	siblings, err := c.ruleRepo.ListByDepartment(ctx, rule.DepartmentID)
	if err != nil {
		return fmt.Errorf("list department rules: %w", err)
	}
	for _, other := range siblings {
		if other.ID == rule.ID {
			continue
		}
		if rule.Overlaps(other) {
			return fmt.Errorf("%w: [%d, %d) intersects rule %d [%d, %d)",
				ErrRangeConflict, rule.MinCents, rule.MaxCents, other.ID, other.MinCents, other.MaxCents)
		}
	}

	if err := validateSteps(rule.Steps); err != nil {
		return err
	}

	for _, step := range rule.Steps {
		if step.ApprovingUserID == nil {
			continue
		}
		ok, err := c.directory.HasCapability(ctx, *step.ApprovingUserID, entity.CapabilityApproveExpenses, &rule.DepartmentID)
		if err != nil {
			return fmt.Errorf("check approver capability: %w", err)
		}
		if !ok {
			return &PermissionMismatchError{UserID: *step.ApprovingUserID, DepartmentID: rule.DepartmentID}
		}
	}

	return nil
}

// validateSteps checks structure of the step chain independent of storage
func validateSteps(steps []entity.RuleStep) error {
	ordinals := make([]int, 0, len(steps))
	seenUsers := make(map[int64]bool)
	seenDepartments := make(map[int64]bool)

	for _, step := range steps {
		hasUser := step.ApprovingUserID != nil
		hasDept := step.ApprovingDepartmentID != nil
		if hasUser == hasDept {
			return fmt.Errorf("%w: step %d", ErrStepApproverUnset, step.Step)
		}

		if hasUser {
			if seenUsers[*step.ApprovingUserID] {
				return fmt.Errorf("%w: user %d", ErrDuplicateApprover, *step.ApprovingUserID)
			}
			seenUsers[*step.ApprovingUserID] = true
		} else {
			if seenDepartments[*step.ApprovingDepartmentID] {
				return fmt.Errorf("%w: department %d", ErrDuplicateApprover, *step.ApprovingDepartmentID)
			}
			seenDepartments[*step.ApprovingDepartmentID] = true
		}

		ordinals = append(ordinals, step.Step)
	}

	sort.Ints(ordinals)
	for i, ord := range ordinals {
		if ord != i+1 {
			return fmt.Errorf("%w: got ordinals %v", ErrStepsNotContiguous, ordinals)
		}
	}

	return nil
}
