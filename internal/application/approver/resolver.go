package approver

import (
	"context"
	"errors"
	"fmt"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// ErrNoEligibleApprover is returned when a department step resolves to zero
// capability holders. This is a data-integrity condition: the step was
// created while the department had approvers who have since lost the
// capability. It must reach an administrator, never be skipped.
var ErrNoEligibleApprover = errors.New("no eligible approver for department step")

// ErrStepMisconfigured is returned when a step names neither approver kind.
var ErrStepMisconfigured = errors.New("rule step names neither user nor department")

// Resolver turns a rule step into a concrete decision-maker.
type Resolver interface {
	// ResolveStep resolves the step to an approver reference. Department
	// steps pick the capability holder with the lowest user ID; the stable
	// order keeps routing deterministic. Smarter selection (round-robin,
	// load-aware) would slot in here.
	ResolveStep(ctx context.Context, step *entity.RuleStep) (*entity.ApproverRef, error)
}

type resolverImpl struct {
	directory port.ApproverDirectory
}

// NewResolver creates a new approver resolver
func NewResolver(directory port.ApproverDirectory) Resolver {
	return &resolverImpl{directory: directory}
}

// ResolveStep resolves a rule step to a concrete user
func (r *resolverImpl) ResolveStep(ctx context.Context, step *entity.RuleStep) (*entity.ApproverRef, error) {
	if step.ApprovingUserID != nil {
		return &entity.ApproverRef{
			Type:   entity.ApproverUser,
			UserID: *step.ApprovingUserID,
		}, nil
	}

	if step.ApprovingDepartmentID == nil {
		return nil, fmt.Errorf("%w: rule %d step %d", ErrStepMisconfigured, step.RuleID, step.Step)
	}

	deptID := *step.ApprovingDepartmentID
	userIDs, err := r.directory.UsersWithCapability(ctx, deptID, entity.CapabilityApproveExpenses)
	if err != nil {
		return nil, fmt.Errorf("list capability holders for department %d: %w", deptID, err)
	}
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: department %d, rule %d step %d", ErrNoEligibleApprover, deptID, step.RuleID, step.Step)
	}

	return &entity.ApproverRef{
		Type:         entity.ApproverDepartment,
		UserID:       userIDs[0],
		DepartmentID: &deptID,
	}, nil
}
