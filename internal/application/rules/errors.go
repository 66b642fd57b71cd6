package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when a rule's minimum is not below its maximum
	ErrInvalidRange = errors.New("rule minimum must be below maximum")

	// ErrRangeConflict is returned when a rule's amount range intersects a
	// sibling rule of the same department
	ErrRangeConflict = errors.New("rule range conflicts with an existing rule")

	// ErrDuplicateApprover is returned when the same user or department
	// appears in more than one step of a rule
	ErrDuplicateApprover = errors.New("duplicate approver in rule steps")

	// ErrStepsNotContiguous is returned when step ordinals are not 1..N
	ErrStepsNotContiguous = errors.New("rule steps must be contiguous starting at 1")

	// ErrStepApproverUnset is returned when a step names neither a user nor a
	// department, or both
	ErrStepApproverUnset = errors.New("rule step must name exactly one of user or department")

	// ErrNoSteps is returned when a rule has an empty approver chain
	ErrNoSteps = errors.New("rule must have at least one step")

	// ErrAmbiguousRules is returned when more than one rule covers an amount,
	// which means the non-overlap invariant has been violated in storage
	ErrAmbiguousRules = errors.New("multiple rules match amount: range invariant violated")

	// ErrRuleNotFound is returned when the referenced rule does not exist
	ErrRuleNotFound = errors.New("rule not found")
)

// PermissionMismatchError reports a step naming a user who does not hold the
// approve capability for the rule's department.
type PermissionMismatchError struct {
	UserID       int64
	DepartmentID int64
}

func (e *PermissionMismatchError) Error() string {
	return fmt.Sprintf("user %d lacks approve capability for department %d", e.UserID, e.DepartmentID)
}
