package port

import (
	"context"

	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// ApproverDirectory answers capability questions about users. It is the only
// window the workflow core has into the permission subsystem; how grants are
// stored is the directory's own business.
type ApproverDirectory interface {
	// HasCapability reports whether the user holds the capability, optionally
	// scoped to a department. A global grant satisfies any scope.
	HasCapability(ctx context.Context, userID int64, capability entity.Capability, scopeDepartmentID *int64) (bool, error)

	// UsersWithCapability returns the IDs of users in the department holding
	// the capability, ascending. Order stability matters: the resolver picks
	// the first entry.
	UsersWithCapability(ctx context.Context, departmentID int64, capability entity.Capability) ([]int64, error)
}
