package entity

import "time"

// Capability names a permission checked through the ApproverDirectory.
// Grants live in a join table owned by the directory; the workflow core only
// ever asks the boolean and listing questions.
type Capability string

const (
	CapabilityApproveExpenses Capability = "approve-expenses"
	CapabilityManageRules     Capability = "manage-rules"
	CapabilityAdmin           Capability = "admin"
)

// User is a minimal projection of the account subsystem, carried for foreign
// keys and approver resolution.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	DepartmentID int64     `json:"department_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Department groups users and owns its approval rules.
type Department struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Category classifies expenses; CRUD lives outside the workflow core.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
