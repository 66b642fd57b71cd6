package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted   Type = "expense.submitted"
	TypeExpenseResubmitted Type = "expense.resubmitted"
	TypeExpenseDecided     Type = "expense.decided"
	TypeExpenseCancelled   Type = "expense.cancelled"
	TypeStatusChanged      Type = "expense.status_changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeExpenseResubmitted,
		TypeExpenseDecided,
		TypeExpenseCancelled,
		TypeStatusChanged:
		return true
	default:
		return false
	}
}
