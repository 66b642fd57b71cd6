package workflow

// State represents a workflow state in the expense approval lifecycle
type State string

const (
	StateDraft           State = "DRAFT"
	StateWaitingWorkflow State = "WAITING_WORKFLOW"
	StatePendingApproval State = "PENDING_APPROVAL"
	StatePendingInfo     State = "PENDING_ADDITIONAL_INFO"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
	StateCancelled       State = "CANCELLED"
)

var validStates = map[State]bool{
	StateDraft:           true,
	StateWaitingWorkflow: true,
	StatePendingApproval: true,
	StatePendingInfo:     true,
	StateApproved:        true,
	StateRejected:        true,
	StateCancelled:       true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal returns true if the state admits no further transitions
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
