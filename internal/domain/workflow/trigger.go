package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerSubmit      Trigger = "SUBMIT"
	TriggerRoute       Trigger = "ROUTE"
	TriggerAutoReject  Trigger = "AUTO_REJECT"
	TriggerAdvance     Trigger = "ADVANCE"
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerRequestInfo Trigger = "REQUEST_INFO"
	TriggerResubmit    Trigger = "RESUBMIT"
	TriggerCancel      Trigger = "CANCEL"
	TriggerSetDraft    Trigger = "SET_DRAFT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
