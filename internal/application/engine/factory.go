package engine

import (
	domainwf "github.com/approvia/expense-workflow/internal/domain/workflow"
)

// BuildExpenseStateMachine creates a state machine configured for the expense
// approval lifecycle, positioned at the given state.
func BuildExpenseStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateDraft).
		Permit(domainwf.TriggerSubmit, domainwf.StateWaitingWorkflow).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	builder.Configure(domainwf.StateWaitingWorkflow).
		Permit(domainwf.TriggerRoute, domainwf.StatePendingApproval).
		Permit(domainwf.TriggerAutoReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerSetDraft, domainwf.StateDraft)

	builder.Configure(domainwf.StatePendingApproval).
		Permit(domainwf.TriggerAdvance, domainwf.StatePendingApproval).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerRequestInfo, domainwf.StatePendingInfo).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerSetDraft, domainwf.StateDraft)

	builder.Configure(domainwf.StatePendingInfo).
		Permit(domainwf.TriggerResubmit, domainwf.StateWaitingWorkflow).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerSetDraft, domainwf.StateDraft)

	// APPROVED, REJECTED and CANCELLED are terminal - no outgoing transitions

	return builder.Build(initialState)
}
