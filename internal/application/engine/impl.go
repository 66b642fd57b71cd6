package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/approvia/expense-workflow/internal/application/approver"
	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/application/rules"
	"github.com/approvia/expense-workflow/internal/domain/entity"
	"github.com/approvia/expense-workflow/internal/domain/event"
	domainwf "github.com/approvia/expense-workflow/internal/domain/workflow"
)

// noRuleComment is the system-authored audit comment for an auto-reject.
const noRuleComment = "no approval rule configured for this amount and department"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	expenseRepo port.ExpenseRepository
	statusRepo  port.StatusRepository
	txManager   port.TransactionManager
	catalog     rules.Catalog
	resolver    approver.Resolver
	directory   port.ApproverDirectory
	dispatcher  dispatcher.Dispatcher
	logger      Logger
}

// NewEngine creates a new workflow engine
func NewEngine(
	expenseRepo port.ExpenseRepository,
	statusRepo port.StatusRepository,
	txManager port.TransactionManager,
	catalog rules.Catalog,
	resolver approver.Resolver,
	directory port.ApproverDirectory,
	disp dispatcher.Dispatcher,
	logger Logger,
) Engine {
	return &engineImpl{
		expenseRepo: expenseRepo,
		statusRepo:  statusRepo,
		txManager:   txManager,
		catalog:     catalog,
		resolver:    resolver,
		directory:   directory,
		dispatcher:  disp,
		logger:      logger,
	}
}

// Submit creates a new expense in DRAFT or WAITING_WORKFLOW
func (e *engineImpl) Submit(ctx context.Context, input SubmitInput, asDraft bool) (*entity.Expense, error) {
	if err := validateSubmitInput(input); err != nil {
		return nil, err
	}

	status := entity.StatusWaitingWorkflow
	if asDraft {
		status = entity.StatusDraft
	}

	expense := &entity.Expense{
		CategoryID:    input.CategoryID,
		DepartmentID:  input.DepartmentID,
		RequesterID:   input.RequesterID,
		AmountCents:   input.AmountCents,
		Currency:      strings.ToUpper(input.Currency),
		Title:         input.Title,
		Justification: input.Justification,
		Status:        status,
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.expenseRepo.Create(txCtx, expense); err != nil {
			return fmt.Errorf("create expense: %w", err)
		}
		return e.appendAudit(txCtx, expense.ID, status, &input.RequesterID, "", nil)
	})
	if err != nil {
		e.logger.Error("Failed to submit expense", "requester_id", input.RequesterID, "error", err)
		return nil, err
	}

	e.logger.Info("Expense submitted",
		"expense_id", expense.ID,
		"requester_id", input.RequesterID,
		"amount_cents", input.AmountCents,
		"status", status,
	)

	if !asDraft {
		e.publish(ctx, event.NewEvent(event.TypeExpenseSubmitted, expense.ID, map[string]interface{}{
			"department_id": expense.DepartmentID,
			"amount_cents":  expense.AmountCents,
		}))
	}

	return expense, nil
}

// Route selects the applicable rule and moves the expense into its chain
func (e *engineImpl) Route(ctx context.Context, expenseID int64) error {
	var routed *entity.Expense

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.Status != entity.StatusWaitingWorkflow {
			// Already routed, cancelled or pulled back; routing is idempotent.
			e.logger.Info("Skipping routing, expense not waiting",
				"expense_id", expenseID, "status", expense.Status)
			return nil
		}

		machine := BuildExpenseStateMachine(domainwf.State(expense.Status))

		rule, err := e.catalog.FindApplicable(txCtx, expense.DepartmentID, expense.AmountCents)
		if err != nil {
			return err
		}

		if rule == nil {
			if err := machine.Fire(txCtx, domainwf.TriggerAutoReject); err != nil {
				return err
			}
			state := entity.WorkflowState{Status: entity.StatusRejected}
			if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, entity.StatusWaitingWorkflow, nil, state); err != nil {
				return err
			}
			if err := e.appendAudit(txCtx, expenseID, entity.StatusRejected, nil, noRuleComment, nil); err != nil {
				return err
			}
			e.logger.Info("Expense auto-rejected, no applicable rule",
				"expense_id", expenseID,
				"department_id", expense.DepartmentID,
				"amount_cents", expense.AmountCents,
			)
			expense.Status = entity.StatusRejected
			routed = expense
			return nil
		}

		firstStep := rule.StepAt(1)
		if firstStep == nil {
			return fmt.Errorf("rule %d has no first step", rule.ID)
		}

		ref, err := e.resolver.ResolveStep(txCtx, firstStep)
		if err != nil {
			return err
		}

		if err := machine.Fire(txCtx, domainwf.TriggerRoute); err != nil {
			return err
		}

		stepOne := 1
		state := entity.WorkflowState{
			Status:           entity.StatusPendingApproval,
			RuleID:           &rule.ID,
			CurrentStep:      &stepOne,
			NextApproverType: &ref.Type,
			NextApproverID:   &ref.UserID,
		}
		if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, entity.StatusWaitingWorkflow, nil, state); err != nil {
			return err
		}
		if err := e.appendAudit(txCtx, expenseID, entity.StatusPendingApproval, nil, "", &ref.UserID); err != nil {
			return err
		}

		e.logger.Info("Expense routed",
			"expense_id", expenseID,
			"rule_id", rule.ID,
			"next_approver_id", ref.UserID,
			"next_approver_type", ref.Type,
		)
		expense.Status = entity.StatusPendingApproval
		expense.RuleID = state.RuleID
		expense.CurrentStep = state.CurrentStep
		expense.NextApproverType = state.NextApproverType
		expense.NextApproverID = state.NextApproverID
		routed = expense
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to route expense", "expense_id", expenseID, "error", err)
		return err
	}

	if routed != nil {
		e.publishStatusChanged(ctx, routed, "")
	}
	return nil
}

// Decide records an approval decision on a PENDING_APPROVAL expense
func (e *engineImpl) Decide(ctx context.Context, expenseID, deciderID int64, decision Decision, comment string) (*entity.Expense, error) {
	var decided *entity.Expense

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.Status != entity.StatusPendingApproval {
			return fmt.Errorf("%w: expense %d is %s", ErrStaleState, expenseID, expense.Status)
		}

		allowed, err := e.canApprove(txCtx, expense, deciderID)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: user %d is not the current approver of expense %d", ErrForbidden, deciderID, expenseID)
		}

		machine := BuildExpenseStateMachine(domainwf.State(expense.Status))

		var state entity.WorkflowState
		var nextApproverID *int64

		switch decision {
		case DecisionReject:
			if err := machine.Fire(txCtx, domainwf.TriggerReject); err != nil {
				return err
			}
			state = entity.WorkflowState{Status: entity.StatusRejected}

		case DecisionRequestInfo:
			if err := machine.Fire(txCtx, domainwf.TriggerRequestInfo); err != nil {
				return err
			}
			state = entity.WorkflowState{Status: entity.StatusPendingInfo}

		case DecisionApprove:
			state, nextApproverID, err = e.approveState(txCtx, machine, expense)
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
		}

		// Guarding on the step as well as the status serializes concurrent
		// decisions on the same step: a step advance leaves the status at
		// PENDING_APPROVAL, so the status alone cannot detect the race.
		if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, entity.StatusPendingApproval, expense.CurrentStep, state); err != nil {
			return err
		}
		if err := e.appendAudit(txCtx, expenseID, state.Status, &deciderID, comment, nextApproverID); err != nil {
			return err
		}

		e.logger.Info("Decision recorded",
			"expense_id", expenseID,
			"decider_id", deciderID,
			"decision", decision,
			"new_status", state.Status,
		)

		expense.Status = state.Status
		expense.RuleID = state.RuleID
		expense.CurrentStep = state.CurrentStep
		expense.NextApproverType = state.NextApproverType
		expense.NextApproverID = state.NextApproverID
		decided = expense
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to record decision",
			"expense_id", expenseID, "decider_id", deciderID, "decision", decision, "error", err)
		return nil, err
	}

	decidedEvt := event.NewEvent(event.TypeExpenseDecided, expenseID, map[string]interface{}{
		"decider_id": deciderID,
		"decision":   string(decision),
		"status":     string(decided.Status),
	})
	e.publish(ctx, decidedEvt)
	e.publishStatusChanged(ctx, decided, decidedEvt.CorrelationID)

	return decided, nil
}

// approveState computes the post-approval workflow state: advance to the next
// step with a freshly resolved approver, or finalize as APPROVED on the last
// step. A rule flagged CanBeSingleApproved with a one-step chain finalizes on
// that single approval.
func (e *engineImpl) approveState(ctx context.Context, machine domainwf.StateMachine, expense *entity.Expense) (entity.WorkflowState, *int64, error) {
	if expense.RuleID == nil || expense.CurrentStep == nil {
		return entity.WorkflowState{}, nil, fmt.Errorf("expense %d pending approval without rule state", expense.ID)
	}

	rule, err := e.catalog.Get(ctx, *expense.RuleID)
	if err != nil {
		return entity.WorkflowState{}, nil, err
	}

	last := rule.LastStep()
	current := *expense.CurrentStep

	if current >= last || (rule.CanBeSingleApproved && last == 1) {
		if err := machine.Fire(ctx, domainwf.TriggerApprove); err != nil {
			return entity.WorkflowState{}, nil, err
		}
		return entity.WorkflowState{Status: entity.StatusApproved}, nil, nil
	}

	next := current + 1
	step := rule.StepAt(next)
	if step == nil {
		return entity.WorkflowState{}, nil, fmt.Errorf("rule %d has no step %d", rule.ID, next)
	}

	ref, err := e.resolver.ResolveStep(ctx, step)
	if err != nil {
		return entity.WorkflowState{}, nil, err
	}

	if err := machine.Fire(ctx, domainwf.TriggerAdvance); err != nil {
		return entity.WorkflowState{}, nil, err
	}

	state := entity.WorkflowState{
		Status:           entity.StatusPendingApproval,
		RuleID:           expense.RuleID,
		CurrentStep:      &next,
		NextApproverType: &ref.Type,
		NextApproverID:   &ref.UserID,
	}
	return state, &ref.UserID, nil
}

// canApprove evaluates the authorization gate for a decision. True only for
// the resolved next approver, or for department steps any member of that
// department holding the approve capability.
func (e *engineImpl) canApprove(ctx context.Context, expense *entity.Expense, deciderID int64) (bool, error) {
	if expense.NextApproverID == nil || expense.NextApproverType == nil {
		return false, nil
	}
	if *expense.NextApproverID == deciderID {
		return true, nil
	}
	if *expense.NextApproverType != entity.ApproverDepartment {
		return false, nil
	}

	// Department step: the resolved user is a default pick, any eligible
	// approver of the step's department may decide. Eligibility means
	// department membership plus the capability, the same pool step
	// resolution draws from.
	if expense.RuleID == nil || expense.CurrentStep == nil {
		return false, nil
	}
	rule, err := e.catalog.Get(ctx, *expense.RuleID)
	if err != nil {
		return false, err
	}
	step := rule.StepAt(*expense.CurrentStep)
	if step == nil || step.ApprovingDepartmentID == nil {
		return false, nil
	}

	eligible, err := e.directory.UsersWithCapability(ctx, *step.ApprovingDepartmentID, entity.CapabilityApproveExpenses)
	if err != nil {
		return false, err
	}
	for _, userID := range eligible {
		if userID == deciderID {
			return true, nil
		}
	}
	return false, nil
}

// Cancel terminates a non-terminal expense on the requester's behalf
func (e *engineImpl) Cancel(ctx context.Context, expenseID, requesterID int64, comment string) (*entity.Expense, error) {
	var cancelled *entity.Expense

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.RequesterID != requesterID {
			return fmt.Errorf("%w: user %d is not the requester of expense %d", ErrForbidden, requesterID, expenseID)
		}
		if expense.IsTerminal() {
			return fmt.Errorf("%w: expense %d is %s", ErrStaleState, expenseID, expense.Status)
		}

		machine := BuildExpenseStateMachine(domainwf.State(expense.Status))
		if err := machine.Fire(txCtx, domainwf.TriggerCancel); err != nil {
			return err
		}

		state := entity.WorkflowState{Status: entity.StatusCancelled}
		if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, expense.Status, expense.CurrentStep, state); err != nil {
			return err
		}
		if err := e.appendAudit(txCtx, expenseID, entity.StatusCancelled, &requesterID, comment, nil); err != nil {
			return err
		}

		e.logger.Info("Expense cancelled", "expense_id", expenseID, "requester_id", requesterID)
		expense.Status = entity.StatusCancelled
		expense.RuleID = nil
		expense.CurrentStep = nil
		expense.NextApproverType = nil
		expense.NextApproverID = nil
		cancelled = expense
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to cancel expense", "expense_id", expenseID, "requester_id", requesterID, "error", err)
		return nil, err
	}

	e.publish(ctx, event.NewEvent(event.TypeExpenseCancelled, expenseID, map[string]interface{}{
		"requester_id": requesterID,
	}))

	return cancelled, nil
}

// Update edits requester-owned fields, optionally republishing the expense
func (e *engineImpl) Update(ctx context.Context, expenseID, requesterID int64, fields entity.ExpenseUpdate, republish bool, comment string) (*entity.Expense, error) {
	var updated *entity.Expense
	var republished bool

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.RequesterID != requesterID {
			return fmt.Errorf("%w: user %d is not the requester of expense %d", ErrForbidden, requesterID, expenseID)
		}
		if expense.Status != entity.StatusDraft && expense.Status != entity.StatusPendingInfo {
			return fmt.Errorf("%w: expense %d is %s", ErrStaleState, expenseID, expense.Status)
		}
		if expense.Status == entity.StatusPendingInfo && (fields.DepartmentID != nil || fields.CategoryID != nil) {
			return fmt.Errorf("%w: department and category are locked while additional info is pending", ErrFieldNotEditable)
		}

		if err := e.expenseRepo.UpdateFields(txCtx, expenseID, fields); err != nil {
			return err
		}

		if republish {
			machine := BuildExpenseStateMachine(domainwf.State(expense.Status))
			trigger := domainwf.TriggerSubmit
			if expense.Status == entity.StatusPendingInfo {
				trigger = domainwf.TriggerResubmit
			}
			if err := machine.Fire(txCtx, trigger); err != nil {
				return err
			}

			state := entity.WorkflowState{Status: entity.StatusWaitingWorkflow}
			if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, expense.Status, expense.CurrentStep, state); err != nil {
				return err
			}
			if err := e.appendAudit(txCtx, expenseID, entity.StatusWaitingWorkflow, &requesterID, comment, nil); err != nil {
				return err
			}
			republished = true
		}

		fresh, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		updated = fresh
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to update expense", "expense_id", expenseID, "requester_id", requesterID, "error", err)
		return nil, err
	}

	e.logger.Info("Expense updated", "expense_id", expenseID, "republished", republished)

	if republished {
		e.publish(ctx, event.NewEvent(event.TypeExpenseResubmitted, expenseID, map[string]interface{}{
			"requester_id": requesterID,
		}))
	}

	return updated, nil
}

// SetDraft administratively pulls a non-terminal expense back to DRAFT
func (e *engineImpl) SetDraft(ctx context.Context, expenseID, actorID int64) (*entity.Expense, error) {
	isAdmin, err := e.directory.HasCapability(ctx, actorID, entity.CapabilityAdmin, nil)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, fmt.Errorf("%w: user %d lacks admin capability", ErrForbidden, actorID)
	}

	var reset *entity.Expense

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.expenseRepo.GetByID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.IsTerminal() {
			return fmt.Errorf("%w: expense %d is %s", ErrStaleState, expenseID, expense.Status)
		}
		if expense.Status == entity.StatusDraft {
			reset = expense
			return nil
		}

		machine := BuildExpenseStateMachine(domainwf.State(expense.Status))
		if err := machine.Fire(txCtx, domainwf.TriggerSetDraft); err != nil {
			return err
		}

		state := entity.WorkflowState{Status: entity.StatusDraft}
		if err := e.expenseRepo.UpdateWorkflowState(txCtx, expenseID, expense.Status, expense.CurrentStep, state); err != nil {
			return err
		}
		if err := e.appendAudit(txCtx, expenseID, entity.StatusDraft, &actorID, "", nil); err != nil {
			return err
		}

		e.logger.Info("Expense set as draft", "expense_id", expenseID, "actor_id", actorID)
		expense.Status = entity.StatusDraft
		expense.RuleID = nil
		expense.CurrentStep = nil
		expense.NextApproverType = nil
		expense.NextApproverID = nil
		reset = expense
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to set expense as draft", "expense_id", expenseID, "actor_id", actorID, "error", err)
		return nil, err
	}

	return reset, nil
}

// Get returns the expense by ID
func (e *engineImpl) Get(ctx context.Context, expenseID int64) (*entity.Expense, error) {
	expense, err := e.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, ErrNotFound
	}
	return expense, nil
}

// History returns the audit trail for an expense, oldest first
func (e *engineImpl) History(ctx context.Context, expenseID int64) ([]*entity.ExpenseStatus, error) {
	expense, err := e.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, ErrNotFound
	}
	return e.statusRepo.ListByExpenseID(ctx, expenseID)
}

// appendAudit writes one audit trail entry inside the caller's transaction
func (e *engineImpl) appendAudit(ctx context.Context, expenseID int64, status entity.ExpenseStatusValue, userID *int64, comment string, nextApproverID *int64) error {
	entry := &entity.ExpenseStatus{
		ExpenseID:      expenseID,
		Status:         status,
		UserID:         userID,
		Comment:        comment,
		NextApproverID: nextApproverID,
	}
	if err := e.statusRepo.Create(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// publish hands an event to the dispatcher; a full queue is only logged since
// the reconciliation sweep recovers unrouted expenses
func (e *engineImpl) publish(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Publish(ctx, evt); err != nil {
		e.logger.Error("Failed to publish event", "event_type", evt.Type, "expense_id", evt.ExpenseID, "error", err)
	}
}

// publishStatusChanged emits the status notification for a transition. A
// non-empty correlationID chains it to the event that caused the transition.
func (e *engineImpl) publishStatusChanged(ctx context.Context, expense *entity.Expense, correlationID string) {
	payload := map[string]interface{}{
		"status": string(expense.Status),
	}
	if expense.NextApproverID != nil {
		payload["next_approver_id"] = *expense.NextApproverID
	}
	if correlationID != "" {
		e.publish(ctx, event.NewEventWithCorrelation(event.TypeStatusChanged, expense.ID, payload, correlationID))
		return
	}
	e.publish(ctx, event.NewEvent(event.TypeStatusChanged, expense.ID, payload))
}

// validateSubmitInput rejects malformed submissions before any persistence
func validateSubmitInput(input SubmitInput) error {
	if input.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if input.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.RequesterID == 0 {
		return fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	if input.DepartmentID == 0 {
		return fmt.Errorf("%w: department is required", ErrInvalidInput)
	}
	if input.CategoryID == 0 {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if len(input.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	return nil
}
