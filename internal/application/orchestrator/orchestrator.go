package orchestrator

import (
	"context"

	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/engine"
	"github.com/approvia/expense-workflow/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Orchestrator connects the event stream to the workflow engine: every
// submitted or resubmitted expense gets routed through its approval chain.
// Handler errors are logged and swallowed; the reconciliation sweep retries
// any expense left in WAITING_WORKFLOW.
type Orchestrator struct {
	engine engine.Engine
	logger Logger
}

// NewOrchestrator creates a new workflow orchestrator
func NewOrchestrator(eng engine.Engine, logger Logger) *Orchestrator {
	return &Orchestrator{engine: eng, logger: logger}
}

// Register subscribes the routing handlers on the dispatcher
func (o *Orchestrator) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeExpenseSubmitted, "route-submitted", o.handleRoute)
	d.SubscribeNamed(event.TypeExpenseResubmitted, "route-resubmitted", o.handleRoute)
}

func (o *Orchestrator) handleRoute(ctx context.Context, evt *event.Event) error {
	if err := o.engine.Route(ctx, evt.ExpenseID); err != nil {
		o.logger.Error("Routing failed, expense left for reconciliation",
			"expense_id", evt.ExpenseID,
			"event_type", evt.Type,
			"error", err,
		)
		return nil
	}
	return nil
}
