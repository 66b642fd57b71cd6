package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/engine"
	"github.com/approvia/expense-workflow/internal/domain/entity"
	"github.com/approvia/expense-workflow/internal/domain/event"
)

// routeRecorder implements engine.Engine for the routing paths only.
type routeRecorder struct {
	routed   []int64
	routeErr error
}

func (r *routeRecorder) Submit(context.Context, engine.SubmitInput, bool) (*entity.Expense, error) {
	return nil, nil
}

func (r *routeRecorder) Route(_ context.Context, expenseID int64) error {
	r.routed = append(r.routed, expenseID)
	return r.routeErr
}

func (r *routeRecorder) Decide(context.Context, int64, int64, engine.Decision, string) (*entity.Expense, error) {
	return nil, nil
}

func (r *routeRecorder) Cancel(context.Context, int64, int64, string) (*entity.Expense, error) {
	return nil, nil
}

func (r *routeRecorder) Update(context.Context, int64, int64, entity.ExpenseUpdate, bool, string) (*entity.Expense, error) {
	return nil, nil
}

func (r *routeRecorder) SetDraft(context.Context, int64, int64) (*entity.Expense, error) {
	return nil, nil
}

func (r *routeRecorder) Get(context.Context, int64) (*entity.Expense, error) { return nil, nil }

func (r *routeRecorder) History(context.Context, int64) ([]*entity.ExpenseStatus, error) {
	return nil, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func TestOrchestrator_RoutesSubmittedAndResubmitted(t *testing.T) {
	rec := &routeRecorder{}
	d := dispatcher.NewDispatcher()
	defer d.Close()

	NewOrchestrator(rec, nopLogger{}).Register(d)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeExpenseSubmitted, 11, nil)))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeExpenseResubmitted, 12, nil)))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeExpenseCancelled, 13, nil)))

	assert.Equal(t, []int64{11, 12}, rec.routed)
}

func TestOrchestrator_SwallowsRoutingErrors(t *testing.T) {
	rec := &routeRecorder{routeErr: errors.New("db down")}
	d := dispatcher.NewDispatcher()
	defer d.Close()

	NewOrchestrator(rec, nopLogger{}).Register(d)

	err := d.Dispatch(context.Background(), event.NewEvent(event.TypeExpenseSubmitted, 11, nil))
	assert.NoError(t, err, "routing failure must not fail the event")
	assert.Equal(t, []int64{11}, rec.routed)
}
