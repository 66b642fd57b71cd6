package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/expense-workflow/internal/application/approver"
	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/application/rules"
	"github.com/approvia/expense-workflow/internal/domain/entity"
	"github.com/approvia/expense-workflow/internal/domain/event"
)

// ---- fakes ----

type fakeExpenseRepo struct {
	mu       sync.Mutex
	nextID   int64
	expenses map[int64]*entity.Expense

	// readView, when set, is served by GetByID instead of the stored row.
	// It models the isolated snapshot a concurrent transaction reads while
	// the store has already moved on.
	readView *entity.Expense
}

func newFakeExpenseRepo() *fakeExpenseRepo {
	return &fakeExpenseRepo{expenses: make(map[int64]*entity.Expense)}
}

func (r *fakeExpenseRepo) Create(_ context.Context, expense *entity.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	expense.ID = r.nextID
	expense.CreatedAt = time.Now()
	expense.UpdatedAt = expense.CreatedAt
	cp := *expense
	r.expenses[expense.ID] = &cp
	return nil
}

func (r *fakeExpenseRepo) GetByID(_ context.Context, id int64) (*entity.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readView != nil && r.readView.ID == id {
		cp := *r.readView
		return &cp, nil
	}
	e, ok := r.expenses[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *fakeExpenseRepo) UpdateFields(_ context.Context, id int64, update entity.ExpenseUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.expenses[id]
	if update.CategoryID != nil {
		e.CategoryID = *update.CategoryID
	}
	if update.DepartmentID != nil {
		e.DepartmentID = *update.DepartmentID
	}
	if update.AmountCents != nil {
		e.AmountCents = *update.AmountCents
	}
	if update.Currency != nil {
		e.Currency = *update.Currency
	}
	if update.Title != nil {
		e.Title = *update.Title
	}
	if update.Justification != nil {
		e.Justification = *update.Justification
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (r *fakeExpenseRepo) UpdateWorkflowState(_ context.Context, id int64, fromStatus entity.ExpenseStatusValue, fromStep *int, to entity.WorkflowState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok || e.Status != fromStatus || !stepsEqual(e.CurrentStep, fromStep) {
		return port.ErrStaleState
	}
	e.Status = to.Status
	e.RuleID = to.RuleID
	e.CurrentStep = to.CurrentStep
	e.NextApproverType = to.NextApproverType
	e.NextApproverID = to.NextApproverID
	e.UpdatedAt = time.Now()
	return nil
}

func stepsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *fakeExpenseRepo) ListByStatusOlderThan(_ context.Context, status entity.ExpenseStatusValue, cutoff time.Time, limit int) ([]*entity.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Expense
	for _, e := range r.expenses {
		if e.Status == status && e.UpdatedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type fakeStatusRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*entity.ExpenseStatus
}

func (r *fakeStatusRepo) Create(_ context.Context, status *entity.ExpenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	status.ID = r.nextID
	status.CreatedAt = time.Now()
	cp := *status
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeStatusRepo) ListByExpenseID(_ context.Context, expenseID int64) ([]*entity.ExpenseStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ExpenseStatus
	for _, e := range r.entries {
		if e.ExpenseID == expenseID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// stubCatalog serves rules from memory; FindApplicable matches half-open ranges.
type stubCatalog struct {
	rules map[int64]*entity.Rule
}

func (c *stubCatalog) Create(context.Context, *entity.Rule) error { return nil }
func (c *stubCatalog) Update(context.Context, *entity.Rule) error { return nil }
func (c *stubCatalog) Delete(context.Context, int64) error        { return nil }

func (c *stubCatalog) Get(_ context.Context, ruleID int64) (*entity.Rule, error) {
	rule, ok := c.rules[ruleID]
	if !ok {
		return nil, rules.ErrRuleNotFound
	}
	return rule, nil
}

func (c *stubCatalog) ListByDepartment(_ context.Context, departmentID int64) ([]*entity.Rule, error) {
	var out []*entity.Rule
	for _, r := range c.rules {
		if r.DepartmentID == departmentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *stubCatalog) FindApplicable(_ context.Context, departmentID int64, amountCents int64) (*entity.Rule, error) {
	for _, r := range c.rules {
		if r.DepartmentID == departmentID && r.Matches(amountCents) {
			return r, nil
		}
	}
	return nil, nil
}

// fakeDirectory grants capabilities from a static table. A nil scope in the
// grant means a global grant. holders lists department members with the
// capability; outsiders lists users granted the capability for a department
// they are not a member of, which HasCapability honors but
// UsersWithCapability does not, mirroring the real directory queries.
type fakeDirectory struct {
	// capability-holding members per department
	holders map[int64][]int64
	// capability holders outside the department
	outsiders map[int64][]int64
	// global admin user IDs
	admins map[int64]bool
}

func (d *fakeDirectory) HasCapability(_ context.Context, userID int64, capability entity.Capability, scopeDepartmentID *int64) (bool, error) {
	if capability == entity.CapabilityAdmin {
		return d.admins[userID], nil
	}
	if scopeDepartmentID == nil {
		for _, ids := range d.holders {
			for _, id := range ids {
				if id == userID {
					return true, nil
				}
			}
		}
		for _, ids := range d.outsiders {
			for _, id := range ids {
				if id == userID {
					return true, nil
				}
			}
		}
		return false, nil
	}
	for _, id := range d.holders[*scopeDepartmentID] {
		if id == userID {
			return true, nil
		}
	}
	for _, id := range d.outsiders[*scopeDepartmentID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) UsersWithCapability(_ context.Context, departmentID int64, _ entity.Capability) ([]int64, error) {
	return d.holders[departmentID], nil
}

type passTxManager struct{}

func (passTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingDispatcher captures published events synchronously.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(event.Type, dispatcher.Handler)                {}
func (d *recordingDispatcher) SubscribeNamed(event.Type, string, dispatcher.Handler)   {}
func (d *recordingDispatcher) Unsubscribe(event.Type, string)                          {}
func (d *recordingDispatcher) ListHandlers(event.Type) []dispatcher.HandlerInfo        { return nil }

func (d *recordingDispatcher) Publish(_ context.Context, evt *event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
	return nil
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evt *event.Event) error {
	return d.Publish(context.Background(), evt)
}

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) typesSeen() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// ---- harness ----

type harness struct {
	engine      Engine
	expenseRepo *fakeExpenseRepo
	statusRepo  *fakeStatusRepo
	catalog     *stubCatalog
	directory   *fakeDirectory
	dispatcher  *recordingDispatcher
}

func newHarness(catalogRules map[int64]*entity.Rule, dir *fakeDirectory) *harness {
	if dir == nil {
		dir = &fakeDirectory{holders: map[int64][]int64{}, admins: map[int64]bool{}}
	}
	h := &harness{
		expenseRepo: newFakeExpenseRepo(),
		statusRepo:  &fakeStatusRepo{},
		catalog:     &stubCatalog{rules: catalogRules},
		directory:   dir,
		dispatcher:  &recordingDispatcher{},
	}
	h.engine = NewEngine(
		h.expenseRepo,
		h.statusRepo,
		passTxManager{},
		h.catalog,
		approver.NewResolver(dir),
		dir,
		h.dispatcher,
		nopLogger{},
	)
	return h
}

func submitInput(requesterID, departmentID, amountCents int64) SubmitInput {
	return SubmitInput{
		CategoryID:    1,
		DepartmentID:  departmentID,
		RequesterID:   requesterID,
		AmountCents:   amountCents,
		Currency:      "EUR",
		Title:         "Team offsite dinner",
		Justification: "Quarterly planning",
	}
}

func int64Ptr(v int64) *int64 { return &v }

func userRule(id, deptID, min, max int64, approverIDs ...int64) *entity.Rule {
	r := &entity.Rule{ID: id, DepartmentID: deptID, MinCents: min, MaxCents: max}
	for i, uid := range approverIDs {
		r.Steps = append(r.Steps, entity.RuleStep{RuleID: id, Step: i + 1, ApprovingUserID: int64Ptr(uid)})
	}
	return r
}

// ---- tests ----

func TestEngine_SubmitValidation(t *testing.T) {
	h := newHarness(nil, nil)

	tests := []struct {
		name  string
		input SubmitInput
	}{
		{"zero amount", SubmitInput{CategoryID: 1, DepartmentID: 1, RequesterID: 1, Currency: "EUR", Title: "x"}},
		{"negative amount", SubmitInput{CategoryID: 1, DepartmentID: 1, RequesterID: 1, AmountCents: -5, Currency: "EUR", Title: "x"}},
		{"missing title", SubmitInput{CategoryID: 1, DepartmentID: 1, RequesterID: 1, AmountCents: 100, Currency: "EUR"}},
		{"bad currency", SubmitInput{CategoryID: 1, DepartmentID: 1, RequesterID: 1, AmountCents: 100, Currency: "EURO", Title: "x"}},
		{"missing department", SubmitInput{CategoryID: 1, RequesterID: 1, AmountCents: 100, Currency: "EUR", Title: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Submit(context.Background(), tt.input, false)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestEngine_SubmitDraftAndPublish(t *testing.T) {
	h := newHarness(nil, nil)
	ctx := context.Background()

	draft, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), true)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, draft.Status)
	assert.Empty(t, h.dispatcher.typesSeen(), "draft must not publish")

	published, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaitingWorkflow, published.Status)
	assert.Equal(t, []event.Type{event.TypeExpenseSubmitted}, h.dispatcher.typesSeen())

	history, err := h.engine.History(ctx, published.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.StatusWaitingWorkflow, history[0].Status)
	require.NotNil(t, history[0].UserID)
	assert.Equal(t, int64(10), *history[0].UserID)
}

func TestEngine_RouteNoRuleAutoRejects(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)

	require.NoError(t, h.engine.Route(ctx, expense.ID))

	got, err := h.engine.Get(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, got.Status)
	assert.Nil(t, got.RuleID)

	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	assert.Equal(t, entity.StatusRejected, last.Status)
	assert.Nil(t, last.UserID, "auto-reject is system-authored")
	assert.Equal(t, noRuleComment, last.Comment)
}

func TestEngine_RouteIdempotent(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)

	require.NoError(t, h.engine.Route(ctx, expense.ID))
	require.NoError(t, h.engine.Route(ctx, expense.ID), "second route is a no-op")

	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "no duplicate audit entry")
}

func TestEngine_SingleStepApproval(t *testing.T) {
	rule := userRule(1, 1, 0, 10000, 20)
	rule.CanBeSingleApproved = true
	h := newHarness(map[int64]*entity.Rule{1: rule}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	got, err := h.engine.Get(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingApproval, got.Status)
	require.NotNil(t, got.NextApproverID)
	assert.Equal(t, int64(20), *got.NextApproverID)
	assert.Equal(t, entity.ApproverUser, *got.NextApproverType)

	decided, err := h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, decided.Status)
	assert.Nil(t, decided.RuleID)
	assert.Nil(t, decided.NextApproverID)

	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "looks fine", history[2].Comment)
}

func TestEngine_TwoStepChainWithDepartmentStep(t *testing.T) {
	finance := int64(7)
	rule := &entity.Rule{
		ID: 1, DepartmentID: 1, MinCents: 0, MaxCents: 100000,
		Steps: []entity.RuleStep{
			{RuleID: 1, Step: 1, ApprovingUserID: int64Ptr(20)},
			{RuleID: 1, Step: 2, ApprovingDepartmentID: &finance},
		},
	}
	dir := &fakeDirectory{
		holders: map[int64][]int64{finance: {31, 32}},
		admins:  map[int64]bool{},
	}
	h := newHarness(map[int64]*entity.Rule{1: rule}, dir)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 60000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	// step 1: named user approves, chain advances
	advanced, err := h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingApproval, advanced.Status)
	require.NotNil(t, advanced.CurrentStep)
	assert.Equal(t, 2, *advanced.CurrentStep)
	require.NotNil(t, advanced.NextApproverID)
	assert.Equal(t, int64(31), *advanced.NextApproverID, "lowest ID wins")
	assert.Equal(t, entity.ApproverDepartment, *advanced.NextApproverType)

	// another capability holder of the department may decide too
	final, err := h.engine.Decide(ctx, expense.ID, 32, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, final.Status)

	// round trip: submit + route + 2 decisions = 4 audit rows
	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestEngine_DecideAuthorization(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	_, err = h.engine.Decide(ctx, expense.ID, 99, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.engine.Decide(ctx, expense.ID, 10, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrForbidden, "requester cannot self-approve")
}

func TestEngine_DecideOnSettledExpense(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	_, err = h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	require.NoError(t, err)

	// a second identical decision finds the expense already settled
	_, err = h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestEngine_DecideOnOutdatedStepSnapshot(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 100000, 20, 21)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 60000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	stale, err := h.engine.Get(ctx, expense.ID)
	require.NoError(t, err)

	advanced, err := h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	require.NoError(t, err)
	require.NotNil(t, advanced.CurrentStep)
	require.Equal(t, 2, *advanced.CurrentStep)

	// A decision racing the advance reads the step-1 snapshot while the
	// stored row already sits at step 2. Both sides are PENDING_APPROVAL,
	// so only the step guard can reject the duplicate.
	h.expenseRepo.readView = stale
	_, err = h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrStaleState)
	h.expenseRepo.readView = nil

	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3, "the losing decision writes no audit entry")

	got, err := h.engine.Get(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingApproval, got.Status)
	assert.Equal(t, 2, *got.CurrentStep, "chain still waits on step 2")
}

func TestEngine_DepartmentStepRequiresMembership(t *testing.T) {
	finance := int64(7)
	rule := &entity.Rule{
		ID: 1, DepartmentID: 1, MinCents: 0, MaxCents: 100000,
		Steps: []entity.RuleStep{
			{RuleID: 1, Step: 1, ApprovingDepartmentID: &finance},
		},
	}
	// 31 is a finance member with the capability; 40 holds a finance-scoped
	// grant but belongs to another department
	dir := &fakeDirectory{
		holders:   map[int64][]int64{finance: {31}},
		outsiders: map[int64][]int64{finance: {40}},
		admins:    map[int64]bool{},
	}
	h := newHarness(map[int64]*entity.Rule{1: rule}, dir)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	_, err = h.engine.Decide(ctx, expense.ID, 40, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrForbidden, "a grant without membership does not qualify")

	approved, err := h.engine.Decide(ctx, expense.ID, 31, DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, approved.Status)
}

func TestEngine_DecisionEventsShareCorrelation(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	_, err = h.engine.Decide(ctx, expense.ID, 20, DecisionApprove, "")
	require.NoError(t, err)

	var decided, changed *event.Event
	for _, evt := range h.dispatcher.events {
		switch evt.Type {
		case event.TypeExpenseDecided:
			decided = evt
		case event.TypeStatusChanged:
			changed = evt
		}
	}
	require.NotNil(t, decided)
	require.NotNil(t, changed)
	assert.NotEmpty(t, decided.CorrelationID)
	assert.Equal(t, decided.CorrelationID, changed.CorrelationID,
		"the status notification chains to the decision that caused it")
}

func TestEngine_RequestInfoAndResubmit(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	parked, err := h.engine.Decide(ctx, expense.ID, 20, DecisionRequestInfo, "need the receipt")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPendingInfo, parked.Status)

	// department and category are locked while info is pending
	_, err = h.engine.Update(ctx, expense.ID, 10, entity.ExpenseUpdate{DepartmentID: int64Ptr(2)}, false, "")
	assert.ErrorIs(t, err, ErrFieldNotEditable)

	newTitle := "Team offsite dinner, receipt attached"
	updated, err := h.engine.Update(ctx, expense.ID, 10, entity.ExpenseUpdate{Title: &newTitle}, true, "receipt added")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaitingWorkflow, updated.Status)
	assert.Equal(t, newTitle, updated.Title)

	history, err := h.engine.History(ctx, expense.ID)
	require.NoError(t, err)
	// submit + route + request-info + resubmit
	require.Len(t, history, 4)
	assert.Equal(t, "receipt added", history[3].Comment)

	types := h.dispatcher.typesSeen()
	assert.Contains(t, types, event.TypeExpenseResubmitted)
}

func TestEngine_UpdateAuthorizationAndStatus(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)

	title := "edited"
	_, err = h.engine.Update(ctx, expense.ID, 99, entity.ExpenseUpdate{Title: &title}, false, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// WAITING_WORKFLOW is not editable
	_, err = h.engine.Update(ctx, expense.ID, 10, entity.ExpenseUpdate{Title: &title}, false, "")
	assert.ErrorIs(t, err, ErrStaleState)

	draft, err := h.engine.Submit(ctx, submitInput(10, 1, 700), true)
	require.NoError(t, err)
	updated, err := h.engine.Update(ctx, draft.ID, 10, entity.ExpenseUpdate{Title: &title}, false, "")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Title)
	assert.Equal(t, entity.StatusDraft, updated.Status)
}

func TestEngine_Cancel(t *testing.T) {
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, nil)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)

	_, err = h.engine.Cancel(ctx, expense.ID, 99, "")
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := h.engine.Cancel(ctx, expense.ID, 10, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)

	_, err = h.engine.Cancel(ctx, expense.ID, 10, "")
	assert.ErrorIs(t, err, ErrStaleState, "terminal expense cannot be cancelled again")
}

func TestEngine_SetDraft(t *testing.T) {
	dir := &fakeDirectory{holders: map[int64][]int64{}, admins: map[int64]bool{50: true}}
	h := newHarness(map[int64]*entity.Rule{1: userRule(1, 1, 0, 10000, 20)}, dir)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)
	require.NoError(t, h.engine.Route(ctx, expense.ID))

	_, err = h.engine.SetDraft(ctx, expense.ID, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	reset, err := h.engine.SetDraft(ctx, expense.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, reset.Status)
	assert.Nil(t, reset.RuleID)
	assert.Nil(t, reset.NextApproverID)
}

func TestEngine_RouteLeavesExpenseWhenNoApprover(t *testing.T) {
	finance := int64(7)
	rule := &entity.Rule{
		ID: 1, DepartmentID: 1, MinCents: 0, MaxCents: 100000,
		Steps: []entity.RuleStep{
			{RuleID: 1, Step: 1, ApprovingDepartmentID: &finance},
		},
	}
	// nobody in finance holds the capability
	dir := &fakeDirectory{holders: map[int64][]int64{}, admins: map[int64]bool{}}
	h := newHarness(map[int64]*entity.Rule{1: rule}, dir)
	ctx := context.Background()

	expense, err := h.engine.Submit(ctx, submitInput(10, 1, 5000), false)
	require.NoError(t, err)

	err = h.engine.Route(ctx, expense.ID)
	assert.ErrorIs(t, err, approver.ErrNoEligibleApprover)

	// the expense stays in WAITING_WORKFLOW for the reconciliation sweep
	got, err := h.engine.Get(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusWaitingWorkflow, got.Status)
}

func TestEngine_GetAndHistoryNotFound(t *testing.T) {
	h := newHarness(nil, nil)
	ctx := context.Background()

	_, err := h.engine.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.History(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
