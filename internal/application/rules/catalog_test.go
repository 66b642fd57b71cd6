package rules

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/expense-workflow/internal/domain/entity"
)

type fakeRuleRepo struct {
	rules  map[int64]*entity.Rule
	nextID int64
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: map[int64]*entity.Rule{}, nextID: 1}
}

func (r *fakeRuleRepo) Create(_ context.Context, rule *entity.Rule) error {
	rule.ID = r.nextID
	r.nextID++
	r.rules[rule.ID] = rule
	return nil
}

func (r *fakeRuleRepo) GetByID(_ context.Context, id int64) (*entity.Rule, error) {
	return r.rules[id], nil
}

func (r *fakeRuleRepo) ListByDepartment(_ context.Context, departmentID int64) ([]*entity.Rule, error) {
	var out []*entity.Rule
	for _, rule := range r.rules {
		if rule.DepartmentID == departmentID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinCents < out[j].MinCents })
	return out, nil
}

func (r *fakeRuleRepo) FindApplicable(_ context.Context, departmentID int64, amountCents int64) ([]*entity.Rule, error) {
	var out []*entity.Rule
	for _, rule := range r.rules {
		if rule.DepartmentID == departmentID && rule.Matches(amountCents) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) Update(_ context.Context, rule *entity.Rule) error {
	r.rules[rule.ID] = rule
	return nil
}

func (r *fakeRuleRepo) Delete(_ context.Context, id int64) error {
	delete(r.rules, id)
	return nil
}

type fakeDirectory struct {
	approvers map[int64]bool
}

func (d *fakeDirectory) HasCapability(_ context.Context, userID int64, _ entity.Capability, _ *int64) (bool, error) {
	return d.approvers[userID], nil
}

func (d *fakeDirectory) UsersWithCapability(context.Context, int64, entity.Capability) ([]int64, error) {
	return nil, nil
}

type passTxManager struct{}

func (passTxManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// markingTxManager tags the context it hands to the closure so repository
// fakes can tell whether a call ran inside the transaction.
type txMarkerKey struct{}

type markingTxManager struct{}

func (markingTxManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(context.WithValue(ctx, txMarkerKey{}, true))
}

// txTrackingRuleRepo records, per operation, whether the context carried the
// transaction marker.
type txTrackingRuleRepo struct {
	*fakeRuleRepo
	listInTx   bool
	createInTx bool
	updateInTx bool
}

func inTx(ctx context.Context) bool {
	ok, _ := ctx.Value(txMarkerKey{}).(bool)
	return ok
}

func (r *txTrackingRuleRepo) ListByDepartment(ctx context.Context, departmentID int64) ([]*entity.Rule, error) {
	r.listInTx = inTx(ctx)
	return r.fakeRuleRepo.ListByDepartment(ctx, departmentID)
}

func (r *txTrackingRuleRepo) Create(ctx context.Context, rule *entity.Rule) error {
	r.createInTx = inTx(ctx)
	return r.fakeRuleRepo.Create(ctx, rule)
}

func (r *txTrackingRuleRepo) Update(ctx context.Context, rule *entity.Rule) error {
	r.updateInTx = inTx(ctx)
	return r.fakeRuleRepo.Update(ctx, rule)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func int64Ptr(v int64) *int64 { return &v }

func userStep(ordinal int, userID int64) entity.RuleStep {
	return entity.RuleStep{Step: ordinal, ApprovingUserID: int64Ptr(userID)}
}

func deptStep(ordinal int, departmentID int64) entity.RuleStep {
	return entity.RuleStep{Step: ordinal, ApprovingDepartmentID: int64Ptr(departmentID)}
}

type catalogFixture struct {
	repo    *fakeRuleRepo
	dir     *fakeDirectory
	catalog Catalog
}

func newCatalogFixture() *catalogFixture {
	repo := newFakeRuleRepo()
	dir := &fakeDirectory{approvers: map[int64]bool{2: true, 3: true}}
	return &catalogFixture{
		repo:    repo,
		dir:     dir,
		catalog: NewCatalog(repo, dir, passTxManager{}, nopLogger{}),
	}
}

func validRule() *entity.Rule {
	return &entity.Rule{
		DepartmentID: 1,
		MinCents:     0,
		MaxCents:     50000,
		Steps:        []entity.RuleStep{userStep(1, 2)},
	}
}

func TestCatalog_CreateAndGet(t *testing.T) {
	f := newCatalogFixture()

	rule := validRule()
	require.NoError(t, f.catalog.Create(context.Background(), rule))
	assert.NotZero(t, rule.ID)

	got, err := f.catalog.Get(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.MaxCents, got.MaxCents)
}

func TestCatalog_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*entity.Rule)
		wantErr error
	}{
		{
			name:    "inverted range",
			mutate:  func(r *entity.Rule) { r.MinCents = 100; r.MaxCents = 100 },
			wantErr: ErrInvalidRange,
		},
		{
			name:    "no steps",
			mutate:  func(r *entity.Rule) { r.Steps = nil },
			wantErr: ErrNoSteps,
		},
		{
			name: "step with both approver kinds",
			mutate: func(r *entity.Rule) {
				r.Steps = []entity.RuleStep{{Step: 1, ApprovingUserID: int64Ptr(2), ApprovingDepartmentID: int64Ptr(1)}}
			},
			wantErr: ErrStepApproverUnset,
		},
		{
			name: "step with neither approver kind",
			mutate: func(r *entity.Rule) {
				r.Steps = []entity.RuleStep{{Step: 1}}
			},
			wantErr: ErrStepApproverUnset,
		},
		{
			name: "gap in step ordinals",
			mutate: func(r *entity.Rule) {
				r.Steps = []entity.RuleStep{userStep(1, 2), userStep(3, 3)}
			},
			wantErr: ErrStepsNotContiguous,
		},
		{
			name: "duplicate user approver",
			mutate: func(r *entity.Rule) {
				r.Steps = []entity.RuleStep{userStep(1, 2), userStep(2, 2)}
			},
			wantErr: ErrDuplicateApprover,
		},
		{
			name: "duplicate department approver",
			mutate: func(r *entity.Rule) {
				r.Steps = []entity.RuleStep{deptStep(1, 4), deptStep(2, 4)}
			},
			wantErr: ErrDuplicateApprover,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCatalogFixture()
			rule := validRule()
			tt.mutate(rule)

			err := f.catalog.Create(context.Background(), rule)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCatalog_CreateRejectsNonApproverUser(t *testing.T) {
	f := newCatalogFixture()

	rule := validRule()
	rule.Steps = []entity.RuleStep{userStep(1, 99)}

	err := f.catalog.Create(context.Background(), rule)
	var permErr *PermissionMismatchError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, int64(99), permErr.UserID)
}

func TestCatalog_CreateRejectsOverlap(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	require.NoError(t, f.catalog.Create(ctx, validRule()))

	overlapping := validRule()
	overlapping.MinCents = 40000
	overlapping.MaxCents = 90000

	assert.ErrorIs(t, f.catalog.Create(ctx, overlapping), ErrRangeConflict)
}

func TestCatalog_AdjacentRangesDoNotConflict(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	require.NoError(t, f.catalog.Create(ctx, validRule()))

	adjacent := validRule()
	adjacent.MinCents = 50000
	adjacent.MaxCents = 100000

	assert.NoError(t, f.catalog.Create(ctx, adjacent))
}

func TestCatalog_OverlapAllowedAcrossDepartments(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	require.NoError(t, f.catalog.Create(ctx, validRule()))

	other := validRule()
	other.DepartmentID = 2

	assert.NoError(t, f.catalog.Create(ctx, other))
}

func TestCatalog_UpdateSkipsSelfOverlap(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	rule := validRule()
	require.NoError(t, f.catalog.Create(ctx, rule))

	rule.MaxCents = 60000
	rule.Steps = []entity.RuleStep{userStep(1, 2), deptStep(2, 3)}
	require.NoError(t, f.catalog.Update(ctx, rule))

	got, err := f.catalog.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), got.MaxCents)
	assert.Len(t, got.Steps, 2)
}

func TestCatalog_ValidationRunsInsideMutationTransaction(t *testing.T) {
	repo := &txTrackingRuleRepo{fakeRuleRepo: newFakeRuleRepo()}
	dir := &fakeDirectory{approvers: map[int64]bool{2: true, 3: true}}
	catalog := NewCatalog(repo, dir, markingTxManager{}, nopLogger{})
	ctx := context.Background()

	// The overlap check must read the sibling rules inside the same
	// transaction that inserts, so concurrent creations of intersecting
	// ranges serialize instead of both passing against the old snapshot.
	rule := validRule()
	require.NoError(t, catalog.Create(ctx, rule))
	assert.True(t, repo.listInTx, "overlap check shares the create transaction")
	assert.True(t, repo.createInTx)

	repo.listInTx = false
	rule.MaxCents = 60000
	require.NoError(t, catalog.Update(ctx, rule))
	assert.True(t, repo.listInTx, "overlap check shares the update transaction")
	assert.True(t, repo.updateInTx)
}

func TestCatalog_UpdateUnknownRule(t *testing.T) {
	f := newCatalogFixture()

	rule := validRule()
	rule.ID = 123

	assert.ErrorIs(t, f.catalog.Update(context.Background(), rule), ErrRuleNotFound)
}

func TestCatalog_DeleteUnknownRule(t *testing.T) {
	f := newCatalogFixture()

	assert.ErrorIs(t, f.catalog.Delete(context.Background(), 123), ErrRuleNotFound)
}

func TestCatalog_FindApplicable(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	low := validRule()
	require.NoError(t, f.catalog.Create(ctx, low))

	high := validRule()
	high.MinCents = 50000
	high.MaxCents = 200000
	require.NoError(t, f.catalog.Create(ctx, high))

	tests := []struct {
		name   string
		amount int64
		want   *int64
	}{
		{"bottom of low range", 0, &low.ID},
		{"boundary belongs to high range", 50000, &high.ID},
		{"inside high range", 199999, &high.ID},
		{"above all ranges", 200000, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.catalog.FindApplicable(ctx, 1, tt.amount)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, got.ID)
			}
		})
	}
}

func TestCatalog_FindApplicableReportsAmbiguity(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()

	// Seed overlapping rows directly, bypassing validation, to simulate a
	// corrupted store.
	require.NoError(t, f.repo.Create(ctx, &entity.Rule{DepartmentID: 1, MinCents: 0, MaxCents: 100}))
	require.NoError(t, f.repo.Create(ctx, &entity.Rule{DepartmentID: 1, MinCents: 50, MaxCents: 150}))

	_, err := f.catalog.FindApplicable(ctx, 1, 75)
	assert.ErrorIs(t, err, ErrAmbiguousRules)
}
