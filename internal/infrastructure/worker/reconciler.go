package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/engine"
	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

// Reconciler periodically sweeps expenses stuck in WAITING_WORKFLOW and
// re-drives them through routing. It is the safety net behind the event
// queue: a dropped, lost or failed routing event leaves the expense in
// WAITING_WORKFLOW, and the next sweep picks it up. Routing is idempotent,
// so sweeping an expense the dispatcher already handled is harmless.
type Reconciler struct {
	expenseRepo port.ExpenseRepository
	engine      engine.Engine
	logger      *zap.Logger

	interval  time.Duration
	minAge    time.Duration
	batchSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReconcilerConfig tunes the sweep cadence
type ReconcilerConfig struct {
	// Interval between sweeps
	Interval time.Duration
	// MinAge an expense must have sat in WAITING_WORKFLOW before the sweep
	// touches it, leaving the dispatcher room to handle the fresh event
	MinAge time.Duration
	// BatchSize caps the number of expenses routed per sweep
	BatchSize int
}

// NewReconciler creates a new reconciliation worker
func NewReconciler(expenseRepo port.ExpenseRepository, eng engine.Engine, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Reconciler{
		expenseRepo: expenseRepo,
		engine:      eng,
		logger:      logger,
		interval:    cfg.Interval,
		minAge:      cfg.MinAge,
		batchSize:   cfg.BatchSize,
	}
}

// Name implements Worker
func (r *Reconciler) Name() string {
	return "workflow-reconciler"
}

// Start implements Worker; the sweep loop runs until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx)
	return nil
}

// Stop implements Worker
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep routes one batch of stuck expenses. Exported so tests and operators
// can trigger a sweep without waiting for the ticker.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.minAge)

	stuck, err := r.expenseRepo.ListByStatusOlderThan(ctx, entity.StatusWaitingWorkflow, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("Reconciliation sweep failed to list expenses", zap.Error(err))
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.logger.Info("Reconciliation sweep routing stuck expenses", zap.Int("count", len(stuck)))

	for _, expense := range stuck {
		if ctx.Err() != nil {
			return
		}
		if err := r.engine.Route(ctx, expense.ID); err != nil {
			r.logger.Error("Reconciliation routing failed",
				zap.Int64("expense_id", expense.ID),
				zap.Error(err))
		}
	}
}
