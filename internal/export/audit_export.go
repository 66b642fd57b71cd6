// Package export renders expense data into downloadable workbooks.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
)

const auditSheet = "Audit Trail"

// AuditExporter writes an expense's audit trail as an xlsx workbook
type AuditExporter struct {
	statusRepo port.StatusRepository
	userRepo   port.UserRepository
	logger     *zap.Logger
}

// NewAuditExporter creates a new audit exporter
func NewAuditExporter(statusRepo port.StatusRepository, userRepo port.UserRepository, logger *zap.Logger) *AuditExporter {
	return &AuditExporter{
		statusRepo: statusRepo,
		userRepo:   userRepo,
		logger:     logger,
	}
}

// WriteWorkbook streams the workbook for one expense to w
func (e *AuditExporter) WriteWorkbook(ctx context.Context, expense *entity.Expense, w io.Writer) error {
	entries, err := e.statusRepo.ListByExpenseID(ctx, expense.ID)
	if err != nil {
		return fmt.Errorf("failed to load audit trail: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(auditSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	e.writeSummary(f, expense)
	if err := e.writeTrail(ctx, f, entries); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Audit trail exported",
		zap.Int64("expense_id", expense.ID),
		zap.Int("entries", len(entries)))
	return nil
}

func (e *AuditExporter) writeSummary(f *excelize.File, expense *entity.Expense) {
	setCell(f, "A1", "Expense")
	setCell(f, "B1", expense.ID)
	setCell(f, "A2", "Title")
	setCell(f, "B2", expense.Title)
	setCell(f, "A3", "Amount")
	setCell(f, "B3", fmt.Sprintf("%.2f %s", float64(expense.AmountCents)/100, expense.Currency))
	setCell(f, "A4", "Status")
	setCell(f, "B4", string(expense.Status))
}

func (e *AuditExporter) writeTrail(ctx context.Context, f *excelize.File, entries []*entity.ExpenseStatus) error {
	headers := []string{"Timestamp", "Status", "Actor", "Comment", "Next Approver"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 6)
		setCell(f, cell, h)
	}

	names := make(map[int64]string)

	for rowIdx, entry := range entries {
		row := 7 + rowIdx

		actor := "system"
		if entry.UserID != nil {
			actor = e.userName(ctx, names, *entry.UserID)
		}

		nextApprover := ""
		if entry.NextApproverID != nil {
			nextApprover = e.userName(ctx, names, *entry.NextApproverID)
		}

		values := []interface{}{
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			string(entry.Status),
			actor,
			entry.Comment,
			nextApprover,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			setCell(f, cell, v)
		}
	}

	return nil
}

// userName resolves and caches a display name; an unknown or failed lookup
// falls back to the numeric ID so the export never fails over a name
func (e *AuditExporter) userName(ctx context.Context, cache map[int64]string, userID int64) string {
	if name, ok := cache[userID]; ok {
		return name
	}

	name := fmt.Sprintf("user %d", userID)
	user, err := e.userRepo.GetByID(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to resolve user for export",
			zap.Int64("user_id", userID),
			zap.Error(err))
	} else if user != nil {
		name = user.Name
	}

	cache[userID] = name
	return name
}

func setCell(f *excelize.File, cell string, value interface{}) {
	_ = f.SetCellValue(auditSheet, cell, value)
}
