package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/approvia/expense-workflow/internal/application/approver"
	"github.com/approvia/expense-workflow/internal/application/engine"
	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/application/rules"
	"github.com/approvia/expense-workflow/internal/domain/entity"
	"github.com/approvia/expense-workflow/internal/export"
)

// userIDHeader carries the authenticated identity. Authentication itself is
// delegated to the fronting proxy; the service trusts this header.
const userIDHeader = "X-User-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    engine.Engine
	catalog   rules.Catalog
	exporter  *export.AuditExporter
	directory port.ApproverDirectory
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	eng engine.Engine,
	catalog rules.Catalog,
	exporter *export.AuditExporter,
	directory port.ApproverDirectory,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:    eng,
		catalog:   catalog,
		exporter:  exporter,
		directory: directory,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SubmitExpenseRequest is the body for POST /api/v1/expenses
type SubmitExpenseRequest struct {
	CategoryID    int64  `json:"category_id" binding:"required"`
	DepartmentID  int64  `json:"department_id" binding:"required"`
	AmountCents   int64  `json:"amount_cents" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	Title         string `json:"title" binding:"required"`
	Justification string `json:"justification"`
	Draft         bool   `json:"draft"`
}

// UpdateExpenseRequest is the body for PATCH /api/v1/expenses/:id
type UpdateExpenseRequest struct {
	CategoryID    *int64  `json:"category_id"`
	DepartmentID  *int64  `json:"department_id"`
	AmountCents   *int64  `json:"amount_cents"`
	Currency      *string `json:"currency"`
	Title         *string `json:"title"`
	Justification *string `json:"justification"`
	Republish     bool    `json:"republish"`
	Comment       string  `json:"comment"`
}

// DecisionRequest is the body for POST /api/v1/expenses/:id/decision
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comment  string `json:"comment"`
}

// CancelRequest is the body for POST /api/v1/expenses/:id/cancel
type CancelRequest struct {
	Comment string `json:"comment"`
}

// RuleStepRequest is one step of a rule payload
type RuleStepRequest struct {
	Step                  int    `json:"step" binding:"required"`
	ApprovingDepartmentID *int64 `json:"approving_department_id"`
	ApprovingUserID       *int64 `json:"approving_user_id"`
}

// RuleRequest is the body for rule create and update
type RuleRequest struct {
	DepartmentID        int64             `json:"department_id" binding:"required"`
	MinCents            int64             `json:"min_cents"`
	MaxCents            int64             `json:"max_cents" binding:"required"`
	CanBeSingleApproved bool              `json:"can_be_single_approved"`
	Steps               []RuleStepRequest `json:"steps" binding:"required"`
}

func (r *RuleRequest) toEntity(id int64) *entity.Rule {
	rule := &entity.Rule{
		ID:                  id,
		DepartmentID:        r.DepartmentID,
		MinCents:            r.MinCents,
		MaxCents:            r.MaxCents,
		CanBeSingleApproved: r.CanBeSingleApproved,
	}
	for _, s := range r.Steps {
		rule.Steps = append(rule.Steps, entity.RuleStep{
			Step:                  s.Step,
			ApprovingDepartmentID: s.ApprovingDepartmentID,
			ApprovingUserID:       s.ApprovingUserID,
		})
	}
	return rule
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// SubmitExpense handles POST /api/v1/expenses
func (h *Handlers) SubmitExpense(c *gin.Context) {
	userID, ok := h.identity(c)
	if !ok {
		return
	}

	var req SubmitExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	expense, err := h.engine.Submit(c.Request.Context(), engine.SubmitInput{
		CategoryID:    req.CategoryID,
		DepartmentID:  req.DepartmentID,
		RequesterID:   userID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Title:         req.Title,
		Justification: req.Justification,
	}, req.Draft)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: expense})
}

// GetExpense handles GET /api/v1/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	expense, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// UpdateExpense handles PATCH /api/v1/expenses/:id
func (h *Handlers) UpdateExpense(c *gin.Context) {
	userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req UpdateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	expense, err := h.engine.Update(c.Request.Context(), id, userID, entity.ExpenseUpdate{
		CategoryID:    req.CategoryID,
		DepartmentID:  req.DepartmentID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Title:         req.Title,
		Justification: req.Justification,
	}, req.Republish, req.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// DecideExpense handles POST /api/v1/expenses/:id/decision
func (h *Handlers) DecideExpense(c *gin.Context) {
	userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	expense, err := h.engine.Decide(c.Request.Context(), id, userID, engine.Decision(req.Decision), req.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// CancelExpense handles POST /api/v1/expenses/:id/cancel
func (h *Handlers) CancelExpense(c *gin.Context) {
	userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	expense, err := h.engine.Cancel(c.Request.Context(), id, userID, req.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// SetExpenseDraft handles POST /api/v1/expenses/:id/draft
func (h *Handlers) SetExpenseDraft(c *gin.Context) {
	userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	expense, err := h.engine.SetDraft(c.Request.Context(), id, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// GetHistory handles GET /api/v1/expenses/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	history, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// ExportHistory handles GET /api/v1/expenses/:id/history/export
func (h *Handlers) ExportHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	expense, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="expense-%d-audit.xlsx"`, id))

	if err := h.exporter.WriteWorkbook(c.Request.Context(), expense, c.Writer); err != nil {
		h.logger.Error("Failed to export audit trail", "expense_id", id, "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

// CreateRule handles POST /api/v1/rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if !h.requireRuleManager(c, req.DepartmentID) {
		return
	}

	rule := req.toEntity(0)
	if err := h.catalog.Create(c.Request.Context(), rule); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: rule})
}

// GetRule handles GET /api/v1/rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	rule, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if !h.requireRuleManager(c, req.DepartmentID) {
		return
	}

	rule := req.toEntity(id)
	if err := h.catalog.Update(c.Request.Context(), rule); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// DeleteRule handles DELETE /api/v1/rules/:id
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	rule, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !h.requireRuleManager(c, rule.DepartmentID) {
		return
	}

	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ListDepartmentRules handles GET /api/v1/departments/:id/rules
func (h *Handlers) ListDepartmentRules(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	list, err := h.catalog.ListByDepartment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// identity extracts the acting user from the request header
func (h *Handlers) identity(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "missing " + userIDHeader + " header"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid " + userIDHeader + " header"})
		return 0, false
	}
	return id, true
}

// pathID parses the :id path parameter
func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// requireRuleManager gates rule mutations on the manage-rules capability
func (h *Handlers) requireRuleManager(c *gin.Context, departmentID int64) bool {
	userID, ok := h.identity(c)
	if !ok {
		return false
	}

	allowed, err := h.directory.HasCapability(c.Request.Context(), userID, entity.CapabilityManageRules, &departmentID)
	if err != nil {
		h.writeError(c, err)
		return false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, Response{Success: false, Error: "manage-rules capability required"})
		return false
	}
	return true
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
}

// writeError maps application errors onto HTTP statuses
func (h *Handlers) writeError(c *gin.Context, err error) {
	var permErr *rules.PermissionMismatchError

	switch {
	case errors.Is(err, engine.ErrNotFound) || errors.Is(err, rules.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrForbidden):
		c.JSON(http.StatusForbidden, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrStaleState) || errors.Is(err, rules.ErrAmbiguousRules):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrFieldNotEditable),
		errors.Is(err, rules.ErrInvalidRange),
		errors.Is(err, rules.ErrRangeConflict),
		errors.Is(err, rules.ErrDuplicateApprover),
		errors.Is(err, rules.ErrStepsNotContiguous),
		errors.Is(err, rules.ErrStepApproverUnset),
		errors.Is(err, rules.ErrNoSteps),
		errors.Is(err, approver.ErrNoEligibleApprover),
		errors.As(err, &permErr):
		c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}
