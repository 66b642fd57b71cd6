// Package notification emails the people whose action an expense is waiting on.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/approvia/expense-workflow/internal/application/dispatcher"
	"github.com/approvia/expense-workflow/internal/application/port"
	"github.com/approvia/expense-workflow/internal/domain/entity"
	"github.com/approvia/expense-workflow/internal/domain/event"
)

// Config holds SMTP settings. With Enabled false the notifier registers no
// handlers and the workflow runs silently.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers a composed message
type Sender interface {
	Send(m *gomail.Message) error
}

type smtpSender struct {
	dialer *gomail.Dialer
}

func (s *smtpSender) Send(m *gomail.Message) error {
	return s.dialer.DialAndSend(m)
}

// NewSMTPSender creates a sender backed by the configured SMTP server
func NewSMTPSender(cfg Config) Sender {
	return &smtpSender{dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)}
}

// ApproverNotifier listens for status changes and emails the next approver,
// or the requester once the expense settles. Delivery failures are logged and
// dropped: email is a convenience, never part of workflow correctness.
type ApproverNotifier struct {
	expenseRepo port.ExpenseRepository
	userRepo    port.UserRepository
	sender      Sender
	cfg         Config
	logger      *zap.Logger
}

// NewApproverNotifier creates a new notifier
func NewApproverNotifier(expenseRepo port.ExpenseRepository, userRepo port.UserRepository, sender Sender, cfg Config, logger *zap.Logger) *ApproverNotifier {
	return &ApproverNotifier{
		expenseRepo: expenseRepo,
		userRepo:    userRepo,
		sender:      sender,
		cfg:         cfg,
		logger:      logger,
	}
}

// Register subscribes the notifier; a disabled config registers nothing
func (n *ApproverNotifier) Register(d dispatcher.Dispatcher) {
	if !n.cfg.Enabled {
		n.logger.Info("Email notifications disabled")
		return
	}
	d.SubscribeNamed(event.TypeStatusChanged, "email-notifier", n.handleStatusChanged)
}

func (n *ApproverNotifier) handleStatusChanged(ctx context.Context, evt *event.Event) error {
	expense, err := n.expenseRepo.GetByID(ctx, evt.ExpenseID)
	if err != nil || expense == nil {
		n.logger.Error("Failed to load expense for notification",
			zap.Int64("expense_id", evt.ExpenseID),
			zap.Error(err))
		return nil
	}

	switch expense.Status {
	case entity.StatusPendingApproval:
		if expense.NextApproverID != nil {
			n.notify(ctx, expense, *expense.NextApproverID, n.approvalRequestBody(expense))
		}
	case entity.StatusApproved, entity.StatusRejected:
		n.notify(ctx, expense, expense.RequesterID, n.outcomeBody(expense))
	}

	return nil
}

func (n *ApproverNotifier) notify(ctx context.Context, expense *entity.Expense, userID int64, subjectAndBody [2]string) {
	user, err := n.userRepo.GetByID(ctx, userID)
	if err != nil || user == nil {
		n.logger.Error("Failed to load recipient for notification",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(n.cfg.From, "Expense Workflow"))
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", subjectAndBody[0])
	m.SetBody("text/html", subjectAndBody[1])

	if err := n.sender.Send(m); err != nil {
		n.logger.Error("Failed to send notification email",
			zap.Int64("expense_id", expense.ID),
			zap.String("to", user.Email),
			zap.Error(err))
		return
	}

	n.logger.Info("Notification sent",
		zap.Int64("expense_id", expense.ID),
		zap.Int64("user_id", userID),
		zap.String("status", string(expense.Status)))
}

func (n *ApproverNotifier) approvalRequestBody(expense *entity.Expense) [2]string {
	subject := fmt.Sprintf("Expense #%d awaits your approval", expense.ID)
	body := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
    <h2>Approval requested</h2>
    <p>Expense <strong>#%d</strong> (%s) for <strong>%.2f %s</strong> is waiting for your decision.</p>
</body>
</html>
`, expense.ID, expense.Title, float64(expense.AmountCents)/100, expense.Currency)
	return [2]string{subject, body}
}

func (n *ApproverNotifier) outcomeBody(expense *entity.Expense) [2]string {
	subject := fmt.Sprintf("Expense #%d was %s", expense.ID, expense.Status)
	body := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
    <h2>Expense %s</h2>
    <p>Your expense <strong>#%d</strong> (%s) for <strong>%.2f %s</strong> is now %s.</p>
</body>
</html>
`, expense.Status, expense.ID, expense.Title, float64(expense.AmountCents)/100, expense.Currency, expense.Status)
	return [2]string{subject, body}
}
