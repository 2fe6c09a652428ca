// Package notification dispatches servicing events to the collections team.
// Like the audit sink, delivery failures are logged by callers and never
// fail the financial operation.
package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jordan-wright/email"
	"github.com/zamcash/loan-servicing/internal/config"
)

// Notification kinds
const (
	KindPaymentConfirmed  = "PAYMENT_CONFIRMED"
	KindArrearsEscalation = "ARREARS_ESCALATION"
)

// Notifier dispatches a notification about a loan event
type Notifier interface {
	Send(ctx context.Context, loanID, clientID int64, kind string, payload map[string]string) error
}

// EmailNotifier sends notifications to the configured collections inbox via
// SMTP. Client-facing delivery (SMS, email to the borrower) is owned by the
// external notification service; this covers the back-office copy.
type EmailNotifier struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.Config, logger *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send formats and sends the notification email
func (n *EmailNotifier) Send(ctx context.Context, loanID, clientID int64, kind string, payload map[string]string) error {
	e := email.NewEmail()
	e.From = n.cfg.SenderEmail
	e.To = []string{n.cfg.NotifyEmail}

	switch kind {
	case KindPaymentConfirmed:
		e.Subject = fmt.Sprintf("Payment confirmed on loan %d", loanID)
	case KindArrearsEscalation:
		e.Subject = fmt.Sprintf("Arrears escalation on loan %d", loanID)
	default:
		e.Subject = fmt.Sprintf("Loan %d: %s", loanID, kind)
	}

	body := fmt.Sprintf("Loan: %d\nClient: %d\nEvent: %s\nTime: %s\n",
		loanID, clientID, kind, time.Now().Format("2006-01-02 15:04:05"))
	for k, v := range payload {
		body += fmt.Sprintf("%s: %s\n", k, v)
	}
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", n.cfg.SMTPHost, n.cfg.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		n.logger.Errorf("Failed to send %s notification for loan %d: %v", kind, loanID, err)
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.logger.Infof("Notification sent for loan %d: %s", loanID, e.Subject)
	return nil
}

// NopNotifier discards notifications, for deployments without SMTP
type NopNotifier struct{}

// Send discards the notification
func (NopNotifier) Send(ctx context.Context, loanID, clientID int64, kind string, payload map[string]string) error {
	return nil
}

// AmountPayload builds the standard payload for amount-bearing events.
func AmountPayload(amount decimal.Decimal, reference string) map[string]string {
	return map[string]string{
		"amount":    amount.StringFixed(2),
		"reference": reference,
	}
}
