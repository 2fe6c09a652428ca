package service

import (
	"context"
	"time"

	"github.com/zamcash/loan-servicing/internal/models"
)

// ScheduleRepository defines persistence operations for repayment schedules
// and their installments.
type ScheduleRepository interface {
	// GetByLoanID retrieves a loan's schedule with installments ordered by
	// installment number, or apperrors.ErrNotFound
	GetByLoanID(ctx context.Context, loanID int64) (*models.RepaymentSchedule, error)

	// CreateWithInstallments persists a schedule and its installments in one
	// transaction, filling generated ids; apperrors.ErrAlreadyExists when a
	// schedule for the loan already exists
	CreateWithInstallments(ctx context.Context, schedule *models.RepaymentSchedule) error

	// ListInstallments returns a loan's installments ordered by installment
	// number; empty when the loan has no schedule
	ListInstallments(ctx context.Context, loanID int64) ([]models.Installment, error)

	// ListActiveLoanIDs returns every loan id that has a schedule with at
	// least one unsettled installment
	ListActiveLoanIDs(ctx context.Context) ([]int64, error)
}

// PaymentRepository defines persistence operations for payment transactions
// and reconciliation tasks.
type PaymentRepository interface {
	// GetByReference retrieves a payment by its transaction reference, or
	// apperrors.ErrNotFound
	GetByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)

	// ApplyPayment persists the payment, the updated installments and the
	// optional reconciliation task in one transaction. Installment updates
	// are version-checked; apperrors.ErrVersionConflict when a row moved
	// underneath, apperrors.ErrAlreadyExists when the transaction reference
	// lost an insert race.
	ApplyPayment(ctx context.Context, payment *models.PaymentTransaction, installments []models.Installment, task *models.ReconciliationTask) error

	// CreateTask opens a reconciliation task against an existing payment
	CreateTask(ctx context.Context, task *models.ReconciliationTask) error

	// MarkReconciled flags the payment reconciled and returns the updated
	// row, or apperrors.ErrNotFound
	MarkReconciled(ctx context.Context, paymentID int64, reconciledBy string, reconciledAt time.Time) (*models.PaymentTransaction, error)

	// ListUnreconciled returns every payment with is_reconciled = false
	ListUnreconciled(ctx context.Context) ([]models.PaymentTransaction, error)
}

// ClassificationRepository defines persistence operations for the arrears
// classification history.
type ClassificationRepository interface {
	// LatestByLoanID returns the most recent history row for the loan, or
	// apperrors.ErrNotFound when the loan was never reclassified
	LatestByLoanID(ctx context.Context, loanID int64) (*models.ArrearsClassificationHistory, error)

	// RecordClassification appends a history row and updates overdue
	// installment flags in one transaction; installment updates are
	// version-checked (apperrors.ErrVersionConflict)
	RecordClassification(ctx context.Context, history *models.ArrearsClassificationHistory, overdue []models.Installment) error

	// UpdateOverdueFlags updates overdue status and days past due on the
	// given installments without writing history
	UpdateOverdueFlags(ctx context.Context, overdue []models.Installment) error

	// Summary counts loans per classification bucket; loans with a schedule
	// but no history count as Current
	Summary(ctx context.Context) (models.ArrearsSummary, error)
}
