package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationTaskType distinguishes why a payment was flagged for review
type ReconciliationTaskType string

const (
	TaskOverPayment ReconciliationTaskType = "OVER_PAYMENT"
	TaskMismatch    ReconciliationTaskType = "MISMATCH"
)

// ReconciliationTaskStatus is the follow-up state of a reconciliation task
type ReconciliationTaskStatus string

const (
	TaskPending  ReconciliationTaskStatus = "PENDING"
	TaskResolved ReconciliationTaskStatus = "RESOLVED"
)

// ReconciliationTask flags a payment whose funds did not exactly match the
// outstanding obligations, carrying the unapplied variance for back-office
// follow-up.
type ReconciliationTask struct {
	ID                   int64                    `json:"id"`
	PaymentTransactionID int64                    `json:"payment_transaction_id"`
	TaskType             ReconciliationTaskType   `json:"task_type"`
	Variance             decimal.Decimal          `json:"variance"`
	Status               ReconciliationTaskStatus `json:"status"`
	CreatedAt            time.Time                `json:"created_at"`
}
