package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is a closed enumeration of the channels a repayment can
// arrive through. Per-method differences are data in MethodProfiles, not
// behavior on the type.
type PaymentMethod string

const (
	MethodCash             PaymentMethod = "CASH"
	MethodBankTransfer     PaymentMethod = "BANK_TRANSFER"
	MethodMobileMoney      PaymentMethod = "MOBILE_MONEY"
	MethodCheque           PaymentMethod = "CHEQUE"
	MethodPayrollDeduction PaymentMethod = "PAYROLL_DEDUCTION"
)

// MethodProfile describes channel-specific handling of a payment method.
type MethodProfile struct {
	ClearingDays    int
	AutoReconcile   bool
	RequiresBankRef bool
}

// MethodProfiles is the behavior lookup table for every supported payment
// method. Unknown methods are rejected at validation time.
var MethodProfiles = map[PaymentMethod]MethodProfile{
	MethodCash:             {ClearingDays: 0, AutoReconcile: true, RequiresBankRef: false},
	MethodBankTransfer:     {ClearingDays: 1, AutoReconcile: false, RequiresBankRef: true},
	MethodMobileMoney:      {ClearingDays: 0, AutoReconcile: false, RequiresBankRef: true},
	MethodCheque:           {ClearingDays: 3, AutoReconcile: false, RequiresBankRef: true},
	MethodPayrollDeduction: {ClearingDays: 0, AutoReconcile: false, RequiresBankRef: false},
}

// TransactionStatus is the lifecycle state of a payment transaction
type TransactionStatus string

const (
	TransactionConfirmed  TransactionStatus = "CONFIRMED"
	TransactionReconciled TransactionStatus = "RECONCILED"
)

// PaymentTransaction records a single applied repayment. One row exists per
// unique transaction reference; rows are never deleted.
type PaymentTransaction struct {
	ID                   int64             `json:"id"`
	LoanID               int64             `json:"loan_id"`
	ClientID             int64             `json:"client_id"`
	TransactionReference string            `json:"transaction_reference"`
	PaymentMethod        PaymentMethod     `json:"payment_method"`
	Source               string            `json:"source"`
	Amount               decimal.Decimal   `json:"amount"`
	PrincipalPortion     decimal.Decimal   `json:"principal_portion"`
	InterestPortion      decimal.Decimal   `json:"interest_portion"`
	TransactionDate      time.Time         `json:"transaction_date"`
	ExternalReference    string            `json:"external_reference,omitempty"`
	Notes                string            `json:"notes,omitempty"`
	Status               TransactionStatus `json:"status"`
	IsReconciled         bool              `json:"is_reconciled"`
	ReconciledBy         string            `json:"reconciled_by,omitempty"`
	ReconciledAt         *time.Time        `json:"reconciled_at,omitempty"`
	CorrelationID        string            `json:"correlation_id"`
	CreatedAt            time.Time         `json:"created_at"`
}
