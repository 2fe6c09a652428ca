package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentFrequency is the repayment cadence of a schedule
type PaymentFrequency string

const (
	FrequencyMonthly PaymentFrequency = "MONTHLY"
)

// InstallmentStatus represents the repayment state of a single installment
type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "PENDING"
	InstallmentPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentPaid          InstallmentStatus = "PAID"
	InstallmentOverdue       InstallmentStatus = "OVERDUE"
)

// RepaymentSchedule is the aggregate root for a loan's amortization schedule.
// One schedule exists per loan and its terms are immutable once generated.
type RepaymentSchedule struct {
	ID                 int64            `json:"id"`
	LoanID             int64            `json:"loan_id"`
	ClientID           int64            `json:"client_id"`
	ProductCode        string           `json:"product_code"`
	PrincipalAmount    decimal.Decimal  `json:"principal_amount"`
	AnnualInterestRate decimal.Decimal  `json:"annual_interest_rate"`
	TermMonths         int              `json:"term_months"`
	Frequency          PaymentFrequency `json:"frequency"`
	FirstPaymentDate   time.Time        `json:"first_payment_date"`
	MaturityDate       time.Time        `json:"maturity_date"`
	GeneratedAt        time.Time        `json:"generated_at"`
	GeneratedBy        string           `json:"generated_by"`
	CorrelationID      string           `json:"correlation_id"`
	Installments       []Installment    `json:"installments,omitempty"`
}

// Installment is a single row of a repayment schedule. Paid amounts and
// status are mutated in place by payment processing and arrears
// classification; the version column backs optimistic locking.
type Installment struct {
	ID                int64             `json:"id"`
	ScheduleID        int64             `json:"schedule_id"`
	InstallmentNumber int               `json:"installment_number"`
	DueDate           time.Time         `json:"due_date"`
	PrincipalDue      decimal.Decimal   `json:"principal_due"`
	InterestDue       decimal.Decimal   `json:"interest_due"`
	TotalDue          decimal.Decimal   `json:"total_due"`
	PrincipalPaid     decimal.Decimal   `json:"principal_paid"`
	InterestPaid      decimal.Decimal   `json:"interest_paid"`
	TotalPaid         decimal.Decimal   `json:"total_paid"`
	PrincipalBalance  decimal.Decimal   `json:"principal_balance"`
	Status            InstallmentStatus `json:"status"`
	DaysPastDue       int               `json:"days_past_due"`
	PaidDate          *time.Time        `json:"paid_date,omitempty"`
	Version           int               `json:"-"`
}

// Outstanding reports the unpaid remainder of the installment.
func (i *Installment) Outstanding() decimal.Decimal {
	return i.TotalDue.Sub(i.TotalPaid)
}

// ScheduleSummary aggregates due/paid totals across a schedule's installments.
type ScheduleSummary struct {
	TotalInstallments  int             `json:"total_installments"`
	PaidInstallments   int             `json:"paid_installments"`
	TotalPrincipal     decimal.Decimal `json:"total_principal"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
	TotalDue           decimal.Decimal `json:"total_due"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	RemainingPrincipal decimal.Decimal `json:"remaining_principal"`
}

// Summarize computes a ScheduleSummary over the given installments.
func Summarize(installments []Installment) ScheduleSummary {
	s := ScheduleSummary{
		TotalInstallments:  len(installments),
		TotalPrincipal:     decimal.Zero,
		TotalInterest:      decimal.Zero,
		TotalDue:           decimal.Zero,
		TotalPaid:          decimal.Zero,
		RemainingPrincipal: decimal.Zero,
	}
	for _, inst := range installments {
		s.TotalPrincipal = s.TotalPrincipal.Add(inst.PrincipalDue)
		s.TotalInterest = s.TotalInterest.Add(inst.InterestDue)
		s.TotalDue = s.TotalDue.Add(inst.TotalDue)
		s.TotalPaid = s.TotalPaid.Add(inst.TotalPaid)
		s.RemainingPrincipal = s.RemainingPrincipal.Add(inst.PrincipalDue.Sub(inst.PrincipalPaid))
		if inst.Status == InstallmentPaid {
			s.PaidInstallments++
		}
	}
	return s
}
