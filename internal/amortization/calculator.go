// Package amortization computes reducing-balance repayment schedules.
package amortization

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

// ErrInvalidTerms rejects loan terms the calculator cannot amortize
var ErrInvalidTerms = fmt.Errorf("%w: invalid loan terms", apperrors.ErrValidation)

var (
	twelve = decimal.NewFromInt(12)
	one    = decimal.NewFromInt(1)
)

// Terms are the inputs to schedule generation.
type Terms struct {
	Principal        decimal.Decimal
	AnnualRate       decimal.Decimal
	TermMonths       int
	FirstPaymentDate time.Time
}

// Validate checks the terms per the amortization contract.
func (t Terms) Validate() error {
	if !t.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidTerms, t.Principal)
	}
	if t.AnnualRate.IsNegative() {
		return fmt.Errorf("%w: annual rate must not be negative, got %s", ErrInvalidTerms, t.AnnualRate)
	}
	if t.TermMonths < 1 {
		return fmt.Errorf("%w: term must be at least 1 month, got %d", ErrInvalidTerms, t.TermMonths)
	}
	if t.FirstPaymentDate.IsZero() {
		return fmt.Errorf("%w: first payment date is required", ErrInvalidTerms)
	}
	return nil
}

// levelPayment computes the constant annuity payment for the given monthly
// rate and term.
func levelPayment(principal, monthlyRate decimal.Decimal, months int) decimal.Decimal {
	// payment = P * r * (1+r)^n / ((1+r)^n - 1)
	factor := one.Add(monthlyRate).Pow(decimal.NewFromInt(int64(months)))
	numerator := principal.Mul(monthlyRate).Mul(factor)
	denominator := factor.Sub(one)
	return numerator.Div(denominator)
}

// Generate produces the ordered installment list for the given terms using
// the reducing-balance method. The final installment's principal is trued up
// to the exact remaining balance so cumulative rounding never drifts the
// schedule away from the principal.
func Generate(terms Terms) ([]models.Installment, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}

	monthlyRate := terms.AnnualRate.Div(twelve)
	months := terms.TermMonths

	var payment decimal.Decimal
	if monthlyRate.IsPositive() {
		payment = levelPayment(terms.Principal, monthlyRate, months)
	} else {
		// Zero-rate loans split the principal evenly
		payment = terms.Principal.Div(decimal.NewFromInt(int64(months)))
	}

	installments := make([]models.Installment, months)
	balance := terms.Principal
	for i := 0; i < months; i++ {
		interest := balance.Mul(monthlyRate).Round(2)
		principal := payment.Sub(interest).Round(2)
		if i == months-1 {
			// True-up: the last installment retires the balance exactly
			principal = balance
		}
		balance = balance.Sub(principal)

		installments[i] = models.Installment{
			InstallmentNumber: i + 1,
			DueDate:           terms.FirstPaymentDate.AddDate(0, i, 0),
			PrincipalDue:      principal,
			InterestDue:       interest,
			TotalDue:          principal.Add(interest),
			PrincipalPaid:     decimal.Zero,
			InterestPaid:      decimal.Zero,
			TotalPaid:         decimal.Zero,
			PrincipalBalance:  balance,
			Status:            models.InstallmentPending,
		}
	}

	return installments, nil
}
