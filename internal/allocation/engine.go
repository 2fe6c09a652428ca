// Package allocation applies payment amounts against outstanding
// installments using an interest-before-principal waterfall.
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

// ErrNegativeAmount rejects allocation of a negative payment amount
var ErrNegativeAmount = fmt.Errorf("%w: allocation amount must not be negative", apperrors.ErrValidation)

// Tolerance is the rounding slack under which an installment counts as
// settled and a leftover counts as zero.
var Tolerance = decimal.RequireFromString("0.01")

// Result is the outcome of allocating one payment across a schedule.
type Result struct {
	PrincipalApplied decimal.Decimal
	InterestApplied  decimal.Decimal
	Leftover         decimal.Decimal
	Touched          []models.Installment
}

// Allocate walks the installments in ascending installment-number order and
// applies the amount against each until funds or installments run out.
// Within an installment the outstanding interest is satisfied before the
// outstanding principal. Input installments are not mutated; updated copies
// of every touched installment are returned.
func Allocate(installments []models.Installment, amount decimal.Decimal) (Result, error) {
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	res := Result{
		PrincipalApplied: decimal.Zero,
		InterestApplied:  decimal.Zero,
		Leftover:         decimal.Zero,
	}
	remaining := amount

	for _, inst := range installments {
		if remaining.IsZero() {
			break
		}
		outstanding := inst.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}

		applied := decimal.Min(remaining, outstanding)

		// Interest first, then principal
		interestOutstanding := inst.InterestDue.Sub(inst.InterestPaid)
		if interestOutstanding.IsNegative() {
			interestOutstanding = decimal.Zero
		}
		toInterest := decimal.Min(applied, interestOutstanding)
		toPrincipal := applied.Sub(toInterest)

		inst.InterestPaid = inst.InterestPaid.Add(toInterest)
		inst.PrincipalPaid = inst.PrincipalPaid.Add(toPrincipal)
		inst.TotalPaid = inst.TotalPaid.Add(applied)
		if inst.TotalDue.Sub(inst.TotalPaid).LessThanOrEqual(Tolerance) {
			inst.Status = models.InstallmentPaid
		} else {
			inst.Status = models.InstallmentPartiallyPaid
		}

		res.InterestApplied = res.InterestApplied.Add(toInterest)
		res.PrincipalApplied = res.PrincipalApplied.Add(toPrincipal)
		res.Touched = append(res.Touched, inst)

		remaining = remaining.Sub(applied)
	}

	res.Leftover = remaining
	return res, nil
}
