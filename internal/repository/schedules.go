package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

const installmentColumns = `
	id, schedule_id, installment_number, due_date,
	principal_due, interest_due, total_due,
	principal_paid, interest_paid, total_paid,
	principal_balance, status, days_past_due, paid_date, version`

func scanInstallment(row interface{ Scan(...interface{}) error }, inst *models.Installment) error {
	return row.Scan(
		&inst.ID, &inst.ScheduleID, &inst.InstallmentNumber, &inst.DueDate,
		&inst.PrincipalDue, &inst.InterestDue, &inst.TotalDue,
		&inst.PrincipalPaid, &inst.InterestPaid, &inst.TotalPaid,
		&inst.PrincipalBalance, &inst.Status, &inst.DaysPastDue, &inst.PaidDate, &inst.Version,
	)
}

// GetByLoanID retrieves a schedule and its installments by loan id
func (r *Repository) GetByLoanID(ctx context.Context, loanID int64) (*models.RepaymentSchedule, error) {
	schedule := &models.RepaymentSchedule{}
	query := `
		SELECT id, loan_id, client_id, product_code, principal_amount,
		       annual_interest_rate, term_months, frequency,
		       first_payment_date, maturity_date, generated_at, generated_by, correlation_id
		FROM servicing.repayment_schedules
		WHERE loan_id = $1`
	err := r.db.QueryRowContext(ctx, query, loanID).Scan(
		&schedule.ID, &schedule.LoanID, &schedule.ClientID, &schedule.ProductCode,
		&schedule.PrincipalAmount, &schedule.AnnualInterestRate, &schedule.TermMonths,
		&schedule.Frequency, &schedule.FirstPaymentDate, &schedule.MaturityDate,
		&schedule.GeneratedAt, &schedule.GeneratedBy, &schedule.CorrelationID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: schedule for loan %d", apperrors.ErrNotFound, loanID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule for loan %d: %w", loanID, err)
	}

	schedule.Installments, err = r.listInstallmentsBySchedule(ctx, schedule.ID)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (r *Repository) listInstallmentsBySchedule(ctx context.Context, scheduleID int64) ([]models.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM servicing.installments
		WHERE schedule_id = $1
		ORDER BY installment_number`
	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments for schedule %d: %w", scheduleID, err)
	}
	defer rows.Close()

	var installments []models.Installment
	for rows.Next() {
		var inst models.Installment
		if err := scanInstallment(rows, &inst); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

// CreateWithInstallments persists a schedule and its installments in one
// transaction
func (r *Repository) CreateWithInstallments(ctx context.Context, schedule *models.RepaymentSchedule) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO servicing.repayment_schedules
				(loan_id, client_id, product_code, principal_amount, annual_interest_rate,
				 term_months, frequency, first_payment_date, maturity_date,
				 generated_at, generated_by, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			schedule.LoanID, schedule.ClientID, schedule.ProductCode,
			schedule.PrincipalAmount, schedule.AnnualInterestRate, schedule.TermMonths,
			schedule.Frequency, schedule.FirstPaymentDate, schedule.MaturityDate,
			schedule.GeneratedAt, schedule.GeneratedBy, schedule.CorrelationID,
		).Scan(&schedule.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: schedule for loan %d", apperrors.ErrAlreadyExists, schedule.LoanID)
		}
		if err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}

		instQuery := `
			INSERT INTO servicing.installments
				(schedule_id, installment_number, due_date, principal_due, interest_due,
				 total_due, principal_paid, interest_paid, total_paid, principal_balance,
				 status, days_past_due, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
			RETURNING id`
		for i := range schedule.Installments {
			inst := &schedule.Installments[i]
			inst.ScheduleID = schedule.ID
			err := tx.QueryRowContext(ctx, instQuery,
				inst.ScheduleID, inst.InstallmentNumber, inst.DueDate,
				inst.PrincipalDue, inst.InterestDue, inst.TotalDue,
				inst.PrincipalPaid, inst.InterestPaid, inst.TotalPaid,
				inst.PrincipalBalance, inst.Status, inst.DaysPastDue,
			).Scan(&inst.ID)
			if err != nil {
				return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
			}
			inst.Version = 1
		}
		return nil
	})
}

// ListInstallments returns a loan's installments ordered by installment
// number
func (r *Repository) ListInstallments(ctx context.Context, loanID int64) ([]models.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM servicing.installments
		WHERE schedule_id = (SELECT id FROM servicing.repayment_schedules WHERE loan_id = $1)
		ORDER BY installment_number`
	rows, err := r.db.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments for loan %d: %w", loanID, err)
	}
	defer rows.Close()

	var installments []models.Installment
	for rows.Next() {
		var inst models.Installment
		if err := scanInstallment(rows, &inst); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

// ListActiveLoanIDs returns loans whose schedules still carry an unsettled
// installment
func (r *Repository) ListActiveLoanIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT s.loan_id
		FROM servicing.repayment_schedules s
		JOIN servicing.installments i ON i.schedule_id = s.id
		WHERE i.total_due - i.total_paid > 0.01
		ORDER BY s.loan_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan loan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// updateInstallmentTx writes an installment back with a version check
func updateInstallmentTx(ctx context.Context, tx *sql.Tx, inst *models.Installment) error {
	query := `
		UPDATE servicing.installments
		SET principal_paid = $1, interest_paid = $2, total_paid = $3,
		    status = $4, days_past_due = $5, paid_date = $6, version = version + 1
		WHERE id = $7 AND version = $8`
	res, err := tx.ExecContext(ctx, query,
		inst.PrincipalPaid, inst.InterestPaid, inst.TotalPaid,
		inst.Status, inst.DaysPastDue, inst.PaidDate,
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment %d: %w", inst.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: installment %d", apperrors.ErrVersionConflict, inst.ID)
	}
	return nil
}
