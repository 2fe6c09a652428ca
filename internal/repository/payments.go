package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

const paymentColumns = `
	id, loan_id, client_id, transaction_reference, payment_method, source,
	amount, principal_portion, interest_portion, transaction_date,
	external_reference, notes, status, is_reconciled, reconciled_by,
	reconciled_at, correlation_id, created_at`

func scanPayment(row interface{ Scan(...interface{}) error }, p *models.PaymentTransaction) error {
	var reconciledBy sql.NullString
	err := row.Scan(
		&p.ID, &p.LoanID, &p.ClientID, &p.TransactionReference, &p.PaymentMethod,
		&p.Source, &p.Amount, &p.PrincipalPortion, &p.InterestPortion,
		&p.TransactionDate, &p.ExternalReference, &p.Notes, &p.Status,
		&p.IsReconciled, &reconciledBy, &p.ReconciledAt, &p.CorrelationID, &p.CreatedAt,
	)
	if err != nil {
		return err
	}
	p.ReconciledBy = reconciledBy.String
	return nil
}

// GetByReference retrieves a payment by its transaction reference
func (r *Repository) GetByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	payment := &models.PaymentTransaction{}
	query := `
		SELECT ` + paymentColumns + `
		FROM servicing.payment_transactions
		WHERE transaction_reference = $1`
	err := scanPayment(r.db.QueryRowContext(ctx, query, reference), payment)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment %s", apperrors.ErrNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", reference, err)
	}
	return payment, nil
}

// ApplyPayment persists the payment, the updated installments and the
// optional reconciliation task as one atomic write
func (r *Repository) ApplyPayment(ctx context.Context, payment *models.PaymentTransaction, installments []models.Installment, task *models.ReconciliationTask) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO servicing.payment_transactions
				(loan_id, client_id, transaction_reference, payment_method, source,
				 amount, principal_portion, interest_portion, transaction_date,
				 external_reference, notes, status, is_reconciled, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, $13)
			RETURNING id, created_at`
		err := tx.QueryRowContext(ctx, query,
			payment.LoanID, payment.ClientID, payment.TransactionReference,
			payment.PaymentMethod, payment.Source, payment.Amount,
			payment.PrincipalPortion, payment.InterestPortion, payment.TransactionDate,
			payment.ExternalReference, payment.Notes, payment.Status, payment.CorrelationID,
		).Scan(&payment.ID, &payment.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s", apperrors.ErrAlreadyExists, payment.TransactionReference)
		}
		if err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		for i := range installments {
			if err := updateInstallmentTx(ctx, tx, &installments[i]); err != nil {
				return err
			}
		}

		if task != nil {
			task.PaymentTransactionID = payment.ID
			taskQuery := `
				INSERT INTO servicing.reconciliation_tasks
					(payment_transaction_id, task_type, variance, status)
				VALUES ($1, $2, $3, $4)
				RETURNING id, created_at`
			err := tx.QueryRowContext(ctx, taskQuery,
				task.PaymentTransactionID, task.TaskType, task.Variance, task.Status,
			).Scan(&task.ID, &task.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to create reconciliation task: %w", err)
			}
		}
		return nil
	})
}

// CreateTask opens a reconciliation task against an existing payment. One
// task exists per payment and type; a duplicate open returns
// apperrors.ErrAlreadyExists
func (r *Repository) CreateTask(ctx context.Context, task *models.ReconciliationTask) error {
	query := `
		INSERT INTO servicing.reconciliation_tasks
			(payment_transaction_id, task_type, variance, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		task.PaymentTransactionID, task.TaskType, task.Variance, task.Status,
	).Scan(&task.ID, &task.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s task for payment %d", apperrors.ErrAlreadyExists, task.TaskType, task.PaymentTransactionID)
	}
	if err != nil {
		return fmt.Errorf("failed to create reconciliation task: %w", err)
	}
	return nil
}

// MarkReconciled flags the payment reconciled and returns the updated row
func (r *Repository) MarkReconciled(ctx context.Context, paymentID int64, reconciledBy string, reconciledAt time.Time) (*models.PaymentTransaction, error) {
	payment := &models.PaymentTransaction{}
	query := `
		UPDATE servicing.payment_transactions
		SET is_reconciled = true, reconciled_by = $1, reconciled_at = $2, status = $3
		WHERE id = $4
		RETURNING ` + paymentColumns
	err := scanPayment(r.db.QueryRowContext(ctx, query, reconciledBy, reconciledAt, models.TransactionReconciled, paymentID), payment)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment %d", apperrors.ErrNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile payment %d: %w", paymentID, err)
	}
	return payment, nil
}

// ListUnreconciled returns every payment awaiting reconciliation
func (r *Repository) ListUnreconciled(ctx context.Context) ([]models.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM servicing.payment_transactions
		WHERE is_reconciled = false
		ORDER BY transaction_date`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentTransaction
	for rows.Next() {
		var p models.PaymentTransaction
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
