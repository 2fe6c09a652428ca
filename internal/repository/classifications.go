package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

// LatestByLoanID returns the most recent classification history row for the
// loan
func (r *Repository) LatestByLoanID(ctx context.Context, loanID int64) (*models.ArrearsClassificationHistory, error) {
	h := &models.ArrearsClassificationHistory{}
	query := `
		SELECT id, loan_id, previous_classification, new_classification,
		       days_past_due, outstanding_balance, provision_rate,
		       provision_amount, is_non_accrual, classified_at, triggered_by
		FROM servicing.arrears_classification_history
		WHERE loan_id = $1
		ORDER BY classified_at DESC, id DESC
		LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, loanID).Scan(
		&h.ID, &h.LoanID, &h.PreviousClassification, &h.NewClassification,
		&h.DaysPastDue, &h.OutstandingBalance, &h.ProvisionRate,
		&h.ProvisionAmount, &h.IsNonAccrual, &h.ClassifiedAt, &h.TriggeredBy,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no classification history for loan %d", apperrors.ErrNotFound, loanID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load classification history for loan %d: %w", loanID, err)
	}
	return h, nil
}

// RecordClassification appends a history row and refreshes overdue flags in
// one transaction
func (r *Repository) RecordClassification(ctx context.Context, history *models.ArrearsClassificationHistory, overdue []models.Installment) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for i := range overdue {
			if err := updateInstallmentTx(ctx, tx, &overdue[i]); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO servicing.arrears_classification_history
				(loan_id, previous_classification, new_classification, days_past_due,
				 outstanding_balance, provision_rate, provision_amount, is_non_accrual,
				 classified_at, triggered_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			history.LoanID, history.PreviousClassification, history.NewClassification,
			history.DaysPastDue, history.OutstandingBalance, history.ProvisionRate,
			history.ProvisionAmount, history.IsNonAccrual, history.ClassifiedAt, history.TriggeredBy,
		).Scan(&history.ID)
		if err != nil {
			return fmt.Errorf("failed to append classification history: %w", err)
		}
		return nil
	})
}

// UpdateOverdueFlags refreshes overdue status and days past due without
// writing history
func (r *Repository) UpdateOverdueFlags(ctx context.Context, overdue []models.Installment) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for i := range overdue {
			if err := updateInstallmentTx(ctx, tx, &overdue[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Summary counts loans per classification bucket; loans with a schedule but
// no history row count as Current
func (r *Repository) Summary(ctx context.Context) (models.ArrearsSummary, error) {
	summary := models.ArrearsSummary{Buckets: make(map[models.Classification]int)}
	query := `
		SELECT COALESCE(h.new_classification, 'CURRENT') AS classification, COUNT(*)
		FROM servicing.repayment_schedules s
		LEFT JOIN LATERAL (
			SELECT new_classification
			FROM servicing.arrears_classification_history
			WHERE loan_id = s.loan_id
			ORDER BY classified_at DESC, id DESC
			LIMIT 1
		) h ON true
		GROUP BY 1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return summary, fmt.Errorf("failed to compute arrears summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var class models.Classification
		var count int
		if err := rows.Scan(&class, &count); err != nil {
			return summary, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.Buckets[class] = count
		summary.Total += count
	}
	return summary, rows.Err()
}
