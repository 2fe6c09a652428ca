package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/allocation"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/audit"
	"github.com/zamcash/loan-servicing/internal/models"
	"github.com/zamcash/loan-servicing/internal/notification"
)

// maxApplyRetries bounds optimistic-lock retries on a contended loan
const maxApplyRetries = 3

// ProcessPaymentInput carries an incoming repayment.
type ProcessPaymentInput struct {
	LoanID               int64
	ClientID             int64
	TransactionReference string
	PaymentMethod        models.PaymentMethod
	Source               string
	Amount               decimal.Decimal
	TransactionDate      time.Time
	ExternalReference    string
	Notes                string
	Actor                string
	CorrelationID        string
}

func (in ProcessPaymentInput) validate() error {
	if in.LoanID <= 0 {
		return fmt.Errorf("%w: loan id is required", apperrors.ErrValidation)
	}
	if in.TransactionReference == "" {
		return fmt.Errorf("%w: transaction reference is required", apperrors.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", apperrors.ErrValidation, in.Amount)
	}
	if _, ok := models.MethodProfiles[in.PaymentMethod]; !ok {
		return fmt.Errorf("%w: unknown payment method %q", apperrors.ErrValidation, in.PaymentMethod)
	}
	return nil
}

// PaymentService applies repayments against schedules
type PaymentService struct {
	schedules ScheduleRepository
	payments  PaymentRepository
	sink      audit.Sink
	notifier  notification.Notifier
	log       *logrus.Logger
}

// NewPaymentService initializes a new payment service
func NewPaymentService(schedules ScheduleRepository, payments PaymentRepository, sink audit.Sink, notifier notification.Notifier, log *logrus.Logger) *PaymentService {
	return &PaymentService{
		schedules: schedules,
		payments:  payments,
		sink:      sink,
		notifier:  notifier,
		log:       log,
	}
}

// ProcessPayment allocates the amount across the loan's outstanding
// installments and records the payment transaction. The transaction
// reference is the idempotency key: a reference seen before returns the
// recorded payment id with no further mutation.
func (s *PaymentService) ProcessPayment(ctx context.Context, in ProcessPaymentInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	existing, err := s.payments.GetByReference(ctx, in.TransactionReference)
	if err == nil {
		s.log.Infof("Duplicate delivery of payment %s, returning transaction %d", in.TransactionReference, existing.ID)
		return existing.ID, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up payment %s: %w", in.TransactionReference, err)
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var payment *models.PaymentTransaction
	var task *models.ReconciliationTask
	for attempt := 1; ; attempt++ {
		installments, err := s.schedules.ListInstallments(ctx, in.LoanID)
		if err != nil {
			return 0, fmt.Errorf("failed to load installments for loan %d: %w", in.LoanID, err)
		}
		if len(installments) == 0 {
			return 0, fmt.Errorf("%w: no schedule for loan %d", apperrors.ErrNotFound, in.LoanID)
		}

		res, err := allocation.Allocate(installments, in.Amount)
		if err != nil {
			return 0, err
		}

		touched := res.Touched
		for i := range touched {
			if touched[i].Status == models.InstallmentPaid && touched[i].PaidDate == nil {
				paidAt := in.TransactionDate
				touched[i].PaidDate = &paidAt
			}
		}

		payment = &models.PaymentTransaction{
			LoanID:               in.LoanID,
			ClientID:             in.ClientID,
			TransactionReference: in.TransactionReference,
			PaymentMethod:        in.PaymentMethod,
			Source:               in.Source,
			Amount:               in.Amount,
			PrincipalPortion:     res.PrincipalApplied,
			InterestPortion:      res.InterestApplied,
			TransactionDate:      in.TransactionDate,
			ExternalReference:    in.ExternalReference,
			Notes:                in.Notes,
			Status:               models.TransactionConfirmed,
			CorrelationID:        correlationID,
		}

		task = nil
		if res.Leftover.GreaterThan(allocation.Tolerance) {
			task = &models.ReconciliationTask{
				TaskType: models.TaskOverPayment,
				Variance: res.Leftover,
				Status:   models.TaskPending,
			}
		}

		err = s.payments.ApplyPayment(ctx, payment, touched, task)
		if err == nil {
			break
		}
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// A concurrent delivery of the same reference won the insert
			winner, lookupErr := s.payments.GetByReference(ctx, in.TransactionReference)
			if lookupErr != nil {
				return 0, fmt.Errorf("failed to resolve duplicate payment %s: %w", in.TransactionReference, lookupErr)
			}
			s.log.Infof("Concurrent delivery of payment %s, returning transaction %d", in.TransactionReference, winner.ID)
			return winner.ID, nil
		}
		if errors.Is(err, apperrors.ErrVersionConflict) && attempt < maxApplyRetries {
			s.log.Warnf("Version conflict applying payment %s to loan %d, attempt %d", in.TransactionReference, in.LoanID, attempt)
			continue
		}
		if errors.Is(err, apperrors.ErrVersionConflict) {
			return 0, fmt.Errorf("%w: loan %d", apperrors.ErrConflict, in.LoanID)
		}
		return 0, fmt.Errorf("failed to apply payment %s: %w", in.TransactionReference, err)
	}

	s.emitAudit(ctx, models.AuditEvent{
		ID:            uuid.NewString(),
		Action:        models.AuditPaymentProcessed,
		EntityType:    "PaymentTransaction",
		EntityID:      fmt.Sprintf("%d", payment.ID),
		Actor:         in.Actor,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Payload: map[string]interface{}{
			"loan_id":   in.LoanID,
			"reference": in.TransactionReference,
			"amount":    in.Amount.StringFixed(2),
			"principal": payment.PrincipalPortion.StringFixed(2),
			"interest":  payment.InterestPortion.StringFixed(2),
		},
	})

	if err := s.notifier.Send(ctx, in.LoanID, in.ClientID, notification.KindPaymentConfirmed,
		notification.AmountPayload(in.Amount, in.TransactionReference)); err != nil {
		s.log.Warnf("Payment notification failed for loan %d: %v", in.LoanID, err)
	}

	if task != nil {
		s.log.Infof("Overpayment of %s on loan %d flagged for reconciliation", task.Variance.StringFixed(2), in.LoanID)
	}
	s.log.Infof("Payment %s applied to loan %d: %s principal, %s interest",
		in.TransactionReference, in.LoanID, payment.PrincipalPortion.StringFixed(2), payment.InterestPortion.StringFixed(2))
	return payment.ID, nil
}

// FlagMismatch opens a Mismatch reconciliation task against a recorded
// payment, used by settlement ingestion when the instructed and settled
// amounts of a batch row disagree. At most one Mismatch task exists per
// payment: a payment already flagged, as on a re-delivered batch file,
// returns apperrors.ErrAlreadyExists without a second task.
func (s *PaymentService) FlagMismatch(ctx context.Context, paymentID int64, variance decimal.Decimal) error {
	if variance.IsZero() {
		return fmt.Errorf("%w: mismatch variance must be non-zero", apperrors.ErrValidation)
	}
	task := &models.ReconciliationTask{
		PaymentTransactionID: paymentID,
		TaskType:             models.TaskMismatch,
		Variance:             variance,
		Status:               models.TaskPending,
	}
	if err := s.payments.CreateTask(ctx, task); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to flag mismatch on payment %d: %w", paymentID, err)
	}
	s.log.Infof("Mismatch of %s flagged on payment %d", variance.StringFixed(2), paymentID)
	return nil
}

// ReconcilePayment marks the payment reconciled.
func (s *PaymentService) ReconcilePayment(ctx context.Context, paymentID int64, reconciler, comments string) error {
	payment, err := s.payments.MarkReconciled(ctx, paymentID, reconciler, time.Now().UTC())
	if err != nil {
		return err
	}

	s.emitAudit(ctx, models.AuditEvent{
		ID:            uuid.NewString(),
		Action:        models.AuditPaymentReconciled,
		EntityType:    "PaymentTransaction",
		EntityID:      fmt.Sprintf("%d", payment.ID),
		Actor:         reconciler,
		CorrelationID: payment.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Payload: map[string]interface{}{
			"reference": payment.TransactionReference,
			"comments":  comments,
		},
	})

	s.log.Infof("Payment %d reconciled by %s", paymentID, reconciler)
	return nil
}

// GetUnreconciledPayments returns every payment awaiting reconciliation.
func (s *PaymentService) GetUnreconciledPayments(ctx context.Context) ([]models.PaymentTransaction, error) {
	return s.payments.ListUnreconciled(ctx)
}

func (s *PaymentService) emitAudit(ctx context.Context, event models.AuditEvent) {
	if err := s.sink.Record(ctx, event); err != nil {
		s.log.Warnf("Audit emission failed for %s %s: %v", event.Action, event.EntityID, err)
	}
}
