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

// ClassificationOutcome reports the result of classifying one loan.
type ClassificationOutcome struct {
	LoanID          int64                 `json:"loan_id"`
	Classification  models.Classification `json:"classification"`
	Previous        models.Classification `json:"previous"`
	Changed         bool                  `json:"changed"`
	DaysPastDue     int                   `json:"days_past_due"`
	ProvisionRate   decimal.Decimal       `json:"provision_rate"`
	ProvisionAmount decimal.Decimal       `json:"provision_amount"`
	IsNonAccrual    bool                  `json:"is_non_accrual"`
}

// ArrearsService recomputes days past due and drives the classification
// state machine.
type ArrearsService struct {
	schedules       ScheduleRepository
	classifications ClassificationRepository
	sink            audit.Sink
	notifier        notification.Notifier
	log             *logrus.Logger
	now             func() time.Time
}

// NewArrearsService initializes a new arrears classification service
func NewArrearsService(schedules ScheduleRepository, classifications ClassificationRepository, sink audit.Sink, notifier notification.Notifier, log *logrus.Logger) *ArrearsService {
	return &ArrearsService{
		schedules:       schedules,
		classifications: classifications,
		sink:            sink,
		notifier:        notifier,
		log:             log,
		now:             time.Now,
	}
}

// daysBetween counts whole days from 'from' to 'to', never negative
func daysBetween(from, to time.Time) int {
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// ClassifyLoan recomputes the loan's days past due, refreshes overdue flags
// on its installments and, when the classification changed since the last
// recorded entry, appends a history row. An unchanged classification writes
// no history and emits no audit event, so repeated sweeps do not grow the
// log. A version conflict with concurrent payment processing reloads the
// installments and recomputes, up to maxApplyRetries times.
func (s *ArrearsService) ClassifyLoan(ctx context.Context, loanID int64) (*ClassificationOutcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, err := s.classifyOnce(ctx, loanID)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, apperrors.ErrVersionConflict) && attempt < maxApplyRetries {
			s.log.Warnf("Version conflict classifying loan %d, attempt %d", loanID, attempt)
			continue
		}
		if errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: loan %d", apperrors.ErrConflict, loanID)
		}
		return nil, err
	}
}

func (s *ArrearsService) classifyOnce(ctx context.Context, loanID int64) (*ClassificationOutcome, error) {
	schedule, err := s.schedules.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	asOf := s.now().UTC()
	dpd := 0
	var overdue []models.Installment
	for _, inst := range schedule.Installments {
		if inst.Outstanding().LessThanOrEqual(allocation.Tolerance) {
			continue
		}
		instDPD := daysBetween(inst.DueDate, asOf)
		if dpd == 0 {
			// Installments arrive ordered, so the first unpaid one is the
			// earliest and carries the loan-level DPD
			dpd = instDPD
		}
		if instDPD > 0 {
			inst.Status = models.InstallmentOverdue
			inst.DaysPastDue = instDPD
			overdue = append(overdue, inst)
		}
	}

	band := models.ClassifyDPD(dpd)
	outstanding := models.Summarize(schedule.Installments).RemainingPrincipal
	provision := outstanding.Mul(band.ProvisionRate).Round(2)
	if band.Classification == models.ClassLoss {
		provision = outstanding
	}

	previous := models.ClassCurrent
	latest, err := s.classifications.LatestByLoanID(ctx, loanID)
	if err == nil {
		previous = latest.NewClassification
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load classification history for loan %d: %w", loanID, err)
	}

	outcome := &ClassificationOutcome{
		LoanID:          loanID,
		Classification:  band.Classification,
		Previous:        previous,
		Changed:         band.Classification != previous,
		DaysPastDue:     dpd,
		ProvisionRate:   band.ProvisionRate,
		ProvisionAmount: provision,
		IsNonAccrual:    band.NonAccrual,
	}

	if !outcome.Changed {
		if len(overdue) > 0 {
			if err := s.classifications.UpdateOverdueFlags(ctx, overdue); err != nil {
				return nil, fmt.Errorf("failed to refresh overdue flags for loan %d: %w", loanID, err)
			}
		}
		return outcome, nil
	}

	history := &models.ArrearsClassificationHistory{
		LoanID:                 loanID,
		PreviousClassification: previous,
		NewClassification:      band.Classification,
		DaysPastDue:            dpd,
		OutstandingBalance:     outstanding,
		ProvisionRate:          band.ProvisionRate,
		ProvisionAmount:        provision,
		IsNonAccrual:           band.NonAccrual,
		ClassifiedAt:           asOf,
		TriggeredBy:            "arrears-sweep",
	}

	if err := s.classifications.RecordClassification(ctx, history, overdue); err != nil {
		if errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record classification for loan %d: %w", loanID, err)
	}

	s.emitAudit(ctx, models.AuditEvent{
		ID:            uuid.NewString(),
		Action:        models.AuditLoanReclassified,
		EntityType:    "Loan",
		EntityID:      fmt.Sprintf("%d", loanID),
		Actor:         history.TriggeredBy,
		CorrelationID: schedule.CorrelationID,
		Timestamp:     asOf,
		Payload: map[string]interface{}{
			"previous":         string(previous),
			"new":              string(band.Classification),
			"days_past_due":    dpd,
			"provision_amount": provision.StringFixed(2),
		},
	})

	if band.Classification.Severity() >= models.ClassSubstandard.Severity() {
		if err := s.notifier.Send(ctx, loanID, schedule.ClientID, notification.KindArrearsEscalation, map[string]string{
			"classification": string(band.Classification),
			"days_past_due":  fmt.Sprintf("%d", dpd),
			"provision":      provision.StringFixed(2),
		}); err != nil {
			s.log.Warnf("Arrears notification failed for loan %d: %v", loanID, err)
		}
	}

	s.log.Infof("Loan %d reclassified %s -> %s (DPD %d, provision %s)",
		loanID, previous, band.Classification, dpd, provision.StringFixed(2))
	return outcome, nil
}

// ClassifyAllLoans sweeps every loan with an active schedule. Per-loan
// failures are logged and skipped so one contended loan cannot stall the
// sweep; the count of successfully processed loans is returned.
func (s *ArrearsService) ClassifyAllLoans(ctx context.Context) (int, error) {
	loanIDs, err := s.schedules.ListActiveLoanIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active loans: %w", err)
	}

	processed := 0
	for _, loanID := range loanIDs {
		if _, err := s.ClassifyLoan(ctx, loanID); err != nil {
			s.log.Errorf("Classification sweep failed for loan %d: %v", loanID, err)
			continue
		}
		processed++
	}

	s.log.Infof("Classification sweep processed %d of %d loans", processed, len(loanIDs))
	return processed, nil
}

// GetArrearsSummary counts loans per classification bucket.
func (s *ArrearsService) GetArrearsSummary(ctx context.Context) (models.ArrearsSummary, error) {
	return s.classifications.Summary(ctx)
}

func (s *ArrearsService) emitAudit(ctx context.Context, event models.AuditEvent) {
	if err := s.sink.Record(ctx, event); err != nil {
		s.log.Warnf("Audit emission failed for %s %s: %v", event.Action, event.EntityID, err)
	}
}
