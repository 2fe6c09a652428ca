package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/amortization"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/audit"
	"github.com/zamcash/loan-servicing/internal/models"
)

// GenerateScheduleInput carries the approved loan terms for schedule
// generation.
type GenerateScheduleInput struct {
	LoanID           int64
	ClientID         int64
	ProductCode      string
	Principal        decimal.Decimal
	AnnualRate       decimal.Decimal
	TermMonths       int
	FirstPaymentDate time.Time
	CorrelationID    string
	Actor            string
}

// ScheduleService creates and serves repayment schedules
type ScheduleService struct {
	schedules ScheduleRepository
	sink      audit.Sink
	log       *logrus.Logger
}

// NewScheduleService initializes a new schedule service
func NewScheduleService(schedules ScheduleRepository, sink audit.Sink, log *logrus.Logger) *ScheduleService {
	return &ScheduleService{schedules: schedules, sink: sink, log: log}
}

// GenerateSchedule amortizes the loan terms and persists the schedule with
// its installments. The operation is idempotent per loan: when a schedule
// already exists its id is returned unchanged, with no recomputation and no
// second audit event.
func (s *ScheduleService) GenerateSchedule(ctx context.Context, in GenerateScheduleInput) (int64, error) {
	if in.LoanID <= 0 {
		return 0, fmt.Errorf("%w: loan id is required", apperrors.ErrValidation)
	}

	existing, err := s.schedules.GetByLoanID(ctx, in.LoanID)
	if err == nil {
		s.log.Infof("Schedule already exists for loan %d, returning schedule %d", in.LoanID, existing.ID)
		return existing.ID, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up schedule for loan %d: %w", in.LoanID, err)
	}

	installments, err := amortization.Generate(amortization.Terms{
		Principal:        in.Principal,
		AnnualRate:       in.AnnualRate,
		TermMonths:       in.TermMonths,
		FirstPaymentDate: in.FirstPaymentDate,
	})
	if err != nil {
		return 0, err
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	schedule := &models.RepaymentSchedule{
		LoanID:             in.LoanID,
		ClientID:           in.ClientID,
		ProductCode:        in.ProductCode,
		PrincipalAmount:    in.Principal,
		AnnualInterestRate: in.AnnualRate,
		TermMonths:         in.TermMonths,
		Frequency:          models.FrequencyMonthly,
		FirstPaymentDate:   in.FirstPaymentDate,
		MaturityDate:       installments[len(installments)-1].DueDate,
		GeneratedAt:        time.Now().UTC(),
		GeneratedBy:        in.Actor,
		CorrelationID:      correlationID,
		Installments:       installments,
	}

	if err := s.schedules.CreateWithInstallments(ctx, schedule); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// Lost the insert race to a concurrent duplicate delivery;
			// the winner's schedule is the schedule
			winner, lookupErr := s.schedules.GetByLoanID(ctx, in.LoanID)
			if lookupErr != nil {
				return 0, fmt.Errorf("failed to resolve duplicate schedule for loan %d: %w", in.LoanID, lookupErr)
			}
			s.log.Infof("Concurrent schedule generation for loan %d, returning schedule %d", in.LoanID, winner.ID)
			return winner.ID, nil
		}
		return 0, fmt.Errorf("failed to persist schedule for loan %d: %w", in.LoanID, err)
	}

	s.emitAudit(ctx, models.AuditEvent{
		ID:            uuid.NewString(),
		Action:        models.AuditScheduleGenerated,
		EntityType:    "RepaymentSchedule",
		EntityID:      fmt.Sprintf("%d", schedule.ID),
		Actor:         in.Actor,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Payload: map[string]interface{}{
			"loan_id":      in.LoanID,
			"principal":    in.Principal.StringFixed(2),
			"term_months":  in.TermMonths,
			"installments": len(installments),
		},
	})

	s.log.Infof("Schedule %d generated for loan %d: %d installments, maturity %s",
		schedule.ID, in.LoanID, len(installments), schedule.MaturityDate.Format("2006-01-02"))
	return schedule.ID, nil
}

// GetScheduleByLoanID returns a loan's schedule with installments, or
// apperrors.ErrNotFound.
func (s *ScheduleService) GetScheduleByLoanID(ctx context.Context, loanID int64) (*models.RepaymentSchedule, error) {
	schedule, err := s.schedules.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// emitAudit records the event, logging failures instead of propagating them
func (s *ScheduleService) emitAudit(ctx context.Context, event models.AuditEvent) {
	if err := s.sink.Record(ctx, event); err != nil {
		s.log.Warnf("Audit emission failed for %s %s: %v", event.Action, event.EntityID, err)
	}
}
