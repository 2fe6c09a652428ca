package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testFirstPayment = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func scheduleInput(loanID int64) GenerateScheduleInput {
	return GenerateScheduleInput{
		LoanID:           loanID,
		ClientID:         77,
		ProductCode:      "MFI-STD",
		Principal:        dec("10000"),
		AnnualRate:       dec("0.24"),
		TermMonths:       12,
		FirstPaymentDate: testFirstPayment,
		CorrelationID:    "corr-1",
		Actor:            "loan-officer",
	}
}

func TestGenerateScheduleCreatesInstallments(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	svc := NewScheduleService(store, sink, testLogger())

	scheduleID, err := svc.GenerateSchedule(context.Background(), scheduleInput(1))
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if scheduleID == 0 {
		t.Fatal("expected non-zero schedule id")
	}

	schedule, err := svc.GetScheduleByLoanID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetScheduleByLoanID: %v", err)
	}
	if len(schedule.Installments) != 12 {
		t.Errorf("expected 12 installments, got %d", len(schedule.Installments))
	}
	if !schedule.MaturityDate.Equal(testFirstPayment.AddDate(0, 11, 0)) {
		t.Errorf("maturity = %s, want %s", schedule.MaturityDate, testFirstPayment.AddDate(0, 11, 0))
	}
	if got := sink.count(models.AuditScheduleGenerated); got != 1 {
		t.Errorf("expected 1 audit event, got %d", got)
	}
}

func TestGenerateScheduleIsIdempotentPerLoan(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	svc := NewScheduleService(store, sink, testLogger())

	first, err := svc.GenerateSchedule(context.Background(), scheduleInput(1))
	if err != nil {
		t.Fatalf("first GenerateSchedule: %v", err)
	}
	second, err := svc.GenerateSchedule(context.Background(), scheduleInput(1))
	if err != nil {
		t.Fatalf("second GenerateSchedule: %v", err)
	}

	if first != second {
		t.Errorf("schedule ids differ: %d vs %d", first, second)
	}
	schedule, _ := svc.GetScheduleByLoanID(context.Background(), 1)
	if len(schedule.Installments) != 12 {
		t.Errorf("duplicate call changed installment count: %d", len(schedule.Installments))
	}
	if got := sink.count(models.AuditScheduleGenerated); got != 1 {
		t.Errorf("expected exactly 1 audit event after duplicate call, got %d", got)
	}
}

func TestGenerateScheduleRejectsInvalidTerms(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	svc := NewScheduleService(store, sink, testLogger())

	in := scheduleInput(1)
	in.Principal = dec("0")
	if _, err := svc.GenerateSchedule(context.Background(), in); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.GetScheduleByLoanID(context.Background(), 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected no schedule persisted, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("expected no audit events, got %d", len(sink.events))
	}
}

func TestGenerateScheduleSurvivesAuditFailure(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{err: errors.New("audit sink down")}
	svc := NewScheduleService(store, sink, testLogger())

	scheduleID, err := svc.GenerateSchedule(context.Background(), scheduleInput(1))
	if err != nil {
		t.Fatalf("GenerateSchedule should not fail on audit error: %v", err)
	}
	if scheduleID == 0 {
		t.Error("expected schedule id despite audit failure")
	}
}

func TestGetScheduleByLoanIDNotFound(t *testing.T) {
	svc := NewScheduleService(newFakeStore(), &recordingSink{}, testLogger())
	if _, err := svc.GetScheduleByLoanID(context.Background(), 404); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
