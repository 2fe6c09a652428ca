package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/ingestion"
	"github.com/zamcash/loan-servicing/internal/middleware"
	"github.com/zamcash/loan-servicing/internal/models"
	"github.com/zamcash/loan-servicing/internal/service"
)

// Handler exposes the orchestrator-facing servicing operations over HTTP
type Handler struct {
	schedules *service.ScheduleService
	payments  *service.PaymentService
	arrears   *service.ArrearsService
	batches   *ingestion.Service
	validate  *validator.Validate
	log       *logrus.Logger
}

// NewHandler initializes a new handler
func NewHandler(schedules *service.ScheduleService, payments *service.PaymentService, arrears *service.ArrearsService, batches *ingestion.Service, log *logrus.Logger) *Handler {
	return &Handler{
		schedules: schedules,
		payments:  payments,
		arrears:   arrears,
		batches:   batches,
		validate:  validator.New(),
		log:       log,
	}
}

// Register wires the handler's routes onto the router
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/loans/{loanID}/schedule", h.GenerateSchedule).Methods("POST")
	r.HandleFunc("/loans/{loanID}/schedule", h.GetSchedule).Methods("GET")
	r.HandleFunc("/loans/{loanID}/classify", h.ClassifyLoan).Methods("POST")
	r.HandleFunc("/payments", h.ProcessPayment).Methods("POST")
	r.HandleFunc("/payments/batch", h.ProcessBatch).Methods("POST")
	r.HandleFunc("/payments/unreconciled", h.GetUnreconciledPayments).Methods("GET")
	r.HandleFunc("/payments/{paymentID}/reconcile", h.ReconcilePayment).Methods("POST")
	r.HandleFunc("/classification/run", h.ClassifyAllLoans).Methods("POST")
	r.HandleFunc("/classification/summary", h.GetArrearsSummary).Methods("GET")
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

// respondError maps the error taxonomy onto HTTP status codes
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("Request failed: %v", err)
	}
	h.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", apperrors.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperrors.ErrValidation, name)
	}
	return id, nil
}

// parseAmount parses a decimal request field. Amounts travel as strings so
// clients never round them through binary floats.
func parseAmount(value, field string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid %s %q", apperrors.ErrValidation, field, value)
	}
	return amount, nil
}

type generateScheduleRequest struct {
	ClientID         int64  `json:"client_id" validate:"required"`
	ProductCode      string `json:"product_code" validate:"required"`
	Principal        string `json:"principal" validate:"required"`
	AnnualRate       string `json:"annual_interest_rate" validate:"required"`
	TermMonths       int    `json:"term_months" validate:"required,gt=0"`
	FirstPaymentDate string `json:"first_payment_date" validate:"required"`
	CorrelationID    string `json:"correlation_id"`
}

// GenerateSchedule handles idempotent schedule generation for a loan
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "loanID")
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req generateScheduleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	principal, err := parseAmount(req.Principal, "principal")
	if err != nil {
		h.respondError(w, err)
		return
	}
	rate, err := parseAmount(req.AnnualRate, "annual_interest_rate")
	if err != nil {
		h.respondError(w, err)
		return
	}
	firstPayment, err := time.Parse("2006-01-02", req.FirstPaymentDate)
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: first_payment_date must be YYYY-MM-DD", apperrors.ErrValidation))
		return
	}

	scheduleID, err := h.schedules.GenerateSchedule(r.Context(), service.GenerateScheduleInput{
		LoanID:           loanID,
		ClientID:         req.ClientID,
		ProductCode:      req.ProductCode,
		Principal:        principal,
		AnnualRate:       rate,
		TermMonths:       req.TermMonths,
		FirstPaymentDate: firstPayment,
		CorrelationID:    req.CorrelationID,
		Actor:            middleware.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int64{"schedule_id": scheduleID})
}

// GetSchedule returns a loan's schedule with installments and summary
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "loanID")
	if err != nil {
		h.respondError(w, err)
		return
	}

	schedule, err := h.schedules.GetScheduleByLoanID(r.Context(), loanID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"schedule": schedule,
		"summary":  models.Summarize(schedule.Installments),
	})
}

type processPaymentRequest struct {
	LoanID               int64  `json:"loan_id" validate:"required"`
	ClientID             int64  `json:"client_id" validate:"required"`
	TransactionReference string `json:"transaction_reference" validate:"required"`
	PaymentMethod        string `json:"payment_method" validate:"required"`
	Source               string `json:"source"`
	Amount               string `json:"amount" validate:"required"`
	TransactionDate      string `json:"transaction_date" validate:"required"`
	ExternalReference    string `json:"external_reference"`
	Notes                string `json:"notes"`
	CorrelationID        string `json:"correlation_id"`
}

// ProcessPayment handles idempotent payment application
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		h.respondError(w, err)
		return
	}
	txDate, err := time.Parse(time.RFC3339, req.TransactionDate)
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: transaction_date must be RFC 3339", apperrors.ErrValidation))
		return
	}

	paymentID, err := h.payments.ProcessPayment(r.Context(), service.ProcessPaymentInput{
		LoanID:               req.LoanID,
		ClientID:             req.ClientID,
		TransactionReference: req.TransactionReference,
		PaymentMethod:        models.PaymentMethod(req.PaymentMethod),
		Source:               req.Source,
		Amount:               amount,
		TransactionDate:      txDate,
		ExternalReference:    req.ExternalReference,
		Notes:                req.Notes,
		Actor:                middleware.ActorFromContext(r.Context()),
		CorrelationID:        req.CorrelationID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int64{"payment_id": paymentID})
}

// ProcessBatch handles settlement batch file intake
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: failed to read batch body: %v", apperrors.ErrValidation, err))
		return
	}

	result, err := h.batches.ProcessBatch(r.Context(), raw, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

type reconcileRequest struct {
	Comments string `json:"comments"`
}

// ReconcilePayment marks a payment reconciled
func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "paymentID")
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req reconcileRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.payments.ReconcilePayment(r.Context(), paymentID, middleware.ActorFromContext(r.Context()), req.Comments); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reconciled"})
}

// GetUnreconciledPayments lists payments awaiting reconciliation
func (h *Handler) GetUnreconciledPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.GetUnreconciledPayments(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

// ClassifyLoan reclassifies a single loan
func (h *Handler) ClassifyLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "loanID")
	if err != nil {
		h.respondError(w, err)
		return
	}

	outcome, err := h.arrears.ClassifyLoan(r.Context(), loanID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, outcome)
}

// ClassifyAllLoans runs a classification sweep over every active loan
func (h *Handler) ClassifyAllLoans(w http.ResponseWriter, r *http.Request) {
	processed, err := h.arrears.ClassifyAllLoans(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// GetArrearsSummary returns loan counts per classification bucket
func (h *Handler) GetArrearsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.arrears.GetArrearsSummary(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}
