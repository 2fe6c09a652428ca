// Package ingestion processes end-of-day settlement batch files delivered
// by partner banks and mobile-money aggregators. Each batch row becomes a
// payment-processing call; the row's transaction reference makes
// re-delivery of a whole file safe.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/allocation"
	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
	"github.com/zamcash/loan-servicing/internal/service"
)

// Row is one settlement line parsed from a batch file.
type Row struct {
	Reference        string
	LoanID           int64
	ClientID         int64
	Method           models.PaymentMethod
	InstructedAmount decimal.Decimal
	SettledAmount    decimal.Decimal
	SettledAt        time.Time
	ExternalRef      string
}

// RowError reports a batch row that could not be applied.
type RowError struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// BatchResult summarises a settlement batch run.
type BatchResult struct {
	Source     string     `json:"source"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Mismatches int        `json:"mismatches"`
	Errors     []RowError `json:"errors,omitempty"`
}

// Service applies settlement batches through the payment pipeline
type Service struct {
	payments *service.PaymentService
	log      *logrus.Logger
}

// NewService initializes a new ingestion service
func NewService(payments *service.PaymentService, log *logrus.Logger) *Service {
	return &Service{payments: payments, log: log}
}

// ParseBatch reads a settlement batch XML document:
//
//	<SettlementBatch source="ZANACO" date="2026-01-31">
//	  <Txn reference="ZB-001" loanId="12" clientId="7" method="BANK_TRANSFER"
//	       instructed="850.00" settled="850.00" date="2026-01-30" externalRef="stmt-9912"/>
//	</SettlementBatch>
func ParseBatch(raw []byte) (string, []Row, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return "", nil, fmt.Errorf("%w: failed to parse batch XML: %v", apperrors.ErrValidation, err)
	}

	batch := doc.SelectElement("SettlementBatch")
	if batch == nil {
		return "", nil, fmt.Errorf("%w: no SettlementBatch element found", apperrors.ErrValidation)
	}
	source := batch.SelectAttrValue("source", "")

	var rows []Row
	for _, txn := range batch.SelectElements("Txn") {
		row, err := parseRow(txn)
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, row)
	}
	return source, rows, nil
}

func parseRow(txn *etree.Element) (Row, error) {
	row := Row{
		Reference:   txn.SelectAttrValue("reference", ""),
		Method:      models.PaymentMethod(txn.SelectAttrValue("method", string(models.MethodBankTransfer))),
		ExternalRef: txn.SelectAttrValue("externalRef", ""),
	}
	if row.Reference == "" {
		return row, fmt.Errorf("%w: batch row missing reference", apperrors.ErrValidation)
	}

	if _, err := fmt.Sscanf(txn.SelectAttrValue("loanId", ""), "%d", &row.LoanID); err != nil {
		return row, fmt.Errorf("%w: row %s has invalid loanId", apperrors.ErrValidation, row.Reference)
	}
	if _, err := fmt.Sscanf(txn.SelectAttrValue("clientId", ""), "%d", &row.ClientID); err != nil {
		return row, fmt.Errorf("%w: row %s has invalid clientId", apperrors.ErrValidation, row.Reference)
	}

	settled, err := decimal.NewFromString(txn.SelectAttrValue("settled", ""))
	if err != nil {
		return row, fmt.Errorf("%w: row %s has invalid settled amount", apperrors.ErrValidation, row.Reference)
	}
	row.SettledAmount = settled

	instructedAttr := txn.SelectAttrValue("instructed", "")
	if instructedAttr == "" {
		row.InstructedAmount = settled
	} else {
		instructed, err := decimal.NewFromString(instructedAttr)
		if err != nil {
			return row, fmt.Errorf("%w: row %s has invalid instructed amount", apperrors.ErrValidation, row.Reference)
		}
		row.InstructedAmount = instructed
	}

	settledAt, err := time.Parse("2006-01-02", txn.SelectAttrValue("date", ""))
	if err != nil {
		return row, fmt.Errorf("%w: row %s has invalid date", apperrors.ErrValidation, row.Reference)
	}
	row.SettledAt = settledAt
	return row, nil
}

// ProcessBatch parses the batch and applies every row. Row failures are
// collected, not fatal: the rest of the file still settles, and the failed
// rows can be re-delivered later under the same references. A row whose
// instructed and settled amounts disagree is applied at the settled amount
// and flagged with a Mismatch reconciliation task.
func (s *Service) ProcessBatch(ctx context.Context, raw []byte, actor string) (*BatchResult, error) {
	source, rows, err := ParseBatch(raw)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Source: source}
	for _, row := range rows {
		paymentID, err := s.payments.ProcessPayment(ctx, service.ProcessPaymentInput{
			LoanID:               row.LoanID,
			ClientID:             row.ClientID,
			TransactionReference: row.Reference,
			PaymentMethod:        row.Method,
			Source:               source,
			Amount:               row.SettledAmount,
			TransactionDate:      row.SettledAt,
			ExternalReference:    row.ExternalRef,
			Notes:                fmt.Sprintf("settlement batch %s", source),
			Actor:                actor,
		})
		if err != nil {
			s.log.Errorf("Batch row %s failed: %v", row.Reference, err)
			result.Failed++
			result.Errors = append(result.Errors, RowError{Reference: row.Reference, Error: err.Error()})
			continue
		}
		result.Processed++

		variance := row.InstructedAmount.Sub(row.SettledAmount)
		if variance.Abs().GreaterThan(allocation.Tolerance) {
			switch err := s.payments.FlagMismatch(ctx, paymentID, variance); {
			case err == nil:
				result.Mismatches++
			case errors.Is(err, apperrors.ErrAlreadyExists):
				// Re-delivered file, the mismatch was flagged on first delivery
				s.log.Debugf("Mismatch on row %s already flagged", row.Reference)
			default:
				s.log.Errorf("Failed to flag mismatch on row %s: %v", row.Reference, err)
			}
		}
	}

	s.log.Infof("Settlement batch %s: %d processed, %d failed, %d mismatches",
		source, result.Processed, result.Failed, result.Mismatches)
	return result, nil
}
