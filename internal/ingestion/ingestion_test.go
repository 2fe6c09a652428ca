package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zamcash/loan-servicing/internal/apperrors"
	"github.com/zamcash/loan-servicing/internal/models"
)

const sampleBatch = `<?xml version="1.0" encoding="utf-8"?>
<SettlementBatch source="ZANACO" date="2026-01-31">
  <Txn reference="ZB-001" loanId="12" clientId="7" method="BANK_TRANSFER"
       instructed="850.00" settled="850.00" date="2026-01-30" externalRef="stmt-9912"/>
  <Txn reference="ZB-002" loanId="15" clientId="9" method="MOBILE_MONEY"
       instructed="500.00" settled="480.00" date="2026-01-30"/>
  <Txn reference="ZB-003" loanId="15" clientId="9" settled="120.00" date="2026-01-31"/>
</SettlementBatch>`

func TestParseBatch(t *testing.T) {
	source, rows, err := ParseBatch([]byte(sampleBatch))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if source != "ZANACO" {
		t.Errorf("source = %q, want ZANACO", source)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Reference != "ZB-001" || first.LoanID != 12 || first.ClientID != 7 {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Method != models.MethodBankTransfer {
		t.Errorf("method = %s, want BANK_TRANSFER", first.Method)
	}
	if !first.SettledAmount.Equal(decimal.RequireFromString("850.00")) {
		t.Errorf("settled = %s, want 850.00", first.SettledAmount)
	}
	if !first.SettledAt.Equal(time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("settled at = %s", first.SettledAt)
	}
	if first.ExternalRef != "stmt-9912" {
		t.Errorf("external ref = %q", first.ExternalRef)
	}

	// Short-settled row keeps both amounts for mismatch detection
	second := rows[1]
	if !second.InstructedAmount.Equal(decimal.RequireFromString("500.00")) ||
		!second.SettledAmount.Equal(decimal.RequireFromString("480.00")) {
		t.Errorf("second row amounts: instructed %s, settled %s", second.InstructedAmount, second.SettledAmount)
	}

	// Missing attributes fall back: method defaults to bank transfer,
	// instructed defaults to settled
	third := rows[2]
	if third.Method != models.MethodBankTransfer {
		t.Errorf("default method = %s, want BANK_TRANSFER", third.Method)
	}
	if !third.InstructedAmount.Equal(third.SettledAmount) {
		t.Errorf("instructed %s should default to settled %s", third.InstructedAmount, third.SettledAmount)
	}
}

func TestParseBatchRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not xml", "{\"reference\": \"x\"}"},
		{"wrong root", "<Batch/>"},
		{"missing reference", `<SettlementBatch source="X"><Txn loanId="1" clientId="1" settled="10" date="2026-01-01"/></SettlementBatch>`},
		{"bad loan id", `<SettlementBatch source="X"><Txn reference="r" loanId="abc" clientId="1" settled="10" date="2026-01-01"/></SettlementBatch>`},
		{"bad amount", `<SettlementBatch source="X"><Txn reference="r" loanId="1" clientId="1" settled="ten" date="2026-01-01"/></SettlementBatch>`},
		{"bad date", `<SettlementBatch source="X"><Txn reference="r" loanId="1" clientId="1" settled="10" date="yesterday"/></SettlementBatch>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseBatch([]byte(tc.body)); !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
