package models

import "time"

// Audit actions emitted by the servicing engine
const (
	AuditScheduleGenerated = "RepaymentScheduleGenerated"
	AuditPaymentProcessed  = "PaymentProcessed"
	AuditPaymentReconciled = "PaymentReconciled"
	AuditLoanReclassified  = "LoanReclassified"
)

// AuditEvent is the envelope handed to the external audit sink.
type AuditEvent struct {
	ID            string                 `json:"id"`
	Action        string                 `json:"action"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Actor         string                 `json:"actor"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}
