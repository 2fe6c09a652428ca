// Package audit delivers audit events to the external audit sink. Delivery
// failures are logged and never propagated to the financial operation that
// produced the event.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zamcash/loan-servicing/internal/models"
)

// Sink accepts audit events
type Sink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// HTTPSink posts audit events as JSON to the audit service
type HTTPSink struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewHTTPSink initializes a new HTTP audit sink
func NewHTTPSink(url string, log *logrus.Logger) *HTTPSink {
	return &HTTPSink{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Record posts the event to the audit service
func (s *HTTPSink) Record(ctx context.Context, event models.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit sink returned status %d", resp.StatusCode)
	}

	s.log.Debugf("Audit event recorded: %s %s/%s", event.Action, event.EntityType, event.EntityID)
	return nil
}

// NopSink discards audit events, for deployments without an audit service
type NopSink struct{}

// Record discards the event
func (NopSink) Record(ctx context.Context, event models.AuditEvent) error {
	return nil
}
