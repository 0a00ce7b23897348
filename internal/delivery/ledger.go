// Package delivery defines the durable audit trail of polling-engine
// outcomes per invoice. The ledger is diagnostic only: the dedup cache and
// the expected-invoice registry stay the sole authorities on state.
package delivery

import (
	"context"
	"time"
)

// Outcome values recorded per attempt.
const (
	OutcomePersisted      = "persisted"
	OutcomeDelivered      = "delivered"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomeRenotified     = "renotified"
	OutcomeRetry          = "retry"
	OutcomeExpired        = "expired"
)

// AttemptRecord is one durable processing outcome for an invoice.
type AttemptRecord struct {
	ID            int64
	AttemptID     string
	InvoiceNumber string
	PlayerID      string
	Stage         string
	Outcome       string
	AttemptCount  int32
	LastError     string
	CreatedAt     time.Time
}

// AttemptStore persists processing attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	ListAttemptsForInvoice(ctx context.Context, invoiceNumber string, limit int) ([]AttemptRecord, error)
}
