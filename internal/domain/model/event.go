package model

import (
	"encoding/json"
	"time"
)

// Provider event types the ingress acts on. Everything else is acknowledged
// and ignored.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventChargeRefunded    = "charge.refunded"
)

// ProviderEvent is the decoded payment-provider webhook envelope.
type ProviderEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Outcomes recorded on the webhook event ledger.
const (
	EventOutcomeReceived  = "received"  // Row claimed, processing in flight
	EventOutcomeProcessed = "processed" // Order mutated, follow-up job enqueued
	EventOutcomeNoop      = "noop"      // Recognized but already applied at the order level
	EventOutcomeIgnored   = "ignored"   // Unrecognized event type
	EventOutcomeConflict  = "conflict"  // Recognized but contradicts order state
)

// WebhookEvent is one row of the processed-event ledger. EventID is the
// provider's id and is unique, which makes the ledger the idempotency guard
// for redelivered events.
type WebhookEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrderID    *string   `json:"order_id,omitempty"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"received_at"`
}
