package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/common/security"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

// eventEnvelopeSchema constrains the envelope only. Unknown event types and
// arbitrary data.object payloads must still validate, because unrecognized
// events are acknowledged rather than rejected.
const eventEnvelopeSchema = `{
	"type": "object",
	"required": ["id", "type"],
	"properties": {
		"id":   {"type": "string", "minLength": 1},
		"type": {"type": "string", "minLength": 1},
		"data": {"type": "object"}
	}
}`

var envelopeSchema = jsonschema.MustCompileString("event_envelope.json", eventEnvelopeSchema)

// OutcomeReplay marks a delivery whose event id was already on the ledger.
// It appears in responses only; the ledger keeps the first outcome.
const OutcomeReplay = "replay"

type WebhookResult struct {
	EventID string  `json:"event_id"`
	Outcome string  `json:"outcome"`
	OrderID *string `json:"order_id,omitempty"`
}

// WebhookService is the payment-provider ingress. Signature verification
// happens before anything else touches the payload; the event ledger, the
// order mutation and the follow-up job all commit in one transaction.
type WebhookService struct {
	orders    *OrderService
	jobs      *JobService
	eventRepo repository.WebhookEventRepository
	verifier  *security.WebhookVerifier
	db        *sql.DB
	logger    *slog.Logger
}

func NewWebhookService(
	orders *OrderService,
	jobs *JobService,
	eventRepo repository.WebhookEventRepository,
	verifier *security.WebhookVerifier,
	db *sql.DB,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		orders:    orders,
		jobs:      jobs,
		eventRepo: eventRepo,
		verifier:  verifier,
		db:        db,
		logger:    logger,
	}
}

// Provider objects carried in data.object. Only the fields the ingress acts
// on are decoded.
type checkoutSessionObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Metadata      struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

type paymentIntentObject struct {
	ID           string `json:"id"`
	LatestCharge string `json:"latest_charge"`
	Metadata     struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	} `json:"refunds"`
}

// HandleEvent processes one raw webhook delivery. A nil error means the
// delivery should be acknowledged with 200; every returned error maps to a
// non-2xx status and therefore a provider redelivery.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		s.logger.Warn("webhook signature rejected", "error", err)
		return nil, err
	}

	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: event payload is not valid JSON", common.ErrValidation)
	}
	if err := envelopeSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: event envelope: %v", common.ErrValidation, err)
	}
	var event model.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: event envelope: %v", common.ErrValidation, err)
	}

	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("beginning webhook transaction: %w", err)
	}
	defer rollbackTx(tx)

	fresh, err := s.eventRepo.Record(ctx, tx, &model.WebhookEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		Outcome:    model.EventOutcomeReceived,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("recording webhook event %s: %w", event.ID, err)
	}
	if !fresh {
		s.logger.Info("webhook replay acknowledged", "event_id", event.ID, "type", event.Type)
		return &WebhookResult{EventID: event.ID, Outcome: OutcomeReplay}, nil
	}

	switch event.Type {
	case model.EventCheckoutCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session object: %v", common.ErrValidation, err)
		}
		ref := OrderRef{OrderID: session.Metadata.OrderID, PaymentRef: session.PaymentIntent}
		return s.applyPayment(ctx, tx, event, ref, session.PaymentIntent, "")

	case model.EventPaymentSucceeded:
		var intent paymentIntentObject
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("%w: payment intent object: %v", common.ErrValidation, err)
		}
		ref := OrderRef{OrderID: intent.Metadata.OrderID, PaymentRef: intent.ID}
		return s.applyPayment(ctx, tx, event, ref, intent.ID, intent.LatestCharge)

	case model.EventChargeRefunded:
		var charge chargeObject
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("%w: charge object: %v", common.ErrValidation, err)
		}
		if len(charge.Refunds.Data) == 0 {
			return nil, fmt.Errorf("%w: charge.refunded event carries no refunds", common.ErrValidation)
		}
		details := make([]model.RefundDetail, 0, len(charge.Refunds.Data))
		for _, refund := range charge.Refunds.Data {
			details = append(details, model.RefundDetail{
				RefundRef:   refund.ID,
				ChargeRef:   charge.ID,
				AmountCents: refund.Amount,
				Currency:    refund.Currency,
			})
		}
		ref := OrderRef{ChargeRef: charge.ID, PaymentRef: charge.PaymentIntent}
		return s.applyRefund(ctx, tx, event, ref, details)

	default:
		if err := s.eventRepo.SetOutcome(ctx, tx, event.ID, model.EventOutcomeIgnored, nil); err != nil {
			return nil, fmt.Errorf("marking event %s ignored: %w", event.ID, err)
		}
		if err := commitTx(tx); err != nil {
			return nil, fmt.Errorf("committing ignored event %s: %w", event.ID, err)
		}
		s.logger.Info("webhook event ignored", "event_id", event.ID, "type", event.Type)
		return &WebhookResult{EventID: event.ID, Outcome: model.EventOutcomeIgnored}, nil
	}
}

func (s *WebhookService) applyPayment(ctx context.Context, tx *sql.Tx, event model.ProviderEvent, ref OrderRef, paymentRef, chargeRef string) (*WebhookResult, error) {
	order, applied, err := s.orders.MarkPaid(ctx, tx, ref, paymentRef, chargeRef)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return s.concludeConflict(ctx, tx, event, err)
		}
		return nil, err
	}
	if !applied {
		return s.conclude(ctx, tx, event, model.EventOutcomeNoop, order.ID, "")
	}

	job, err := s.jobs.Enqueue(ctx, tx, EnqueueParams{
		QueueName: model.QueueOrderConfirmations,
		ActorID:   order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueuing confirmation for order %s: %w", order.ID, err)
	}
	return s.conclude(ctx, tx, event, model.EventOutcomeProcessed, order.ID, job.ID)
}

func (s *WebhookService) applyRefund(ctx context.Context, tx *sql.Tx, event model.ProviderEvent, ref OrderRef, details []model.RefundDetail) (*WebhookResult, error) {
	order, applied, err := s.orders.RecordRefund(ctx, tx, ref, details)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return s.concludeConflict(ctx, tx, event, err)
		}
		return nil, err
	}
	if !applied {
		return s.conclude(ctx, tx, event, model.EventOutcomeNoop, order.ID, "")
	}

	job, err := s.jobs.Enqueue(ctx, tx, EnqueueParams{
		QueueName: model.QueueRefundAlerts,
		ActorID:   order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueuing refund alert for order %s: %w", order.ID, err)
	}
	return s.conclude(ctx, tx, event, model.EventOutcomeProcessed, order.ID, job.ID)
}

// conclude stamps the ledger outcome, commits, and fires the wake-up for
// any job enqueued in the transaction. The wake-up happens strictly after
// commit so a woken worker can see the row.
func (s *WebhookService) conclude(ctx context.Context, tx *sql.Tx, event model.ProviderEvent, outcome, orderID, jobID string) (*WebhookResult, error) {
	if err := s.eventRepo.SetOutcome(ctx, tx, event.ID, outcome, &orderID); err != nil {
		return nil, fmt.Errorf("marking event %s %s: %w", event.ID, outcome, err)
	}
	if err := commitTx(tx); err != nil {
		return nil, fmt.Errorf("committing event %s: %w", event.ID, err)
	}
	if jobID != "" {
		s.jobs.Wake(ctx, jobID)
	}
	s.logger.Info("webhook event handled",
		"event_id", event.ID, "type", event.Type, "outcome", outcome, "order_id", orderID)
	return &WebhookResult{EventID: event.ID, Outcome: outcome, OrderID: &orderID}, nil
}

// concludeConflict acknowledges an event that contradicts order state.
// Redelivering such an event can never succeed, so it is acked and flagged
// for operators instead of bounced back to the provider.
func (s *WebhookService) concludeConflict(ctx context.Context, tx *sql.Tx, event model.ProviderEvent, cause error) (*WebhookResult, error) {
	if err := s.eventRepo.SetOutcome(ctx, tx, event.ID, model.EventOutcomeConflict, nil); err != nil {
		return nil, fmt.Errorf("marking event %s conflicted: %w", event.ID, err)
	}
	if err := commitTx(tx); err != nil {
		return nil, fmt.Errorf("committing conflicted event %s: %w", event.ID, err)
	}
	s.logger.Error("webhook event conflicts with order state",
		"event_id", event.ID, "type", event.Type, "error", cause)
	return &WebhookResult{EventID: event.ID, Outcome: model.EventOutcomeConflict}, nil
}
