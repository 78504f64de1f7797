package model

import (
	"errors"
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPrinted    OrderStatus = "PRINTED"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var (
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrPaymentMismatch   = errors.New("order already paid with a different payment reference")
)

// fulfillmentRank orders the forward lifecycle. CANCELLED is not ranked; it
// is reachable from any non-terminal status via ApplyCancel.
var fulfillmentRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusPaid:       1,
	OrderStatusProcessing: 2,
	OrderStatusPrinted:    3,
	OrderStatusShipped:    4,
	OrderStatusDelivered:  5,
}

type Order struct {
	ID               string      `json:"id"`
	CustomerEmail    string      `json:"customer_email"`
	ProductTitle     string      `json:"product_title"`
	AssetRef         *string     `json:"asset_ref,omitempty"` // Rendered artwork handle, set by the rendering pipeline
	Status           OrderStatus `json:"status"`
	PaymentReference *string     `json:"payment_reference,omitempty"`
	ChargeReference  *string     `json:"charge_reference,omitempty"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
	Notes            string      `json:"notes,omitempty"` // Append-only audit trail
	Version          int         `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// RefundDetail carries the refund fields extracted from a provider event.
type RefundDetail struct {
	RefundRef   string `json:"refund_ref"`
	ChargeRef   string `json:"charge_ref,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
}

// OrderRefund is one persisted refund against an order. RefundRef is unique
// across the table so a refund event replayed under a fresh event id still
// records only once.
type OrderRefund struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	RefundRef   string    `json:"refund_ref"`
	ChargeRef   *string   `json:"charge_ref,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another. PAID is only reachable from PENDING (through ApplyPayment),
// fulfillment statuses move strictly forward from PAID onwards, and
// CANCELLED is reachable from everything non-terminal.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case OrderStatusPending:
		return false
	case OrderStatusPaid:
		return from == OrderStatusPending
	case OrderStatusCancelled:
		return !from.IsTerminal()
	default:
		fromRank, fromOK := fulfillmentRank[from]
		toRank, toOK := fulfillmentRank[to]
		return fromOK && toOK && fromRank >= fulfillmentRank[OrderStatusPaid] && toRank > fromRank
	}
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch status := OrderStatus(s); status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusPrinted,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// ApplyPayment transitions an order to PAID. It is a pure function: the
// caller persists the returned copy. The boolean reports whether anything
// changed; a replay of the same payment reference returns (order, false, nil)
// so webhook redeliveries stay invisible.
func ApplyPayment(o Order, paymentRef, chargeRef string, now time.Time) (Order, bool, error) {
	if paymentRef == "" {
		return o, false, fmt.Errorf("%w: empty payment reference", ErrInvalidTransition)
	}
	if o.Status == OrderStatusCancelled {
		return o, false, fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, o.ID)
	}
	if o.PaidAt != nil {
		if o.PaymentReference != nil && *o.PaymentReference == paymentRef {
			return o, false, nil
		}
		return o, false, fmt.Errorf("%w: order %s", ErrPaymentMismatch, o.ID)
	}
	o.Status = OrderStatusPaid
	o.PaymentReference = &paymentRef
	if chargeRef != "" {
		o.ChargeReference = &chargeRef
	}
	o.PaidAt = &now
	o.Notes = appendNote(o.Notes, now, "payment received ("+paymentRef+")")
	return o, true, nil
}

// ApplyRefund records a refund note against a paid order. Deduplication by
// refund reference happens at the persistence layer; this function assumes
// the refund is new.
func ApplyRefund(o Order, r RefundDetail, now time.Time) (Order, error) {
	if o.PaidAt == nil {
		return o, fmt.Errorf("%w: order %s has no recorded payment", ErrInvalidTransition, o.ID)
	}
	if o.ChargeReference == nil && r.ChargeRef != "" {
		ref := r.ChargeRef
		o.ChargeReference = &ref
	}
	note := fmt.Sprintf("refund recorded %s (%d %s)", r.RefundRef, r.AmountCents, r.Currency)
	o.Notes = appendNote(o.Notes, now, note)
	return o, nil
}

func ApplyCancel(o Order, reason string, now time.Time) (Order, error) {
	if o.Status.IsTerminal() {
		return o, fmt.Errorf("%w: cannot cancel %s order %s", ErrInvalidTransition, o.Status, o.ID)
	}
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	note := "order cancelled"
	if reason != "" {
		note += ": " + reason
	}
	o.Notes = appendNote(o.Notes, now, note)
	return o, nil
}

// ApplyAdvance moves a paid order one or more steps forward through
// fulfillment. PAID and CANCELLED have dedicated entry points and are
// rejected here.
func ApplyAdvance(o Order, next OrderStatus, now time.Time) (Order, error) {
	switch next {
	case OrderStatusProcessing, OrderStatusPrinted, OrderStatusShipped, OrderStatusDelivered:
	default:
		return o, fmt.Errorf("%w: %s is not a fulfillment status", ErrInvalidTransition, next)
	}
	if !CanTransition(o.Status, next) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.Notes = appendNote(o.Notes, now, "status advanced to "+string(next))
	return o, nil
}

func appendNote(notes string, now time.Time, line string) string {
	return notes + now.UTC().Format(time.RFC3339) + " " + line + "\n"
}
