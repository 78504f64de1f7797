package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

func paidOrder(paymentRef string) model.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	order := model.Order{
		ID:            "ord_1",
		CustomerEmail: "kim@example.com",
		ProductTitle:  "Village Calendar 2026",
		Status:        model.OrderStatusPaid,
		PaidAt:        &now,
	}
	if paymentRef != "" {
		order.PaymentReference = &paymentRef
	}
	return order
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from model.OrderStatus
		to   model.OrderStatus
		want bool
	}{
		{model.OrderStatusPending, model.OrderStatusPaid, true},
		{model.OrderStatusPending, model.OrderStatusProcessing, false},
		{model.OrderStatusPending, model.OrderStatusCancelled, true},
		{model.OrderStatusPaid, model.OrderStatusProcessing, true},
		{model.OrderStatusPaid, model.OrderStatusShipped, true},
		{model.OrderStatusPaid, model.OrderStatusPending, false},
		{model.OrderStatusProcessing, model.OrderStatusPrinted, true},
		{model.OrderStatusPrinted, model.OrderStatusProcessing, false},
		{model.OrderStatusShipped, model.OrderStatusDelivered, true},
		{model.OrderStatusShipped, model.OrderStatusCancelled, true},
		{model.OrderStatusDelivered, model.OrderStatusCancelled, false},
		{model.OrderStatusCancelled, model.OrderStatusPaid, false},
		{model.OrderStatusCancelled, model.OrderStatusCancelled, false},
		{model.OrderStatusPaid, model.OrderStatusPaid, false},
	}
	for _, tt := range tests {
		if got := model.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestApplyPayment_FreshOrder(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusPending}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	updated, applied, err := model.ApplyPayment(order, "pi_123", "ch_456", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected payment to apply")
	}
	if updated.Status != model.OrderStatusPaid {
		t.Errorf("Status = %s, want %s", updated.Status, model.OrderStatusPaid)
	}
	if updated.PaymentReference == nil || *updated.PaymentReference != "pi_123" {
		t.Errorf("PaymentReference = %v, want pi_123", updated.PaymentReference)
	}
	if updated.ChargeReference == nil || *updated.ChargeReference != "ch_456" {
		t.Errorf("ChargeReference = %v, want ch_456", updated.ChargeReference)
	}
	if updated.PaidAt == nil || !updated.PaidAt.Equal(now) {
		t.Errorf("PaidAt = %v, want %v", updated.PaidAt, now)
	}
	if !strings.Contains(updated.Notes, "payment received (pi_123)") {
		t.Errorf("Notes = %q, want a payment line", updated.Notes)
	}
	// The input snapshot stays untouched.
	if order.Status != model.OrderStatusPending || order.PaidAt != nil {
		t.Error("ApplyPayment mutated its input")
	}
}

func TestApplyPayment_ReplaySameReference(t *testing.T) {
	order := paidOrder("pi_123")

	updated, applied, err := model.ApplyPayment(order, "pi_123", "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("replay must not apply")
	}
	if updated.Notes != order.Notes {
		t.Error("replay must not append a note")
	}
}

func TestApplyPayment_ReplayAfterFulfillmentStarted(t *testing.T) {
	order := paidOrder("pi_123")
	order.Status = model.OrderStatusShipped

	_, applied, err := model.ApplyPayment(order, "pi_123", "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("replay against an advanced order must not apply")
	}
}

func TestApplyPayment_DifferentReference(t *testing.T) {
	order := paidOrder("pi_123")

	_, _, err := model.ApplyPayment(order, "pi_999", "", time.Now())
	if !errors.Is(err, model.ErrPaymentMismatch) {
		t.Fatalf("err = %v, want ErrPaymentMismatch", err)
	}
}

func TestApplyPayment_CancelledOrder(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusCancelled}

	_, _, err := model.ApplyPayment(order, "pi_123", "", time.Now())
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApplyPayment_EmptyReference(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusPending}

	_, _, err := model.ApplyPayment(order, "", "", time.Now())
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApplyRefund_PaidOrder(t *testing.T) {
	order := paidOrder("pi_123")
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	updated, err := model.ApplyRefund(order, model.RefundDetail{
		RefundRef:   "re_1",
		ChargeRef:   "ch_456",
		AmountCents: 1250,
		Currency:    "usd",
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(updated.Notes, "refund recorded re_1 (1250 usd)") {
		t.Errorf("Notes = %q, want a refund line", updated.Notes)
	}
	if updated.ChargeReference == nil || *updated.ChargeReference != "ch_456" {
		t.Errorf("ChargeReference = %v, want backfilled ch_456", updated.ChargeReference)
	}
	if updated.Status != model.OrderStatusPaid {
		t.Errorf("Status = %s, refunds must not change status", updated.Status)
	}
}

func TestApplyRefund_KeepsExistingChargeReference(t *testing.T) {
	order := paidOrder("pi_123")
	existing := "ch_original"
	order.ChargeReference = &existing

	updated, err := model.ApplyRefund(order, model.RefundDetail{RefundRef: "re_1", ChargeRef: "ch_other", AmountCents: 100}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *updated.ChargeReference != "ch_original" {
		t.Errorf("ChargeReference = %q, want ch_original", *updated.ChargeReference)
	}
}

func TestApplyRefund_UnpaidOrder(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusPending}

	_, err := model.ApplyRefund(order, model.RefundDetail{RefundRef: "re_1", AmountCents: 100}, time.Now())
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApplyCancel(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusPending}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	updated, err := model.ApplyCancel(order, "customer request", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != model.OrderStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", updated.Status)
	}
	if updated.CancelledAt == nil || !updated.CancelledAt.Equal(now) {
		t.Errorf("CancelledAt = %v, want %v", updated.CancelledAt, now)
	}
	if !strings.Contains(updated.Notes, "order cancelled: customer request") {
		t.Errorf("Notes = %q, want a cancellation line", updated.Notes)
	}
}

func TestApplyCancel_TerminalOrder(t *testing.T) {
	for _, status := range []model.OrderStatus{model.OrderStatusDelivered, model.OrderStatusCancelled} {
		order := model.Order{ID: "ord_1", Status: status}
		if _, err := model.ApplyCancel(order, "", time.Now()); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("ApplyCancel from %s: err = %v, want ErrInvalidTransition", status, err)
		}
	}
}

func TestApplyAdvance(t *testing.T) {
	tests := []struct {
		name    string
		from    model.OrderStatus
		to      model.OrderStatus
		wantErr bool
	}{
		{"paid to processing", model.OrderStatusPaid, model.OrderStatusProcessing, false},
		{"processing to shipped skips printed", model.OrderStatusProcessing, model.OrderStatusShipped, false},
		{"shipped to delivered", model.OrderStatusShipped, model.OrderStatusDelivered, false},
		{"pending cannot advance", model.OrderStatusPending, model.OrderStatusProcessing, true},
		{"no moving backwards", model.OrderStatusShipped, model.OrderStatusProcessing, true},
		{"paid is not an advance target", model.OrderStatusPending, model.OrderStatusPaid, true},
		{"cancel has its own entry point", model.OrderStatusPaid, model.OrderStatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := model.Order{ID: "ord_1", Status: tt.from}
			updated, err := model.ApplyAdvance(order, tt.to, time.Now())
			if tt.wantErr {
				if !errors.Is(err, model.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Status != tt.to {
				t.Errorf("Status = %s, want %s", updated.Status, tt.to)
			}
		})
	}
}

func TestNotesAccumulate(t *testing.T) {
	order := model.Order{ID: "ord_1", Status: model.OrderStatusPending}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	order, _, err := model.ApplyPayment(order, "pi_123", "ch_1", now)
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	order, err = model.ApplyRefund(order, model.RefundDetail{RefundRef: "re_1", AmountCents: 500, Currency: "usd"}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}

	lines := strings.Split(strings.TrimRight(order.Notes, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Notes has %d lines, want 2:\n%s", len(lines), order.Notes)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "2026-03-01T") {
			t.Errorf("note line %q is missing its timestamp prefix", line)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	if _, err := model.ParseOrderStatus("SHIPPED"); err != nil {
		t.Errorf("ParseOrderStatus(SHIPPED): %v", err)
	}
	if _, err := model.ParseOrderStatus("shipped"); err == nil {
		t.Error("ParseOrderStatus(shipped) should reject lowercase")
	}
	if _, err := model.ParseOrderStatus("UNKNOWN"); err == nil {
		t.Error("ParseOrderStatus(UNKNOWN) should fail")
	}
}
