package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/app/worker"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/mail"
)

type captureMailer struct {
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newNotificationFixture(t *testing.T) (repository.OrderRepository, *captureMailer, *service.NotificationService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orderRepo := repository.NewMemoryOrderRepository()
	mailer := &captureMailer{}
	svc := service.NewNotificationService(orderRepo, mailer,
		"orders@villagecalendars.com", "ops@villagecalendars.com", "https://villagecalendars.com", logger)
	return orderRepo, mailer, svc
}

func seedPaidOrder(t *testing.T, repo repository.OrderRepository, assetRef *string) *model.Order {
	t.Helper()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	paymentRef := "pi_1"
	order := &model.Order{
		ID:               "ord_1",
		CustomerEmail:    "pat@example.com",
		ProductTitle:     "Village Calendar 2027",
		AssetRef:         assetRef,
		Status:           model.OrderStatusPaid,
		PaymentReference: &paymentRef,
		PaidAt:           &paidAt,
	}
	if err := repo.Create(context.Background(), nil, order); err != nil {
		t.Fatalf("seeding order: %v", err)
	}
	return order
}

func TestSendOrderConfirmation_PaidOrder(t *testing.T) {
	repo, mailer, svc := newNotificationFixture(t)
	assetRef := "asset-abc123"
	order := seedPaidOrder(t, repo, &assetRef)

	err := svc.SendOrderConfirmation(context.Background(), model.Job{ID: "job_1", ActorID: order.ID})
	if err != nil {
		t.Fatalf("SendOrderConfirmation: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}

	msg := mailer.sent[0]
	if msg.To != "pat@example.com" {
		t.Errorf("To = %q, want the customer address", msg.To)
	}
	if msg.Subject != "Order confirmation ord_1" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Village Calendar 2027") {
		t.Errorf("body omits the product title: %q", msg.Body)
	}
	wantLink := "https://villagecalendars.com/downloads/asset-abc123/village-calendar-2027.pdf"
	if !strings.Contains(msg.Body, wantLink) {
		t.Errorf("body omits the download link %q: %q", wantLink, msg.Body)
	}
}

func TestSendOrderConfirmation_NoAsset(t *testing.T) {
	repo, mailer, svc := newNotificationFixture(t)
	order := seedPaidOrder(t, repo, nil)

	if err := svc.SendOrderConfirmation(context.Background(), model.Job{ActorID: order.ID}); err != nil {
		t.Fatalf("SendOrderConfirmation: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}
	if strings.Contains(mailer.sent[0].Body, "Download") {
		t.Errorf("body advertises a download for an order without an asset: %q", mailer.sent[0].Body)
	}
}

func TestSendOrderConfirmation_MissingOrderIsFatal(t *testing.T) {
	_, mailer, svc := newNotificationFixture(t)

	err := svc.SendOrderConfirmation(context.Background(), model.Job{ActorID: "ord_missing"})
	if !worker.IsFatal(err) {
		t.Fatalf("err = %v, want a non-retryable failure", err)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(mailer.sent))
	}
}

func TestSendOrderConfirmation_UnpaidOrderIsFatal(t *testing.T) {
	repo, _, svc := newNotificationFixture(t)
	order := &model.Order{
		ID:            "ord_1",
		CustomerEmail: "pat@example.com",
		ProductTitle:  "Village Calendar 2027",
		Status:        model.OrderStatusPending,
	}
	if err := repo.Create(context.Background(), nil, order); err != nil {
		t.Fatalf("seeding order: %v", err)
	}

	if err := svc.SendOrderConfirmation(context.Background(), model.Job{ActorID: order.ID}); !worker.IsFatal(err) {
		t.Fatalf("err = %v, want a non-retryable failure", err)
	}
}

func TestSendOrderConfirmation_MailerFailureIsRetryable(t *testing.T) {
	repo, mailer, svc := newNotificationFixture(t)
	order := seedPaidOrder(t, repo, nil)
	mailer.err = errors.New("smtp timeout")

	err := svc.SendOrderConfirmation(context.Background(), model.Job{ActorID: order.ID})
	if err == nil {
		t.Fatal("expected an error from the failing mailer")
	}
	if worker.IsFatal(err) {
		t.Errorf("err = %v, a delivery failure must stay retryable", err)
	}
}

func TestSendRefundAlert(t *testing.T) {
	repo, mailer, svc := newNotificationFixture(t)
	order := seedPaidOrder(t, repo, nil)

	chargeRef := "ch_1"
	fresh, err := repo.CreateRefund(context.Background(), nil, &model.OrderRefund{
		ID:          "ref_row_1",
		OrderID:     order.ID,
		RefundRef:   "re_1",
		ChargeRef:   &chargeRef,
		AmountCents: 1250,
		Currency:    "usd",
	})
	if err != nil || !fresh {
		t.Fatalf("seeding refund: fresh=%v err=%v", fresh, err)
	}

	if err := svc.SendRefundAlert(context.Background(), model.Job{ActorID: order.ID}); err != nil {
		t.Fatalf("SendRefundAlert: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}

	msg := mailer.sent[0]
	if msg.To != "ops@villagecalendars.com" {
		t.Errorf("To = %q, want the ops inbox", msg.To)
	}
	if !strings.Contains(msg.Body, "- re_1: 1250 USD") {
		t.Errorf("body omits the refund line: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, order.CustomerEmail) {
		t.Errorf("body omits the customer address: %q", msg.Body)
	}
}
