package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gosimple/slug"

	"github.com/teacurran/village-calendar-sub007/internal/app/worker"
	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/mail"
)

// NotificationService implements the queue handlers behind the notification
// queues. Each handler receives the claimed job and reads the order fresh, so
// a retried job always works from current state.
type NotificationService struct {
	orderRepo repository.OrderRepository
	mailer    mail.Mailer
	from      string
	opsEmail  string
	baseURL   string
	logger    *slog.Logger
}

func NewNotificationService(orderRepo repository.OrderRepository, mailer mail.Mailer, from, opsEmail, baseURL string, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		orderRepo: orderRepo,
		mailer:    mailer,
		from:      from,
		opsEmail:  opsEmail,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// SendOrderConfirmation handles jobs on the order_confirmations queue. A
// missing or unpaid order cannot be fixed by retrying, so those cases fail
// the job immediately.
func (s *NotificationService) SendOrderConfirmation(ctx context.Context, job model.Job) error {
	order, err := s.orderRepo.GetByID(ctx, job.ActorID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return worker.Fatal(fmt.Errorf("order %s not found: %w", job.ActorID, err))
		}
		return fmt.Errorf("NotificationService.SendOrderConfirmation: %w", err)
	}
	if order.PaidAt == nil {
		return worker.Fatal(fmt.Errorf("order %s has no recorded payment", order.ID))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Thank you for your order!\n\n")
	fmt.Fprintf(&body, "Order %s: %s\n", order.ID, order.ProductTitle)
	fmt.Fprintf(&body, "Paid at %s", order.PaidAt.UTC().Format("2006-01-02 15:04 MST"))
	if order.PaymentReference != nil {
		fmt.Fprintf(&body, " (payment %s)", *order.PaymentReference)
	}
	body.WriteString("\n")
	if order.AssetRef != nil {
		name := slug.Make(order.ProductTitle)
		if name == "" {
			name = "calendar"
		}
		fmt.Fprintf(&body, "\nDownload your proof: %s/downloads/%s/%s.pdf\n", s.baseURL, *order.AssetRef, name)
	}

	msg := mail.Message{
		From:    s.from,
		To:      order.CustomerEmail,
		Subject: fmt.Sprintf("Order confirmation %s", order.ID),
		Body:    body.String(),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("NotificationService.SendOrderConfirmation send: %w", err)
	}
	s.logger.Info("order confirmation sent", "order_id", order.ID, "to", order.CustomerEmail)
	return nil
}

// SendRefundAlert handles jobs on the refund_alerts queue. It mails the ops
// inbox a summary of every refund recorded against the order so far.
func (s *NotificationService) SendRefundAlert(ctx context.Context, job model.Job) error {
	order, err := s.orderRepo.GetByID(ctx, job.ActorID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return worker.Fatal(fmt.Errorf("order %s not found: %w", job.ActorID, err))
		}
		return fmt.Errorf("NotificationService.SendRefundAlert: %w", err)
	}
	refunds, err := s.orderRepo.ListRefunds(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("NotificationService.SendRefundAlert refunds: %w", err)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Refund activity on order %s (%s)\n", order.ID, order.CustomerEmail)
	fmt.Fprintf(&body, "Status: %s\n\n", order.Status)
	if len(refunds) == 0 {
		body.WriteString("No refund rows recorded yet.\n")
	}
	for _, r := range refunds {
		fmt.Fprintf(&body, "- %s: %d %s at %s\n", r.RefundRef, r.AmountCents, strings.ToUpper(r.Currency), r.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	msg := mail.Message{
		From:    s.from,
		To:      s.opsEmail,
		Subject: fmt.Sprintf("Refund alert: order %s", order.ID),
		Body:    body.String(),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("NotificationService.SendRefundAlert send: %w", err)
	}
	s.logger.Info("refund alert sent", "order_id", order.ID, "refunds", len(refunds))
	return nil
}
