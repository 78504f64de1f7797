package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

// versionRetryLimit bounds the re-read loop after an optimistic-concurrency
// miss. Conflicts come from concurrent webhook deliveries for the same
// order, so one or two retries settle it.
const versionRetryLimit = 3

// OrderService owns every order status transition. Transitions are computed
// by the pure functions in model and persisted with a version-guarded
// update; a stale version triggers a re-read and a fresh idempotency check,
// invisible to callers.
type OrderService struct {
	orderRepo repository.OrderRepository
	db        *sql.DB
	logger    *slog.Logger
}

func NewOrderService(orderRepo repository.OrderRepository, db *sql.DB, logger *slog.Logger) *OrderService {
	return &OrderService{orderRepo: orderRepo, db: db, logger: logger}
}

// OrderRef identifies an order by whichever references a provider event
// carries. Resolution order: order id, then payment reference, then charge
// reference.
type OrderRef struct {
	OrderID    string
	PaymentRef string
	ChargeRef  string
}

type CreateOrderParams struct {
	CustomerEmail string
	ProductTitle  string
	AssetRef      *string
}

func (s *OrderService) Create(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	if p.CustomerEmail == "" || p.ProductTitle == "" {
		return nil, fmt.Errorf("customer email and product title are required: %w", common.ErrBadRequest)
	}
	order := &model.Order{
		ID:            uuid.NewString(),
		CustomerEmail: p.CustomerEmail,
		ProductTitle:  p.ProductTitle,
		AssetRef:      p.AssetRef,
		Status:        model.OrderStatusPending,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	s.logger.Info("order created", "order_id", order.ID, "customer", order.CustomerEmail)
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*model.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]model.Order, int, error) {
	if filter.Status != "" {
		if _, err := model.ParseOrderStatus(filter.Status); err != nil {
			return nil, 0, fmt.Errorf("%v: %w", err, common.ErrBadRequest)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orderRepo.List(ctx, filter)
}

func (s *OrderService) Refunds(ctx context.Context, orderID string) ([]model.OrderRefund, error) {
	if _, err := s.orderRepo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orderRepo.ListRefunds(ctx, orderID)
}

// MarkPaid transitions the referenced order to PAID inside the caller's
// transaction. The boolean reports whether the transition applied; a
// redelivered payment event returns (order, false, nil).
func (s *OrderService) MarkPaid(ctx context.Context, tx *sql.Tx, ref OrderRef, paymentRef, chargeRef string) (*model.Order, bool, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.resolve(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		updated, applied, err := model.ApplyPayment(*order, paymentRef, chargeRef, time.Now())
		if err != nil {
			return nil, false, transitionError(err)
		}
		if !applied {
			return order, false, nil
		}
		if err := s.orderRepo.Update(ctx, tx, &updated); err != nil {
			if errors.Is(err, common.ErrVersionConflict) && attempt < versionRetryLimit {
				s.logger.Debug("order version conflict, retrying", "order_id", updated.ID, "attempt", attempt+1)
				continue
			}
			return nil, false, fmt.Errorf("persisting paid order %s: %w", updated.ID, err)
		}
		s.logger.Info("order marked paid", "order_id", updated.ID, "payment_ref", paymentRef)
		return &updated, true, nil
	}
}

// RecordRefund persists any refunds not seen before and appends one audit
// note per new refund. Previously recorded refund references are skipped, so
// the same charge.refunded event replayed under a fresh event id changes
// nothing.
func (s *OrderService) RecordRefund(ctx context.Context, tx *sql.Tx, ref OrderRef, details []model.RefundDetail) (*model.Order, bool, error) {
	order, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if order.PaidAt == nil {
		return nil, false, transitionError(
			fmt.Errorf("%w: order %s has no recorded payment", model.ErrInvalidTransition, order.ID))
	}

	newRefunds := make([]model.RefundDetail, 0, len(details))
	for _, detail := range details {
		chargeRef := detail.ChargeRef
		refund := &model.OrderRefund{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			RefundRef:   detail.RefundRef,
			AmountCents: detail.AmountCents,
			Currency:    detail.Currency,
		}
		if chargeRef != "" {
			refund.ChargeRef = &chargeRef
		}
		fresh, err := s.orderRepo.CreateRefund(ctx, tx, refund)
		if err != nil {
			return nil, false, fmt.Errorf("recording refund %s: %w", detail.RefundRef, err)
		}
		if fresh {
			newRefunds = append(newRefunds, detail)
		}
	}
	if len(newRefunds) == 0 {
		return order, false, nil
	}

	for attempt := 0; ; attempt++ {
		updated := *order
		for _, detail := range newRefunds {
			updated, err = model.ApplyRefund(updated, detail, time.Now())
			if err != nil {
				return nil, false, transitionError(err)
			}
		}
		if err := s.orderRepo.Update(ctx, tx, &updated); err != nil {
			if errors.Is(err, common.ErrVersionConflict) && attempt < versionRetryLimit {
				s.logger.Debug("order version conflict, retrying", "order_id", order.ID, "attempt", attempt+1)
				order, err = s.resolve(ctx, ref)
				if err != nil {
					return nil, false, err
				}
				continue
			}
			return nil, false, fmt.Errorf("persisting refunded order %s: %w", updated.ID, err)
		}
		s.logger.Info("order refund recorded", "order_id", updated.ID, "refunds", len(newRefunds))
		return &updated, true, nil
	}
}

// Cancel marks a non-terminal order CANCELLED.
func (s *OrderService) Cancel(ctx context.Context, id, reason string) (*model.Order, error) {
	return s.mutate(ctx, id, func(o model.Order) (model.Order, error) {
		return model.ApplyCancel(o, reason, time.Now())
	})
}

// Advance moves a paid order forward through fulfillment.
func (s *OrderService) Advance(ctx context.Context, id string, next model.OrderStatus) (*model.Order, error) {
	return s.mutate(ctx, id, func(o model.Order) (model.Order, error) {
		return model.ApplyAdvance(o, next, time.Now())
	})
}

func (s *OrderService) mutate(ctx context.Context, id string, apply func(model.Order) (model.Order, error)) (*model.Order, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.orderRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		updated, err := apply(*order)
		if err != nil {
			return nil, transitionError(err)
		}
		if err := s.orderRepo.Update(ctx, nil, &updated); err != nil {
			if errors.Is(err, common.ErrVersionConflict) && attempt < versionRetryLimit {
				continue
			}
			return nil, fmt.Errorf("persisting order %s: %w", id, err)
		}
		s.logger.Info("order status changed", "order_id", updated.ID, "status", updated.Status)
		return &updated, nil
	}
}

func (s *OrderService) resolve(ctx context.Context, ref OrderRef) (*model.Order, error) {
	if ref.OrderID != "" {
		order, err := s.orderRepo.GetByID(ctx, ref.OrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}
	if ref.PaymentRef != "" {
		order, err := s.orderRepo.GetByPaymentRef(ctx, ref.PaymentRef)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}
	if ref.ChargeRef != "" {
		order, err := s.orderRepo.GetByChargeRef(ctx, ref.ChargeRef)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no order for reference %+v: %w", ref, common.ErrNotFound)
}

// transitionError keeps the model sentinel in the chain while adding the
// HTTP-mappable conflict class.
func transitionError(err error) error {
	return fmt.Errorf("%w: %w", common.ErrConflict, err)
}
