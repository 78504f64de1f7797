package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

// memoryOrderRepository keeps orders and their refund rows in maps. The tx
// argument is accepted and ignored.
type memoryOrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]model.Order
	refunds map[string]model.OrderRefund // keyed by refund_ref
}

func NewMemoryOrderRepository() OrderRepository {
	return &memoryOrderRepository{
		orders:  make(map[string]model.Order),
		refunds: make(map[string]model.OrderRefund),
	}
}

func (s *memoryOrderRepository) Create(ctx context.Context, _ *sql.Tx, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists: %w", order.ID, common.ErrConflict)
	}
	stored := *order
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.orders[stored.ID] = stored
	return nil
}

func (s *memoryOrderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := order
	return &copied, nil
}

func (s *memoryOrderRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error) {
	return s.findBy(func(o model.Order) bool {
		return o.PaymentReference != nil && *o.PaymentReference == paymentRef
	})
}

func (s *memoryOrderRepository) GetByChargeRef(ctx context.Context, chargeRef string) (*model.Order, error) {
	return s.findBy(func(o model.Order) bool {
		return o.ChargeReference != nil && *o.ChargeReference == chargeRef
	})
}

func (s *memoryOrderRepository) findBy(match func(model.Order) bool) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if match(order) {
			copied := order
			return &copied, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *memoryOrderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.Status != "" && string(order.Status) != filter.Status {
			continue
		}
		if filter.CustomerEmail != "" && order.CustomerEmail != filter.CustomerEmail {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	total := len(orders)
	if filter.Offset > 0 {
		if filter.Offset >= len(orders) {
			orders = nil
		} else {
			orders = orders[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, total, nil
}

func (s *memoryOrderRepository) Update(ctx context.Context, _ *sql.Tx, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return common.ErrNotFound
	}
	if current.Version != order.Version {
		return fmt.Errorf("order %s at version %d: %w", order.ID, order.Version, common.ErrVersionConflict)
	}
	stored := *order
	stored.Version++
	stored.UpdatedAt = time.Now()
	s.orders[order.ID] = stored
	order.Version++
	return nil
}

func (s *memoryOrderRepository) CreateRefund(ctx context.Context, _ *sql.Tx, refund *model.OrderRefund) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refunds[refund.RefundRef]; exists {
		return false, nil
	}
	stored := *refund
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.refunds[stored.RefundRef] = stored
	return true, nil
}

func (s *memoryOrderRepository) ListRefunds(ctx context.Context, orderID string) ([]model.OrderRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refunds := []model.OrderRefund{}
	for _, refund := range s.refunds {
		if refund.OrderID == orderID {
			refunds = append(refunds, refund)
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}
