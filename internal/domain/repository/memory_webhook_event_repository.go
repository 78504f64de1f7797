package repository

import (
	"context"
	"database/sql"
	"sync"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

type memoryWebhookEventRepository struct {
	mu     sync.RWMutex
	events map[string]model.WebhookEvent
}

func NewMemoryWebhookEventRepository() WebhookEventRepository {
	return &memoryWebhookEventRepository{events: make(map[string]model.WebhookEvent)}
}

func (s *memoryWebhookEventRepository) Record(ctx context.Context, _ *sql.Tx, event *model.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return false, nil
	}
	s.events[event.EventID] = *event
	return true, nil
}

func (s *memoryWebhookEventRepository) SetOutcome(ctx context.Context, _ *sql.Tx, eventID, outcome string, orderID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return common.ErrNotFound
	}
	event.Outcome = outcome
	if orderID != nil {
		event.OrderID = orderID
	}
	s.events[eventID] = event
	return nil
}

func (s *memoryWebhookEventRepository) GetByID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := event
	return &copied, nil
}
