package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[string]model.User)}
}

func (s *memoryUserRepository) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
		}
	}
	stored := *user
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.users[stored.ID] = stored
	return nil
}

func (s *memoryUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findBy(func(u model.User) bool { return u.Email == email })
}

func (s *memoryUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findBy(func(u model.User) bool { return u.Username == username })
}

func (s *memoryUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return s.findBy(func(u model.User) bool { return u.ID == id })
}

func (s *memoryUserRepository) findBy(match func(model.User) bool) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if match(user) {
			copied := user
			return &copied, nil
		}
	}
	return nil, common.ErrNotFound
}
