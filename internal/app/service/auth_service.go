package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/common/security"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

// AuthService covers ops dashboard accounts. There is no open signup:
// accounts are created by an admin through CreateStaff.
type AuthService struct {
	userRepo repository.UserRepository
	tokens   *security.TokenIssuer
}

func NewAuthService(userRepo repository.UserRepository, tokens *security.TokenIssuer) *AuthService {
	return &AuthService{userRepo: userRepo, tokens: tokens}
}

type LoginRequest struct {
	LoginField string `json:"login_field"` // Can be username or email
	Password   string `json:"password"`
}

type CreateStaffRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type AuthResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.LoginField == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	// Try finding by email first, then by username
	user, err := s.userRepo.FindByEmail(ctx, req.LoginField)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			user, err = s.userRepo.FindByUsername(ctx, req.LoginField)
		}
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized // Generic message for security
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, common.ErrUnauthorized
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	user.HashedPassword = ""
	return &AuthResponse{User: user, Token: token}, nil
}

func (s *AuthService) CreateStaff(ctx context.Context, req CreateStaffRequest) (*model.User, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}
	role := req.Role
	if role == "" {
		role = model.RoleStaff
	}
	if role != model.RoleStaff && role != model.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q: %w", req.Role, common.ErrBadRequest)
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashedPassword,
		Role:           role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// Repo returns common.ErrConflict on duplicate username/email
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.HashedPassword = ""
	return user, nil
}
