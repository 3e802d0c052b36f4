package service

import (
	"context"
	"errors"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
)

// AuthService handles self-service registration, login and profiles.
type AuthService struct {
	users  *UserService
	repo   repository.UserRepository
	tokens *auth.TokenManager
	logger *logging.LoggerV2
}

func NewAuthService(users *UserService, tokens *auth.TokenManager) *AuthService {
	return &AuthService{
		users:  users,
		repo:   users.users,
		tokens: tokens,
		logger: logging.NewLoggerV2("auth-service"),
	}
}

// Register creates a customer account. A requested role is ignored.
func (s *AuthService) Register(ctx context.Context, req *models.CreateUserRequest) (*models.AuthResponse, error) {
	signup := *req
	signup.Role = models.RoleUser

	user, err := newUser(&signup, s.users.now())
	if err != nil {
		return nil, err
	}
	if err := s.users.insert(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", logging.Fields{"user_id": user.ID.Hex()})
	return s.respond(user)
}

// Login checks credentials. Unknown emails and wrong passwords get the
// same answer.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetByEmail(ctx, models.NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if user == nil || !auth.CheckPassword(user.Password, req.Password) {
		s.logger.Warn("Login failed", logging.Fields{"email": models.NormalizeEmail(req.Email)})
		return nil, apperrors.Unauthorized("Invalid email or password")
	}
	return s.respond(user)
}

func (s *AuthService) Profile(ctx context.Context, caller auth.Identity) (*models.User, error) {
	return s.repo.GetByID(ctx, caller.UserID)
}

// UpdateProfile lets a user change their own name, email and password and
// returns a fresh token. Role changes are ignored.
func (s *AuthService) UpdateProfile(ctx context.Context, caller auth.Identity, req *models.UpdateUserRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetByID(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	update := *req
	update.Role = nil
	if err := applyUserUpdate(user, &update, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.users.save(ctx, user); err != nil {
		return nil, err
	}
	return s.respond(user)
}

func (s *AuthService) respond(u *models.User) (*models.AuthResponse, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
		Token: token,
	}, nil
}
