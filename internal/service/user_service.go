package service

import (
	"context"
	"errors"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
)

const recentUserWindow = 30 * 24 * time.Hour

var (
	errMissingUserFields = apperrors.BadRequest("Please provide all required fields")
	errShortPassword     = apperrors.BadRequest("Password must be at least 6 characters")
	errUserExists        = apperrors.BadRequest("User already exists")
	errDeleteSelf        = apperrors.BadRequest("Cannot delete your own account")
)

var userFilter = query.NewBuilder().
	Text("search", "name", "email").
	Equal("role", "role")

// UserService handles admin account management.
type UserService struct {
	users  repository.UserRepository
	now    func() time.Time
	logger *logging.LoggerV2
}

func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.NewLoggerV2("user-service"),
	}
}

// ListUsers returns one page of users matching search and role, newest
// first.
func (s *UserService) ListUsers(ctx context.Context, params query.Params) (*query.Page[*models.User], error) {
	filter := userFilter.Build(params)
	req := query.PageRequestFrom(params, query.DefaultPageSize)
	return query.Paginate[*models.User](ctx, s.users, filter, query.NewestFirst, req)
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	oid, err := repository.ParseID(id, "User")
	if err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, oid)
}

// CreateUser stores a new account. Role defaults to user.
func (s *UserService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	user, err := newUser(req, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User created", logging.Fields{
		"user_id": user.ID.Hex(),
		"role":    user.Role,
	})
	return user, nil
}

func (s *UserService) insert(ctx context.Context, user *models.User) error {
	if _, err := s.users.GetByEmail(ctx, user.Email); err == nil {
		return errUserExists
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	err := s.users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return errUserExists
	}
	return err
}

// newUser validates req and builds the account with a hashed password.
func newUser(req *models.CreateUserRequest, now time.Time) (*models.User, error) {
	if trimmed(req.Name) == "" || trimmed(req.Email) == "" || req.Password == "" {
		return nil, errMissingUserFields
	}
	if len(req.Password) < auth.MinPasswordLength {
		return nil, errShortPassword
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	user := &models.User{
		Name:      trimmed(req.Name),
		Email:     models.NormalizeEmail(req.Email),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ValidateUser(user); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user.Password = hash
	return user, nil
}

// UpdateUser changes the supplied fields of an account.
func (s *UserService) UpdateUser(ctx context.Context, id string, req *models.UpdateUserRequest) (*models.User, error) {
	oid, err := repository.ParseID(id, "User")
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}

	if err := applyUserUpdate(user, req, s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User updated", logging.Fields{"user_id": id})
	return user, nil
}

func (s *UserService) save(ctx context.Context, user *models.User) error {
	if other, err := s.users.GetByEmail(ctx, user.Email); err == nil && other.ID != user.ID {
		return errUserExists
	}
	err := s.users.Update(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return errUserExists
	}
	return err
}

// applyUserUpdate copies the non-nil fields of req onto u. An empty
// password leaves the current one in place.
func applyUserUpdate(u *models.User, req *models.UpdateUserRequest, now time.Time) error {
	if req.Name != nil {
		u.Name = trimmed(*req.Name)
	}
	if req.Email != nil {
		u.Email = models.NormalizeEmail(*req.Email)
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if err := ValidateUser(u); err != nil {
		return err
	}

	if req.Password != nil && *req.Password != "" {
		if len(*req.Password) < auth.MinPasswordLength {
			return errShortPassword
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return err
		}
		u.Password = hash
	}
	u.UpdatedAt = now
	return nil
}

// DeleteUser removes an account. Admins cannot remove themselves.
func (s *UserService) DeleteUser(ctx context.Context, caller auth.Identity, id string) error {
	oid, err := repository.ParseID(id, "User")
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, oid)
	if err != nil {
		return err
	}
	if user.ID == caller.UserID {
		return errDeleteSelf
	}

	if err := s.users.Delete(ctx, oid); err != nil {
		return err
	}
	s.logger.Info("User deleted", logging.Fields{
		"user_id":    id,
		"deleted_by": caller.UserID.Hex(),
	})
	return nil
}

// Stats counts accounts by role and those created in the last 30 days.
func (s *UserService) Stats(ctx context.Context) (*models.UserStats, error) {
	var stats models.UserStats
	counts := []struct {
		dst    *int64
		filter query.Filter
	}{
		{&stats.TotalUsers, query.Filter{}},
		{&stats.TotalAdmins, query.Filter{}.Where(query.Eq("role", string(models.RoleAdmin)))},
		{&stats.TotalCustomers, query.Filter{}.Where(query.Eq("role", string(models.RoleUser)))},
		{&stats.RecentUsers, query.Filter{}.Where(query.Gte("createdAt", s.now().Add(-recentUserWindow)))},
	}
	for _, c := range counts {
		n, err := s.users.Count(ctx, c.filter)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return &stats, nil
}
