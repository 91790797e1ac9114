// Package auth registers and authenticates users against the user store.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/quota"
	"github.com/sells-group/carrier-cli/internal/store"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = eris.New("auth: invalid credentials")
	// ErrMissingFields is returned when a required registration field is empty.
	ErrMissingFields = eris.New("auth: name, email and password are required")
)

// Users is the subset of the user store the service needs.
type Users interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u model.User) error
}

// Service handles registration, login, and admin seeding.
type Service struct {
	users Users
	cost  int
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates a Service.
func NewService(users Users, opts ...Option) *Service {
	s := &Service{users: users, cost: bcrypt.DefaultCost, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates a Free-plan user with the user role.
func (s *Service) Register(ctx context.Context, name, email, password, ip string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = model.NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, eris.Wrap(err, "auth: hash password")
	}
	u := &model.User{
		Name:         name,
		Email:        email,
		Role:         model.RoleUser,
		Plan:         model.PlanFree,
		DailyLimit:   quota.LimitFor(model.PlanFree),
		LastActive:   s.now(),
		IPAddress:    ip,
		IsOnline:     true,
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, eris.Wrapf(err, "auth: register %s", email)
	}
	zap.L().Info("auth: user registered", zap.String("user_id", u.ID), zap.String("email", email))
	return u, nil
}

// Login verifies credentials and marks the user online from ip.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*model.User, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, eris.Wrap(err, "auth: lookup user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	u.IsOnline = true
	u.LastActive = s.now()
	if ip != "" {
		u.IPAddress = ip
	}
	if err := s.users.UpdateUser(ctx, *u); err != nil {
		return nil, eris.Wrap(err, "auth: record login")
	}
	return u, nil
}

// SeedAdmin creates the administrator account if no user owns email. An
// existing account is left untouched. It reports whether a user was created.
func (s *Service) SeedAdmin(ctx context.Context, name, email, password string) (bool, error) {
	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return false, nil
	case !eris.Is(err, store.ErrNotFound):
		return false, eris.Wrap(err, "auth: lookup admin")
	}

	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, eris.Wrap(err, "auth: hash password")
	}
	u := &model.User{
		Name:         name,
		Email:        model.NormalizeEmail(email),
		Role:         model.RoleAdmin,
		Plan:         model.PlanEnterprise,
		DailyLimit:   quota.LimitFor(model.PlanEnterprise),
		LastActive:   s.now(),
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return false, eris.Wrap(err, "auth: create admin")
	}
	zap.L().Info("auth: admin seeded", zap.String("email", u.Email))
	return true, nil
}
