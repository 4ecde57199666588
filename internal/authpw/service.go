// Package authpw verifies staff email/password credentials.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"opsdesk/api/internal/rbac"
	"opsdesk/api/internal/store"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is deactivated")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// StaffStore defines the storage interface for staff auth
type StaffStore interface {
	GetStaffUserByEmail(ctx context.Context, email string) (store.StaffUser, error)
	CreateStaffUser(ctx context.Context, user store.StaffUser) (bool, error)
}

// Service provides staff email/password authentication
type Service struct {
	store StaffStore
	cost  int
}

// NewService creates a new auth service
func NewService(store StaffStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignIn authenticates a staff member and returns the account.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.StaffUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.StaffUser{}, ErrMissingCredentials
	}

	user, err := s.store.GetStaffUserByEmail(ctx, email)
	if err != nil {
		// Unknown email and wrong password look the same to the caller.
		return store.StaffUser{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.StaffUser{}, ErrInvalidCredentials
	}
	if user.DeactivatedAt != nil {
		return store.StaffUser{}, ErrAccountDisabled
	}
	user.Role = string(rbac.Normalize(user.Role))
	return user, nil
}

// HashPassword returns the bcrypt hash stored in staff_users.password_hash.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// EnsureStaff creates the account when the email is not registered yet.
// It reports whether a new account was created.
func (s *Service) EnsureStaff(ctx context.Context, email, displayName, password string, role rbac.Role) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, ErrMissingCredentials
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return false, err
	}
	if displayName == "" {
		displayName = email
	}
	return s.store.CreateStaffUser(ctx, store.StaffUser{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         string(role),
	})
}
