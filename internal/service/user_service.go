package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/auth"
	"github.com/Sarevi/farmafollow-sub000/internal/model"
	"github.com/Sarevi/farmafollow-sub000/internal/repo"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type UserService interface {
	Register(ctx context.Context, name, email, password, role string) (*model.User, string, error)
	Login(ctx context.Context, email, password string) (*model.User, string, error)
	ListAvailable(ctx context.Context, callerID string) ([]model.User, error)
}

type userService struct {
	users  repo.UserRepository
	tokens *auth.TokenManager
}

func NewUserService(users repo.UserRepository, tokens *auth.TokenManager) UserService {
	return &userService{
		users:  users,
		tokens: tokens,
	}
}

// Register creates a user and issues a token for it.
func (s *userService) Register(ctx context.Context, name, email, password, role string) (*model.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, "", fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	if role == "" {
		role = model.RolePatient
	}
	if role != model.RolePatient && role != model.RolePharmacist {
		return nil, "", fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	taken, err := s.users.EmailTaken(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if taken {
		return nil, "", fmt.Errorf("%w: email already registered", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{
		UserID:       uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}
	// The pre-check above is only a fast path; the unique index on email
	// decides races between concurrent registrations.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, "", fmt.Errorf("%w: email already registered", ErrValidation)
		}
		return nil, "", err
	}

	token, err := s.tokens.Issue(user.UserID, user.Role)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", fmt.Errorf("%w: unknown email or password", ErrForbidden)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", fmt.Errorf("%w: unknown email or password", ErrForbidden)
	}

	token, err := s.tokens.Issue(user.UserID, user.Role)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ListAvailable returns everyone the caller can start a chat with.
func (s *userService) ListAvailable(ctx context.Context, callerID string) ([]model.User, error) {
	return s.users.ListExcept(ctx, callerID)
}
