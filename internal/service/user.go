package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
)

// ErrEmailTaken is returned when a profile with the email already exists.
var ErrEmailTaken = model.NewRuleError(http.StatusConflict, model.LevelInfo, "Email is already taken")

// UserService manages participant profiles.
type UserService struct {
	store repository.Store
	now   func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(store repository.Store) *UserService {
	return &UserService{store: store, now: time.Now}
}

// CreateUser validates req and stores a profile with empty event lists.
func (s *UserService) CreateUser(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		return nil, invalid("email is required")
	}
	if !isValidEmail(email) {
		return nil, invalid("email is not a valid email address")
	}
	first := strings.TrimSpace(req.FirstName)
	second := strings.TrimSpace(req.SecondName)
	if first == "" || second == "" {
		return nil, invalid("firstName and secondName are required")
	}
	if len(first) > 50 || len(second) > 50 {
		return nil, invalid("names cannot exceed 50 characters")
	}

	u := &model.User{
		Email:              email,
		FirstName:          first,
		SecondName:         second,
		OwnEvents:          []string{},
		Events:             []string{},
		EventSubscriptions: []string{},
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.InsertUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUser returns a single profile by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, repository.ErrNotFound
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
