package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrUserNotFound is returned when no directory entry exists for a subject
	ErrUserNotFound = errors.New("user not found")
	// ErrSubjectRequired is returned when registering without a subject id
	ErrSubjectRequired = errors.New("subject id is required")
)

// StringArray converts roles to the column type
func StringArray(roles []string) pq.StringArray {
	out := make(pq.StringArray, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// RegisterRequest represents the input for creating a directory entry
type RegisterRequest struct {
	SubjectID   string
	Email       string
	DisplayName string
	Roles       []string
}

// Service interface for user directory operations
type Service interface {
	// Register creates the entry if missing. created is false when it already existed.
	Register(ctx context.Context, req RegisterRequest) (u *User, created bool, err error)
	Get(ctx context.Context, id string) (*User, error)
	// UpdateProfile overwrites email and display name; empty values keep the stored ones.
	UpdateProfile(ctx context.Context, id, email, displayName string) (*User, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
	SetRoles(ctx context.Context, id string, roles []string) error
	// RevokeTokens rejects every token of the user authenticated before now.
	RevokeTokens(ctx context.Context, id string) error
}

// Invalidator drops cached copies of a user after a write
type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// service struct for user operations
type service struct {
	repo  Repository
	cache Invalidator
	now   func() time.Time
}

// NewService creates a new user service. cache may be nil.
func NewService(repo Repository, cache Invalidator) Service {
	return &service{repo: repo, cache: cache, now: time.Now}
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, bool, error) {
	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		return nil, false, ErrSubjectRequired
	}

	if existing, err := s.repo.GetByID(ctx, subject); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	u := &User{
		ID:          subject,
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Roles:       StringArray(req.Roles),
	}
	created, err := s.repo.Create(ctx, u)
	if err != nil {
		return nil, false, err
	}
	if created {
		return u, true, nil
	}

	// A concurrent registration won the insert.
	stored, err := s.repo.GetByID(ctx, subject)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (s *service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) UpdateProfile(ctx context.Context, id, email, displayName string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	email, displayName = strings.TrimSpace(email), strings.TrimSpace(displayName)
	if email == "" && displayName == "" {
		return u, nil
	}
	if email != "" {
		u.Email = email
	}
	if displayName != "" {
		u.DisplayName = displayName
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) SetDisabled(ctx context.Context, id string, disabled bool) error {
	if err := s.repo.SetDisabled(ctx, id, disabled); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *service) SetRoles(ctx context.Context, id string, roles []string) error {
	if err := s.repo.SetRoles(ctx, id, roles); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *service) RevokeTokens(ctx context.Context, id string) error {
	if err := s.repo.SetTokensValidAfter(ctx, id, s.now()); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *service) invalidate(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, id)
}
