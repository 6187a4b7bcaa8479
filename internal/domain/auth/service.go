package auth

import (
	"context"
	"errors"
	"time"

	"github.com/astrodesk/sessiongate/internal/domain/audit"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/logging"
)

// WarningAuditWriteFailed is reported when the operation succeeded but its
// audit event could not be stored.
const WarningAuditWriteFailed = "audit_write_failed"

// DeviceRequest is the device part of a login or registration
type DeviceRequest struct {
	DeviceID        string     `json:"device_id"`
	DeviceName      string     `json:"device_name"`
	RefreshToken    string     `json:"refresh_token"`
	ClientTimestamp *time.Time `json:"client_timestamp"`
}

// RegisterRequest is a login that also fills in the directory profile
type RegisterRequest struct {
	DeviceRequest
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// SessionResult is returned by login and registration
type SessionResult struct {
	SessionID           string     `json:"session_id"`
	SupersededSessionID string     `json:"superseded_session_id,omitempty"`
	DeviceID            string     `json:"device_id"`
	User                *user.User `json:"user,omitempty"`
	Warnings            []string   `json:"-"`
}

// AuthService is the interface handlers depend on
type AuthService interface {
	Register(ctx context.Context, identity *Identity, req RegisterRequest, client logging.RequestContext) (*SessionResult, error)
	Login(ctx context.Context, identity *Identity, req DeviceRequest, client logging.RequestContext) (*SessionResult, error)
	Refresh(ctx context.Context, identity *Identity, refreshToken string) error
	Logout(ctx context.Context, identity *Identity, clientTimestamp *time.Time, client logging.RequestContext) (warnings []string, err error)
	RevokeSubject(ctx context.Context, subjectID string) (int, error)
}

// Service ties verified identities to sessions and the audit trail
type Service struct {
	users    user.Service
	sessions session.Manager
	provider IdentityProvider
	audit    audit.Recorder
	log      logging.SecurityLogger
	now      func() time.Time
}

// NewService creates a new auth service
func NewService(users user.Service, sessions session.Manager, provider IdentityProvider, recorder audit.Recorder, log logging.SecurityLogger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		provider: provider,
		audit:    recorder,
		log:      log,
		now:      time.Now,
	}
}

// Register stores the caller's profile, opens a session for the device and
// records a create event.
func (s *Service) Register(ctx context.Context, identity *Identity, req RegisterRequest, client logging.RequestContext) (*SessionResult, error) {
	u, err := s.users.UpdateProfile(ctx, identity.Subject, req.Email, req.DisplayName)
	if err != nil {
		return nil, err
	}
	res, err := s.openSession(ctx, identity, req.DeviceRequest, client, audit.EventCreate)
	if err != nil {
		return nil, err
	}
	res.User = u
	return res, nil
}

// Login opens a session for the device, superseding any live one, and
// records a login event.
func (s *Service) Login(ctx context.Context, identity *Identity, req DeviceRequest, client logging.RequestContext) (*SessionResult, error) {
	return s.openSession(ctx, identity, req, client, audit.EventLogin)
}

func (s *Service) openSession(ctx context.Context, identity *Identity, req DeviceRequest, client logging.RequestContext, eventType audit.EventType) (*SessionResult, error) {
	sid, superseded, err := s.sessions.CreateSession(ctx, identity.Subject, req.DeviceID, req.DeviceName, s.tokens(identity, req.RefreshToken))
	if err != nil {
		return nil, err
	}

	res := &SessionResult{SessionID: sid, SupersededSessionID: superseded, DeviceID: req.DeviceID}
	res.Warnings = s.record(ctx, audit.Entry{
		SubjectID:       identity.Subject,
		DeviceID:        req.DeviceID,
		Type:            eventType,
		IP:              client.IP,
		UserAgent:       client.UserAgent,
		ClientTimestamp: req.ClientTimestamp,
	})
	return res, nil
}

// Refresh rebinds the current session to the presented tokens. A token the
// session has not seen is accepted only with the session's refresh token.
func (s *Service) Refresh(ctx context.Context, identity *Identity, refreshToken string) error {
	if identity.Unbound && !identity.Session.MatchesRefreshToken(refreshToken) {
		s.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategorySessionMismatch,
			Severity: logging.SeverityHigh,
			Message:  "Refresh with a new token lacked the session's refresh token",
			Fields:   map[string]any{"subject_id": identity.Subject, "session_id": identity.SessionID()},
		})
		return session.ErrTokenMismatch
	}
	return s.sessions.RefreshSession(ctx, identity.SessionID(), s.tokens(identity, refreshToken))
}

// Logout revokes the current session and records a logout event
func (s *Service) Logout(ctx context.Context, identity *Identity, clientTimestamp *time.Time, client logging.RequestContext) ([]string, error) {
	if identity.Session == nil {
		return nil, session.ErrSessionNotFound
	}
	if err := s.sessions.RevokeSession(ctx, identity.Session.ID); err != nil {
		return nil, err
	}
	return s.record(ctx, audit.Entry{
		SubjectID:       identity.Subject,
		DeviceID:        identity.Session.DeviceID,
		Type:            audit.EventLogout,
		IP:              client.IP,
		UserAgent:       client.UserAgent,
		ClientTimestamp: clientTimestamp,
	}), nil
}

// RevokeSubject signs the subject out everywhere: every session is revoked
// and every token authenticated before now is rejected by the provider.
func (s *Service) RevokeSubject(ctx context.Context, subjectID string) (int, error) {
	count, err := s.sessions.RevokeAllSessionsForSubject(ctx, subjectID)
	if err != nil {
		return count, err
	}
	if err := s.provider.RevokeRefreshTokens(ctx, subjectID); err != nil {
		if ProviderCode(err) == CodeUserNotFound {
			return count, user.ErrUserNotFound
		}
		return count, err
	}
	s.log.Info(ctx, "Subject signed out everywhere", "subject_id", subjectID, "sessions", count)
	return count, nil
}

func (s *Service) tokens(identity *Identity, refreshToken string) session.Tokens {
	t := session.Tokens{
		AuthToken:    identity.Token,
		AuthIssuedAt: identity.Claims.IssuedAt,
	}
	if refreshToken != "" {
		t.RefreshToken = refreshToken
		t.RefreshIssuedAt = s.now().UTC()
	}
	return t
}

func (s *Service) record(ctx context.Context, entry audit.Entry) []string {
	if _, err := s.audit.Record(ctx, entry); err != nil {
		if errors.Is(err, audit.ErrInvalidEvent) {
			s.log.Warn(ctx, "Auth event rejected", "event_type", entry.Type, "error", err)
		}
		return []string{WarningAuditWriteFailed}
	}
	return nil
}
