package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/google/uuid"
)

// Observer receives session lifecycle counts, e.g. for metrics
type Observer interface {
	SessionCreated(ctx context.Context, superseded bool)
	SessionsRevoked(ctx context.Context, count int)
}

// Config holds the manager's lifetimes
type Config struct {
	// TTL is the natural lifetime of a live session, extended on refresh.
	TTL time.Duration
	// RevokedGrace is how long a revoked record stays readable.
	RevokedGrace time.Duration
}

// Manager orchestrates the store: at most one live session per device,
// revocation that outlives the bearer token's own validity.
type Manager interface {
	CreateSession(ctx context.Context, subjectID, deviceID, deviceName string, tokens Tokens) (sessionID, supersededID string, err error)
	LookupSession(ctx context.Context, sessionID string) (*Session, error)
	// LookupSessionByToken finds the session an auth token was last bound to.
	LookupSessionByToken(ctx context.Context, authToken string) (*Session, error)
	GetDeviceSession(ctx context.Context, deviceID string) (sessionID string, found bool, err error)
	RefreshSession(ctx context.Context, sessionID string, tokens Tokens) error
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAllSessionsForSubject(ctx context.Context, subjectID string) (int, error)
	ListSubjectSessions(ctx context.Context, subjectID string) ([]*Session, error)
	GetTotalSessions(ctx context.Context) (int64, error)
	GetTotalDevices(ctx context.Context) (int64, error)
	Sweep(ctx context.Context) (SweepResult, error)
}

type manager struct {
	store    Store
	cfg      Config
	log      logging.SecurityLogger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option customizes a Manager
type Option func(*manager)

// WithObserver attaches lifecycle metrics
func WithObserver(o Observer) Option {
	return func(m *manager) { m.observer = o }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

// NewManager creates a session Manager over store
func NewManager(store Store, cfg Config, log logging.SecurityLogger, opts ...Option) Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.RevokedGrace <= 0 {
		cfg.RevokedGrace = 24 * time.Hour
	}
	if log == nil {
		log = logging.Default()
	}
	m := &manager{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) CreateSession(ctx context.Context, subjectID, deviceID, deviceName string, tokens Tokens) (string, string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", "", ErrInvalidSubject
	}
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", "", err
	}

	now := m.now().UTC()
	rec := &Session{
		ID:                 m.newID(),
		SubjectID:          subjectID,
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		CreatedAt:          now,
		UpdatedAt:          now,
		AuthFingerprint:    Fingerprint(tokens.AuthToken),
		AuthIssuedAt:       tokens.AuthIssuedAt,
		RefreshFingerprint: Fingerprint(tokens.RefreshToken),
		RefreshIssuedAt:    tokens.RefreshIssuedAt,
	}

	superseded, err := m.store.Create(ctx, rec, m.cfg.TTL, m.cfg.RevokedGrace)
	if err != nil {
		m.log.Error(ctx, "Failed to create session", "subject_id", subjectID, "device_id", deviceID, "error", err)
		return "", "", err
	}

	if superseded != "" {
		m.log.Info(ctx, "Session superseded by new login on device",
			"session_id", rec.ID, "superseded_session_id", superseded, "device_id", deviceID)
	}
	m.log.Debug(ctx, "Session created", "session_id", rec.ID, "subject_id", subjectID, "device_id", deviceID)
	if m.observer != nil {
		m.observer.SessionCreated(ctx, superseded != "")
	}
	return rec.ID, superseded, nil
}

func (m *manager) LookupSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, sessionID)
}

func (m *manager) LookupSessionByToken(ctx context.Context, authToken string) (*Session, error) {
	if authToken == "" {
		return nil, ErrSessionNotFound
	}
	sid, err := m.store.TokenSession(ctx, Fingerprint(authToken))
	if err != nil {
		return nil, err
	}
	if sid == "" {
		return nil, ErrSessionNotFound
	}
	return m.store.Get(ctx, sid)
}

// GetDeviceSession treats an index entry pointing at a revoked, expired or
// foreign record as no session.
func (m *manager) GetDeviceSession(ctx context.Context, deviceID string) (string, bool, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return "", false, err
	}

	sid, err := m.store.DeviceSession(ctx, deviceID)
	if err != nil || sid == "" {
		return "", false, err
	}

	rec, err := m.store.Get(ctx, sid)
	if errors.Is(err, ErrSessionNotFound) {
		m.log.Warn(ctx, "Device index points at missing session", "device_id", deviceID, "session_id", sid)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if rec.Revoked || rec.DeviceID != deviceID {
		m.log.Warn(ctx, "Device index points at non-live session", "device_id", deviceID, "session_id", sid)
		return "", false, nil
	}
	return sid, true, nil
}

func (m *manager) RefreshSession(ctx context.Context, sessionID string, tokens Tokens) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if tokens.AuthToken == "" {
		return ErrMissingAuthToken
	}

	fp := fingerprints{
		auth:            Fingerprint(tokens.AuthToken),
		authIssuedAt:    tokens.AuthIssuedAt,
		refresh:         Fingerprint(tokens.RefreshToken),
		refreshIssuedAt: tokens.RefreshIssuedAt,
	}
	if err := m.store.Refresh(ctx, sessionID, fp, m.now().UTC(), m.cfg.TTL); err != nil {
		return err
	}

	m.log.Debug(ctx, "Session refreshed", "session_id", sessionID)
	return nil
}

// RevokeSession is idempotent: revoking a revoked session succeeds without side effects.
func (m *manager) RevokeSession(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	changed, err := m.store.Revoke(ctx, sessionID, m.now().UTC(), m.cfg.RevokedGrace)
	if err != nil {
		return err
	}
	if changed {
		m.log.Info(ctx, "Session revoked", "session_id", sessionID)
		if m.observer != nil {
			m.observer.SessionsRevoked(ctx, 1)
		}
	}
	return nil
}

func (m *manager) RevokeAllSessionsForSubject(ctx context.Context, subjectID string) (int, error) {
	if strings.TrimSpace(subjectID) == "" {
		return 0, ErrInvalidSubject
	}

	ids, err := m.store.SubjectSessionIDs(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	now := m.now().UTC()
	revoked := 0
	for _, sid := range ids {
		changed, err := m.store.Revoke(ctx, sid, now, m.cfg.RevokedGrace)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}
	}

	m.log.Info(ctx, "Revoked all sessions for subject", "subject_id", subjectID, "count", revoked)
	if m.observer != nil && revoked > 0 {
		m.observer.SessionsRevoked(ctx, revoked)
	}
	return revoked, nil
}

// ListSubjectSessions returns the subject's live sessions, newest first
func (m *manager) ListSubjectSessions(ctx context.Context, subjectID string) ([]*Session, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, ErrInvalidSubject
	}

	ids, err := m.store.SubjectSessionIDs(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(ids))
	for _, sid := range ids {
		rec, err := m.store.Get(ctx, sid)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Live() {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetTotalSessions is advisory; see Sweep.
func (m *manager) GetTotalSessions(ctx context.Context) (int64, error) {
	return m.store.CountSessions(ctx)
}

// GetTotalDevices is advisory; see Sweep.
func (m *manager) GetTotalDevices(ctx context.Context) (int64, error) {
	return m.store.CountDevices(ctx)
}

func (m *manager) Sweep(ctx context.Context) (SweepResult, error) {
	res, err := m.store.Sweep(ctx)
	if err != nil {
		return res, err
	}
	if res.Sessions > 0 || res.Devices > 0 {
		m.log.Info(ctx, "Swept stale session indexes", "sessions", res.Sessions, "devices", res.Devices)
	}
	return res, nil
}

// RunSweeper sweeps stale index entries every interval until ctx is done.
// Failures are logged and retried on the next tick.
func RunSweeper(ctx context.Context, m Manager, interval time.Duration, log logging.SecurityLogger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = logging.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "Session index sweep failed", "error", err)
			}
		}
	}
}
