package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/astrodesk/sessiongate/internal/domain/audit"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/logging"
)

// MockSessionManager is a mock implementation of session.Manager
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) CreateSession(ctx context.Context, subjectID, deviceID, deviceName string, tokens session.Tokens) (string, string, error) {
	args := m.Called(ctx, subjectID, deviceID, deviceName, tokens)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockSessionManager) LookupSession(ctx context.Context, sessionID string) (*session.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *MockSessionManager) LookupSessionByToken(ctx context.Context, authToken string) (*session.Session, error) {
	args := m.Called(ctx, authToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *MockSessionManager) GetDeviceSession(ctx context.Context, deviceID string) (string, bool, error) {
	args := m.Called(ctx, deviceID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockSessionManager) RefreshSession(ctx context.Context, sessionID string, tokens session.Tokens) error {
	return m.Called(ctx, sessionID, tokens).Error(0)
}

func (m *MockSessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockSessionManager) RevokeAllSessionsForSubject(ctx context.Context, subjectID string) (int, error) {
	args := m.Called(ctx, subjectID)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionManager) ListSubjectSessions(ctx context.Context, subjectID string) ([]*session.Session, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*session.Session), args.Error(1)
}

func (m *MockSessionManager) GetTotalSessions(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionManager) GetTotalDevices(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionManager) Sweep(ctx context.Context) (session.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.SweepResult), args.Error(1)
}

// MockRecorder is a mock implementation of audit.Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, entry audit.Entry) (*audit.AuthEvent, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.AuthEvent), args.Error(1)
}

// MockUserService is a mock implementation of user.Service
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, req user.RegisterRequest) (*user.User, bool, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*user.User), args.Bool(1), args.Error(2)
}

func (m *MockUserService) Get(ctx context.Context, id string) (*user.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, id, email, displayName string) (*user.User, error) {
	args := m.Called(ctx, id, email, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return m.Called(ctx, id, disabled).Error(0)
}

func (m *MockUserService) SetRoles(ctx context.Context, id string, roles []string) error {
	return m.Called(ctx, id, roles).Error(0)
}

func (m *MockUserService) RevokeTokens(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// MockProvider is a mock implementation of IdentityProvider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) VerifyToken(ctx context.Context, token string, checkRevoked bool) (*Claims, error) {
	args := m.Called(ctx, token, checkRevoked)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func (m *MockProvider) GetUser(ctx context.Context, subjectID string) (*user.User, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockProvider) RevokeRefreshTokens(ctx context.Context, subjectID string) error {
	return m.Called(ctx, subjectID).Error(0)
}

type serviceMocks struct {
	users    *MockUserService
	sessions *MockSessionManager
	provider *MockProvider
	recorder *MockRecorder
}

func newServiceUnderTest(t *testing.T) (*Service, *serviceMocks) {
	t.Helper()
	m := &serviceMocks{
		users:    new(MockUserService),
		sessions: new(MockSessionManager),
		provider: new(MockProvider),
		recorder: new(MockRecorder),
	}
	log, _ := newTestLogger()
	s := NewService(m.users, m.sessions, m.provider, m.recorder, log)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	t.Cleanup(func() {
		m.users.AssertExpectations(t)
		m.sessions.AssertExpectations(t)
		m.provider.AssertExpectations(t)
		m.recorder.AssertExpectations(t)
	})
	return s, m
}

func testIdentity(subject string, rec *session.Session) *Identity {
	issued := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	return &Identity{
		Subject: subject,
		Claims:  &Claims{Subject: subject, IssuedAt: issued, AuthTime: issued},
		Session: rec,
		Token:   "header.payload.signature",
	}
}

var testClient = logging.RequestContext{IP: "203.0.113.7", UserAgent: "astro-ios/4.2", Endpoint: "/v1/auth/login", Method: "POST"}

func TestService_LoginRecordsEvent(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()
	identity := testIdentity("user-1", nil)
	sent := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)

	m.sessions.On("CreateSession", ctx, "user-1", "device-1", "iPhone", session.Tokens{
		AuthToken:       "header.payload.signature",
		AuthIssuedAt:    identity.Claims.IssuedAt,
		RefreshToken:    "refresh-1",
		RefreshIssuedAt: s.now(),
	}).Return("sid-2", "sid-1", nil)
	m.recorder.On("Record", ctx, audit.Entry{
		SubjectID:       "user-1",
		DeviceID:        "device-1",
		Type:            audit.EventLogin,
		IP:              testClient.IP,
		UserAgent:       testClient.UserAgent,
		ClientTimestamp: &sent,
	}).Return(&audit.AuthEvent{}, nil)

	res, err := s.Login(ctx, identity, DeviceRequest{
		DeviceID:        "device-1",
		DeviceName:      "iPhone",
		RefreshToken:    "refresh-1",
		ClientTimestamp: &sent,
	}, testClient)
	require.NoError(t, err)
	assert.Equal(t, "sid-2", res.SessionID)
	assert.Equal(t, "sid-1", res.SupersededSessionID)
	assert.Empty(t, res.Warnings)
}

func TestService_LoginSessionFailureSkipsAudit(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()

	m.sessions.On("CreateSession", ctx, "user-1", "", "", mock.Anything).Return("", "", session.ErrInvalidDevice)

	_, err := s.Login(ctx, testIdentity("user-1", nil), DeviceRequest{}, testClient)
	assert.ErrorIs(t, err, session.ErrInvalidDevice)
	m.recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestService_AuditFailureBecomesWarning(t *testing.T) {
	for _, recordErr := range []error{audit.ErrWriteFailed, audit.ErrInvalidEvent} {
		t.Run(recordErr.Error(), func(t *testing.T) {
			s, m := newServiceUnderTest(t)
			ctx := context.Background()

			m.sessions.On("CreateSession", ctx, "user-1", "device-1", "", mock.Anything).Return("sid-1", "", nil)
			m.recorder.On("Record", ctx, mock.Anything).Return(nil, recordErr)

			res, err := s.Login(ctx, testIdentity("user-1", nil), DeviceRequest{DeviceID: "device-1"}, testClient)
			require.NoError(t, err)
			assert.Equal(t, "sid-1", res.SessionID)
			assert.Equal(t, []string{WarningAuditWriteFailed}, res.Warnings)
		})
	}
}

func TestService_RegisterUpdatesProfile(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()
	profile := &user.User{ID: "user-1", Email: "ada@astrodesk.test"}

	m.users.On("UpdateProfile", ctx, "user-1", "ada@astrodesk.test", "Ada").Return(profile, nil)
	m.sessions.On("CreateSession", ctx, "user-1", "device-1", "Pixel", mock.Anything).Return("sid-1", "", nil)
	m.recorder.On("Record", ctx, mock.MatchedBy(func(e audit.Entry) bool {
		return e.Type == audit.EventCreate && e.DeviceID == "device-1"
	})).Return(&audit.AuthEvent{}, nil)

	res, err := s.Register(ctx, testIdentity("user-1", nil), RegisterRequest{
		DeviceRequest: DeviceRequest{DeviceID: "device-1", DeviceName: "Pixel"},
		Email:         "ada@astrodesk.test",
		DisplayName:   "Ada",
	}, testClient)
	require.NoError(t, err)
	assert.Same(t, profile, res.User)
	assert.Equal(t, "sid-1", res.SessionID)
}

func TestService_RegisterUnknownUser(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()

	m.users.On("UpdateProfile", ctx, "ghost", "", "").Return(nil, user.ErrUserNotFound)

	_, err := s.Register(ctx, testIdentity("ghost", nil), RegisterRequest{DeviceRequest: DeviceRequest{DeviceID: "device-1"}}, testClient)
	assert.ErrorIs(t, err, user.ErrUserNotFound)
	m.sessions.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RefreshWithoutRefreshToken(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()
	identity := testIdentity("user-1", &session.Session{ID: "sid-1", DeviceID: "device-1"})

	m.sessions.On("RefreshSession", ctx, "sid-1", session.Tokens{
		AuthToken:    identity.Token,
		AuthIssuedAt: identity.Claims.IssuedAt,
	}).Return(nil)

	require.NoError(t, s.Refresh(ctx, identity, ""))
}

func TestService_RefreshUnboundToken(t *testing.T) {
	rec := &session.Session{ID: "sid-1", DeviceID: "device-1", RefreshFingerprint: session.Fingerprint("refresh-1")}

	t.Run("wrong refresh token", func(t *testing.T) {
		s, m := newServiceUnderTest(t)
		identity := testIdentity("user-1", rec)
		identity.Unbound = true

		for _, presented := range []string{"", "refresh-2"} {
			err := s.Refresh(context.Background(), identity, presented)
			assert.ErrorIs(t, err, session.ErrTokenMismatch)
		}
		m.sessions.AssertNotCalled(t, "RefreshSession", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("session without refresh token", func(t *testing.T) {
		s, m := newServiceUnderTest(t)
		identity := testIdentity("user-1", &session.Session{ID: "sid-2"})
		identity.Unbound = true

		assert.ErrorIs(t, s.Refresh(context.Background(), identity, "refresh-1"), session.ErrTokenMismatch)
		m.sessions.AssertNotCalled(t, "RefreshSession", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("matching refresh token rebinds", func(t *testing.T) {
		s, m := newServiceUnderTest(t)
		ctx := context.Background()
		identity := testIdentity("user-1", rec)
		identity.Unbound = true

		m.sessions.On("RefreshSession", ctx, "sid-1", mock.MatchedBy(func(tk session.Tokens) bool {
			return tk.AuthToken == identity.Token && tk.RefreshToken == "refresh-1"
		})).Return(nil)

		require.NoError(t, s.Refresh(ctx, identity, "refresh-1"))
		m.sessions.AssertExpectations(t)
	})
}

func TestService_Logout(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()
	identity := testIdentity("user-1", &session.Session{ID: "sid-1", DeviceID: "device-1"})

	m.sessions.On("RevokeSession", ctx, "sid-1").Return(nil)
	m.recorder.On("Record", ctx, mock.MatchedBy(func(e audit.Entry) bool {
		return e.Type == audit.EventLogout && e.DeviceID == "device-1" && e.ClientTimestamp == nil
	})).Return(&audit.AuthEvent{}, nil)

	warnings, err := s.Logout(ctx, identity, nil, testClient)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestService_LogoutWithoutSession(t *testing.T) {
	s, _ := newServiceUnderTest(t)

	_, err := s.Logout(context.Background(), testIdentity("user-1", nil), nil, testClient)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestService_LogoutStoreFailure(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()
	identity := testIdentity("user-1", &session.Session{ID: "sid-1", DeviceID: "device-1"})

	m.sessions.On("RevokeSession", ctx, "sid-1").Return(session.ErrStoreUnavailable)

	_, err := s.Logout(ctx, identity, nil, testClient)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	m.recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestService_RevokeSubject(t *testing.T) {
	tests := []struct {
		name        string
		providerErr error
		wantErr     error
	}{
		{"revoked", nil, nil},
		{"unknown subject", providerError(CodeUserNotFound, "no user"), user.ErrUserNotFound},
		{"directory down", errors.New("connection refused"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := newServiceUnderTest(t)
			ctx := context.Background()

			m.sessions.On("RevokeAllSessionsForSubject", ctx, "user-1").Return(2, nil)
			m.provider.On("RevokeRefreshTokens", ctx, "user-1").Return(tt.providerErr)

			count, err := s.RevokeSubject(ctx, "user-1")
			assert.Equal(t, 2, count)
			switch {
			case tt.providerErr == nil:
				assert.NoError(t, err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.ErrorIs(t, err, tt.providerErr)
			}
		})
	}
}

func TestService_RevokeSubjectStoreFailure(t *testing.T) {
	s, m := newServiceUnderTest(t)
	ctx := context.Background()

	m.sessions.On("RevokeAllSessionsForSubject", ctx, "user-1").Return(0, session.ErrStoreUnavailable)

	_, err := s.RevokeSubject(ctx, "user-1")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	m.provider.AssertNotCalled(t, "RevokeRefreshTokens", mock.Anything, mock.Anything)
}
