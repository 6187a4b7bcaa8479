package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTTL   = 2 * time.Hour
	testGrace = 10 * time.Minute
)

type countingObserver struct {
	mu         sync.Mutex
	created    int
	superseded int
	revoked    int
}

func (o *countingObserver) SessionCreated(_ context.Context, superseded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
	if superseded {
		o.superseded++
	}
}

func (o *countingObserver) SessionsRevoked(_ context.Context, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.revoked += count
}

type fixture struct {
	mr       *miniredis.Miniredis
	store    *RedisStore
	mgr      Manager
	observer *countingObserver
	clock    *time.Time
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		mr:       mr,
		store:    NewRedisStore(client, "sg"),
		observer: &countingObserver{},
		clock:    &now,
		logs:     &bytes.Buffer{},
	}
	logger := logging.New(logging.Options{Level: "debug", Format: "json", Writer: f.logs})
	f.mgr = NewManager(f.store, Config{TTL: testTTL, RevokedGrace: testGrace}, logger,
		WithObserver(f.observer),
		WithClock(func() time.Time { return *f.clock }),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func tokensFor(label string, at time.Time) Tokens {
	return Tokens{
		AuthToken:       "auth-" + label,
		AuthIssuedAt:    at,
		RefreshToken:    "refresh-" + label,
		RefreshIssuedAt: at,
	}
}

func TestManager_CreateAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, superseded, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "Pixel 9", tokensFor("1", *f.clock))
	require.NoError(t, err)
	assert.Empty(t, superseded)
	require.NoError(t, ValidateSessionID(sid))

	rec, err := f.mgr.LookupSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.SubjectID)
	assert.Equal(t, "device-a", rec.DeviceID)
	assert.Equal(t, "Pixel 9", rec.DeviceName)
	assert.True(t, rec.Live())
	assert.True(t, rec.MatchesAuthToken("auth-1"))
	assert.Equal(t, Fingerprint("refresh-1"), rec.RefreshFingerprint)
	assert.True(t, rec.CreatedAt.Equal(*f.clock))

	got, found, err := f.mgr.GetDeviceSession(ctx, "device-a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sid, got)

	assert.Equal(t, testTTL, f.mr.TTL("sg:session:"+sid))
	assert.NotContains(t, f.mr.HGet("sg:session:"+sid, "auth_fp"), "auth-1", "raw tokens are never stored")

	sessions, err := f.mgr.GetTotalSessions(ctx)
	require.NoError(t, err)
	devices, err := f.mgr.GetTotalDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions)
	assert.Equal(t, int64(1), devices)
	assert.Equal(t, 1, f.observer.created)
}

func TestManager_SecondLoginSupersedesPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1, _, err := f.mgr.CreateSession(ctx, "user-1", "device-d", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	f.advance(time.Minute)
	s2, superseded, err := f.mgr.CreateSession(ctx, "user-1", "device-d", "", tokensFor("2", *f.clock))
	require.NoError(t, err)
	assert.Equal(t, s1, superseded)

	old, err := f.mgr.LookupSession(ctx, s1)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, testGrace, f.mr.TTL("sg:session:"+s1))
	assert.False(t, f.mr.Exists("sg:session-device:"+s1))

	current, err := f.mgr.LookupSession(ctx, s2)
	require.NoError(t, err)
	assert.True(t, current.Live())

	got, found, err := f.mgr.GetDeviceSession(ctx, "device-d")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, s2, got)

	list, err := f.mgr.ListSubjectSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, s2, list[0].ID)

	sessions, _ := f.mgr.GetTotalSessions(ctx)
	devices, _ := f.mgr.GetTotalDevices(ctx)
	assert.Equal(t, int64(1), sessions)
	assert.Equal(t, int64(1), devices)
	assert.Equal(t, 1, f.observer.superseded)
}

func TestManager_NeverTwoLiveSessionsPerDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := range 5 {
		sid, superseded, err := f.mgr.CreateSession(ctx, "user-1", "device-x", "", tokensFor(fmt.Sprint(i), *f.clock))
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, ids[i-1], superseded, "each login supersedes exactly the previous one")
		}
		ids = append(ids, sid)
	}

	live := 0
	for _, sid := range ids {
		rec, err := f.mgr.LookupSession(ctx, sid)
		require.NoError(t, err)
		if rec.Live() {
			live++
			assert.Equal(t, ids[len(ids)-1], sid)
		}
	}
	assert.Equal(t, 1, live)
}

func TestManager_ConcurrentLoginsOnOneDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-race", "", tokensFor(fmt.Sprint(i), time.Now()))
			assert.NoError(t, err)
			ids[i] = sid
		}()
	}
	wg.Wait()

	live := 0
	for _, sid := range ids {
		rec, err := f.mgr.LookupSession(ctx, sid)
		require.NoError(t, err)
		if rec.Live() {
			live++
		}
	}
	assert.Equal(t, 1, live)

	got, found, err := f.mgr.GetDeviceSession(ctx, "device-race")
	require.NoError(t, err)
	require.True(t, found)
	rec, err := f.mgr.LookupSession(ctx, got)
	require.NoError(t, err)
	assert.True(t, rec.Live())
}

func TestManager_RevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)

	require.NoError(t, f.mgr.RevokeSession(ctx, sid))
	require.NoError(t, f.mgr.RevokeSession(ctx, sid))

	rec, err := f.mgr.LookupSession(ctx, sid)
	require.NoError(t, err)
	assert.True(t, rec.Revoked)

	_, found, err := f.mgr.GetDeviceSession(ctx, "device-a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, f.mr.Exists("sg:device:device-a"), "revoking twice does not resurrect indexes")
	assert.False(t, f.mr.Exists("sg:session-device:"+sid))

	sessions, _ := f.mgr.GetTotalSessions(ctx)
	devices, _ := f.mgr.GetTotalDevices(ctx)
	assert.Zero(t, sessions)
	assert.Zero(t, devices)
	assert.Equal(t, 1, f.observer.revoked)
}

func TestManager_RevokeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.mgr.RevokeSession(ctx, uuid.NewString()), ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.RevokeSession(ctx, "../../etc"), ErrInvalidSession)
}

func TestManager_RefreshRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "iPad", tokensFor("0", *f.clock))
	require.NoError(t, err)
	created := *f.clock

	for i := 1; i <= 3; i++ {
		f.advance(time.Hour)
		f.mr.FastForward(time.Hour)
		require.NoError(t, f.mgr.RefreshSession(ctx, sid, tokensFor(fmt.Sprint(i), *f.clock)))
	}

	rec, err := f.mgr.LookupSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, sid, rec.ID)
	assert.Equal(t, "device-a", rec.DeviceID)
	assert.Equal(t, "user-1", rec.SubjectID)
	assert.True(t, rec.MatchesAuthToken("auth-3"))
	assert.False(t, rec.MatchesAuthToken("auth-2"))
	assert.Equal(t, Fingerprint("refresh-3"), rec.RefreshFingerprint)
	assert.True(t, rec.CreatedAt.Equal(created))
	assert.True(t, rec.UpdatedAt.Equal(*f.clock))
	assert.True(t, rec.AuthIssuedAt.Equal(*f.clock))

	// Three hours elapsed against a two hour TTL; refresh kept it alive.
	assert.Equal(t, testTTL, f.mr.TTL("sg:session:"+sid))
	assert.Equal(t, testTTL, f.mr.TTL("sg:device:device-a"))

	got, found, err := f.mgr.GetDeviceSession(ctx, "device-a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sid, got)
}

func TestManager_RefreshKeepsRefreshFingerprintWhenAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("0", *f.clock))
	require.NoError(t, err)

	require.NoError(t, f.mgr.RefreshSession(ctx, sid, Tokens{AuthToken: "auth-new", AuthIssuedAt: *f.clock}))

	rec, err := f.mgr.LookupSession(ctx, sid)
	require.NoError(t, err)
	assert.True(t, rec.MatchesAuthToken("auth-new"))
	assert.Equal(t, Fingerprint("refresh-0"), rec.RefreshFingerprint)
}

func TestManager_RefreshErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("0", *f.clock))
	require.NoError(t, err)
	require.NoError(t, f.mgr.RevokeSession(ctx, sid))

	assert.ErrorIs(t, f.mgr.RefreshSession(ctx, sid, tokensFor("1", *f.clock)), ErrSessionRevoked)
	assert.ErrorIs(t, f.mgr.RefreshSession(ctx, uuid.NewString(), tokensFor("1", *f.clock)), ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.RefreshSession(ctx, "nope", tokensFor("1", *f.clock)), ErrInvalidSession)
	assert.ErrorIs(t, f.mgr.RefreshSession(ctx, uuid.NewString(), Tokens{}), ErrMissingAuthToken)

	rec, err := f.mgr.LookupSession(ctx, sid)
	require.NoError(t, err)
	assert.True(t, rec.MatchesAuthToken("auth-0"), "revoked session is not mutated")
}

func TestManager_RevokeAllForSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1, _, err := f.mgr.CreateSession(ctx, "user-u", "device-1", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	s2, _, err := f.mgr.CreateSession(ctx, "user-u", "device-2", "", tokensFor("2", *f.clock))
	require.NoError(t, err)
	other, _, err := f.mgr.CreateSession(ctx, "user-v", "device-3", "", tokensFor("3", *f.clock))
	require.NoError(t, err)

	count, err := f.mgr.RevokeAllSessionsForSubject(ctx, "user-u")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, sid := range []string{s1, s2} {
		rec, err := f.mgr.LookupSession(ctx, sid)
		require.NoError(t, err)
		assert.True(t, rec.Revoked, sid)
	}

	rec, err := f.mgr.LookupSession(ctx, other)
	require.NoError(t, err)
	assert.True(t, rec.Live())

	list, err := f.mgr.ListSubjectSessions(ctx, "user-u")
	require.NoError(t, err)
	assert.Empty(t, list)

	count, err = f.mgr.RevokeAllSessionsForSubject(ctx, "user-u")
	require.NoError(t, err)
	assert.Zero(t, count)

	sessions, _ := f.mgr.GetTotalSessions(ctx)
	assert.Equal(t, int64(1), sessions)
}

func TestManager_DanglingDeviceIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)

	// Simulate a partial write: record revoked but index left behind.
	f.mr.HSet("sg:session:"+sid, "revoked", "1")
	require.True(t, f.mr.Exists("sg:device:device-a"))

	_, found, err := f.mgr.GetDeviceSession(ctx, "device-a")
	require.NoError(t, err)
	assert.False(t, found, "revoked flag wins over index presence")

	require.NoError(t, f.mr.Set("sg:device:device-b", uuid.NewString()))
	_, found, err = f.mgr.GetDeviceSession(ctx, "device-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_InvalidVersusNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"", "garbage", "00000000-0000-1000-8000-000000000000", "{" + uuid.NewString() + "}", strings.ToUpper(uuid.NewString())} {
		_, err := f.mgr.LookupSession(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidSession, id)
	}

	_, err := f.mgr.LookupSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_InvalidDeviceAndSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, device := range []string{"", strings.Repeat("d", MaxDeviceIDLength+1), "dev\x00ice", "has space"} {
		_, _, err := f.mgr.CreateSession(ctx, "user-1", device, "", Tokens{})
		assert.ErrorIs(t, err, ErrInvalidDevice, "%q", device)
	}

	_, _, err := f.mgr.CreateSession(ctx, "user-1", strings.Repeat("d", MaxDeviceIDLength), "", Tokens{})
	assert.NoError(t, err)

	_, _, err = f.mgr.CreateSession(ctx, " ", "device-a", "", Tokens{})
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, _, err = f.mgr.GetDeviceSession(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestManager_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mr.Close()

	_, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", Tokens{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = f.mgr.LookupSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = f.mgr.GetTotalSessions(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestManager_RevokedRecordExpiresAfterGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	require.NoError(t, f.mgr.RevokeSession(ctx, sid))

	f.mr.FastForward(testGrace + time.Second)

	_, err = f.mgr.LookupSession(ctx, sid)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	_, _, err = f.mgr.CreateSession(ctx, "user-2", "device-b", "", tokensFor("2", *f.clock))
	require.NoError(t, err)

	// Natural expiry leaves aggregate sets untouched.
	f.mr.FastForward(testTTL + time.Second)

	sessions, _ := f.mgr.GetTotalSessions(ctx)
	assert.Equal(t, int64(2), sessions, "counts are advisory until swept")

	res, err := f.mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Sessions: 2, Devices: 2}, res)

	sessions, _ = f.mgr.GetTotalSessions(ctx)
	devices, _ := f.mgr.GetTotalDevices(ctx)
	assert.Zero(t, sessions)
	assert.Zero(t, devices)
}

func TestManager_LookupSessionByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s1, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	s2, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("2", *f.clock))
	require.NoError(t, err)

	old, err := f.mgr.LookupSessionByToken(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, s1, old.ID)
	assert.True(t, old.Revoked)

	current, err := f.mgr.LookupSessionByToken(ctx, "auth-2")
	require.NoError(t, err)
	assert.Equal(t, s2, current.ID)
	assert.False(t, current.Revoked)

	require.NoError(t, f.mgr.RefreshSession(ctx, s2, tokensFor("3", *f.clock)))
	rebound, err := f.mgr.LookupSessionByToken(ctx, "auth-3")
	require.NoError(t, err)
	assert.Equal(t, s2, rebound.ID)

	_, err = f.mgr.LookupSessionByToken(ctx, "auth-unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.LookupSessionByToken(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	for _, key := range f.mr.Keys() {
		assert.NotContains(t, key, "auth-1", "raw tokens never become keys")
	}
}

func TestRunSweeper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("1", *f.clock))
	require.NoError(t, err)
	f.mr.FastForward(testTTL + time.Second)

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunSweeper(sweepCtx, f.mgr, 10*time.Millisecond, nil)
	}()

	require.Eventually(t, func() bool {
		n, err := f.mgr.GetTotalSessions(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	devices, err := f.mgr.GetTotalDevices(ctx)
	require.NoError(t, err)
	assert.Zero(t, devices)
}

func TestRunSweeper_DisabledReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	RunSweeper(context.Background(), f.mgr, 0, nil)
}

func TestManager_LogsCarryNoRawTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid, _, err := f.mgr.CreateSession(ctx, "user-1", "device-a", "", tokensFor("secret-value", *f.clock))
	require.NoError(t, err)
	require.NoError(t, f.mgr.RefreshSession(ctx, sid, tokensFor("other-secret", *f.clock)))

	assert.NotContains(t, f.logs.String(), "auth-secret-value")
	assert.NotContains(t, f.logs.String(), "auth-other-secret")
	assert.Contains(t, f.logs.String(), sid)
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(""))
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 43)
}
