package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the persistence contract of the session manager. Create, Refresh
// and Revoke are each applied atomically.
type Store interface {
	// Create writes rec and makes it the device's live session, revoking the
	// previous one. It returns the id of the session it superseded, if any.
	Create(ctx context.Context, rec *Session, ttl, grace time.Duration) (superseded string, err error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// TokenSession returns the session last bound to an auth token
	// fingerprint, "" when none.
	TokenSession(ctx context.Context, authFingerprint string) (string, error)
	// DeviceSession returns the session id indexed for a device, "" when none.
	DeviceSession(ctx context.Context, deviceID string) (string, error)
	Refresh(ctx context.Context, sessionID string, tokens fingerprints, now time.Time, ttl time.Duration) error
	// Revoke reports false when the session was already revoked.
	Revoke(ctx context.Context, sessionID string, now time.Time, grace time.Duration) (bool, error)
	SubjectSessionIDs(ctx context.Context, subjectID string) ([]string, error)
	CountSessions(ctx context.Context) (int64, error)
	CountDevices(ctx context.Context) (int64, error)
	Sweep(ctx context.Context) (SweepResult, error)
}

type fingerprints struct {
	auth            string
	authIssuedAt    time.Time
	refresh         string
	refreshIssuedAt time.Time
}

// SweepResult counts stale index entries removed by Sweep
type SweepResult struct {
	Sessions int `json:"sessions"`
	Devices  int `json:"devices"`
}

const (
	fieldSubject         = "subject_id"
	fieldDevice          = "device_id"
	fieldDeviceName      = "device_name"
	fieldCreatedAt       = "created_at"
	fieldUpdatedAt       = "updated_at"
	fieldAuthFp          = "auth_fp"
	fieldAuthIssuedAt    = "auth_issued_at"
	fieldRefreshFp       = "refresh_fp"
	fieldRefreshIssuedAt = "refresh_issued_at"
	fieldRevoked         = "revoked"
)

// Scripts derive the keys of other sessions from the prefix in ARGV[1], so
// the store targets a single Redis primary rather than a cluster.
var createScript = redis.NewScript(`
local prefix = ARGV[1]
local sid = ARGV[2]
local now_ms = ARGV[6]
local ttl_ms = ARGV[11]
local grace_ms = ARGV[12]

local superseded = ""
local prior = redis.call("GET", KEYS[2])
if prior and prior ~= sid then
  local prior_key = prefix .. ":session:" .. prior
  if redis.call("EXISTS", prior_key) == 1 then
    local prior_subject = redis.call("HGET", prior_key, "subject_id")
    if redis.call("HGET", prior_key, "revoked") ~= "1" then
      redis.call("HSET", prior_key, "revoked", "1", "updated_at", now_ms)
      superseded = prior
    end
    redis.call("PEXPIRE", prior_key, grace_ms)
    if prior_subject then
      redis.call("SREM", prefix .. ":subject:" .. prior_subject, prior)
    end
  end
  redis.call("DEL", prefix .. ":session-device:" .. prior)
  redis.call("SREM", KEYS[5], prior)
end

redis.call("HSET", KEYS[1],
  "subject_id", ARGV[3],
  "device_id", ARGV[4],
  "device_name", ARGV[5],
  "created_at", now_ms,
  "updated_at", now_ms,
  "auth_fp", ARGV[7],
  "auth_issued_at", ARGV[8],
  "refresh_fp", ARGV[9],
  "refresh_issued_at", ARGV[10],
  "revoked", "0")
redis.call("PEXPIRE", KEYS[1], ttl_ms)
redis.call("SET", KEYS[2], sid, "PX", ttl_ms)
redis.call("SET", KEYS[3], ARGV[4], "PX", ttl_ms)
redis.call("SADD", KEYS[4], sid)
redis.call("PEXPIRE", KEYS[4], ttl_ms)
redis.call("SADD", KEYS[5], sid)
redis.call("SADD", KEYS[6], ARGV[4])
if ARGV[7] ~= "" then
  redis.call("SET", prefix .. ":token:" .. ARGV[7], sid, "PX", ttl_ms)
end
return superseded
`)

var revokeScript = redis.NewScript(`
local prefix = ARGV[1]
local sid = ARGV[2]

if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end

redis.call("HSET", KEYS[1], "revoked", "1", "updated_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])

local device = redis.call("HGET", KEYS[1], "device_id")
if device then
  local device_key = prefix .. ":device:" .. device
  if redis.call("GET", device_key) == sid then
    redis.call("DEL", device_key)
    redis.call("SREM", KEYS[4], device)
  end
end
local subject = redis.call("HGET", KEYS[1], "subject_id")
if subject then
  redis.call("SREM", prefix .. ":subject:" .. subject, sid)
end
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], sid)
return 1
`)

var refreshScript = redis.NewScript(`
local prefix = ARGV[1]
local sid = ARGV[2]
local ttl_ms = ARGV[8]

if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end

redis.call("HSET", KEYS[1], "auth_fp", ARGV[4], "auth_issued_at", ARGV[5], "updated_at", ARGV[3])
redis.call("SET", prefix .. ":token:" .. ARGV[4], sid, "PX", ttl_ms)
if ARGV[6] ~= "" then
  redis.call("HSET", KEYS[1], "refresh_fp", ARGV[6], "refresh_issued_at", ARGV[7])
end
redis.call("PEXPIRE", KEYS[1], ttl_ms)

local device = redis.call("HGET", KEYS[1], "device_id")
if device then
  local device_key = prefix .. ":device:" .. device
  if redis.call("GET", device_key) == sid then
    redis.call("PEXPIRE", device_key, ttl_ms)
  end
  redis.call("PEXPIRE", prefix .. ":session-device:" .. sid, ttl_ms)
end
local subject = redis.call("HGET", KEYS[1], "subject_id")
if subject then
  redis.call("PEXPIRE", prefix .. ":subject:" .. subject, ttl_ms)
end
return 1
`)

// RedisStore keeps session records in Redis hashes with derived index keys:
//
//	<prefix>:session:<sid>          hash, the record
//	<prefix>:device:<device>        string, live sid of the device
//	<prefix>:session-device:<sid>   string, device of a live session
//	<prefix>:subject:<subject>      set, live sids of a subject
//	<prefix>:live-sessions          set, all live sids
//	<prefix>:live-devices           set, devices with a live session
//	<prefix>:token:<auth_fp>        string, session an auth token was bound to
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to "sg".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sg"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(sid string) string       { return s.prefix + ":session:" + sid }
func (s *RedisStore) deviceKey(device string) string     { return s.prefix + ":device:" + device }
func (s *RedisStore) sessionDeviceKey(sid string) string { return s.prefix + ":session-device:" + sid }
func (s *RedisStore) subjectKey(subject string) string   { return s.prefix + ":subject:" + subject }
func (s *RedisStore) liveSessionsKey() string            { return s.prefix + ":live-sessions" }
func (s *RedisStore) liveDevicesKey() string             { return s.prefix + ":live-devices" }
func (s *RedisStore) tokenKey(fp string) string          { return s.prefix + ":token:" + fp }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *RedisStore) Create(ctx context.Context, rec *Session, ttl, grace time.Duration) (string, error) {
	keys := []string{
		s.sessionKey(rec.ID),
		s.deviceKey(rec.DeviceID),
		s.sessionDeviceKey(rec.ID),
		s.subjectKey(rec.SubjectID),
		s.liveSessionsKey(),
		s.liveDevicesKey(),
	}
	args := []any{
		s.prefix,
		rec.ID,
		rec.SubjectID,
		rec.DeviceID,
		rec.DeviceName,
		rec.CreatedAt.UnixMilli(),
		rec.AuthFingerprint,
		unixMilli(rec.AuthIssuedAt),
		rec.RefreshFingerprint,
		unixMilli(rec.RefreshIssuedAt),
		ttl.Milliseconds(),
		grace.Milliseconds(),
	}

	superseded, err := createScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return "", unavailable("create", err)
	}
	return superseded, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeSession(sessionID, fields), nil
}

func (s *RedisStore) TokenSession(ctx context.Context, authFingerprint string) (string, error) {
	sid, err := s.client.Get(ctx, s.tokenKey(authFingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("token lookup", err)
	}
	return sid, nil
}

func (s *RedisStore) DeviceSession(ctx context.Context, deviceID string) (string, error) {
	sid, err := s.client.Get(ctx, s.deviceKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("device lookup", err)
	}
	return sid, nil
}

func (s *RedisStore) Refresh(ctx context.Context, sessionID string, fp fingerprints, now time.Time, ttl time.Duration) error {
	keys := []string{s.sessionKey(sessionID)}
	args := []any{
		s.prefix,
		sessionID,
		now.UnixMilli(),
		fp.auth,
		unixMilli(fp.authIssuedAt),
		fp.refresh,
		unixMilli(fp.refreshIssuedAt),
		ttl.Milliseconds(),
	}

	res, err := refreshScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return unavailable("refresh", err)
	}
	switch res {
	case -1:
		return ErrSessionNotFound
	case 0:
		return ErrSessionRevoked
	default:
		return nil
	}
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID string, now time.Time, grace time.Duration) (bool, error) {
	keys := []string{
		s.sessionKey(sessionID),
		s.sessionDeviceKey(sessionID),
		s.liveSessionsKey(),
		s.liveDevicesKey(),
	}
	res, err := revokeScript.Run(ctx, s.client, keys, s.prefix, sessionID, now.UnixMilli(), grace.Milliseconds()).Int()
	if err != nil {
		return false, unavailable("revoke", err)
	}
	switch res {
	case -1:
		return false, ErrSessionNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *RedisStore) SubjectSessionIDs(ctx context.Context, subjectID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		return nil, unavailable("subject lookup", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) CountSessions(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.liveSessionsKey()).Result()
	if err != nil {
		return 0, unavailable("count sessions", err)
	}
	return n, nil
}

func (s *RedisStore) CountDevices(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.liveDevicesKey()).Result()
	if err != nil {
		return 0, unavailable("count devices", err)
	}
	return n, nil
}

// Sweep drops aggregate index entries whose session or device key expired
// naturally. Scripts clean indexes on revocation; TTL expiry cannot.
func (s *RedisStore) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	sids, err := s.client.SMembers(ctx, s.liveSessionsKey()).Result()
	if err != nil {
		return result, unavailable("sweep", err)
	}
	for _, sid := range sids {
		revoked, err := s.client.HGet(ctx, s.sessionKey(sid), fieldRevoked).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return result, unavailable("sweep", err)
		}
		if errors.Is(err, redis.Nil) || revoked == "1" {
			if err := s.client.SRem(ctx, s.liveSessionsKey(), sid).Err(); err != nil {
				return result, unavailable("sweep", err)
			}
			result.Sessions++
		}
	}

	devices, err := s.client.SMembers(ctx, s.liveDevicesKey()).Result()
	if err != nil {
		return result, unavailable("sweep", err)
	}
	for _, device := range devices {
		exists, err := s.client.Exists(ctx, s.deviceKey(device)).Result()
		if err != nil {
			return result, unavailable("sweep", err)
		}
		if exists == 0 {
			if err := s.client.SRem(ctx, s.liveDevicesKey(), device).Err(); err != nil {
				return result, unavailable("sweep", err)
			}
			result.Devices++
		}
	}

	return result, nil
}

func decodeSession(id string, fields map[string]string) *Session {
	return &Session{
		ID:                 id,
		SubjectID:          fields[fieldSubject],
		DeviceID:           fields[fieldDevice],
		DeviceName:         fields[fieldDeviceName],
		CreatedAt:          parseMilli(fields[fieldCreatedAt]),
		UpdatedAt:          parseMilli(fields[fieldUpdatedAt]),
		AuthFingerprint:    fields[fieldAuthFp],
		AuthIssuedAt:       parseMilli(fields[fieldAuthIssuedAt]),
		RefreshFingerprint: fields[fieldRefreshFp],
		RefreshIssuedAt:    parseMilli(fields[fieldRefreshIssuedAt]),
		Revoked:            fields[fieldRevoked] == "1",
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMilli(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
