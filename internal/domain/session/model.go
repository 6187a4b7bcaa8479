package session

import (
	"encoding/base64"
	"errors"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// MaxDeviceIDLength bounds device identifiers accepted by the store
const MaxDeviceIDLength = 128

var (
	// ErrInvalidSession is returned when a session handle is structurally malformed
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound is returned when no record exists for a well-formed session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned when mutating a revoked session
	ErrSessionRevoked = errors.New("session revoked")
	// ErrInvalidDevice is returned for empty, oversized or non-printable device ids
	ErrInvalidDevice = errors.New("invalid device id")
	// ErrInvalidSubject is returned when the subject id is empty
	ErrInvalidSubject = errors.New("invalid subject id")
	// ErrStoreUnavailable wraps failures talking to the session store
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrMissingAuthToken is returned when refreshing without the new auth token
	ErrMissingAuthToken = errors.New("auth token required")
	// ErrTokenMismatch is returned when a credential is not the one bound to the session
	ErrTokenMismatch = errors.New("token not bound to session")
)

// Session is the server-side record binding a subject and a device.
// ID, SubjectID and DeviceID never change after creation.
type Session struct {
	ID                 string    `json:"id"`
	SubjectID          string    `json:"subject_id"`
	DeviceID           string    `json:"device_id"`
	DeviceName         string    `json:"device_name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	AuthFingerprint    string    `json:"auth_fingerprint"`
	AuthIssuedAt       time.Time `json:"auth_issued_at"`
	RefreshFingerprint string    `json:"refresh_fingerprint,omitempty"`
	RefreshIssuedAt    time.Time `json:"refresh_issued_at,omitzero"`
	Revoked            bool      `json:"revoked"`
}

// Live reports whether the session may authenticate requests
func (s *Session) Live() bool {
	return s != nil && !s.Revoked
}

// Tokens carries the raw credentials a session is bound to. Only their
// fingerprints reach the store.
type Tokens struct {
	AuthToken       string
	AuthIssuedAt    time.Time
	RefreshToken    string
	RefreshIssuedAt time.Time
}

// Fingerprint hashes a token using SHA3-256
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha3.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

// MatchesAuthToken reports whether token is the one the session last saw
func (s *Session) MatchesAuthToken(token string) bool {
	return s.AuthFingerprint != "" && s.AuthFingerprint == Fingerprint(token)
}

// MatchesRefreshToken reports whether token is the session's refresh token
func (s *Session) MatchesRefreshToken(token string) bool {
	return s.RefreshFingerprint != "" && token != "" && s.RefreshFingerprint == Fingerprint(token)
}

// ValidateSessionID rejects anything that is not a canonical UUID v4
func ValidateSessionID(id string) error {
	if len(id) != 36 {
		return ErrInvalidSession
	}
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 4 || parsed.String() != id {
		return ErrInvalidSession
	}
	return nil
}

// ValidateDeviceID enforces the device id shape
func ValidateDeviceID(id string) error {
	if id == "" || len(id) > MaxDeviceIDLength {
		return ErrInvalidDevice
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ErrInvalidDevice
		}
	}
	return nil
}
