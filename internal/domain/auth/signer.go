package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// TokenRequest describes a token minted by the local development issuer
type TokenRequest struct {
	Subject   string
	Email     string
	Name      string
	Roles     []string
	SessionID string
	// AuthTime defaults to IssuedAt.
	AuthTime time.Time
	IssuedAt time.Time
	TTL      time.Duration
}

// Signer mints RS256 tokens with the active key
type Signer struct {
	keys     *KeyStore
	issuer   string
	audience []string
}

// NewSigner creates a Signer for the given issuer and audience
func NewSigner(keys *KeyStore, issuer string, audience []string) *Signer {
	return &Signer{keys: keys, issuer: issuer, audience: audience}
}

// Sign builds and signs a token for req
func (s *Signer) Sign(req TokenRequest) (string, error) {
	if req.Subject == "" {
		return "", errors.New("subject is required")
	}
	key, err := s.keys.GetActiveKey()
	if err != nil {
		return "", err
	}

	iat := req.IssuedAt
	if iat.IsZero() {
		iat = time.Now()
	}
	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = iat
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	builder := jwt.NewBuilder().
		Subject(req.Subject).
		Issuer(s.issuer).
		JwtID(uuid.NewString()).
		IssuedAt(iat).
		Expiration(iat.Add(ttl)).
		Claim("auth_time", authTime.Unix()).
		Claim("sign_in_provider", "custom")
	if len(s.audience) > 0 {
		builder = builder.Audience(s.audience)
	}
	if req.Email != "" {
		builder = builder.Claim("email", req.Email)
	}
	if req.Name != "" {
		builder = builder.Claim("name", req.Name)
	}
	if len(req.Roles) > 0 {
		builder = builder.Claim("roles", req.Roles)
	}
	if req.SessionID != "" {
		builder = builder.Claim("sid", req.SessionID)
	}

	token, err := builder.Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
