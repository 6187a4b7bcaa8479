package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/utils"
)

// Directory is the part of the user service the development issuer needs
type Directory interface {
	Register(ctx context.Context, req user.RegisterRequest) (*user.User, bool, error)
	SetRoles(ctx context.Context, id string, roles []string) error
}

// IssuerHandler publishes the signing keys and, outside production, mints
// tokens with the active key.
type IssuerHandler struct {
	keys   *KeyStore
	signer *Signer
	users  Directory
	ttl    time.Duration
}

func NewIssuerHandler(keys *KeyStore, signer *Signer, users Directory, ttl time.Duration) *IssuerHandler {
	return &IssuerHandler{keys: keys, signer: signer, users: users, ttl: ttl}
}

// JWKS serves the public key set
func (h *IssuerHandler) JWKS(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.JSON(h.keys.JWKS())
}

type devTokenRequest struct {
	Subject    string   `json:"subject"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Roles      []string `json:"roles"`
	SessionID  string   `json:"session_id"`
	TTLSeconds int      `json:"ttl_seconds"`
}

// DevToken creates the directory entry if needed and signs a token for it
func (h *IssuerHandler) DevToken(c *fiber.Ctx) error {
	var req devTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid_body"))
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("subject is required"))
	}

	ctx := c.UserContext()
	_, created, err := h.users.Register(ctx, user.RegisterRequest{
		SubjectID:   req.Subject,
		Email:       req.Email,
		DisplayName: req.Name,
		Roles:       req.Roles,
	})
	if err != nil {
		return err
	}
	if !created && req.Roles != nil {
		if err := h.users.SetRoles(ctx, req.Subject, req.Roles); err != nil {
			return err
		}
	}

	ttl := h.ttl
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	now := time.Now()
	token, err := h.signer.Sign(TokenRequest{
		Subject:   req.Subject,
		Email:     req.Email,
		Name:      req.Name,
		Roles:     req.Roles,
		SessionID: req.SessionID,
		IssuedAt:  now,
		TTL:       ttl,
	})
	if err != nil {
		return err
	}

	return utils.SuccessResponse(c, fiber.Map{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": now.Add(ttl).UTC(),
	}, "Token issued", fiber.StatusCreated)
}
