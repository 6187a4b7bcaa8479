package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/astrodesk/sessiongate/internal/cache"
	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/domain/audit"
	"github.com/astrodesk/sessiongate/internal/domain/auth"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/astrodesk/sessiongate/internal/telemetry"
)

// Deps are the connections the components are built on
type Deps struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Logger *logging.Logger
	Meter  metric.MeterProvider
}

// Components is the wired service graph behind the routes
type Components struct {
	Keys     *auth.KeyStore
	Users    user.Service
	Sessions session.Manager
	Audit    audit.Service
	Guard    *auth.Guard

	AuthHandler    *auth.Handler
	IssuerHandler  *auth.IssuerHandler
	SessionHandler *session.Handler
	AuditHandler   *audit.Handler
}

// Build wires repositories, caches, the identity provider, the session
// manager, the guard and the handlers. It fails when the signing keys cannot
// be loaded or the active kid is missing.
func Build(cfg *config.Config, deps Deps) (*Components, error) {
	log := deps.Logger
	if log == nil {
		log = logging.Default()
	}

	keys, err := auth.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	activeKey, err := keys.GetActiveKey()
	if err != nil {
		return nil, fmt.Errorf("active key with KID %s not found in key store: %w", cfg.Auth.ActiveKID, err)
	}
	keyID, _ := activeKey.KeyID()
	log.Info(context.Background(), "Active key loaded", "kid", cfg.Auth.ActiveKID, "key_id", keyID)

	metrics, err := telemetry.NewMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	userRepo := user.NewRepository(deps.DB)
	userCache := cache.NewUserCache(deps.Redis, userRepo)
	users := user.NewService(userRepo, userCache)

	provider := auth.NewKeyStoreProvider(keys, userCache, users, auth.ProviderConfig{
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkewDuration(),
	})

	sessions := session.NewManager(
		session.NewRedisStore(deps.Redis, cfg.Session.KeyPrefix),
		session.Config{TTL: cfg.Session.TTL, RevokedGrace: cfg.Session.RevokedGrace},
		log,
		session.WithObserver(metrics),
	)

	auditSvc := audit.NewService(audit.NewRepository(deps.DB), log, metrics)
	guard := auth.NewGuard(auth.NewVerifier(provider, log), sessions, log, metrics)
	signer := auth.NewSigner(keys, cfg.Auth.Issuer, cfg.Auth.Audience)

	return &Components{
		Keys:     keys,
		Users:    users,
		Sessions: sessions,
		Audit:    auditSvc,
		Guard:    guard,

		AuthHandler:    auth.NewHandler(auth.NewService(users, sessions, provider, auditSvc, log)),
		IssuerHandler:  auth.NewIssuerHandler(keys, signer, users, cfg.Auth.TokenTTLDuration()),
		SessionHandler: session.NewHandler(sessions),
		AuditHandler:   audit.NewHandler(auditSvc),
	}, nil
}
