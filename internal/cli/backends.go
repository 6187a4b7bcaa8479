package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/astrodesk/sessiongate/internal/cache"
	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/database"
	"github.com/astrodesk/sessiongate/internal/domain/audit"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/logging"
)

// Backends are the stores an operator command works against
type Backends struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Log    *logging.Logger

	owned bool
}

// Connect opens the database and Redis named by cfg
func Connect(cfg *config.Config) (*Backends, error) {
	log := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Writer: os.Stderr})

	db, err := database.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := cache.ConnectRedis(&cfg.Redis)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return &Backends{Config: cfg, DB: db, Redis: rdb, Log: log, owned: true}, nil
}

// ConnectFromEnv loads the configuration and connects
func ConnectFromEnv() (*Backends, error) {
	cfg, _, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return Connect(cfg)
}

// Close releases both connections when Connect opened them
func (b *Backends) Close() error {
	if !b.owned {
		return nil
	}
	var first error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			first = err
		}
	}
	if err := database.Close(b.DB); err != nil && first == nil {
		first = err
	}
	return first
}

func (b *Backends) logger() *logging.Logger {
	if b.Log == nil {
		return logging.Default()
	}
	return b.Log
}

// Sessions builds a session manager over the Redis store
func (b *Backends) Sessions() session.Manager {
	return session.NewManager(
		session.NewRedisStore(b.Redis, b.Config.Session.KeyPrefix),
		session.Config{TTL: b.Config.Session.TTL, RevokedGrace: b.Config.Session.RevokedGrace},
		b.logger(),
	)
}

// Users builds the user directory service with its Redis cache invalidation
func (b *Backends) Users() user.Service {
	repo := user.NewRepository(b.DB)
	return user.NewService(repo, cache.NewUserCache(b.Redis, repo))
}

// Audit builds the audit trail service
func (b *Backends) Audit() audit.Service {
	return audit.NewService(audit.NewRepository(b.DB), b.logger(), nil)
}

// Connector yields backends for a single command run
type Connector func() (*Backends, error)

// WithBackends connects, runs fn and closes the connections
func WithBackends(connect Connector, fn func(ctx context.Context, b *Backends) error) error {
	if connect == nil {
		connect = ConnectFromEnv
	}
	b, err := connect()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer b.Close()
	return fn(context.Background(), b)
}
