package authgate

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/nebulock/authgate/internal/audit"
	"github.com/nebulock/authgate/internal/lockout"
	"github.com/nebulock/authgate/jwt"
	"github.com/nebulock/authgate/password"
	"github.com/nebulock/authgate/session"
)

// Builder assembles an Engine. A builder is single-use: Build consumes it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityStore
	auditSink  AuditSink
	logger     *slog.Logger

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session registry.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the durable identity store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithAuditSink sets the destination for audit events. Without one, events
// are dispatched to a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger for operational warnings.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates configuration and dependencies and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	cfg := cloneConfig(b.config)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := b.auditSink
	if sink == nil {
		sink = NoOpSink{}
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	e := &Engine{
		config:     cfg,
		hasher:     hasher,
		tokens:     tokens,
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		identities: b.identities,
		metrics:    NewMetrics(cfg.Metrics),
		audit:      dispatcher,
		logger:     logger,
		lockout: lockout.Config{
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Window,
		},
	}

	bindingEnforced := cfg.DeviceBinding.EnforceIP || cfg.DeviceBinding.EnforceUserAgent
	if cfg.Cache.Enabled && !bindingEnforced {
		e.verifyCache = newVerifyCache(cfg.Cache)
	}

	e.flows = e.buildFlows()
	return e, nil
}
