package authgate

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full engine configuration. Zero values are filled with
// defaults by Normalize; Validate runs after Normalize during Build.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	Cache         CacheConfig
	DeviceBinding DeviceBindingConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys holds additional public keys by kid, accepted during
	// signing-key rotation.
	VerifyKeys map[string][]byte
}

// SessionConfig controls the Redis-backed session registry.
type SessionConfig struct {
	RedisPrefix string
}

// PasswordConfig holds Argon2id parameters and the login-path policy.
type PasswordConfig struct {
	Memory         uint32 // KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// LockoutConfig controls the failed-login lockout policy.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// CacheConfig controls the in-process verification cache.
type CacheConfig struct {
	Enabled       bool
	TTL           time.Duration
	SweepInterval time.Duration
}

// DeviceBindingConfig pins sessions to the device fingerprint captured at
// login. Enabling either check disables the verification cache fast path,
// since binding needs the session row.
type DeviceBindingConfig struct {
	EnforceIP        bool
	EnforceUserAgent bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the engine counter set.
type MetricsConfig struct {
	Enabled                bool
	EnableLatencyHistogram bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "ag",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           30 * time.Second,
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Normalize fills unset fields with defaults. Booleans are left as given.
func (c *Config) Normalize() {
	def := defaultConfig()

	if c.JWT.AccessTTL <= 0 {
		c.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL <= 0 {
		c.JWT.RefreshTTL = def.JWT.RefreshTTL
	}
	if c.JWT.SigningMethod == "" {
		c.JWT.SigningMethod = def.JWT.SigningMethod
	}
	if c.JWT.Leeway <= 0 {
		c.JWT.Leeway = def.JWT.Leeway
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = def.Session.RedisPrefix
	}
	if c.Password.Memory == 0 {
		c.Password.Memory = def.Password.Memory
	}
	if c.Password.Time == 0 {
		c.Password.Time = def.Password.Time
	}
	if c.Password.Parallelism == 0 {
		c.Password.Parallelism = def.Password.Parallelism
	}
	if c.Password.SaltLength == 0 {
		c.Password.SaltLength = def.Password.SaltLength
	}
	if c.Password.KeyLength == 0 {
		c.Password.KeyLength = def.Password.KeyLength
	}
	if c.Password.MinLength <= 0 {
		c.Password.MinLength = def.Password.MinLength
	}
	if c.Lockout.Threshold <= 0 {
		c.Lockout.Threshold = def.Lockout.Threshold
	}
	if c.Lockout.Window <= 0 {
		c.Lockout.Window = def.Lockout.Window
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = def.Cache.SweepInterval
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
}

// Validate rejects configurations the engine cannot run with. Called after
// Normalize, so only genuinely invalid input remains.
func (c *Config) Validate() error {
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 signing requires private and public keys")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 signing requires a secret of at least 32 bytes")
		}
	default:
		return errors.New("unsupported signing method: " + c.JWT.SigningMethod)
	}

	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.Cache.Enabled && c.Cache.TTL > c.JWT.AccessTTL {
		return errors.New("cache TTL must not exceed access token TTL")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.PrivateKey = append([]byte(nil), c.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), c.JWT.PublicKey...)
	if c.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(c.JWT.VerifyKeys))
		for kid, key := range c.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = append([]byte(nil), key...)
		}
	}
	return out
}

// envConfig is the flat environment mapping consumed by ConfigFromEnv.
type envConfig struct {
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL"`
	SigningMethod string        `env:"JWT_SIGNING_METHOD"`
	SigningKey    string        `env:"JWT_SIGNING_KEY"`
	Issuer        string        `env:"JWT_ISSUER"`
	Audience      string        `env:"JWT_AUDIENCE"`

	RedisPrefix string `env:"REDIS_PREFIX"`

	PasswordMinLength int           `env:"PASSWORD_MIN_LENGTH"`
	LockoutThreshold  int           `env:"LOCKOUT_THRESHOLD"`
	LockoutWindow     time.Duration `env:"LOCKOUT_WINDOW"`

	CacheEnabled bool          `env:"CACHE_ENABLED" envDefault:"true"`
	CacheTTL     time.Duration `env:"CACHE_TTL"`

	AuditEnabled   bool `env:"AUDIT_ENABLED" envDefault:"true"`
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// ConfigFromEnv builds a Config from AUTHGATE_-prefixed environment
// variables layered over the defaults. Key material longer than an env var
// comfortably holds (ed25519 PEM) is expected to be supplied in code; the
// env path only covers hs256 secrets.
func ConfigFromEnv() (Config, error) {
	var e envConfig
	if err := env.ParseWithOptions(&e, env.Options{Prefix: "AUTHGATE_"}); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if e.AccessTTL > 0 {
		cfg.JWT.AccessTTL = e.AccessTTL
	}
	if e.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = e.RefreshTTL
	}
	if e.SigningMethod != "" {
		cfg.JWT.SigningMethod = e.SigningMethod
	}
	if e.SigningKey != "" {
		cfg.JWT.PrivateKey = []byte(e.SigningKey)
	}
	cfg.JWT.Issuer = e.Issuer
	cfg.JWT.Audience = e.Audience
	if e.RedisPrefix != "" {
		cfg.Session.RedisPrefix = e.RedisPrefix
	}
	if e.PasswordMinLength > 0 {
		cfg.Password.MinLength = e.PasswordMinLength
	}
	if e.LockoutThreshold > 0 {
		cfg.Lockout.Threshold = e.LockoutThreshold
	}
	if e.LockoutWindow > 0 {
		cfg.Lockout.Window = e.LockoutWindow
	}
	cfg.Cache.Enabled = e.CacheEnabled
	if e.CacheTTL > 0 {
		cfg.Cache.TTL = e.CacheTTL
	}
	cfg.Audit.Enabled = e.AuditEnabled
	cfg.Metrics.Enabled = e.MetricsEnabled

	return cfg, nil
}
