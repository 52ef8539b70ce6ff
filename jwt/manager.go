// Package jwt is the token issuer: it mints and verifies the signed access
// and refresh tokens the engine hands out. Tokens are self-contained claim
// sets carrying the subject, session, credential version, and token type.
//
// Parse failures are classified into three sentinel errors because callers
// react differently: ErrExpired (attempt refresh), ErrSignature and
// ErrMalformed (reject and log).
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm for issued tokens.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType distinguishes the two token kinds in the typ claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrExpired means the signature verified but the expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrSignature means the signature did not verify against the key set.
	ErrSignature = errors.New("token signature invalid")
	// ErrMalformed means the token could not be decoded or carries claims
	// of the wrong shape.
	ErrMalformed = errors.New("token malformed")
	// ErrWrongType means a well-formed token of the other kind was
	// presented (refresh where access was expected, or vice versa).
	ErrWrongType = errors.New("wrong token type")
)

// Config carries the signing key material and token lifetimes. Keys are
// loaded at startup, held read-only for the process lifetime, and rotated
// out-of-band via VerifyKeys.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte

	Issuer   string
	Audience string
	Leeway   time.Duration

	// KeyID stamps issued tokens; VerifyKeys maps kid -> verification key
	// so previously issued tokens survive a signing-key rotation.
	KeyID      string
	VerifyKeys map[string][]byte
}

// Manager issues and parses tokens with a fixed configuration.
type Manager struct {
	config Config
}

// Claims is the claim set carried by both token types.
type Claims struct {
	SessionID         string    `json:"sid"`
	CredentialVersion uint32    `json:"cv"`
	TokenType         TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates the key material and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// Issue mints a signed token of the given type for subject and session,
// embedding the identity's credential version at mint time. jti is the
// caller-chosen token identifier (random for refresh tokens, since their
// hash keys the rotation protocol).
func (m *Manager) Issue(subject, sessionID string, credentialVersion uint32, tokenType TokenType, jti string, now time.Time) (string, error) {
	ttl := m.config.AccessTTL
	if tokenType == TypeRefresh {
		ttl = m.config.RefreshTTL
	}

	claims := Claims{
		SessionID:         sessionID,
		CredentialVersion: credentialVersion,
		TokenType:         tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Parse verifies signature and registered claims and asserts the token is
// of the expected type. Returns ErrExpired, ErrSignature, ErrMalformed, or
// ErrWrongType.
func (m *Manager) Parse(tokenStr string, expect TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.resolveVerifyKey)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrMalformed
	}
	if claims.TokenType != expect {
		return nil, ErrWrongType
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrSignature
	default:
		return ErrMalformed
	}
}

func (m *Manager) resolveVerifyKey(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		if m.config.SigningMethod == MethodHS256 {
			return key, nil
		}
		return parseEdPublicKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
