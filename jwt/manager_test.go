package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authgate-test",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIssueParseRoundTrip(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	for _, typ := range []TokenType{TypeAccess, TypeRefresh} {
		token, err := m.Issue("identity-1", "session-1", 3, typ, "jti-1", now)
		if err != nil {
			t.Fatalf("Issue(%s): %v", typ, err)
		}

		claims, err := m.Parse(token, typ)
		if err != nil {
			t.Fatalf("Parse(%s): %v", typ, err)
		}
		if claims.Subject != "identity-1" {
			t.Fatalf("subject = %q", claims.Subject)
		}
		if claims.SessionID != "session-1" {
			t.Fatalf("session id = %q", claims.SessionID)
		}
		if claims.CredentialVersion != 3 {
			t.Fatalf("credential version = %d", claims.CredentialVersion)
		}
	}
}

func TestParseRejectsWrongType(t *testing.T) {
	m := newTestManager(t)
	refresh, err := m.Issue("identity-1", "session-1", 1, TypeRefresh, "jti-1", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(refresh, TypeAccess); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestParseClassifiesExpired(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Issue("identity-1", "session-1", 1, TypeAccess, "jti-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(token, TypeAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseClassifiesSignature(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "authgate-test",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := other.Issue("identity-1", "session-1", 1, TypeAccess, "jti-1", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(token, TypeAccess); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestParseClassifiesMalformed(t *testing.T) {
	m := newTestManager(t)
	for _, raw := range []string{"", "garbage", "a.b.c", "eyJ.eyJ.sig"} {
		if _, err := m.Parse(raw, TypeAccess); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestEd25519KeyRotation(t *testing.T) {
	pubOld, privOld, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pubNew, privNew, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	issuerOld, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    privOld,
		PublicKey:     pubOld,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pubOld},
	})
	if err != nil {
		t.Fatalf("NewManager old: %v", err)
	}
	token, err := issuerOld.Issue("identity-1", "session-1", 1, TypeAccess, "jti-1", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Rotated manager signs with k2 but still verifies k1 tokens.
	rotated, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    privNew,
		PublicKey:     pubNew,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pubOld, "k2": pubNew},
	})
	if err != nil {
		t.Fatalf("NewManager rotated: %v", err)
	}
	if _, err := rotated.Parse(token, TypeAccess); err != nil {
		t.Fatalf("rotated Parse: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"refresh not longer", func(c *Config) { c.RefreshTTL = c.AccessTTL }},
		{"missing hs256 key", func(c *Config) { c.PrivateKey = nil }},
		{"excessive leeway", func(c *Config) { c.Leeway = 5 * time.Minute }},
		{"unknown method", func(c *Config) { c.SigningMethod = "rs256" }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
