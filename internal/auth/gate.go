// Package auth verifies bearer credentials and attaches the caller's
// identity to the request context.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gateway/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrServerMisconfigured = errors.New("signing secret is not configured")
)

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// claims is the token payload. "id" is preferred; the registered "sub"
// claim is accepted in its place.
type claims struct {
	UserID string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Gate verifies credentials. The signing secret is read from the process
// environment on every call so that rotating it needs no restart.
type Gate struct {
	secretEnv  string
	cookieName string
	lookupEnv  func(string) (string, bool)
	now        func() time.Time
}

type Option func(*Gate)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(g *Gate) {
		g.lookupEnv = fn
	}
}

// WithClock replaces time.Now for expiry checks and signing.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(cfg models.AuthConfig, opts ...Option) *Gate {
	g := &Gate{
		secretEnv:  cfg.SecretEnv,
		cookieName: cfg.CookieName,
		lookupEnv:  os.LookupEnv,
		now:        time.Now,
	}
	if g.secretEnv == "" {
		g.secretEnv = "JWT_SECRET"
	}
	if g.cookieName == "" {
		g.cookieName = "jwt"
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) secret() ([]byte, error) {
	s, ok := g.lookupEnv(g.secretEnv)
	if !ok || s == "" {
		return nil, ErrServerMisconfigured
	}
	return []byte(s), nil
}

// Ready reports whether the signing secret is currently available.
func (g *Gate) Ready() bool {
	_, err := g.secret()
	return err == nil
}

// ExtractCredential returns the token from the auth cookie, falling back to
// an "Authorization: Bearer" header. The cookie wins when both are present.
func (g *Gate) ExtractCredential(r *http.Request) string {
	if c, err := r.Cookie(g.cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate verifies credential and returns the identity it carries.
// An empty credential means none was presented.
func (g *Gate) Authenticate(credential string) (models.Identity, error) {
	if credential == "" {
		return models.Identity{}, ErrMissingCredential
	}

	secret, err := g.secret()
	if err != nil {
		return models.Identity{}, err
	}

	var c claims
	_, err = jwt.ParseWithClaims(credential, &c,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	id := models.Identity{
		Subject:     c.UserID,
		Role:        c.Role,
		DisplayName: c.Name,
	}
	if id.Subject == "" {
		id.Subject = c.Subject
	}
	if id.Subject == "" || id.Role == "" || id.DisplayName == "" {
		return models.Identity{}, fmt.Errorf("%w: token is missing identity claims", ErrInvalidCredential)
	}

	return id, nil
}

// Sign issues an HS256 token for id that expires after ttl.
func (g *Gate) Sign(id models.Identity, ttl time.Duration) (string, error) {
	secret, err := g.secret()
	if err != nil {
		return "", err
	}

	now := g.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: id.Subject,
		Role:   id.Role,
		Name:   id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
