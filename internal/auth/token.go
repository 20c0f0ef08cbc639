package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// ScopeTwoFactor marks a token that may only be exchanged for an access token.
const ScopeTwoFactor = "2fa"

// ErrInvalidToken is returned for tokens that fail signature, expiry or scope checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the JWT payload issued on sign-in.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

// Token is a signed credential handed to the client.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenConfig tunes token issuance.
type TokenConfig struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	PendingTTL time.Duration
	Clock      shared.Clock
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	pendingTTL time.Duration
	clock      shared.Clock
}

// NewTokens constructs a token issuer.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: token secret required")
	}
	t := &Tokens{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		ttl:        cfg.TTL,
		pendingTTL: cfg.PendingTTL,
		clock:      cfg.Clock,
	}
	if t.ttl <= 0 {
		t.ttl = time.Hour
	}
	if t.pendingTTL <= 0 {
		t.pendingTTL = 5 * time.Minute
	}
	if t.clock == nil {
		t.clock = shared.SystemClock{}
	}
	return t, nil
}

// IssueAccess signs a token carrying the principal's role and permissions.
func (t *Tokens) IssueAccess(p shared.Principal) (Token, error) {
	return t.sign(Claims{Role: p.Role, Permissions: p.Permissions}, p.Username, t.ttl)
}

// IssuePending signs a short-lived token awaiting a second factor.
func (t *Tokens) IssuePending(username string) (Token, error) {
	return t.sign(Claims{Scope: ScopeTwoFactor}, username, t.pendingTTL)
}

func (t *Tokens) sign(claims Claims, subject string, ttl time.Duration) (Token, error) {
	now := t.clock.Now()
	expires := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expires}, nil
}

// Parse verifies raw and returns its claims.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Principal verifies an access token. Pending tokens are rejected.
func (t *Tokens) Principal(raw string) (*shared.Principal, error) {
	claims, err := t.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Scope != "" {
		return nil, fmt.Errorf("%w: scope %s cannot access resources", ErrInvalidToken, claims.Scope)
	}
	return &shared.Principal{Username: claims.Subject, Role: claims.Role, Permissions: claims.Permissions}, nil
}
