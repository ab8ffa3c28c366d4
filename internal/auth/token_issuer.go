// Package auth issues and validates the bearer tokens handed out at sign-in.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	defaultTokenTTL     = 12 * time.Hour
	defaultIssuer       = "servicedesk-agent"
	bearerPrefix        = "bearer "
	authorizationHeader = "Authorization"
)

var (
	ErrMissingSigningSecret = errors.New("token issuer: signing secret required")
	ErrMissingToken         = errors.New("token issuer: token required")
	ErrInvalidToken         = errors.New("token issuer: invalid token")
	ErrExpiredToken         = errors.New("token issuer: token expired")
	ErrMissingSubject       = errors.New("token issuer: subject required")
)

// SessionClaims is the payload of a desk bearer token.
type SessionClaims struct {
	UserEmail string     `json:"user_email"`
	UserRole  users.Role `json:"user_role"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs HS256 tokens for signed-in users and validates them on later requests.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed token for user and its lifetime in seconds.
func (i *TokenIssuer) Issue(user users.User) (string, int64, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", 0, ErrMissingSubject
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserEmail: user.Email,
		UserRole:  user.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl.Seconds()), nil
}

// ValidateToken validates the supplied token string and returns its claims.
func (i *TokenIssuer) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest extracts the bearer token from the Authorization header and validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return SessionClaims{}, ErrMissingToken
	}
	return i.ValidateToken(header[len(bearerPrefix):])
}
