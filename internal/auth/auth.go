// Package auth resolves the identity that scopes remote reads and writes.
//
// Session management lives elsewhere; this package only answers "who is
// the current user". A missing identity makes sync refuse to run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoIdentity means no user is signed in.
	ErrNoIdentity = errors.New("auth: no identity")

	// ErrInvalidToken means a token was present but could not be trusted.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity resolves the current user.
type Identity interface {
	UserID(ctx context.Context) (string, error)
}

// Static is a fixed user id. The empty value has no identity.
type Static string

// UserID implements Identity.
func (s Static) UserID(context.Context) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", ErrNoIdentity
	}
	return id, nil
}

// JWT reads the user id from the subject of an HS256 token.
type JWT struct {
	token  string
	secret []byte
	now    func() time.Time
}

// JWTOption configures a JWT identity.
type JWTOption func(*JWT)

// WithNow overrides the clock used for expiry checks.
func WithNow(now func() time.Time) JWTOption {
	return func(j *JWT) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJWT returns an identity backed by token, verified with secret.
func NewJWT(token string, secret []byte, opts ...JWTOption) *JWT {
	j := &JWT{token: strings.TrimSpace(token), secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// UserID implements Identity.
func (j *JWT) UserID(context.Context) (string, error) {
	if j.token == "" {
		return "", ErrNoIdentity
	}
	if len(j.secret) == 0 {
		return "", fmt.Errorf("%w: verification secret is not configured", ErrInvalidToken)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(j.token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", ErrNoIdentity)
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return sub, nil
}

// IssueToken signs an HS256 token for userID valid for ttl from now.
func IssueToken(userID string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

var (
	_ Identity = Static("")
	_ Identity = (*JWT)(nil)
)
