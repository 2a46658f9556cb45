// Package auth verifies bearer credentials for the chat surfaces.
//
// The verifier consumes HS256 JWTs minted by the identity service and
// resolves them to a user id. Issuing tokens is out of scope here; only
// verification lives in this package.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretBytes = 32

// JWTVerifier validates HS256 bearer tokens and extracts the subject.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier for the given signing secret. Secrets
// shorter than 32 bytes are rejected outright.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify checks the token's signature and expiry (relative to now) and
// returns the subject claim, which must be a UUID user id. Every failure
// maps to ErrInvalidToken.
func (v *JWTVerifier) Verify(ctx context.Context, token string, now time.Time) (string, error) {
	if v == nil {
		return "", ErrInvalidToken
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidToken
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// SignTestToken mints a token for tests and smoke tooling. Production token
// issuance belongs to the identity service, not here.
func SignTestToken(secret []byte, sub string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
