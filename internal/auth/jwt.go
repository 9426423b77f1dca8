// Package auth resolves bearer credentials to a verified user identity.
// The identity is an opaque string taken from the token subject.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mohametBa/UniversMurid-sub001/internal/apperrors"
)

// IdentityHeader carries an identity already resolved by an upstream proxy.
// It is never trusted on its own: when present it must match the verified credential.
const IdentityHeader = "X-User-ID"

// Verifier turns a raw bearer token into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTVerifier verifies HMAC-signed JWTs.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier returns a verifier for HS256 tokens. An empty issuer disables the iss check.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: secret, issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

func unauthenticated(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeUnauthenticated, message, cause)
}

// Verify checks signature, expiry and issuer, and returns the subject.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", unauthenticated("credential is required", nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", mapJWTError(err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", unauthenticated("credential has no subject", nil)
	}
	return subject, nil
}

// mapJWTError translates jwt library errors to unauthenticated errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return unauthenticated("credential is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return unauthenticated("credential signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return unauthenticated("credential issuer mismatch", err)
	default:
		return unauthenticated("credential is invalid", err)
	}
}

// Issue mints an HS256 token for subject. Used by the CLI and tests; the
// production identity provider is an external collaborator.
func Issue(secret []byte, issuer, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Identify verifies the request's bearer credential. If the request also
// carries IdentityHeader, it must equal the verified identity.
func Identify(r *http.Request, v Verifier) (string, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", unauthenticated("bearer credential is required", nil)
	}
	userID, err := v.Verify(r.Context(), token)
	if err != nil {
		return "", err
	}
	if claimed := strings.TrimSpace(r.Header.Get(IdentityHeader)); claimed != "" && claimed != userID {
		return "", unauthenticated("identity does not match credential", nil)
	}
	return userID, nil
}
