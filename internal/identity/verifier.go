// Package identity verifies identity tokens and tracks the signed-in principal.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"hubtrack/internal/domain"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid identity token")

// Claims are the identity token claims hubtrack reads.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (c Claims) Principal() domain.Principal {
	return domain.Principal{UID: c.Subject, DisplayName: c.Name, Email: c.Email}
}

// Verifier turns a token into the principal it identifies.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Principal, error)
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	Secret []byte
	Issuer string
}

func (v HMACVerifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	if len(v.Secret) == 0 {
		return domain.Principal{}, fmt.Errorf("%w: jwt secret not configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	return parse(token, jwt.NewParser(opts...), func(*jwt.Token) (any, error) {
		return v.Secret, nil
	})
}

// JWKSVerifier accepts RS256 tokens signed by keys published at a JWKS URL.
type JWKSVerifier struct {
	keys     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier fetches the key set at url and keeps it refreshed in the
// background until ctx is done.
func NewJWKSVerifier(ctx context.Context, url, issuer, audience string) (*JWKSVerifier, error) {
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client for %s: %w", url, err)
	}
	return NewJWKSVerifierWithKeys(keys, issuer, audience), nil
}

func NewJWKSVerifierWithKeys(keys keyfunc.Keyfunc, issuer, audience string) *JWKSVerifier {
	return &JWKSVerifier{keys: keys, issuer: issuer, audience: audience}
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return parse(token, jwt.NewParser(opts...), v.keys.KeyfuncCtx(ctx))
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (domain.Principal, error) {
	if len(c) == 0 {
		return domain.Principal{}, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	var errs []error
	for _, v := range c {
		p, err := v.Verify(ctx, token)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	return domain.Principal{}, errors.Join(errs...)
}

func parse(token string, parser *jwt.Parser, keyFunc jwt.Keyfunc) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, keyFunc)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return domain.Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: subject claim required", ErrInvalidToken)
	}
	return claims.Principal(), nil
}

// MintDevToken signs an HS256 token for p, for local development and tests.
func MintDevToken(secret []byte, issuer string, p domain.Principal, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(p.UID) == "" {
		return "", errors.New("uid required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  p.DisplayName,
		Email: p.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
