// Package auth validates bearer tokens and exposes the learner identity to handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// ErrMissingToken is returned when the request carries no token.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// ScopeSet is the scopes claim. Tokens may carry it as a space separated string or as an
// array; it is always issued as a string.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set, dropping empty names.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*s = NewScopeSet(strings.Fields(v)...)
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		*s = NewScopeSet(names...)
	case nil:
		*s = ScopeSet{}
	default:
		return fmt.Errorf("scopes: unsupported claim type %T", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return json.Marshal(strings.Join(names, " "))
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes ScopeSet `json:"scopes,omitempty"`
}

// Claims is the verified identity of a request. Subject is the learner's user id.
type Claims struct {
	Subject   string
	Scopes    ScopeSet
	ExpiresAt time.Time
}

// Parse verifies an HS256 token signed for cfg.Issuer and returns its claims. Tokens
// without a subject or an expiry are rejected.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	if tc.Scopes == nil {
		tc.Scopes = ScopeSet{}
	}
	return &Claims{Subject: tc.Subject, Scopes: tc.Scopes, ExpiresAt: tc.ExpiresAt.Time}, nil
}

// Issue signs an HS256 token for subject carrying scopes.
func Issue(cfg Config, subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: NewScopeSet(scopes...),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(cfg.Secret))
}

// HasScope reports whether the token was granted scope verbatim.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}

// Allows reports whether the claims cover scope. A write scope implies its read scope.
func (c *Claims) Allows(scope string) bool {
	if c.HasScope(scope) {
		return true
	}
	if read, ok := strings.CutSuffix(scope, ":read"); ok {
		return c.HasScope(read + ":write")
	}
	return false
}

type claimsKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
