package identity

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const bearerPrefix = "Bearer "

// JWTSubjectResolver reads the sub claim of a bearer JWT without verifying its
// signature. The result is an opaque label for logs and rate-limit keys and
// must never be used for authorization.
type JWTSubjectResolver struct {
	parser *jwt.Parser
}

func NewJWTSubjectResolver() *JWTSubjectResolver {
	return &JWTSubjectResolver{parser: jwt.NewParser()}
}

func (r *JWTSubjectResolver) Resolve(_ context.Context, authorization string) (string, bool) {
	token := bearerToken(authorization)
	if token == "" {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || !isUserID(sub) {
		return "", false
	}
	return sub, true
}

// isUserID accepts canonical RFC 4122 UUIDs of versions 1 through 5.
func isUserID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Variant() == uuid.RFC4122 && id.Version() >= 1 && id.Version() <= 5
}

func bearerToken(headerValue string) string {
	headerValue = strings.TrimSpace(headerValue)
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
}

// Resolver is the subset of ports.IdentityResolver this package composes.
type Resolver interface {
	Resolve(ctx context.Context, authorization string) (string, bool)
}

// Chain returns the first identity any resolver produces.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, authorization string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if id, ok := r.Resolve(ctx, authorization); ok {
			return id, true
		}
	}
	return "", false
}

// StaticTokenResolver maps a shared API key to a fixed caller label.
type StaticTokenResolver struct {
	Token    string
	CallerID string
}

func (r StaticTokenResolver) Resolve(_ context.Context, authorization string) (string, bool) {
	if r.Token == "" {
		return "", false
	}
	if bearerToken(authorization) != r.Token {
		return "", false
	}
	return r.CallerID, r.CallerID != ""
}
