// Package auth resolves opaque credentials to principals. Issuing
// credentials is someone else's job; this package only verifies them.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SirClappington/jobbid/internal/domain"
)

type Resolver interface {
	Resolve(ctx context.Context, token string) (domain.Principal, error)
}

// Claims is the token payload: the principal id and role, plus the
// standard registered claims (exp is honored when present).
type Claims struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens.
type JWTResolver struct {
	key    []byte
	parser *jwt.Parser
}

func NewJWTResolver(key []byte, now func() time.Time) *JWTResolver {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	return &JWTResolver{key: key, parser: jwt.NewParser(opts...)}
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "missing credential")
	}

	var claims Claims
	_, err := r.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return r.key, nil
	})
	if err != nil {
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "invalid credential")
	}
	return principalFrom(claims)
}

func principalFrom(c Claims) (domain.Principal, error) {
	id := c.ID
	if id == "" {
		id = c.Subject
	}
	if id == "" {
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "credential has no subject")
	}
	switch c.Role {
	case domain.RoleArtisan, domain.RoleClient:
	default:
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "credential has unknown role %q", c.Role)
	}
	return domain.Principal{ID: id, Role: c.Role}, nil
}

// StaticResolver maps fixed tokens to principals. Local development and
// tests use it in place of a real identity provider.
type StaticResolver map[string]domain.Principal

func (s StaticResolver) Resolve(_ context.Context, token string) (domain.Principal, error) {
	p, ok := s[strings.TrimSpace(token)]
	if !ok {
		return domain.Principal{}, domain.Errorf(domain.KindAuthentication, "invalid credential")
	}
	return p, nil
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
