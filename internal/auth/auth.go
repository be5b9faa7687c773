// Package auth issues and verifies the tokens administrators use.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"meetbook/backend/internal/domain"
)

const (
	audienceAdmin = "meetbook:admin"
	audienceState = "meetbook:calendar_oauth"

	stateTTL = 10 * time.Minute
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	TenantID string `json:"tenant_id"`
	jwtlib.RegisteredClaims
}

// Verifier signs HS256 tokens carrying the tenant an administrator acts for.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, ttl time.Duration, now func() time.Time) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, now: now}, nil
}

func (v *Verifier) Issue(actor domain.Actor) (string, error) {
	return v.sign(actor, audienceAdmin, v.ttl)
}

func (v *Verifier) Verify(token string) (domain.Actor, error) {
	return v.parse(token, audienceAdmin)
}

// IssueState returns the OAuth state parameter that binds a calendar grant to
// the administrator who started it.
func (v *Verifier) IssueState(actor domain.Actor) (string, error) {
	return v.sign(actor, audienceState, stateTTL)
}

func (v *Verifier) VerifyState(state string) (domain.Actor, error) {
	return v.parse(state, audienceState)
}

func (v *Verifier) sign(actor domain.Actor, audience string, ttl time.Duration) (string, error) {
	if actor.TenantID == "" || actor.Subject == "" {
		return "", fmt.Errorf("actor needs a subject and a tenant")
	}
	now := v.now()
	claims := Claims{
		TenantID: actor.TenantID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Subject,
			Audience:  jwtlib.ClaimStrings{audience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) parse(token, audience string) (domain.Actor, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return v.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithAudience(audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.TenantID == "" || claims.Subject == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return domain.Actor{Subject: claims.Subject, TenantID: claims.TenantID}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}
