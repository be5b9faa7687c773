package auth

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/backend/internal/domain"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier(secret, time.Hour, nil)
	require.NoError(t, err)

	actor := domain.Actor{Subject: "admin-1", TenantID: "t1"}
	token, err := v.Issue(actor)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestVerifier_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := now
	v, err := NewVerifier(secret, time.Hour, func() time.Time { return clock })
	require.NoError(t, err)
	actor := domain.Actor{Subject: "admin-1", TenantID: "t1"}

	token, err := v.Issue(actor)
	require.NoError(t, err)
	state, err := v.IssueState(actor)
	require.NoError(t, err)

	_, err = v.Verify(state)
	assert.ErrorIs(t, err, ErrUnauthenticated, "state token used as admin token")
	_, err = v.VerifyState(token)
	assert.ErrorIs(t, err, ErrUnauthenticated, "admin token used as state")

	got, err := v.VerifyState(state)
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	other, err := NewVerifier("fedcba9876543210fedcba9876543210", time.Hour, func() time.Time { return clock })
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{TenantID: "t1"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	clock = now.Add(2 * time.Hour)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier("short", time.Hour, nil)
	require.Error(t, err)
}

func TestIssue_RequiresTenant(t *testing.T) {
	v, err := NewVerifier(secret, time.Hour, nil)
	require.NoError(t, err)
	_, err = v.Issue(domain.Actor{Subject: "admin-1"})
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer   abc ", want: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer"},
		{header: ""},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), domain.Actor{Subject: "s", TenantID: "t1"})
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", got.TenantID)
}
