package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func issue(t *testing.T, secret, sub string, topics []string, exp time.Time) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Topics: topics,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := issue(t, testSecret, "u1", []string{"room/r1", "user/u1/*"}, time.Now().Add(time.Hour))

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, []string{"room/r1", "user/u1/*"}, claims.Topics)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := issue(t, "other-secret", "u1", nil, time.Now().Add(time.Hour))

	_, err := v.Verify(raw)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := issue(t, testSecret, "u1", nil, time.Now().Add(-time.Minute))

	_, err := v.Verify(raw)
	assert.Error(t, err)
}

func TestVerifyRequiresSubject(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := issue(t, testSecret, "", nil, time.Now().Add(time.Hour))

	_, err := v.Verify(raw)
	assert.Error(t, err)
}

func TestClaimsAllows(t *testing.T) {
	c := &Claims{Topics: []string{"room/r1", "user/u1/*"}}

	assert.True(t, c.Allows("room/r1"))
	assert.True(t, c.Allows("user/u1/unread"))
	assert.True(t, c.Allows("user/u1/rooms"))
	assert.False(t, c.Allows("room/r2"))
	assert.False(t, c.Allows("user/u2/unread"))
	assert.False(t, c.Allows("user/u1"), "wildcard requires a suffix segment")

	empty := &Claims{}
	assert.False(t, empty.Allows("room/r1"))
}
