package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue("user_42", RoleUser, time.Hour)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_42", claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestVerifyWrongSecret(t *testing.T) {
	m := NewManager("secret-a")
	other := NewManager("secret-b")

	token, err := m.Issue("user_42", RoleUser, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue("user_42", RoleUser, -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyGarbage(t *testing.T) {
	m := NewManager("test-secret")
	_, err := m.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue("", RoleUser, time.Hour)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
