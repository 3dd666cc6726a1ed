package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	SetSecret("test-secret")

	token, err := Sign("admin", "admin", time.Minute)
	require.NoError(t, err)

	claims, err := Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	SetSecret("test-secret")

	expired, err := Sign("admin", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired)
	assert.Error(t, err)

	valid, err := Sign("admin", "admin", time.Minute)
	require.NoError(t, err)
	SetSecret("rotated")
	_, err = Parse(valid)
	assert.Error(t, err)

	_, err = Parse("not-a-token")
	assert.Error(t, err)
}
