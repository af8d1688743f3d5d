package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	signed, err := Generate("LYDO001", "lydo_staff", "secret", time.Minute)
	require.NoError(t, err)

	claims, err := Validate(signed, "secret")
	require.NoError(t, err)
	assert.Equal(t, "LYDO001", claims.UserID)
	assert.Equal(t, "lydo_staff", claims.Role)
}

func TestToken_WrongSecret(t *testing.T) {
	signed, err := Generate("LYDO001", "lydo_staff", "secret", time.Minute)
	require.NoError(t, err)

	_, err = Validate(signed, "other")
	assert.Error(t, err)
}

func TestToken_Expired(t *testing.T) {
	signed, err := Generate("LYDO001", "lydo_staff", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Validate(signed, "secret")
	assert.Error(t, err)
}

func TestToken_Garbage(t *testing.T) {
	_, err := Validate("definitely-not-a-jwt", "secret")
	assert.Error(t, err)
}
