package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewtune/brewtune/internal/common"
)

func TestStatic(t *testing.T) {
	tok, err := Static{Value: "abc"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static{}.Token(context.Background())
	assert.ErrorIs(t, err, common.ErrNoToken)
}

func TestServicePrincipal_NotInitialized(t *testing.T) {
	var p *ServicePrincipal
	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, common.ErrNotInitialized)

	_, err = (&ServicePrincipal{}).Token(context.Background())
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)

	got, err := TokenExpiry(signed)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp), "got %v want %v", got, exp)
}

func TestTokenExpiry_NoClaim(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = TokenExpiry(signed)
	assert.Error(t, err)
}

func TestTokenExpiry_Garbage(t *testing.T) {
	_, err := TokenExpiry("not-a-jwt")
	assert.Error(t, err)
}
