package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signClaims(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidateToken_Success(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := &Claims{
		Sub:      123,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	user, err := v.ValidateToken(signClaims(t, "shared-secret", claims))
	require.NoError(t, err)
	assert.Equal(t, uint32(123), user.UserID)
	assert.Equal(t, "alice", user.Username)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := &Claims{
		Sub:      123,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	_, err := v.ValidateToken(signClaims(t, "wrong-secret", claims))
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := &Claims{
		Sub:      123,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}

	_, err := v.ValidateToken(signClaims(t, "shared-secret", claims))
	assert.Error(t, err)
}

func TestValidateToken_MissingSub(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := &Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	_, err := v.ValidateToken(signClaims(t, "shared-secret", claims))
	assert.ErrorContains(t, err, "sub")
}

func TestValidateToken_MissingUsername(t *testing.T) {
	v := NewValidator("shared-secret")
	claims := &Claims{
		Sub: 123,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	_, err := v.ValidateToken(signClaims(t, "shared-secret", claims))
	assert.ErrorContains(t, err, "username")
}

func TestValidateToken_Malformed(t *testing.T) {
	v := NewValidator("shared-secret")
	_, err := v.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

// TestValidateToken_AlgorithmConfusion rejects a token whose header names a
// different algorithm (here the unsigned "none" algorithm) instead of HS256;
// jwt.WithValidMethods pins HS256.
func TestValidateToken_AlgorithmConfusion(t *testing.T) {
	v := NewValidator("shared-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Sub:      123,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
}
