package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	claims, err := ParseToken(secret, issued)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, "avery", claims.Name)
	assert.Equal(t, "jti-1", claims.JTI)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{
		Sub: "user-1", Name: "avery", JTI: "jti-1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = ParseToken([]byte("other"), issued)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "name": "avery", "jti": "jti-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken([]byte("secret"), unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsMissingSubject(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{
		Name: "avery", JTI: "jti-1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = ParseToken([]byte("secret"), issued)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseToken([]byte("secret"), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
