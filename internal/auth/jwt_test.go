package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	return Claims{
		Permissions: []string{"rules:write", "approvals:read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "maker-1",
			Issuer:    "fraud-governance",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewVerifier("too-short", "")
	require.Error(t, err)

	_, err = NewVerifier("", "")
	require.Error(t, err)
}

func TestVerify_ValidToken(t *testing.T) {
	v, err := NewVerifier(testSecret, "fraud-governance")
	require.NoError(t, err)

	principal, err := v.Verify(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)

	assert.Equal(t, "maker-1", principal.Subject)
	assert.Equal(t, []string{"rules:write", "approvals:read"}, principal.Permissions)
	assert.True(t, principal.HasPermission(PermRulesRead))
}

func TestVerify_WrongSecret(t *testing.T) {
	v, err := NewVerifier(testSecret, "")
	require.NoError(t, err)

	_, err = v.Verify(signToken(t, "ffffffffffffffffffffffffffffffff", validClaims()))
	assert.Error(t, err)
}

func TestVerify_ExpiredToken(t *testing.T) {
	v, err := NewVerifier(testSecret, "")
	require.NoError(t, err)

	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = v.Verify(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestVerify_MissingExpiry(t *testing.T) {
	v, err := NewVerifier(testSecret, "")
	require.NoError(t, err)

	claims := validClaims()
	claims.ExpiresAt = nil
	_, err = v.Verify(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestVerify_IssuerMismatch(t *testing.T) {
	v, err := NewVerifier(testSecret, "fraud-governance")
	require.NoError(t, err)

	claims := validClaims()
	claims.Issuer = "someone-else"
	_, err = v.Verify(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestVerify_MissingSubject(t *testing.T) {
	v, err := NewVerifier(testSecret, "")
	require.NoError(t, err)

	claims := validClaims()
	claims.Subject = ""
	_, err = v.Verify(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	v, err := NewVerifier(testSecret, "")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}
