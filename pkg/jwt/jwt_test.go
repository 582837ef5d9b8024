package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "wallet-session-secret"
	// tokens are issued for checksummed wallet addresses
	testWallet = "0x36bcD537F9e0bdD0Fe1c7544cB76ABd426120902"
)

func sign(t *testing.T, method jwtlib.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	token, err := jwtlib.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAccessTokenNamesWallet(t *testing.T) {
	token, err := GenerateToken(testWallet, 15*time.Minute, testSecret)
	require.NoError(t, err)

	claims, err := ValidateAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, testWallet, claims.UserID)
	assert.Equal(t, testWallet, claims.Subject)
	assert.Equal(t, tokenTypeAccess, claims.TokenType)
}

func TestAccessAndRefreshAreNotInterchangeable(t *testing.T) {
	access, err := GenerateToken(testWallet, time.Hour, testSecret)
	require.NoError(t, err)
	refresh, err := GenerateRefreshToken(testWallet, 7*24*time.Hour, testSecret)
	require.NoError(t, err)

	tests := []struct {
		name     string
		validate func(string, string) (*Claims, error)
		token    string
		ok       bool
	}{
		{"access as access", ValidateAccessToken, access, true},
		{"refresh as access", ValidateAccessToken, refresh, false},
		{"refresh as refresh", ValidateRefreshToken, refresh, true},
		{"access as refresh", ValidateRefreshToken, access, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tt.validate(tt.token, testSecret)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testWallet, claims.UserID)
		})
	}
}

func TestValidateTokenRejects(t *testing.T) {
	expired, err := GenerateToken(testWallet, -time.Minute, testSecret)
	require.NoError(t, err)

	live := jwtlib.RegisteredClaims{ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"other secret", mustGenerate(t, "another-secret")},
		{"malformed", "not.a.token"},
		{"empty", ""},
		{"hs512", sign(t, jwtlib.SigningMethodHS512, []byte(testSecret), &Claims{UserID: testWallet, RegisteredClaims: live})},
		{"unsigned", sign(t, jwtlib.SigningMethodNone, jwtlib.UnsafeAllowNoneSignatureType, &Claims{UserID: testWallet, RegisteredClaims: live})},
		{"no wallet", sign(t, jwtlib.SigningMethodHS256, []byte(testSecret), &Claims{RegisteredClaims: live})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token, testSecret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func mustGenerate(t *testing.T, secret string) string {
	t.Helper()
	token, err := GenerateToken(testWallet, time.Hour, secret)
	require.NoError(t, err)
	return token
}

func TestClaimsTimestamps(t *testing.T) {
	now := time.Now()
	token, err := GenerateRefreshToken(testWallet, 168*time.Hour, testSecret)
	require.NoError(t, err)

	claims, err := ValidateRefreshToken(token, testSecret)
	require.NoError(t, err)

	// numeric dates carry whole seconds
	assert.WithinDuration(t, now, claims.IssuedAt.Time, 2*time.Second)
	assert.WithinDuration(t, now, claims.NotBefore.Time, 2*time.Second)
	assert.WithinDuration(t, now.Add(168*time.Hour), claims.ExpiresAt.Time, 2*time.Second)
}
