package service

import (
	"testing"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/pkg/jwt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authSecret = "auth-service-test-secret"

func personalSign(t *testing.T, message string, key []byte) string {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), priv)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestAuthLoginWithWalletSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	svc := NewAuthService(addr, authSecret, 15*time.Minute, time.Hour, time.Minute)

	ch, err := svc.Challenge(&domain.ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)
	assert.Contains(t, ch.Message, addr.Hex())

	sig := personalSign(t, ch.Message, crypto.FromECDSA(key))
	resp, err := svc.Login(&domain.LoginRequest{Address: addr.Hex(), Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), resp.Address)
	assert.Equal(t, int64(900), resp.ExpiresIn)

	claims, err := jwt.ValidateAccessToken(resp.AccessToken, authSecret)
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), claims.UserID)

	// challenges are single use
	_, err = svc.Login(&domain.LoginRequest{Address: addr.Hex(), Signature: sig})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	refreshed, err := svc.RefreshToken(&domain.RefreshTokenRequest{RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	_, err = jwt.ValidateAccessToken(refreshed.AccessToken, authSecret)
	assert.NoError(t, err)

	_, err = svc.RefreshToken(&domain.RefreshTokenRequest{RefreshToken: resp.AccessToken})
	assert.Error(t, err)
}

func TestAuthRejectsWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	svc := NewAuthService(addr, authSecret, time.Minute, time.Hour, time.Minute)

	ch, err := svc.Challenge(&domain.ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)

	_, err = svc.Login(&domain.LoginRequest{Address: addr.Hex(), Signature: personalSign(t, ch.Message, crypto.FromECDSA(other))})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(&domain.LoginRequest{Address: addr.Hex(), Signature: "0x1234"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthChallengeOnlyForServedWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	svc := NewAuthService(crypto.PubkeyToAddress(key.PublicKey), authSecret, time.Minute, time.Hour, time.Minute)

	_, err = svc.Challenge(&domain.ChallengeRequest{Address: "0x1111111111111111111111111111111111111111"})
	assert.ErrorIs(t, err, ErrUnknownWallet)
}

func TestAuthChallengeExpires(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	svc := NewAuthService(addr, authSecret, time.Minute, time.Hour, 20*time.Millisecond)

	ch, err := svc.Challenge(&domain.ChallengeRequest{Address: addr.Hex()})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = svc.Login(&domain.LoginRequest{Address: addr.Hex(), Signature: personalSign(t, ch.Message, crypto.FromECDSA(key))})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
