package wallet_test

import (
	"context"
	"testing"
	"time"

	"confidential-storage/internal/fhe"
	"confidential-storage/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestNewKeySigner(t *testing.T) {
	s, err := wallet.NewKeySigner("0x"+testKey, 11155111)
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())

	_, err = wallet.NewKeySigner("not-a-key", 1)
	assert.Error(t, err)
}

func TestSignTypedDataRecovers(t *testing.T) {
	s, err := wallet.GenerateKeySigner(31337)
	require.NoError(t, err)

	window, err := fhe.NewValidityWindow(time.Now(), 7)
	require.NoError(t, err)
	contract := common.HexToAddress("0x36bcD537F9e0bdD0Fe1c7544cB76ABd426120902")
	td := fhe.NewUserDecryptTypedData(31337, common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"), make([]byte, 32), []common.Address{contract}, window)

	sig, err := s.SignTypedData(context.Background(), td)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	signer, err := fhe.RecoverTypedDataSigner(td, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)
}

func TestSignTypedDataCancelled(t *testing.T) {
	s, err := wallet.GenerateKeySigner(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignTypedData(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransactOpts(t *testing.T) {
	s, err := wallet.GenerateKeySigner(5)
	require.NoError(t, err)

	ctx := context.Background()
	opts, err := s.TransactOpts(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), opts.From)
	assert.Equal(t, ctx, opts.Context)
}
