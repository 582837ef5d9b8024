package fhe

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidityWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 500)
	w, err := NewValidityWindow(now, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(1_700_000_000), w.StartTimestamp())
	assert.True(t, w.Contains(now))
	assert.True(t, w.Contains(now.Add(7*24*time.Hour-time.Second)))
	assert.False(t, w.Contains(now.Add(7*24*time.Hour)))
	assert.False(t, w.Contains(now.Add(-time.Second)))

	_, err = NewValidityWindow(now, 0)
	assert.Error(t, err)
	_, err = NewValidityWindow(now, MaxDurationDays+1)
	assert.Error(t, err)
}

func TestRecoverTypedDataSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	w, err := NewValidityWindow(time.Now(), 7)
	require.NoError(t, err)
	contracts := []common.Address{common.HexToAddress("0x36bcD537F9e0bdD0Fe1c7544cB76ABd426120902")}
	td := NewUserDecryptTypedData(1, common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"), make([]byte, 32), contracts, w)

	hash, _, err := apitypes.TypedDataAndHash(*td)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	got, err := RecoverTypedDataSigner(td, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)

	sig[64] += 27
	got, err = RecoverTypedDataSigner(td, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)

	// Any field change yields a different signer.
	other := NewUserDecryptTypedData(1, common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"), make([]byte, 32), contracts, ValidityWindow{Start: w.Start, DurationDays: 8})
	got, err = RecoverTypedDataSigner(other, sig)
	if err == nil {
		assert.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), got)
	}

	_, err = RecoverTypedDataSigner(td, sig[:64])
	assert.Error(t, err)
}

func TestDecodeValue(t *testing.T) {
	addr := common.HexToAddress("0x8BA1f109551bD432803012645Ac136ddd64DBA72")
	text, err := DecodeValue(EncodeValue(TypeAddress, addr.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "0x8ba1f109551bd432803012645ac136ddd64dba72", text)

	text, err = DecodeValue(nil)
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = DecodeValue([]byte{byte(TypeAddress), 1, 2})
	assert.Error(t, err)
	_, err = DecodeValue([]byte{9, 1})
	assert.Error(t, err)
}

func TestUnpackInput(t *testing.T) {
	a := EncodeValue(TypeAddress, make([]byte, 20))
	packed := append([]byte{1, byte(len(a))}, a...)
	values, err := UnpackInput(packed)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, a, values[0])

	_, err = UnpackInput(packed[:5])
	assert.Error(t, err)
	_, err = UnpackInput(append(packed, 0))
	assert.Error(t, err)
	_, err = UnpackInput(nil)
	assert.Error(t, err)
}
