package locator

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"confidential-storage/internal/fault"
	"confidential-storage/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustMint(t *testing.T) string {
	t.Helper()
	id, err := identity.Mint()
	require.NoError(t, err)
	return id.String()
}

func TestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := "0x" + rapid.StringMatching(`[0-9a-f]{40}`).Draw(t, "identity")
		plaintext := rapid.String().Draw(t, "plaintext")

		payload, err := Encrypt(id, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if len(payload) != IVSize+len(plaintext)+TagSize {
			t.Fatalf("unexpected payload length %d for %d plaintext bytes", len(payload), len(plaintext))
		}

		got, err := Decrypt(id, payload)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: %q != %q", got, plaintext)
		}
	})
}

func TestWrongIdentity_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id1 := "0x" + rapid.StringMatching(`[0-9a-f]{40}`).Draw(t, "id1")
		id2 := "0x" + rapid.StringMatching(`[0-9a-f]{40}`).Filter(func(s string) bool {
			return "0x"+s != id1
		}).Draw(t, "id2")
		plaintext := rapid.String().Draw(t, "plaintext")

		payload, err := Encrypt(id1, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		_, err = Decrypt(id2, payload)
		if !errors.Is(err, fault.ErrAuthenticationFailure) {
			t.Fatalf("expected authentication failure, got %v", err)
		}
	})
}

func TestDecrypt_ShortPayload(t *testing.T) {
	id := mustMint(t)
	for n := 0; n <= IVSize; n++ {
		_, err := Decrypt(id, bytes.Repeat([]byte{0xab}, n))
		assert.True(t, errors.Is(err, fault.ErrMalformedPayload), "length %d: got %v", n, err)
	}

	// no key derivation is attempted for a malformed payload, so even an
	// unusable identity reports the payload problem
	_, err := Decrypt("", make([]byte, IVSize))
	assert.True(t, errors.Is(err, fault.ErrMalformedPayload), "got %v", err)
}

func TestDecrypt_PayloadShorterThanTag(t *testing.T) {
	id := mustMint(t)
	for n := IVSize + 1; n < IVSize+16; n++ {
		_, err := Decrypt(id, bytes.Repeat([]byte{0xab}, n))
		assert.True(t, errors.Is(err, fault.ErrAuthenticationFailure), "length %d: got %v", n, err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	id := mustMint(t)
	payload, err := Encrypt(id, "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	require.NoError(t, err)

	for _, idx := range []int{0, IVSize, len(payload) - 1} {
		tampered := append([]byte(nil), payload...)
		tampered[idx] ^= 0x01
		_, err := Decrypt(id, tampered)
		assert.True(t, errors.Is(err, fault.ErrAuthenticationFailure), "byte %d: got %v", idx, err)
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	id := mustMint(t)
	a, err := Encrypt(id, "same")
	require.NoError(t, err)
	b, err := Encrypt(id, "same")
	require.NoError(t, err)

	assert.NotEqual(t, a[:IVSize], b[:IVSize], "iv reused")
	assert.NotEqual(t, a, b)
}

func TestDeriveKey_Normalizes(t *testing.T) {
	id, err := identity.Mint()
	require.NoError(t, err)

	payload, err := Encrypt(id.Address().Hex(), "cid")
	require.NoError(t, err)

	got, err := Decrypt("  "+strings.ToUpper(id.String())+" ", payload)
	require.NoError(t, err)
	assert.Equal(t, "cid", got)
}

func TestDeriveKey_UsageRestricted(t *testing.T) {
	id := mustMint(t)
	iv := make([]byte, IVSize)

	enc, err := DeriveKey(id, UsageEncrypt)
	require.NoError(t, err)
	dec, err := DeriveKey(id, UsageDecrypt)
	require.NoError(t, err)

	sealed, err := enc.Seal(iv, []byte("x"))
	require.NoError(t, err)

	_, err = enc.Open(iv, sealed)
	assert.Error(t, err, "encrypt-only key opened a payload")
	_, err = dec.Seal(iv, []byte("x"))
	assert.Error(t, err, "decrypt-only key sealed a payload")

	_, err = DeriveKey(id, KeyUsage(9))
	assert.Error(t, err)
	_, err = DeriveKey("   ", UsageEncrypt)
	assert.True(t, errors.Is(err, fault.ErrInvalidIdentity))
}

func TestHexForm(t *testing.T) {
	id := mustMint(t)
	payload, err := Encrypt(id, "cid")
	require.NoError(t, err)

	text := EncodeHex(payload)
	assert.True(t, strings.HasPrefix(text, "0x"))

	decoded, err := DecodeHex(text)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	_, err = DecodeHex("nothex")
	assert.True(t, errors.Is(err, fault.ErrMalformedPayload))
}
