// Package locator encrypts a storage locator (CID) under a key derived
// from an identity value.
//
// Payload layout: IV(12) || ciphertext || tag(16), AES-256-GCM.
//
// The key is SHA-256 of the normalized identity text with no salt. That is
// only sound because every identity is random and used for exactly one
// file; it is not a general purpose KDF and must not be reused with
// chosen or repeated identities.
package locator

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	IVSize  = 12
	TagSize = 16
)

type KeyUsage int

const (
	UsageEncrypt KeyUsage = iota + 1
	UsageDecrypt
)

func (u KeyUsage) String() string {
	switch u {
	case UsageEncrypt:
		return "encrypt"
	case UsageDecrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("usage(%d)", int(u))
	}
}

// Key is restricted to the single usage it was derived for.
type Key struct {
	aead  cipher.AEAD
	usage KeyUsage
}

func normalize(identityText string) string {
	return strings.ToLower(strings.TrimSpace(identityText))
}

// DeriveKey is deterministic: the same identity text always yields the
// same key, whatever its casing or surrounding whitespace.
func DeriveKey(identityText string, usage KeyUsage) (*Key, error) {
	if usage != UsageEncrypt && usage != UsageDecrypt {
		return nil, fmt.Errorf("locator: unsupported key usage %s", usage)
	}
	normalized := normalize(identityText)
	if normalized == "" {
		return nil, fmt.Errorf("locator: %w", fault.ErrInvalidIdentity)
	}

	material := sha256.Sum256([]byte(normalized))
	block, err := aes.NewCipher(material[:])
	if err != nil {
		return nil, fmt.Errorf("locator: failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("locator: failed to create gcm: %w", err)
	}
	return &Key{aead: aead, usage: usage}, nil
}

func (k *Key) Usage() KeyUsage { return k.usage }

// Seal encrypts plaintext under iv. The returned slice is ciphertext||tag.
func (k *Key) Seal(iv, plaintext []byte) ([]byte, error) {
	if k.usage != UsageEncrypt {
		return nil, fmt.Errorf("locator: key derived for %s cannot encrypt", k.usage)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("locator: iv must be %d bytes", IVSize)
	}
	return k.aead.Seal(nil, iv, plaintext, nil), nil
}

// Open verifies and decrypts ciphertext||tag.
func (k *Key) Open(iv, ciphertext []byte) ([]byte, error) {
	if k.usage != UsageDecrypt {
		return nil, fmt.Errorf("locator: key derived for %s cannot decrypt", k.usage)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("locator: iv must be %d bytes", IVSize)
	}
	plaintext, err := k.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fault.ErrAuthenticationFailure
	}
	return plaintext, nil
}

// Encrypt draws a fresh IV on every call.
func Encrypt(identityText, plaintext string) ([]byte, error) {
	key, err := DeriveKey(identityText, UsageEncrypt)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("locator: failed to draw iv: %w", err)
	}

	sealed, err := key.Seal(iv, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, IVSize+len(sealed))
	payload = append(payload, iv...)
	return append(payload, sealed...), nil
}

// Decrypt rejects payloads of IVSize bytes or fewer before deriving any key.
func Decrypt(identityText string, payload []byte) (string, error) {
	if len(payload) <= IVSize {
		return "", fmt.Errorf("%w: %d bytes", fault.ErrMalformedPayload, len(payload))
	}

	iv := payload[:IVSize]
	ciphertext := payload[IVSize:]

	key, err := DeriveKey(identityText, UsageDecrypt)
	if err != nil {
		return "", err
	}
	plaintext, err := key.Open(iv, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncodeHex renders a payload in the 0x-hex form the ledger ABI carries.
func EncodeHex(payload []byte) string {
	return hexutil.Encode(payload)
}

func DecodeHex(text string) ([]byte, error) {
	b, err := hexutil.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrMalformedPayload, err)
	}
	return b, nil
}
