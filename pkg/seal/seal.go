// Package seal implements an anonymous sealed box: ephemeral X25519 key
// agreement, HKDF-SHA256 key derivation and ChaCha20-Poly1305.
//
// Layout: ephemeral public key(32) || nonce(12) || ciphertext || tag(16).
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize  = curve25519.ScalarSize
	Overhead = KeySize + chacha20poly1305.NonceSize + chacha20poly1305.Overhead

	info = "confidential-storage seal v1"
)

var (
	ErrInvalidKey = errors.New("seal: invalid key")
	ErrOpen       = errors.New("seal: message authentication failed")
	ErrShort      = errors.New("seal: sealed message too short")
)

// GenerateKeyPair returns a fresh X25519 key pair.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	privateKey = make([]byte, KeySize)
	if _, err := rand.Read(privateKey); err != nil {
		return nil, nil, fmt.Errorf("seal: failed to generate key: %w", err)
	}
	publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: failed to derive public key: %w", err)
	}
	return publicKey, privateKey, nil
}

// PublicKey derives the public half of an X25519 private key.
func PublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != KeySize {
		return nil, ErrInvalidKey
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}

func deriveKey(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("seal: key derivation failed: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext so that only the holder of the private key
// matching recipientPub can open it. aad is authenticated, not encrypted.
func Seal(recipientPub, plaintext, aad []byte) ([]byte, error) {
	if len(recipientPub) != KeySize {
		return nil, ErrInvalidKey
	}

	ephemeralPub, ephemeralPriv, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephemeralPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("seal: key exchange failed: %w", err)
	}
	key, err := deriveKey(shared, ephemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: aead creation failed: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce generation failed: %w", err)
	}

	out := make([]byte, 0, Overhead+len(plaintext))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(privateKey, sealed, aad []byte) ([]byte, error) {
	if len(privateKey) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(sealed) < Overhead {
		return nil, ErrShort
	}

	ephemeralPub := sealed[:KeySize]
	nonce := sealed[KeySize : KeySize+chacha20poly1305.NonceSize]
	ciphertext := sealed[KeySize+chacha20poly1305.NonceSize:]

	recipientPub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, ErrInvalidKey
	}
	shared, err := curve25519.X25519(privateKey, ephemeralPub)
	if err != nil {
		return nil, ErrOpen
	}
	key, err := deriveKey(shared, ephemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: aead creation failed: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
