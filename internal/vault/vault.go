// Package vault protects small secrets (remote-access logins and
// passwords) at rest.
//
// A vault built from an empty secret is in passthrough mode: Encrypt
// and Decrypt return their input unchanged. Deployments without a
// secret get no at-rest protection and must not store credentials that
// need it; callers check Enabled before storing such values.
//
// Ciphertext format, base64url encoded:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte is authenticated as additional data.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the symmetric key.
const KeySize = chacha20poly1305.KeySize

// Version is the format byte prepended to every sealed value.
const Version byte = 0x01

const overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfo = []byte("officebot.vault.v1")

// Vault encrypts and decrypts short strings with one key.
type Vault struct {
	key []byte
}

// New builds a vault from the configured secret. A secret that is
// already a base64url encoded 32-byte key is used as is; any other
// non-empty secret is stretched into a key with HKDF-SHA256.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return &Vault{}, nil
	}
	key, err := BuildKey(secret)
	if err != nil {
		return nil, err
	}
	return &Vault{key: key}, nil
}

// BuildKey derives the 32-byte key for a non-empty secret.
func BuildKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret is empty")
	}
	if len(secret) == base64.URLEncoding.EncodedLen(KeySize) {
		if raw, err := base64.URLEncoding.DecodeString(secret); err == nil && len(raw) == KeySize {
			return raw, nil
		}
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// GenerateKey returns a fresh random key in the form New accepts directly.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// Enabled reports whether the vault actually encrypts.
func (v *Vault) Enabled() bool {
	return v != nil && len(v.key) == KeySize
}

// Encrypt seals value. In passthrough mode value is returned unchanged.
func (v *Vault) Encrypt(value string) (string, error) {
	if !v.Enabled() {
		return value, nil
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), overhead+len(value))
	out[0] = Version
	copy(out[1:], nonce[:])
	out = aead.Seal(out, nonce[:], []byte(value), []byte{Version})
	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. Any failure (bad
// encoding, unknown version, wrong key, tampering) yields ("", false);
// callers treat that as "no usable secret". In passthrough mode value
// is returned unchanged.
func (v *Vault) Decrypt(value string) (string, bool) {
	if !v.Enabled() {
		return value, true
	}
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil || len(raw) < overhead || raw[0] != Version {
		return "", false
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", false
	}
	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, raw[1+chacha20poly1305.NonceSizeX:], raw[:1])
	if err != nil {
		return "", false
	}
	return string(plain), true
}
