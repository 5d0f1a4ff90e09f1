// Package crypto provides the cryptographic primitives used to keep provider
// credentials encrypted at rest.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption
//   - Cryptographically secure random nonce per encryption
//   - Machine-bound key derivation behind the KeyDeriver interface
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	key := crypto.FoldDeriver{}.DeriveKey(crypto.LocalMachineInputs())
//	fc, err := crypto.NewFieldCipher(key)
//
//	enc, err := fc.EncryptField("sk-ant-...") // "enc:v1:..."
//	plain, err := fc.DecryptField(enc)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12
)

// ErrInvalidKeyLength indicates the key is not 32 bytes.
var ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

// newGCM builds an AES-256-GCM AEAD for key.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns nonce || ciphertext.
// A fresh 12-byte nonce is drawn from crypto/rand on every call, so sealing
// the same plaintext twice never yields the same output.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength, NonceLength+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and tag after the nonce
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. Input shorter than a nonce is reported as ErrMalformed;
// any tag mismatch as ErrAuthenticationFailed.
func Open(key, combined []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(combined) < NonceLength {
		return nil, newCryptoError(KindMalformed,
			fmt.Errorf("encrypted data too short: %d bytes", len(combined)))
	}

	nonce, ciphertext := combined[:NonceLength], combined[NonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, newCryptoError(KindAuthenticationFailed, err)
	}
	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
