package crypto

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// EncryptedPrefix marks a stored string as ciphertext. Values without it are
// plaintext, either legacy data or data that was never encrypted.
const EncryptedPrefix = "enc:v1:"

// FieldCipher encrypts individual string fields with a fixed key.
type FieldCipher struct {
	key []byte
}

// NewFieldCipher returns a FieldCipher using a copy of key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	k := make([]byte, KeyLength)
	copy(k, key)
	return &FieldCipher{key: k}, nil
}

// IsEncrypted reports whether value carries the encrypted marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// Encrypt returns EncryptedPrefix + base64(nonce || ciphertext).
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	sealed, err := Seal(c.key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt takes the marker-stripped base64 payload and returns the plaintext.
// All failures are *CryptoError.
func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", newCryptoError(KindMalformed, err)
	}

	plaintext, err := Open(c.key, combined)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", newCryptoError(KindInvalidEncoding, nil)
	}
	return string(plaintext), nil
}

// EncryptField encrypts value unless it is already encrypted, which makes
// re-encryption idempotent.
func (c *FieldCipher) EncryptField(value string) (string, error) {
	if IsEncrypted(value) {
		return value, nil
	}
	return c.Encrypt(value)
}

// DecryptField decrypts a marked value and passes plaintext through.
func (c *FieldCipher) DecryptField(value string) (string, error) {
	payload, ok := strings.CutPrefix(value, EncryptedPrefix)
	if !ok {
		return value, nil
	}
	return c.Decrypt(payload)
}
