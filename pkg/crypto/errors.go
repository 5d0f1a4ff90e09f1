package crypto

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a field decryption failure.
type ErrorKind int

const (
	// KindMalformed means the stored value is not valid base64 or is too
	// short to contain a nonce.
	KindMalformed ErrorKind = iota + 1
	// KindAuthenticationFailed means GCM tag verification failed.
	KindAuthenticationFailed
	// KindInvalidEncoding means the decrypted bytes are not valid UTF-8.
	KindInvalidEncoding
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindInvalidEncoding:
		return "invalid_encoding"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by errors.Is against a *CryptoError.
var (
	ErrMalformed            = errors.New("crypto: malformed encrypted value")
	ErrAuthenticationFailed = errors.New("crypto: decryption failed, authentication tag verification failed")
	ErrInvalidEncoding      = errors.New("crypto: decrypted value is not valid UTF-8")
)

// CryptoError is returned by every decrypt path in this package.
type CryptoError struct {
	Kind ErrorKind
	Err  error
}

func newCryptoError(kind ErrorKind, err error) *CryptoError {
	return &CryptoError{Kind: kind, Err: err}
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAuthenticationFailed) and friends match by kind.
func (e *CryptoError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *CryptoError) sentinel() error {
	switch e.Kind {
	case KindMalformed:
		return ErrMalformed
	case KindAuthenticationFailed:
		return ErrAuthenticationFailed
	case KindInvalidEncoding:
		return ErrInvalidEncoding
	default:
		return errors.New("crypto: unknown error")
	}
}
