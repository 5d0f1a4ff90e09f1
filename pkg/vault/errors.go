package vault

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrStore              = errors.New("vault: store error")
	ErrInvalidCredentials = errors.New("vault: invalid credentials format")
	ErrAccountIDRequired  = errors.New("vault: account id is required")
	ErrProviderRequired   = errors.New("vault: provider is required")
	ErrCredentialsUnread  = errors.New("vault: stored credentials cannot be decrypted")
)

// StoreError wraps any failure of the persistence collaborator. It matches
// ErrStore with errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vault: store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// DecryptError reports a credential field that could not be decrypted. It
// wraps the underlying *crypto.CryptoError and matches ErrCredentialsUnread.
type DecryptError struct {
	AccountID string
	Field     string
	Err       error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("vault: account %s: cannot decrypt %s: %v", e.AccountID, e.Field, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

func (e *DecryptError) Is(target error) bool { return target == ErrCredentialsUnread }
