package crypto

import (
	"os"

	"golang.org/x/crypto/argon2"
)

// DefaultSalt is the application salt mixed into every derived key.
var DefaultSalt = []byte("ai-pulse-credential-encryption-v1")

// FoldRounds is the number of fold-and-accumulate rounds used by FoldDeriver.
const FoldRounds = 1000

// Argon2id parameters, same as the vault master key derivation.
const (
	Argon2Memory  = 64 * 1024
	Argon2Time    = 3
	Argon2Threads = 4
)

// MachineInputs are the non-secret, machine-identifying values a key is
// derived from.
type MachineInputs struct {
	Username string
	HomeDir  string
}

// LocalMachineInputs reads the current user's identity from the environment,
// falling back to fixed placeholders when it is unavailable.
func LocalMachineInputs() MachineInputs {
	return MachineInputs{
		Username: firstEnv("default-user", "USER", "USERNAME"),
		HomeDir:  firstEnv("/unknown", "HOME", "USERPROFILE"),
	}
}

func firstEnv(fallback string, names ...string) string {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
	}
	return fallback
}

// KeyDeriver turns machine inputs into a 32-byte key. Implementations must be
// deterministic: the same inputs always produce the same key, otherwise data
// encrypted in a previous run can no longer be read.
type KeyDeriver interface {
	DeriveKey(in MachineInputs) []byte
}

// FoldDeriver is the original key stretching scheme: repeated XOR folding of
// salt||user||home into 32 bytes. It is NOT a vetted KDF and is kept so that
// stores written by earlier releases stay readable.
type FoldDeriver struct {
	// Salt overrides DefaultSalt when non-nil.
	Salt []byte
}

// DeriveKey implements KeyDeriver.
func (d FoldDeriver) DeriveKey(in MachineInputs) []byte {
	salt := d.Salt
	if salt == nil {
		salt = DefaultSalt
	}

	input := make([]byte, 0, len(salt)+len(in.Username)+len(in.HomeDir)+1)
	input = append(input, salt...)
	input = append(input, in.Username...)
	input = append(input, in.HomeDir...)

	key := make([]byte, KeyLength)
	for i := 0; i < FoldRounds; i++ {
		input = append(input, byte(i&0xFF))

		var folded [KeyLength]byte
		for j, b := range input {
			folded[j%KeyLength] ^= b
		}
		for k := range key {
			key[k] += folded[k]
		}

		input = append(input[:0], key...)
	}
	return key
}

// Argon2Deriver derives the key with Argon2id. Keys differ from FoldDeriver,
// so switching an existing store to it requires re-saving every account.
type Argon2Deriver struct {
	Salt []byte
}

// DeriveKey implements KeyDeriver.
func (d Argon2Deriver) DeriveKey(in MachineInputs) []byte {
	salt := d.Salt
	if salt == nil {
		salt = DefaultSalt
	}
	password := []byte(in.Username + "\x00" + in.HomeDir)
	return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// DeriverByName maps a config value to a KeyDeriver. Unknown names return nil.
func DeriverByName(name string) KeyDeriver {
	switch name {
	case "", "fold":
		return FoldDeriver{}
	case "argon2":
		return Argon2Deriver{}
	default:
		return nil
	}
}
