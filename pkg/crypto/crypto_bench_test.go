package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/forest6511/aipulse/pkg/crypto"
)

// BenchmarkFoldDeriver measures the machine key stretching cost paid on every vault open.
func BenchmarkFoldDeriver(b *testing.B) {
	in := crypto.MachineInputs{Username: "bench", HomeDir: "/home/bench"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.FoldDeriver{}.DeriveKey(in)
	}
}

// BenchmarkEncryptField measures encryption of a typical session key.
func BenchmarkEncryptField(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	fc, err := crypto.NewFieldCipher(key)
	if err != nil {
		b.Fatal(err)
	}
	value := "sk-ant-REDACTED"

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fc.EncryptField(value); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecryptField measures the decrypt-on-read path.
func BenchmarkDecryptField(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	fc, err := crypto.NewFieldCipher(key)
	if err != nil {
		b.Fatal(err)
	}
	enc, err := fc.EncryptField("sk-ant-sid01-bench")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fc.DecryptField(enc); err != nil {
			b.Fatal(err)
		}
	}
}
