package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/forest6511/aipulse/pkg/crypto"
	"github.com/forest6511/aipulse/pkg/store"
)

func seedV1(t *testing.T, st store.Store, records map[string]Credentials) {
	t.Helper()
	for provider, creds := range records {
		if err := st.Set(provider, creds); err != nil {
			t.Fatal(err)
		}
	}
}

func storedVersion(t *testing.T, st store.Store) int {
	t.Helper()
	var version int
	ok, err := st.Get(VersionKey, &version)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return Version1
	}
	return version
}

func TestMigrateV1ToV3(t *testing.T) {
	st := store.NewMemory()
	seedV1(t, st, map[string]Credentials{
		ProviderClaude: {OrgID: "org-123", SessionKey: "sk-ant-xxx"},
		ProviderCodex:  {SessionKey: "incomplete"},
	})
	v := newTestVault(t, st)

	version, err := v.Migrate()
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("Migrate returned version %d, want %d", version, CurrentVersion)
	}
	if got := storedVersion(t, st); got != Version3 {
		t.Errorf("stored version = %d, want %d", got, Version3)
	}
	for _, key := range LegacyProviderKeys {
		var discard Credentials
		if ok, _ := st.Get(key, &discard); ok {
			t.Errorf("legacy key %q still present after migration", key)
		}
	}

	accounts := rawAccounts(t, st)
	if len(accounts) != 1 {
		t.Fatalf("expected exactly 1 migrated account, got %d", len(accounts))
	}
	for _, a := range accounts {
		if a.Name != DefaultAccountName || a.Provider != ProviderClaude {
			t.Errorf("migrated account = %+v", a)
		}
		if !crypto.IsEncrypted(a.Credentials.OrgID) || !crypto.IsEncrypted(a.Credentials.SessionKey) {
			t.Errorf("migrated credentials not encrypted: %+v", a.Credentials)
		}
	}

	list, err := v.ListAccounts(ProviderClaude)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Credentials.SessionKey != "sk-ant-xxx" || list[0].Credentials.OrgID != "org-123" {
		t.Errorf("ListAccounts after migration = %+v", list)
	}
	if st.Saves() != 1 {
		t.Errorf("migration should write the store once, got %d saves", st.Saves())
	}
}

func TestMigrateDiscardsIncompleteClaude(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"missing session key", Credentials{OrgID: "org-123"}},
		{"missing org id", Credentials{SessionKey: "sk-ant-xxx"}},
		{"blank fields", Credentials{OrgID: "  ", SessionKey: "\t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			seedV1(t, st, map[string]Credentials{ProviderClaude: tt.creds})
			v := newTestVault(t, st)

			has, err := v.HasAccounts(ProviderClaude)
			if err != nil {
				t.Fatal(err)
			}
			if has {
				t.Error("incomplete legacy record should not become an account")
			}
			if got := storedVersion(t, st); got != CurrentVersion {
				t.Errorf("stored version = %d, want %d", got, CurrentVersion)
			}
		})
	}
}

func TestMigrateUnreadableLegacyRecord(t *testing.T) {
	st := store.NewMemory()
	if err := st.Set(ProviderClaude, "not an object"); err != nil {
		t.Fatal(err)
	}
	v := newTestVault(t, st)

	if _, err := v.Migrate(); err != nil {
		t.Fatalf("Migrate should discard an unreadable legacy record, got %v", err)
	}
	if n := len(rawAccounts(t, st)); n != 0 {
		t.Errorf("expected no accounts, got %d", n)
	}
}

func TestMigrateFromV2EncryptsRemainingPlaintext(t *testing.T) {
	fc := testCipher(t)
	already, err := fc.EncryptField("org-enc")
	if err != nil {
		t.Fatal(err)
	}

	st := store.NewMemory()
	if err := st.Set(VersionKey, Version2); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(AccountsKey, map[string]Account{
		"a": {ID: "a", Name: "A", Provider: ProviderClaude, Credentials: Credentials{OrgID: already, SessionKey: "sk-plain"}},
		"b": {ID: "b", Name: "B", Provider: ProviderCodex, Credentials: Credentials{SessionKey: "tok"}},
	}); err != nil {
		t.Fatal(err)
	}
	// A stale legacy key left by an interrupted run is removed too
	seedV1(t, st, map[string]Credentials{ProviderClaude: {OrgID: "old", SessionKey: "old"}})

	v := newTestVault(t, st)
	if _, err := v.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	accounts := rawAccounts(t, st)
	if len(accounts) != 2 {
		t.Fatalf("v2 to v3 must keep every account, got %d", len(accounts))
	}
	if accounts["a"].Credentials.OrgID != already {
		t.Error("an already encrypted field must not be re-encrypted")
	}
	if !crypto.IsEncrypted(accounts["a"].Credentials.SessionKey) || !crypto.IsEncrypted(accounts["b"].Credentials.SessionKey) {
		t.Error("plaintext fields must be encrypted")
	}
	if accounts["b"].Credentials.OrgID != "" {
		t.Error("empty fields stay empty")
	}
	var discard Credentials
	if ok, _ := st.Get(ProviderClaude, &discard); ok {
		t.Error("legacy key should be removed")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	seeds := map[string]func(t *testing.T, st store.Store){
		"v1": func(t *testing.T, st store.Store) {
			seedV1(t, st, map[string]Credentials{ProviderClaude: {OrgID: "org-123", SessionKey: "sk-ant-xxx"}})
		},
		"v2": func(t *testing.T, st store.Store) {
			_ = st.Set(VersionKey, Version2)
			_ = st.Set(AccountsKey, map[string]Account{
				"a": {ID: "a", Name: "A", Provider: ProviderClaude, Credentials: Credentials{OrgID: "o", SessionKey: "s"}},
			})
		},
		"empty": func(t *testing.T, st store.Store) {},
	}

	for name, seed := range seeds {
		t.Run(name, func(t *testing.T) {
			st := store.NewMemory()
			seed(t, st)
			v := newTestVault(t, st)

			if _, err := v.Migrate(); err != nil {
				t.Fatal(err)
			}
			first := snapshotStore(t, st)
			saves := st.Saves()

			if _, err := v.Migrate(); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(first, snapshotStore(t, st)) {
				t.Error("second migration changed the store")
			}
			if st.Saves() != saves {
				t.Error("second migration wrote the store")
			}
		})
	}
}

func snapshotStore(t *testing.T, st store.Store) []byte {
	t.Helper()
	out := make(map[string]json.RawMessage)
	for _, k := range st.Keys() {
		var raw json.RawMessage
		if _, err := st.Get(k, &raw); err != nil {
			t.Fatal(err)
		}
		out[k] = raw
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type failingCipher struct{}

func (failingCipher) EncryptField(string) (string, error) { return "", errors.New("no entropy") }
func (failingCipher) DecryptField(v string) (string, error) { return v, nil }

func TestMigrateEncryptionFailureLeavesStoreUntouched(t *testing.T) {
	st := store.NewMemory()
	seedV1(t, st, map[string]Credentials{ProviderClaude: {OrgID: "org-123", SessionKey: "sk-ant-xxx"}})
	v := New(st, failingCipher{}, WithLogger(quietLogger()))

	if _, err := v.Migrate(); err == nil {
		t.Fatal("expected migration to fail")
	}
	if got := storedVersion(t, st); got != Version1 {
		t.Errorf("version advanced to %d after a failed migration", got)
	}
	if n := len(rawAccounts(t, st)); n != 0 {
		t.Errorf("no plaintext accounts may be staged, found %d", n)
	}
	if st.Saves() != 0 {
		t.Error("failed migration must not save")
	}
}

func TestMigrateSaveFailure(t *testing.T) {
	st := store.NewMemory()
	seedV1(t, st, map[string]Credentials{ProviderClaude: {OrgID: "org-123", SessionKey: "sk-ant-xxx"}})
	st.SaveErr = errors.New("read-only filesystem")
	v := newTestVault(t, st)

	_, err := v.ListAccounts(ProviderClaude)
	if !errors.Is(err, ErrStore) {
		t.Fatalf("ListAccounts error = %v, want ErrStore", err)
	}

	if got := storedVersion(t, st); got != Version1 {
		t.Errorf("staged version %d kept after a failed save", got)
	}

	st.SaveErr = nil
	list, err := v.ListAccounts(ProviderClaude)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected migrated account after retry, got %d", len(list))
	}
	if st.Saves() != 1 {
		t.Errorf("expected the retried migration to save once, got %d", st.Saves())
	}
}

func TestVersionDoesNotMigrate(t *testing.T) {
	st := store.NewMemory()
	v := newTestVault(t, st)

	version, err := v.Version()
	if err != nil {
		t.Fatal(err)
	}
	if version != Version1 {
		t.Errorf("Version() on empty store = %d, want %d", version, Version1)
	}
	if st.Saves() != 0 {
		t.Error("Version must not write the store")
	}
}

func TestCorruptedVersionIsAStoreError(t *testing.T) {
	st := store.NewMemory()
	if err := st.Set(VersionKey, "three"); err != nil {
		t.Fatal(err)
	}
	v := newTestVault(t, st)

	if _, err := v.Migrate(); !errors.Is(err, ErrStore) {
		t.Errorf("Migrate error = %v, want ErrStore", err)
	}
}
