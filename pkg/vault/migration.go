package vault

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/forest6511/aipulse/pkg/audit"
)

// Store format versions
const (
	// Version1 is the flat layout: one top-level key per provider holding
	// plaintext {org_id, session_key}.
	Version1 = 1
	// Version2 keys accounts by id under "accounts", still plaintext.
	Version2 = 2
	// Version3 encrypts every non-empty credential field.
	Version3 = 3
	// CurrentVersion is the version every operation migrates to.
	CurrentVersion = Version3
)

// LegacyProviderKeys are the top-level keys of the Version1 layout. Only the
// claude entry was ever populated by the old app.
var LegacyProviderKeys = []string{ProviderClaude, ProviderCodex, ProviderGemini}

// Migrate brings the store to CurrentVersion and returns the resulting version.
func (v *Vault) Migrate() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureMigrated(); err != nil {
		return 0, err
	}
	return v.readVersion()
}

// Version returns the persisted store version without migrating.
func (v *Vault) Version() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.readVersion()
}

// readVersion treats a missing version as Version1.
func (v *Vault) readVersion() (int, error) {
	version := Version1
	if _, err := v.store.Get(VersionKey, &version); err != nil {
		return 0, storeErr("read", err)
	}
	return version, nil
}

// ensureMigrated applies every missing step in order. Steps transform an
// in-memory copy; data, version and legacy key removal are staged together
// and written with a single Save, so the version never advances without its
// data. Running it on a current store is a no-op.
func (v *Vault) ensureMigrated() error {
	version, err := v.readVersion()
	if err != nil {
		return err
	}
	if version >= CurrentVersion {
		return nil
	}

	accounts, err := v.readAccounts()
	if err != nil {
		return err
	}

	if version < Version2 {
		v.log.Infof("migrating credentials from v%d to v%d", version, Version2)
		if err := v.migrateToV2(accounts); err != nil {
			return fmt.Errorf("vault: migration to v2 failed: %w", err)
		}
	}

	if version < Version3 {
		v.log.Infof("migrating credentials from v%d to v%d (encrypting)", max(version, Version2), Version3)
		if err := v.migrateToV3(accounts); err != nil {
			return fmt.Errorf("vault: migration to v3 failed: %w", err)
		}
	}

	staged := append([]string{AccountsKey, VersionKey}, LegacyProviderKeys...)
	previous, err := v.stash(staged)
	if err != nil {
		return err
	}
	if err := v.store.Set(AccountsKey, accounts); err != nil {
		v.restore(previous)
		return storeErr("serialize", err)
	}
	if err := v.store.Set(VersionKey, CurrentVersion); err != nil {
		v.restore(previous)
		return storeErr("serialize", err)
	}
	for _, key := range LegacyProviderKeys {
		v.store.Delete(key)
	}

	err = storeErr("save", v.store.Save())
	if err != nil {
		// Keep memory consistent with what is on disk so the next call
		// retries the whole migration.
		v.restore(previous)
	}
	v.record(audit.Entry{
		Operation: audit.OpStoreMigrate,
		Err:       err,
		Context: map[string]string{
			"from":     strconv.Itoa(version),
			"to":       strconv.Itoa(CurrentVersion),
			"accounts": strconv.Itoa(len(accounts)),
		},
	})
	if err != nil {
		return err
	}

	v.log.WithField("accounts", len(accounts)).Infof("migration to v%d complete", CurrentVersion)
	return nil
}

// stash captures the raw values of keys; absent keys map to nil.
func (v *Vault) stash(keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var raw json.RawMessage
		ok, err := v.store.Get(key, &raw)
		if err != nil {
			return nil, storeErr("read", err)
		}
		if ok {
			out[key] = raw
		} else {
			out[key] = nil
		}
	}
	return out, nil
}

func (v *Vault) restore(previous map[string]json.RawMessage) {
	for key, raw := range previous {
		if raw == nil {
			v.store.Delete(key)
			continue
		}
		if err := v.store.Set(key, raw); err != nil {
			v.log.WithError(err).WithField("key", key).Error("failed to restore staged value")
		}
	}
}

// migrateToV2 wraps the legacy claude record into an account. Incomplete
// records are dropped. Accounts already present are kept, so re-running the
// step after a partial migration never loses data.
func (v *Vault) migrateToV2(accounts map[string]Account) error {
	var creds Credentials
	ok, err := v.store.Get(ProviderClaude, &creds)
	if err != nil {
		// An unreadable legacy record cannot be migrated; treat it like an
		// incomplete one.
		v.log.WithError(err).Warn("discarding unreadable legacy claude credentials")
		return nil
	}
	if !ok {
		return nil
	}
	if !ValidateClaude(creds) {
		v.log.Info("discarding incomplete legacy claude credentials")
		return nil
	}

	a := Account{
		ID:          v.newID(),
		Name:        DefaultAccountName,
		Provider:    ProviderClaude,
		Credentials: creds,
		CreatedAt:   v.now().UTC(),
	}
	accounts[a.ID] = a
	v.log.WithField("account_id", a.ID).Info("migrated legacy claude credentials")
	return nil
}

// migrateToV3 encrypts every credential field still in plaintext.
func (v *Vault) migrateToV3(accounts map[string]Account) error {
	for id, a := range accounts {
		creds, err := v.encryptCredentials(a.Credentials)
		if err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		a.Credentials = creds
		accounts[id] = a
	}
	return nil
}
