// Package vault persists provider accounts with their credentials encrypted
// at rest.
//
// Every public operation first brings the store up to CurrentVersion (see
// migration.go), then performs a read-modify-write cycle under the vault
// mutex. The mutex only serialises callers sharing this Vault; two processes
// writing the same store still race and the last Save wins.
package vault

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/aipulse/pkg/audit"
	"github.com/forest6511/aipulse/pkg/store"
)

// Store keys
const (
	VersionKey  = "version"
	AccountsKey = "accounts"
)

// Cipher encrypts and decrypts individual credential fields. EncryptField
// must leave already-encrypted values unchanged and DecryptField must pass
// plaintext through. *crypto.FieldCipher implements it.
type Cipher interface {
	EncryptField(value string) (string, error)
	DecryptField(value string) (string, error)
}

// Auditor receives a record of every successful or failed mutation.
type Auditor interface {
	Record(e audit.Entry) error
}

// Vault manages the persisted account collection.
type Vault struct {
	mu          sync.Mutex
	store       store.Store
	cipher      Cipher
	log         logrus.FieldLogger
	auditor     Auditor
	source      string
	now         func() time.Time
	newID       func() string
	validators  map[string]ValidatorFunc
	rawFallback bool
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Vault) { v.log = l }
}

// WithAuditor records mutations to a.
func WithAuditor(a Auditor, source string) Option {
	return func(v *Vault) {
		v.auditor = a
		v.source = source
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithIDGenerator overrides the account id generator (uuid v4 by default).
func WithIDGenerator(f func() string) Option {
	return func(v *Vault) { v.newID = f }
}

// WithValidator adds or replaces the credential rule for provider.
func WithValidator(provider string, f ValidatorFunc) Option {
	return func(v *Vault) { v.validators[provider] = f }
}

// WithRawFallback makes reads return the stored (still encrypted) value of a
// field that fails to decrypt instead of reporting an error. This matches
// the behaviour of early releases and can leak ciphertext into fields callers
// expect to be plaintext.
func WithRawFallback(enabled bool) Option {
	return func(v *Vault) { v.rawFallback = enabled }
}

// New returns a Vault over st using c for field encryption.
func New(st store.Store, c Cipher, opts ...Option) *Vault {
	v := &Vault{
		store:      st,
		cipher:     c,
		log:        logrus.StandardLogger(),
		source:     audit.SourceCLI,
		now:        time.Now,
		newID:      uuid.NewString,
		validators: make(map[string]ValidatorFunc, len(defaultValidators)),
	}
	for provider, rule := range defaultValidators {
		v.validators[provider] = rule
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate reports whether c satisfies the rule registered for provider.
// Providers without a rule are always valid.
func (v *Vault) Validate(provider string, c Credentials) bool {
	if rule, ok := v.validators[provider]; ok {
		return rule(c)
	}
	return true
}

// ListAccounts returns the accounts of provider with decrypted credentials,
// ordered by creation time. Accounts whose credentials cannot be decrypted
// are skipped and logged unless raw fallback is enabled.
func (v *Vault) ListAccounts(provider string) ([]Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureMigrated(); err != nil {
		return nil, err
	}
	accounts, err := v.readAccounts()
	if err != nil {
		return nil, err
	}

	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Provider != provider {
			continue
		}
		creds, err := v.decryptCredentials(a.ID, a.Credentials)
		if err != nil {
			v.log.WithError(err).WithField("account_id", a.ID).
				Warn("skipping account with unreadable credentials")
			continue
		}
		a.Credentials = creds
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetAccount returns the account with id, or nil when absent. A field that
// fails to decrypt is reported as *DecryptError.
func (v *Vault) GetAccount(id string) (*Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrAccountIDRequired
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureMigrated(); err != nil {
		return nil, err
	}
	accounts, err := v.readAccounts()
	if err != nil {
		return nil, err
	}

	a, ok := accounts[id]
	if !ok {
		return nil, nil
	}
	creds, err := v.decryptCredentials(a.ID, a.Credentials)
	if err != nil {
		return nil, err
	}
	a.Credentials = creds
	return &a, nil
}

// SaveAccount creates or replaces the account with a.ID. An empty ID is
// generated and a zero CreatedAt is stamped. Credentials are not validated
// here; callers use Validate first. Only the stored copy is
// encrypted: the returned Account carries the caller's plaintext credentials.
func (v *Vault) SaveAccount(a Account) (Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if strings.TrimSpace(a.Provider) == "" {
		return Account{}, ErrProviderRequired
	}
	if err := v.ensureMigrated(); err != nil {
		return Account{}, err
	}

	if a.ID == "" {
		a.ID = v.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = v.now().UTC()
	}
	a.Name = normalizeName(a.Name)

	accounts, err := v.readAccounts()
	if err != nil {
		return Account{}, err
	}

	stored := a
	stored.Credentials, err = v.encryptCredentials(a.Credentials)
	if err != nil {
		return Account{}, err
	}
	accounts[a.ID] = stored

	err = v.writeAccounts(accounts)
	v.record(audit.Entry{Operation: audit.OpAccountSave, AccountID: a.ID, Provider: a.Provider, Err: err})
	if err != nil {
		return Account{}, err
	}

	v.log.WithFields(logrus.Fields{"account_id": a.ID, "provider": a.Provider}).
		Infof("saved account %q", a.Name)
	return a, nil
}

// HasAccounts reports whether any account exists for provider. Nothing is
// decrypted.
func (v *Vault) HasAccounts(provider string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureMigrated(); err != nil {
		return false, err
	}
	accounts, err := v.readAccounts()
	if err != nil {
		return false, err
	}
	for _, a := range accounts {
		if a.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}

// DeleteAccount removes the account with id. Deleting an absent id is a
// no-op and does not touch the store.
func (v *Vault) DeleteAccount(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrAccountIDRequired
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureMigrated(); err != nil {
		return err
	}
	accounts, err := v.readAccounts()
	if err != nil {
		return err
	}

	a, ok := accounts[id]
	if !ok {
		return nil
	}
	delete(accounts, id)

	err = v.writeAccounts(accounts)
	v.record(audit.Entry{Operation: audit.OpAccountDelete, AccountID: id, Provider: a.Provider, Err: err})
	if err != nil {
		return err
	}
	v.log.WithField("account_id", id).Info("deleted account")
	return nil
}

// Reload re-reads the store so accounts saved by another process become
// visible.
func (v *Vault) Reload() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return storeErr("reload", store.Reload(v.store))
}

func (v *Vault) readAccounts() (map[string]Account, error) {
	accounts := make(map[string]Account)
	if _, err := v.store.Get(AccountsKey, &accounts); err != nil {
		return nil, storeErr("read", err)
	}
	return accounts, nil
}

// writeAccounts stages accounts and saves. On failure the previous value is
// put back so the store never holds data that was not persisted.
func (v *Vault) writeAccounts(accounts map[string]Account) error {
	previous, err := v.stash([]string{AccountsKey})
	if err != nil {
		return err
	}
	if err := v.store.Set(AccountsKey, accounts); err != nil {
		v.restore(previous)
		return storeErr("serialize", err)
	}
	if err := v.store.Save(); err != nil {
		v.restore(previous)
		return storeErr("save", err)
	}
	return nil
}

func (v *Vault) encryptCredentials(c Credentials) (Credentials, error) {
	var out Credentials
	var err error
	if out.OrgID, err = v.encryptField(c.OrgID); err != nil {
		return Credentials{}, err
	}
	if out.SessionKey, err = v.encryptField(c.SessionKey); err != nil {
		return Credentials{}, err
	}
	return out, nil
}

func (v *Vault) encryptField(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return v.cipher.EncryptField(value)
}

func (v *Vault) decryptCredentials(accountID string, c Credentials) (Credentials, error) {
	var out Credentials
	var err error
	if out.OrgID, err = v.decryptField(accountID, "org_id", c.OrgID); err != nil {
		return Credentials{}, err
	}
	if out.SessionKey, err = v.decryptField(accountID, "session_key", c.SessionKey); err != nil {
		return Credentials{}, err
	}
	return out, nil
}

func (v *Vault) decryptField(accountID, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	plain, err := v.cipher.DecryptField(value)
	if err == nil {
		return plain, nil
	}
	if v.rawFallback {
		v.log.WithError(err).WithFields(logrus.Fields{"account_id": accountID, "field": field}).
			Error("failed to decrypt field, returning stored value")
		return value, nil
	}
	return "", &DecryptError{AccountID: accountID, Field: field, Err: err}
}

// record forwards to the auditor. Audit failures never fail the operation.
func (v *Vault) record(e audit.Entry) {
	if v.auditor == nil {
		return
	}
	e.Source = v.source
	if err := v.auditor.Record(e); err != nil {
		v.log.WithError(err).WithField("op", e.Operation).Warn("failed to write audit record")
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return DefaultAccountName
	}
	return name
}
