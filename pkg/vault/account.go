package vault

import (
	"strings"
	"time"
)

// Provider identifiers.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderGemini = "gemini"
)

// DefaultAccountName is used for migrated accounts and blank names.
const DefaultAccountName = "Default"

// Credentials are the secrets needed to query a provider. Each non-empty
// field is stored either as plaintext (legacy) or with the encrypted marker.
type Credentials struct {
	OrgID      string `json:"org_id,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
}

// Account is a named set of credentials for one provider.
type Account struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Provider    string      `json:"provider"`
	Credentials Credentials `json:"credentials"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ValidatorFunc reports whether credentials are structurally complete for a
// provider.
type ValidatorFunc func(Credentials) bool

// defaultValidators holds the per-provider rules. Providers without a rule
// are accepted; stricter checks belong to the provider client.
var defaultValidators = map[string]ValidatorFunc{
	ProviderClaude: ValidateClaude,
}

// ValidateClaude requires a non-blank organization id and session key.
func ValidateClaude(c Credentials) bool {
	return strings.TrimSpace(c.OrgID) != "" && strings.TrimSpace(c.SessionKey) != ""
}
