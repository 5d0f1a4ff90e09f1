package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/aipulse/pkg/usage"
	"github.com/forest6511/aipulse/pkg/vault"
)

type stubProvider struct{ id string }

func (s stubProvider) ID() string                                 { return s.id }
func (s stubProvider) Name() string                               { return s.id }
func (s stubProvider) ValidateCredentials(vault.Credentials) bool { return true }
func (s stubProvider) FetchUsage(context.Context, vault.Credentials) (*usage.Snapshot, error) {
	return &usage.Snapshot{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewClaude(), stubProvider{id: "codex"})

	assert.Equal(t, []string{"claude", "codex"}, r.IDs())

	p, err := r.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "Claude", p.Name())

	_, err = r.Get("gemini")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	r.Register(stubProvider{id: "claude"})
	p, err = r.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name(), "register replaces by id")
}
