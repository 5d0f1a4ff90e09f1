package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/aipulse/pkg/vault"
)

const usagePayload = `{
  "five_hour": {"utilization": 42.5, "resets_at": "2026-05-04T15:00:00+00:00"},
  "seven_day": {"utilization": 81, "resets_at": "2026-05-08T09:30:00Z"},
  "seven_day_opus": null,
  "extra_field": {"ignored": true}
}`

var fetchedAt = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

var testCreds = vault.Credentials{OrgID: "org-123", SessionKey: "sk-ant-xxx"}

func newTestClaude(t *testing.T, srv *httptest.Server) *Claude {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClaude(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithLogger(log),
		WithClock(func() time.Time { return fetchedAt }),
		WithRetry(3, time.Millisecond),
	)
}

func TestClaude_FetchUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/org-123/usage", r.URL.Path)
		cookie, err := r.Cookie("sessionKey")
		if assert.NoError(t, err) {
			assert.Equal(t, "sk-ant-xxx", cookie.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, usagePayload)
	}))
	defer srv.Close()

	snap, err := newTestClaude(t, srv).FetchUsage(context.Background(), testCreds)
	require.NoError(t, err)

	require.Len(t, snap.Limits, 2)
	assert.Equal(t, fetchedAt, snap.FetchedAt)

	five := snap.Limits[0]
	assert.Equal(t, "five_hour", five.ID)
	assert.Equal(t, "5-hour limit", five.Label)
	assert.InDelta(t, 42.5, five.Utilization, 0.001)
	assert.True(t, five.ResetsAt.Equal(time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)))

	seven := snap.Limits[1]
	assert.Equal(t, "seven_day", seven.ID)
	assert.Equal(t, 81, seven.Percent())
}

func TestClaude_SessionErrorIsNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":"invalid session"}`, status)
		}))

		_, err := newTestClaude(t, srv).FetchUsage(context.Background(), testCreds)
		srv.Close()

		require.Error(t, err)
		assert.True(t, IsSessionError(err), "status %d", status)
		var he *HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, status, he.StatusCode)
		assert.Contains(t, he.Body, "invalid session")
		assert.Equal(t, int32(1), calls.Load())
	}
}

func TestClaude_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, usagePayload)
	}))
	defer srv.Close()

	snap, err := newTestClaude(t, srv).FetchUsage(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Len(t, snap.Limits, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClaude_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClaude(t, srv).FetchUsage(context.Background(), testCreds)
	require.Error(t, err)
	assert.False(t, IsSessionError(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClaude_MalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      "<html>login</html>",
		"not an object": "[1,2,3]",
		"bad resets_at": `{"five_hour": {"utilization": 1, "resets_at": "tomorrow"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := newTestClaude(t, srv).FetchUsage(context.Background(), testCreds)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClaude_CredentialChecks(t *testing.T) {
	c := NewClaude()

	_, err := c.FetchUsage(context.Background(), vault.Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = c.FetchUsage(context.Background(), vault.Credentials{SessionKey: "sk"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.True(t, c.ValidateCredentials(testCreds))
	assert.False(t, c.ValidateCredentials(vault.Credentials{OrgID: " ", SessionKey: "sk"}))
	assert.Equal(t, "claude", c.ID())
	assert.Equal(t, "Claude", c.Name())
}

func TestParseClaudeUsage_EmptyObject(t *testing.T) {
	snap, err := parseClaudeUsage([]byte(`{}`), fetchedAt)
	require.NoError(t, err)
	assert.Empty(t, snap.Limits)
}

func TestIsSessionError(t *testing.T) {
	assert.False(t, IsSessionError(nil))
	assert.False(t, IsSessionError(errors.New("boom")))
	assert.False(t, IsSessionError(&HTTPError{StatusCode: 500}))
	assert.True(t, IsSessionError(&HTTPError{StatusCode: 401}))
}

func TestHTTPError_Temporary(t *testing.T) {
	assert.True(t, (&HTTPError{StatusCode: 503}).Temporary())
	assert.True(t, (&HTTPError{StatusCode: 429}).Temporary())
	assert.False(t, (&HTTPError{StatusCode: 404}).Temporary())
}
