package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/forest6511/aipulse/pkg/usage"
	"github.com/forest6511/aipulse/pkg/vault"
)

// DefaultClaudeBaseURL is the claude.ai web API root.
const DefaultClaudeBaseURL = "https://claude.ai"

// Claude usage buckets in display order.
var claudeBuckets = []struct {
	id    string
	label string
}{
	{"five_hour", "5-hour limit"},
	{"seven_day", "7-day limit"},
	{"seven_day_opus", "7-day Opus limit"},
}

// Claude reads usage from the claude.ai organization usage endpoint using
// the browser session cookie.
type Claude struct {
	baseURL     string
	client      *http.Client
	log         logrus.FieldLogger
	now         func() time.Time
	maxAttempts int
	retryDelay  time.Duration
}

// ClaudeOption configures Claude.
type ClaudeOption func(*Claude)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) ClaudeOption {
	return func(c *Claude) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) ClaudeOption {
	return func(c *Claude) { c.client = hc }
}

func WithLogger(l logrus.FieldLogger) ClaudeOption {
	return func(c *Claude) { c.log = l }
}

func WithClock(now func() time.Time) ClaudeOption {
	return func(c *Claude) { c.now = now }
}

// WithRetry sets the total attempts and the first backoff delay for
// transient failures.
func WithRetry(attempts int, initialDelay time.Duration) ClaudeOption {
	return func(c *Claude) {
		c.maxAttempts = attempts
		c.retryDelay = initialDelay
	}
}

// NewClaude returns the Claude provider.
func NewClaude(opts ...ClaudeOption) *Claude {
	c := &Claude{
		baseURL:     DefaultClaudeBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         logrus.StandardLogger(),
		now:         time.Now,
		maxAttempts: 3,
		retryDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Claude) ID() string   { return vault.ProviderClaude }
func (c *Claude) Name() string { return "Claude" }

// ValidateCredentials requires an organization id and session key.
func (c *Claude) ValidateCredentials(creds vault.Credentials) bool {
	return vault.ValidateClaude(creds)
}

// FetchUsage fetches the current usage. Network errors, 5xx and 429 are
// retried with exponential backoff; other HTTP errors are returned at once.
func (c *Claude) FetchUsage(ctx context.Context, creds vault.Credentials) (*usage.Snapshot, error) {
	if creds.OrgID == "" && creds.SessionKey == "" {
		return nil, ErrMissingCredentials
	}
	if !c.ValidateCredentials(creds) {
		return nil, fmt.Errorf("%w: missing org_id or session_key", ErrInvalidCredentials)
	}

	r := retry.New[*usage.Snapshot](retry.Config{
		MaxAttempts:   c.maxAttempts,
		InitialDelay:  c.retryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})

	// Permanent failures end the retry loop as a success and are reported
	// afterwards.
	var permanent error
	snap, err := r.Do(ctx, func(ctx context.Context) (*usage.Snapshot, error) {
		s, err := c.fetchOnce(ctx, creds)
		if err != nil && !retryable(err) {
			permanent = err
			return nil, nil
		}
		if err != nil {
			c.log.WithError(err).Debug("claude usage fetch failed, retrying")
		}
		return s, err
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	return !errors.Is(err, ErrMalformedResponse) && !errors.Is(err, context.Canceled)
}

func (c *Claude) fetchOnce(ctx context.Context, creds vault.Credentials) (*usage.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/organizations/%s/usage", c.baseURL, url.PathEscape(strings.TrimSpace(creds.OrgID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "sessionKey", Value: strings.TrimSpace(creds.SessionKey)})

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return parseClaudeUsage(body, c.now())
}

// parseClaudeUsage maps the usage payload to a snapshot. Missing or null
// buckets are skipped.
func parseClaudeUsage(body []byte, fetchedAt time.Time) (*usage.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedResponse
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrMalformedResponse
	}

	snap := &usage.Snapshot{FetchedAt: fetchedAt}
	for _, b := range claudeBuckets {
		bucket := root.Get(b.id)
		if !bucket.IsObject() {
			continue
		}
		limit := usage.Limit{
			ID:          b.id,
			Label:       b.label,
			Utilization: bucket.Get("utilization").Float(),
		}
		if s := bucket.Get("resets_at").String(); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.resets_at: %v", ErrMalformedResponse, b.id, err)
			}
			limit.ResetsAt = t
		}
		snap.Limits = append(snap.Limits, limit)
	}
	return snap, nil
}
