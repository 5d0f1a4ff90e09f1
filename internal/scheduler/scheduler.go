// Package scheduler periodically fetches usage for every stored account and
// feeds the results to the notification engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/forest6511/aipulse/pkg/notify"
	"github.com/forest6511/aipulse/pkg/provider"
	"github.com/forest6511/aipulse/pkg/settings"
	"github.com/forest6511/aipulse/pkg/usage"
	"github.com/forest6511/aipulse/pkg/vault"
)

// MaxSessionErrors consecutive session rejections pause the scheduler.
const MaxSessionErrors = 3

// ErrRunning is returned by Start on a running scheduler.
var ErrRunning = errors.New("scheduler: already running")

// Accounts lists stored accounts. *vault.Vault implements it.
type Accounts interface {
	ListAccounts(provider string) ([]vault.Account, error)
}

// Settings returns the current settings. *settings.Service implements it.
type Settings interface {
	Get() (settings.AppSettings, error)
}

// Result is the outcome of one account fetch.
type Result struct {
	Account  vault.Account
	Provider string
	Snapshot *usage.Snapshot
	Err      error
}

// Status describes the scheduler state.
type Status struct {
	Running       bool          `json:"running"`
	Paused        bool          `json:"paused"`
	Interval      time.Duration `json:"interval"`
	SessionErrors int           `json:"session_errors"`
	LastFetch     time.Time     `json:"last_fetch"`
}

// Scheduler runs refresh cycles on a cron schedule.
type Scheduler struct {
	accounts Accounts
	settings Settings
	registry *provider.Registry
	engine   *notify.Engine
	log      logrus.FieldLogger
	now      func() time.Time

	// refreshMu serialises cycles so one account is never evaluated twice
	// at the same time.
	refreshMu sync.Mutex

	onPause  func(Status)
	beforeFn func() error

	mu             sync.Mutex
	cron           *cron.Cron
	entry          cron.EntryID
	ctx            context.Context
	interval       time.Duration
	followSettings bool
	paused         bool
	sessionErrors  int
	lastFetch      time.Time
	previous       map[string]*usage.Snapshot
	engines        map[string]*notify.Engine
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPauseHandler is called once each time repeated session errors pause
// the scheduler.
func WithPauseHandler(fn func(Status)) Option {
	return func(s *Scheduler) { s.onPause = fn }
}

// WithBeforeRefresh runs fn at the start of every cycle, e.g. to reload stores
// other processes write. An error aborts the cycle.
func WithBeforeRefresh(fn func() error) Option {
	return func(s *Scheduler) { s.beforeFn = fn }
}

// New returns a stopped Scheduler. engine is the template for the per-account
// engines: each account gets a copy with its own tracker, since every account
// of a provider reports the same limit ids.
func New(accounts Accounts, st Settings, registry *provider.Registry, engine *notify.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		accounts: accounts,
		settings: st,
		registry: registry,
		engine:   engine,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		interval: settings.DefaultRefreshInterval * time.Second,
		previous: make(map[string]*usage.Snapshot),
		engines:  make(map[string]*notify.Engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules a refresh every interval until ctx is done or Stop is
// called. A zero interval follows the stored settings, picking up changes at
// every refresh. The first refresh runs immediately.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	follow := interval == 0
	if follow {
		app, err := s.settings.Get()
		if err != nil {
			return fmt.Errorf("scheduler: failed to load settings: %w", err)
		}
		interval = app.Interval()
	}
	if err := checkInterval(interval); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	s.interval = interval
	s.followSettings = follow
	s.ctx = ctx
	s.cron = cron.New()
	if err := s.scheduleLocked(); err != nil {
		s.cron = nil
		s.mu.Unlock()
		return err
	}
	s.cron.Start()
	s.log.WithField("interval", s.interval).Info("scheduler started")
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	go s.tick()
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// SetInterval changes the refresh interval, rescheduling if running.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if err := checkInterval(interval); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.cron == nil {
		return nil
	}
	s.cron.Remove(s.entry)
	if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.log.WithField("interval", interval).Info("refresh interval changed")
	return nil
}

func checkInterval(interval time.Duration) error {
	if interval < settings.MinRefreshInterval*time.Second {
		return fmt.Errorf("%w: %s", settings.ErrInvalidInterval, interval)
	}
	return nil
}

func (s *Scheduler) scheduleLocked() error {
	id, err := s.cron.AddFunc("@every "+s.interval.String(), s.tick)
	if err != nil {
		return fmt.Errorf("scheduler: invalid interval %s: %w", s.interval, err)
	}
	s.entry = id
	return nil
}

// Resume clears the session error count and unpauses.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.sessionErrors = 0
	s.mu.Unlock()
	s.log.Info("scheduler resumed")
}

// Status returns the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.cron != nil,
		Paused:        s.paused,
		Interval:      s.interval,
		SessionErrors: s.sessionErrors,
		LastFetch:     s.lastFetch,
	}
}

// Previous returns the last snapshot fetched for accountID.
func (s *Scheduler) Previous(accountID string) *usage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous[accountID]
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx, paused := s.ctx, s.paused
	s.mu.Unlock()

	if paused {
		s.log.Debug("scheduler paused, skipping refresh")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.ForceRefresh(ctx); err != nil {
		s.log.WithError(err).Warn("refresh failed")
	}
}

// ForceRefresh runs one cycle now: every account of every registered
// provider is fetched and evaluated. Per-account failures are reported in
// the results; the error is only set when the cycle could not run at all.
func (s *Scheduler) ForceRefresh(ctx context.Context) ([]Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.beforeFn != nil {
		if err := s.beforeFn(); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	app, err := s.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to load settings: %w", err)
	}
	s.followInterval(app.Interval())

	var results []Result
	seen := make(map[string]bool)
	for _, id := range s.registry.IDs() {
		p, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		accounts, err := s.accounts.ListAccounts(id)
		if err != nil {
			return results, fmt.Errorf("scheduler: failed to list %s accounts: %w", id, err)
		}
		for _, a := range accounts {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			seen[a.ID] = true
			results = append(results, s.refreshAccount(ctx, app.Notifications, p, a))
		}
	}

	s.mu.Lock()
	s.lastFetch = s.now()
	for id := range s.engines {
		if !seen[id] {
			delete(s.engines, id)
			delete(s.previous, id)
		}
	}
	s.mu.Unlock()
	return results, nil
}

// followInterval applies a changed settings interval when Start was given
// none.
func (s *Scheduler) followInterval(interval time.Duration) {
	s.mu.Lock()
	changed := s.followSettings && s.cron != nil && interval != s.interval
	s.mu.Unlock()
	if !changed {
		return
	}
	if err := s.SetInterval(interval); err != nil {
		s.log.WithError(err).Warn("ignoring refresh interval from settings")
	}
}

// engineFor returns the engine holding the notification state of accountID.
func (s *Scheduler) engineFor(accountID string) *notify.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[accountID]
	if !ok {
		e = s.engine.WithTracker(notify.NewTracker())
		s.engines[accountID] = e
	}
	return e
}

func (s *Scheduler) refreshAccount(ctx context.Context, n settings.NotificationSettings, p provider.Provider, a vault.Account) Result {
	res := Result{Account: a, Provider: p.ID()}
	log := s.log.WithFields(logrus.Fields{"account_id": a.ID, "provider": p.ID()})

	if !p.ValidateCredentials(a.Credentials) {
		res.Err = provider.ErrInvalidCredentials
		log.Warn("skipping account with incomplete credentials")
		return res
	}

	snap, err := p.FetchUsage(ctx, a.Credentials)
	if err != nil {
		res.Err = err
		if provider.IsSessionError(err) {
			s.recordSessionError(n, p.Name())
		}
		log.WithError(err).Warn("failed to fetch usage")
		return res
	}
	res.Snapshot = snap

	s.mu.Lock()
	prev := s.previous[a.ID]
	s.sessionErrors = 0
	s.mu.Unlock()

	engine := s.engineFor(a.ID)
	engine.ProcessUsage(n, snap, prev)
	for _, limit := range snap.Limits {
		engine.CheckUpcomingReset(n, limit)
	}

	s.mu.Lock()
	s.previous[a.ID] = snap
	s.mu.Unlock()
	return res
}

func (s *Scheduler) recordSessionError(n settings.NotificationSettings, providerName string) {
	s.mu.Lock()
	s.sessionErrors++
	count := s.sessionErrors
	paused := count >= MaxSessionErrors && !s.paused
	if paused {
		s.paused = true
		s.log.WithField("session_errors", count).Warn("pausing scheduler after repeated session errors")
	}
	s.mu.Unlock()

	if count == 1 {
		s.engine.SendExpiryWarning(n, providerName)
	}
	if paused && s.onPause != nil {
		s.onPause(s.Status())
	}
}
