// Package settings holds the user-editable application settings and persists
// them under a single key of a store.Store.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forest6511/aipulse/pkg/store"
)

// Key is the store key holding the serialized AppSettings.
const Key = "app_settings"

// Defaults
const (
	DefaultRefreshInterval = 300
	MinRefreshInterval     = 30
)

// DefaultThresholds are the usage percentages alerted on out of the box.
// They are also the tiers re-armed after a quota reset.
var DefaultThresholds = []int{50, 75, 90, 100}

// ClockLayout is the format of DND start and end times.
const ClockLayout = "15:04"

// Errors
var (
	ErrInvalidThreshold = errors.New("settings: thresholds must be between 1 and 100")
	ErrInvalidInterval  = errors.New("settings: refresh interval too short")
	ErrInvalidDNDTime   = errors.New("settings: DND time must be HH:MM")
)

// NotificationSettings control which alerts are sent and when.
type NotificationSettings struct {
	Enabled        bool   `json:"enabled"`
	Thresholds     []int  `json:"thresholds"`
	NotifyOnReset  bool   `json:"notifyOnReset"`
	NotifyOnExpiry bool   `json:"notifyOnExpiry"`
	DNDEnabled     bool   `json:"dndEnabled"`
	DNDStartTime   string `json:"dndStartTime,omitempty"`
	DNDEndTime     string `json:"dndEndTime,omitempty"`
}

// AppSettings is the persisted settings object.
type AppSettings struct {
	// RefreshInterval is in seconds.
	RefreshInterval int                  `json:"refreshInterval"`
	Notifications   NotificationSettings `json:"notifications"`
}

// Interval returns RefreshInterval as a duration.
func (s AppSettings) Interval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

// Default returns the built-in settings used when nothing is stored.
func Default() AppSettings {
	return AppSettings{
		RefreshInterval: DefaultRefreshInterval,
		Notifications: NotificationSettings{
			Enabled:        true,
			Thresholds:     append([]int(nil), DefaultThresholds...),
			NotifyOnReset:  true,
			NotifyOnExpiry: true,
		},
	}
}

// ParseClock parses an "HH:MM" time of day into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDNDTime, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Normalize validates s and returns a copy with thresholds deduplicated and
// sorted ascending.
func Normalize(s AppSettings) (AppSettings, error) {
	if s.RefreshInterval < MinRefreshInterval {
		return AppSettings{}, fmt.Errorf("%w: %ds, minimum is %ds", ErrInvalidInterval, s.RefreshInterval, MinRefreshInterval)
	}

	seen := make(map[int]bool, len(s.Notifications.Thresholds))
	thresholds := make([]int, 0, len(s.Notifications.Thresholds))
	for _, t := range s.Notifications.Thresholds {
		if t < 1 || t > 100 {
			return AppSettings{}, fmt.Errorf("%w: got %d", ErrInvalidThreshold, t)
		}
		if !seen[t] {
			seen[t] = true
			thresholds = append(thresholds, t)
		}
	}
	sort.Ints(thresholds)
	s.Notifications.Thresholds = thresholds

	for _, v := range []string{s.Notifications.DNDStartTime, s.Notifications.DNDEndTime} {
		if v == "" {
			continue
		}
		if _, err := ParseClock(v); err != nil {
			return AppSettings{}, err
		}
	}
	return s, nil
}

// Service reads and writes AppSettings.
type Service struct {
	mu    sync.Mutex
	store store.Store
	log   logrus.FieldLogger
}

// NewService returns a Service over st. A nil logger uses the standard logger.
func NewService(st store.Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: st, log: log}
}

// Get returns the stored settings, or Default when none are stored.
func (s *Service) Get() (AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Default()
	ok, err := s.store.Get(Key, &out)
	if err != nil {
		return AppSettings{}, fmt.Errorf("settings: failed to read: %w", err)
	}
	if !ok {
		return Default(), nil
	}
	return out, nil
}

// Save validates and persists settings, returning the normalized copy.
func (s *Service) Save(in AppSettings) (AppSettings, error) {
	normalized, err := Normalize(in)
	if err != nil {
		return AppSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(Key, normalized); err != nil {
		return AppSettings{}, fmt.Errorf("settings: failed to encode: %w", err)
	}
	if err := s.store.Save(); err != nil {
		return AppSettings{}, fmt.Errorf("settings: failed to save: %w", err)
	}
	s.log.WithField("refresh_interval", normalized.RefreshInterval).Info("saved app settings")
	return normalized, nil
}

// Update applies fn to the current settings and saves the result.
func (s *Service) Update(fn func(*AppSettings)) (AppSettings, error) {
	current, err := s.Get()
	if err != nil {
		return AppSettings{}, err
	}
	fn(&current)
	return s.Save(current)
}

// Reload re-reads the backing store so settings saved by another process
// take effect.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.Reload(s.store); err != nil {
		return fmt.Errorf("settings: failed to reload: %w", err)
	}
	return nil
}
