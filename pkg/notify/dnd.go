package notify

import (
	"time"

	"github.com/forest6511/aipulse/pkg/settings"
)

// IsDNDActive reports whether now falls inside the Do Not Disturb window.
// A missing or unparsable bound disables DND. When start is after end the
// window spans midnight. now is compared in its own location.
func IsDNDActive(n settings.NotificationSettings, now time.Time) bool {
	if !n.DNDEnabled || n.DNDStartTime == "" || n.DNDEndTime == "" {
		return false
	}
	start, err := settings.ParseClock(n.DNDStartTime)
	if err != nil {
		return false
	}
	end, err := settings.ParseClock(n.DNDEndTime)
	if err != nil {
		return false
	}

	// Bounds are whole minutes, so minute resolution is exact here.
	minute := now.Hour()*60 + now.Minute()
	if start > end {
		return minute >= start || minute < end
	}
	return minute >= start && minute < end
}
