package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/aipulse/pkg/settings"
)

// Settings set flags
var (
	settingsThresholds   string
	settingsDND          bool
	settingsDNDStart     string
	settingsDNDEnd       string
	settingsNotify       bool
	settingsNotifyReset  bool
	settingsNotifyExpiry bool
	settingsInterval     int
)

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	f := settingsSetCmd.Flags()
	f.StringVar(&settingsThresholds, "thresholds", "", "Comma-separated alert thresholds in percent (e.g., 50,75,90,100)")
	f.BoolVar(&settingsNotify, "notifications", true, "Enable notifications")
	f.BoolVar(&settingsDND, "dnd", false, "Enable Do Not Disturb")
	f.StringVar(&settingsDNDStart, "dnd-start", "", "Do Not Disturb start time (HH:MM)")
	f.StringVar(&settingsDNDEnd, "dnd-end", "", "Do Not Disturb end time (HH:MM)")
	f.BoolVar(&settingsNotifyReset, "notify-reset", true, "Notify when a limit resets or is about to")
	f.BoolVar(&settingsNotifyExpiry, "notify-expiry", true, "Notify when the session may be expiring")
	f.IntVar(&settingsInterval, "interval", 0, "Refresh interval in seconds")
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change notification settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app.settings.Get()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings; only the given flags are modified",
	RunE: func(cmd *cobra.Command, args []string) error {
		var thresholds []int
		if cmd.Flags().Changed("thresholds") {
			var err error
			if thresholds, err = parseThresholds(settingsThresholds); err != nil {
				return err
			}
		}

		changed := cmd.Flags().Changed
		saved, err := app.settings.Update(func(s *settings.AppSettings) {
			n := &s.Notifications
			if changed("thresholds") {
				n.Thresholds = thresholds
			}
			if changed("notifications") {
				n.Enabled = settingsNotify
			}
			if changed("dnd") {
				n.DNDEnabled = settingsDND
			}
			if changed("dnd-start") {
				n.DNDStartTime = settingsDNDStart
			}
			if changed("dnd-end") {
				n.DNDEndTime = settingsDNDEnd
			}
			if changed("notify-reset") {
				n.NotifyOnReset = settingsNotifyReset
			}
			if changed("notify-expiry") {
				n.NotifyOnExpiry = settingsNotifyExpiry
			}
			if changed("interval") {
				s.RefreshInterval = settingsInterval
			}
		})
		if err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}

		fmt.Printf("Settings saved (thresholds %v, refresh every %ds)\n", saved.Notifications.Thresholds, saved.RefreshInterval)
		return nil
	},
}

func parseThresholds(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "%"))
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
