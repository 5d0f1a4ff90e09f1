package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/aipulse/internal/notifier"
	"github.com/forest6511/aipulse/pkg/notify"
	"github.com/forest6511/aipulse/pkg/provider"
	"github.com/forest6511/aipulse/pkg/vault"
)

var usageAccount string

func init() {
	usageCmd.Flags().StringVar(&usageAccount, "account", "", "Only fetch this account id")
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Fetch current usage once and print any alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.settings.Get()
		if err != nil {
			return err
		}
		registry := newRegistry()
		engine := notify.NewEngine(notify.NewTracker(), notifier.NewWriter(os.Stdout), notify.WithLogger(log))

		accounts, err := usageAccounts(registry)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found, add one with 'aipulse account add'")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tLIMIT\tUSAGE\tRESETS")
		var failed int
		for _, a := range accounts {
			p, err := registry.Get(a.Provider)
			if err != nil {
				return err
			}
			if !p.ValidateCredentials(a.Credentials) {
				failed++
				fmt.Fprintf(w, "%s\t-\terror\t%v\n", a.Name, provider.ErrInvalidCredentials)
				continue
			}
			snap, err := p.FetchUsage(ctx, a.Credentials)
			if err != nil {
				failed++
				fmt.Fprintf(w, "%s\t-\terror\t%v\n", a.Name, err)
				if provider.IsSessionError(err) {
					engine.SendExpiryWarning(st.Notifications, p.Name())
				}
				continue
			}
			for _, l := range snap.Limits {
				fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\n", a.Name, l.Label, l.Percent(), formatReset(l.ResetsAt))
			}
			engine.ProcessUsage(st.Notifications, snap, nil)
			for _, l := range snap.Limits {
				engine.CheckUpcomingReset(st.Notifications, l)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d accounts failed", failed, len(accounts))
		}
		return nil
	},
}

func usageAccounts(registry *provider.Registry) ([]vault.Account, error) {
	if usageAccount != "" {
		a, err := app.vault.GetAccount(usageAccount)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("account %q not found", usageAccount)
		}
		return []vault.Account{*a}, nil
	}

	var out []vault.Account
	for _, id := range registry.IDs() {
		accounts, err := app.vault.ListAccounts(id)
		if err != nil {
			return nil, err
		}
		out = append(out, accounts...)
	}
	return out, nil
}

func formatReset(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Until(t).Round(time.Minute)
	if d <= 0 {
		return "now"
	}
	return fmt.Sprintf("in %s (%s)", d, t.Local().Format("Mon 15:04"))
}
