package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/aipulse/pkg/provider"
	"github.com/forest6511/aipulse/pkg/vault"
)

// Account flags
var (
	accountProvider        string
	accountName            string
	accountOrgID           string
	accountSessionKeyStdin bool
	accountShowSecrets     bool
)

func init() {
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	accountCmd.AddCommand(accountTestCmd)

	accountListCmd.Flags().StringVar(&accountProvider, "provider", vault.ProviderClaude, "Provider to list")

	accountAddCmd.Flags().StringVar(&accountProvider, "provider", vault.ProviderClaude, "Provider of the account")
	accountAddCmd.Flags().StringVar(&accountName, "name", "", "Display name (default \"Default\")")
	accountAddCmd.Flags().StringVar(&accountOrgID, "org-id", "", "Organization id")
	accountAddCmd.Flags().BoolVar(&accountSessionKeyStdin, "session-key-stdin", false, "Read the session key from standard input")

	accountShowCmd.Flags().BoolVar(&accountShowSecrets, "show-secrets", false, "Print credentials in clear text")
}

// newRegistry returns every provider this build knows about.
func newRegistry() *provider.Registry {
	return provider.NewRegistry(provider.NewClaude(provider.WithLogger(log)))
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage provider accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts of a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := app.vault.ListAccounts(accountProvider)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tCREATED")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Provider, a.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account",
	Long: `Adds an account. The session key is read without echo from the terminal,
or from standard input with --session-key-stdin:

  aipulse account add --name Work --org-id 1234-abcd
  echo "$SESSION_KEY" | aipulse account add --org-id 1234-abcd --session-key-stdin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Read the session key
		key, err := readSessionKey(accountSessionKeyStdin)
		if err != nil {
			return err
		}

		creds := vault.Credentials{OrgID: strings.TrimSpace(accountOrgID), SessionKey: key}

		// 2. Validate
		if !app.vault.Validate(accountProvider, creds) {
			return fmt.Errorf("%w: %s requires --org-id and a session key", vault.ErrInvalidCredentials, accountProvider)
		}

		// 3. Save
		saved, err := app.vault.SaveAccount(vault.Account{
			Name:        accountName,
			Provider:    accountProvider,
			Credentials: creds,
		})
		if err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}

		fmt.Printf("Account '%s' saved (%s)\n", saved.Name, saved.ID)
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.vault.GetAccount(args[0])
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}
		if a == nil {
			return fmt.Errorf("account %q not found", args[0])
		}

		fmt.Printf("ID:          %s\n", a.ID)
		fmt.Printf("Name:        %s\n", a.Name)
		fmt.Printf("Provider:    %s\n", a.Provider)
		fmt.Printf("Created:     %s\n", a.CreatedAt.Local().Format(time.RFC3339))
		fmt.Printf("Org ID:      %s\n", reveal(a.Credentials.OrgID, accountShowSecrets))
		fmt.Printf("Session key: %s\n", reveal(a.Credentials.SessionKey, accountShowSecrets))
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.vault.DeleteAccount(args[0]); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Printf("Account '%s' deleted\n", args[0])
		return nil
	},
}

var accountTestCmd = &cobra.Command{
	Use:   "test [id]",
	Short: "Check that an account's credentials can fetch usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.vault.GetAccount(args[0])
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}
		if a == nil {
			return fmt.Errorf("account %q not found", args[0])
		}

		p, err := newRegistry().Get(a.Provider)
		if err != nil {
			return err
		}
		if !p.ValidateCredentials(a.Credentials) {
			return fmt.Errorf("%w: account %s is incomplete", provider.ErrInvalidCredentials, a.ID)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		snap, err := p.FetchUsage(ctx, a.Credentials)
		if err != nil {
			if provider.IsSessionError(err) {
				return fmt.Errorf("session rejected, refresh the session key: %w", err)
			}
			return err
		}

		fmt.Printf("✓ %s credentials work (%d limits)\n", p.Name(), len(snap.Limits))
		return nil
	},
}

// readSessionKey reads a secret without echo when stdin is a terminal.
func readSessionKey(fromStdin bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if fromStdin || !term.IsTerminal(fd) {
		return readLine(os.Stdin)
	}

	fmt.Print("Session key: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read session key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// reveal masks all but the last four characters unless show is set.
func reveal(s string, show bool) string {
	if show || s == "" {
		return s
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}
