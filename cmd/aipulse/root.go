package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forest6511/aipulse/internal/config"
	"github.com/forest6511/aipulse/internal/logging"
	"github.com/forest6511/aipulse/pkg/audit"
	"github.com/forest6511/aipulse/pkg/crypto"
	"github.com/forest6511/aipulse/pkg/settings"
	"github.com/forest6511/aipulse/pkg/store"
	"github.com/forest6511/aipulse/pkg/vault"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
	app *appContext
)

// appContext holds the components opened for one command invocation.
type appContext struct {
	vault    *vault.Vault
	settings *settings.Service
	auditLog *audit.Logger
	closers  []io.Closer
}

func (a *appContext) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var rootCmd = &cobra.Command{
	Use:          "aipulse",
	Short:        "aipulse watches AI provider usage limits and alerts before you hit them",
	SilenceUsage: true,
	// PersistentPreRunE loads the config and opens the stores for every
	// subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		var err error
		app, err = openApp(cfg, log)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		return app.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $AIPULSE_HOME/config.yaml or ~/.aipulse/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file and builds the logger.
func loadConfig() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log, err = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return err
}

// openApp wires the stores, the field cipher, the audit log and the vault
// from cfg.
func openApp(cfg *config.Config, log *logrus.Logger) (*appContext, error) {
	a := &appContext{}

	credStore, settingsStore, err := openStores(cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	deriver := crypto.DeriverByName(cfg.KDF)
	if deriver == nil {
		a.Close()
		return nil, fmt.Errorf("unknown kdf %q", cfg.KDF)
	}
	key := deriver.DeriveKey(crypto.LocalMachineInputs())
	defer crypto.SecureWipe(key)

	cipher, err := crypto.NewFieldCipher(key)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []vault.Option{vault.WithLogger(log)}
	if cfg.AuditEnabled() {
		a.auditLog = audit.NewLogger(cfg.AuditDir())
		if err := a.auditLog.SetKey(key); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, vault.WithAuditor(a.auditLog, audit.SourceCLI))
	}

	a.vault = vault.New(credStore, cipher, opts...)
	a.settings = settings.NewService(settingsStore, log)
	return a, nil
}

func openStores(cfg *config.Config, a *appContext) (store.Store, store.Store, error) {
	if cfg.Store == config.StoreSQLite {
		creds, err := store.OpenSQLite(cfg.CredentialsPath(), "credentials")
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, creds)
		st, err := store.OpenSQLite(cfg.CredentialsPath(), "settings")
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, st)
		return creds, st, nil
	}

	creds, err := store.OpenFile(cfg.CredentialsPath())
	if err != nil {
		return nil, nil, err
	}
	st, err := store.OpenFile(cfg.SettingsPath())
	if err != nil {
		return nil, nil, err
	}
	return creds, st, nil
}
