package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the credential store to the current format",
	Long: `Upgrades the credential store to the current format. Every command does this
on first use; migrate only makes it explicit and reports the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := app.vault.Version()
		if err != nil {
			return err
		}
		after, err := app.vault.Migrate()
		if err != nil {
			return err
		}

		if before == after {
			fmt.Printf("Credential store already at version %d\n", after)
			return nil
		}
		fmt.Printf("Credential store migrated from version %d to %d\n", before, after)
		return nil
	},
}
