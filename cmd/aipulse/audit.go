package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var auditLimit int

var errAuditDisabled = errors.New("audit log is disabled in the config")

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of events to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the account audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if app.auditLog == nil {
			return errAuditDisabled
		}
		events, err := app.auditLog.ListEvents(auditLimit)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tOPERATION\tSOURCE\tPROVIDER\tRESULT")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Operation, e.Source, e.Provider, e.Result)
		}
		return w.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if app.auditLog == nil {
			return errAuditDisabled
		}

		fmt.Println("Verifying audit log integrity...")
		result, err := app.auditLog.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if !result.Valid {
			fmt.Printf("✗ Audit log verification FAILED (%d records)\n", result.Records)
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return fmt.Errorf("audit log integrity check failed")
		}
		fmt.Printf("✓ Audit log verified: %d records, chain intact\n", result.Records)

		out, _ := json.Marshal(result)
		fmt.Printf("\nJSON: %s\n", out)
		return nil
	},
}
