package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	tailCount int
	tailJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect, export or clear the audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := openManager(nil)
		if err != nil {
			return err
		}
		defer closeManager(mgr, cmd.ErrOrStderr())

		entries := mgr.Trail().Entries()
		if tailCount > 0 && len(entries) > tailCount {
			entries = entries[:tailCount]
		}

		out := cmd.OutOrStdout()
		// Oldest first, like tail(1).
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
			}
			if tailJSON {
				line, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
				}
				fmt.Fprintln(out, string(line))
				continue
			}
			fmt.Fprintf(out, "%s  %-16s %s\n", e.Timestamp, e.Type, payload)
		}
		return nil
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the audit trail to the export directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := openManager(nil)
		if err != nil {
			return err
		}
		defer closeManager(mgr, cmd.ErrOrStderr())

		name, err := mgr.ExportAudit()
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(cfg.ExportDir, name))
		return nil
	},
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every audit entry and reset the chunk counter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := openManager(nil)
		if err != nil {
			return err
		}
		defer closeManager(mgr, cmd.ErrOrStderr())

		n := len(mgr.Trail().Entries())
		mgr.ClearAudit()
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", n)
		return nil
	},
}
