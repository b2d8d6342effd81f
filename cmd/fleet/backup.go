package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/fleet/pkg/api"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up keyspaces of a universe",
	Long: `Back up keyspaces of a universe. Each keyspace is written to its own
directory under the location, using at most --parallelism servers at once
(configured on the server).

Examples:
  fleet backup --universe 7f3c... --keyspace orders --keyspace users --location s3://backups/nightly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, false)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore keyspaces of a universe from a backup location",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{backupCmd, restoreCmd} {
		cmd.Flags().String("universe", "", "Universe UUID (required)")
		cmd.Flags().StringSlice("keyspace", nil, "Keyspace to process (repeatable, required)")
		cmd.Flags().String("location", "", "Backup location, e.g. s3://bucket/path (required)")
		_ = cmd.MarkFlagRequired("universe")
		_ = cmd.MarkFlagRequired("keyspace")
		_ = cmd.MarkFlagRequired("location")
	}
	rootCmd.AddCommand(backupCmd, restoreCmd)
}

func runBackup(cmd *cobra.Command, restore bool) error {
	universeID, _ := cmd.Flags().GetString("universe")
	keyspaces, _ := cmd.Flags().GetStringSlice("keyspace")
	location, _ := cmd.Flags().GetString("location")

	c, err := newClient()
	if err != nil {
		return err
	}
	req := &api.BackupRequest{Keyspaces: keyspaces, Location: location}

	run := c.Backup
	if restore {
		run = c.Restore
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	results, err := run(ctx, universeID, req)

	if len(results) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEYSPACE\tSERVER\tLOCATION\tDURATION\tRESULT")
		for _, res := range results {
			result := "ok"
			if res.Error != "" {
				result = res.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", res.Keyspace, res.Address, res.Location, res.Duration, result)
		}
		_ = w.Flush()
	}
	return err
}
