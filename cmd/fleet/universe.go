package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Manage universes",
}

var universeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Register an existing universe from a YAML definition",
	Long: `Register an existing universe from a YAML definition.

Examples:
  fleet universe import -f universe.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		u, err := loadUniverse(filename)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		created, err := c.ImportUniverse(cmd.Context(), u)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Universe %s (%s) imported with %d nodes\n", created.Name, created.UUID, len(created.Nodes))
		return nil
	},
}

var universeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List universes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		universes, err := c.ListUniverses(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tNAME\tCLUSTERS\tNODES\tUPDATING")
		for _, u := range universes {
			updating := "-"
			if u.UpdateInProgress {
				updating = u.UpdatingTaskUUID
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", u.UUID, u.Name, len(u.Clusters), len(u.Nodes), updating)
		}
		return w.Flush()
	},
}

var universeGetCmd = &cobra.Command{
	Use:   "get UUID",
	Short: "Show a universe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		u, err := c.GetUniverse(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printYAML(u)
	},
}

func init() {
	universeImportCmd.Flags().StringP("file", "f", "", "YAML universe definition (required)")
	_ = universeImportCmd.MarkFlagRequired("file")

	universeCmd.AddCommand(universeImportCmd, universeListCmd, universeGetCmd)
	rootCmd.AddCommand(universeCmd)
}
