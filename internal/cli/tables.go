package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/tables"
	"github.com/mehrguard/mehrguard/internal/tables/sqlite"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect and validate detection table manifests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a manifest would be accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadManifestFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version %d, %d brands, digest %s\n",
				snap.Version, snap.Brands.Len(), snap.Digest[:12])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [FILE]",
		Short: "Summarize a manifest (default: the bundled tables)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := tables.Default()
			if len(args) == 1 {
				var err error
				if snap, err = loadManifestFile(args[0]); err != nil {
					return err
				}
			}
			return printJSON(cmd, snap.Summary())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the bundled manifest, a starting point for custom tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(tables.DefaultManifestJSON())
			return err
		},
	})

	var (
		dbPath string
		limit  int
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "List manifests recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := loadLocalConfig(configPath(cmd))
				if err != nil {
					return err
				}
				dbPath = cfg.Tables.DBPath
			}
			if dbPath == "" {
				return fmt.Errorf("no database: pass --db or set tables.db_path")
			}
			db, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			records, err := db.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tAPPLIED\tSIZE\tDIGEST\tSOURCE")
			for _, r := range records {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
					r.Version, r.AppliedAt.Format("2006-01-02T15:04:05Z"), r.Size, r.Digest[:12], r.Source)
			}
			return tw.Flush()
		},
	}
	history.Flags().StringVar(&dbPath, "db", "", "Manifest database (default: tables.db_path)")
	history.Flags().IntVar(&limit, "limit", 20, "Rows to show")
	cmd.AddCommand(history)

	return cmd
}
