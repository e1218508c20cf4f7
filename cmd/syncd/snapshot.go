package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pipeboard/contact-sync/internal/data"
)

func newSnapshotCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "snapshot [line-id]",
		Short: "Show the locally cached contact snapshots",
		Long: `Without arguments, list the lines that have a snapshot. With a line id,
print the cached contacts of that line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if dbPath == "" {
				dbPath = cfg.Snapshot.DBPath
			}

			snapshots, err := data.NewSnapshotRepo(dbPath)
			if err != nil {
				return err
			}
			defer snapshots.Close()

			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				lines, err := snapshots.Lines(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "LINE\tCONTACTS\tSAVED AT")
				for _, l := range lines {
					fmt.Fprintf(w, "%s\t%d\t%s\n", l.LineID, l.Contacts, l.SavedAt)
				}
				return nil
			}

			contacts, err := snapshots.Load(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tNAME\tPHONE\tSTAGE\tSTATUS\tLAST ACTIVITY")
			for _, c := range contacts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.DisplayName, c.Phone, c.FunnelStage, c.Status, c.LastActivityAt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "snapshot database path (default from SNAPSHOT_DB_PATH)")
	return cmd
}
