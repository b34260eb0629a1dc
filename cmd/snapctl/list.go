package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list snapshots under a dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset := viper.GetString("dataset")

		agent := zfs.NewLocalAgent()
		snaps, err := agent.ListSnapshots(cmd.Context(), zfs.ListSnapshotsOptions{
			Dataset:   dataset,
			Recursive: viper.GetBool("recursive"),
			SortBy:    "creation",
			Reverse:   true,
		})
		if err != nil {
			return err
		}

		return renderSnapshotTable(os.Stdout, snaps)
	},
}

// renderSnapshotTable prints the fixed dataset/shortname/tags/timestamp/holds
// column layout, right-padded to the max width per column.
func renderSnapshotTable(w *os.File, snaps []zfs.Snapshot) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSHORTNAME\tTAGS\tTIMESTAMP\tHOLDS")
	for _, snap := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			snap.Dataset,
			snap.Shortname,
			snap.Tags.Encode(),
			snap.Timestamp.Format("2006-01-02T15:04:05"),
			snap.Holds,
		)
	}
	return tw.Flush()
}
