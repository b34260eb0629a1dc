package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
)

var createCmd = &cobra.Command{
	Use:   "create [shortname]",
	Short: "create a snapshot, optionally tagged",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, err := datasetFlag(viper.GetString("dataset"))
		if err != nil {
			return err
		}

		shortname := zfs.RandomShortname()
		if len(args) == 1 && args[0] != "" {
			shortname = args[0]
		}

		tagList, _ := cmd.Flags().GetStringSlice("tag")
		tags := zfs.NewTagSet(tagList...)
		recursive := viper.GetBool("recursive")
		longname := dataset + "@" + shortname

		log := logger.WithField("dataset", dataset).WithField("shortname", shortname)

		if viper.GetBool("dry-run") {
			log.Info("dry-run: would create snapshot")
			return nil
		}

		agent := zfs.NewLocalAgent()
		if err := agent.CreateSnapshot(cmd.Context(), longname, recursive, nil); err != nil {
			return err
		}
		if len(tags) > 0 {
			if err := agent.SetTags(cmd.Context(), longname, tags); err != nil {
				return err
			}
		}

		log.Info("created snapshot")
		return nil
	},
}

func init() {
	createCmd.Flags().StringSlice("tag", nil, "tag to apply to the new snapshot (repeatable)")
}
