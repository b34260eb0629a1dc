package main

import (
	"context"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
	"github.com/vansante/snapctl/tag"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "apply a SET/ADD/REMOVE tag rule to every snapshot under a dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, err := datasetFlag(viper.GetString("dataset"))
		if err != nil {
			return err
		}

		op, err := parseOp(cmd)
		if err != nil {
			return err
		}
		source, property, err := parseSource(cmd)
		if err != nil {
			return err
		}
		rule := tag.Rule{Source: source, Property: property, Op: op}

		agent := zfs.NewLocalAgent()
		snaps, err := agent.ListSnapshots(cmd.Context(), zfs.ListSnapshotsOptions{
			Dataset:   dataset,
			Recursive: viper.GetBool("recursive"),
		})
		if err != nil {
			return err
		}

		dryRun := viper.GetBool("dry-run")
		for _, snap := range snaps {
			propValues := map[string]string{}
			if source == tag.SourceProperty {
				propValues[property], err = readProperty(cmd.Context(), snap.Longname(), property)
				if err != nil {
					return err
				}
			}

			if dryRun {
				newTags := tag.Apply(snap, rule, propValues[property])
				logger.WithField("snapshot", snap.Longname()).WithField("tags", newTags.Encode()).
					Info("dry-run: would update tags")
				continue
			}

			newTags, err := tag.ApplyAll(cmd.Context(), agent, snap, []tag.Rule{rule}, propValues)
			if err != nil {
				return err
			}
			if newTags.Equal(snap.Tags) {
				continue
			}
			logger.WithField("snapshot", snap.Longname()).WithField("tags", newTags.Encode()).Info("updated tags")
		}
		return nil
	},
}

func init() {
	tagCmd.Flags().String("op", "set", "tag operation: set, add or remove")
	tagCmd.Flags().String("source", "name", "tag source: name or property")
	tagCmd.Flags().String("property", "", "user property to read tags from (source=property)")
}

func parseOp(cmd *cobra.Command) (tag.Op, error) {
	raw, _ := cmd.Flags().GetString("op")
	switch strings.ToLower(raw) {
	case "set":
		return tag.OpSet, nil
	case "add":
		return tag.OpAdd, nil
	case "remove":
		return tag.OpRemove, nil
	default:
		return "", invalidArgsf("unknown --op %q: expected set, add or remove", raw)
	}
}

func parseSource(cmd *cobra.Command) (tag.Source, string, error) {
	raw, _ := cmd.Flags().GetString("source")
	property, _ := cmd.Flags().GetString("property")
	switch strings.ToLower(raw) {
	case "name":
		return tag.SourceName, "", nil
	case "property":
		if property == "" {
			return "", "", invalidArgsf("--source=property requires --property NAME")
		}
		return tag.SourceProperty, property, nil
	default:
		return "", "", invalidArgsf("unknown --source %q: expected name or property", raw)
	}
}

// readProperty reads a single named property's raw value for longname,
// bypassing the Agent facade since arbitrary property reads aren't part of
// its fixed method set.
func readProperty(ctx context.Context, longname, property string) (string, error) {
	out, err := exec.CommandContext(ctx, zfs.Binary, "get", "-Hp", "-o", "value", property, longname).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
