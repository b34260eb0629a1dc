package main

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
	"github.com/vansante/snapctl/policy"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "destroy snapshots outside the configured keep policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, err := datasetFlag(viper.GetString("dataset"))
		if err != nil {
			return err
		}

		keepPolicy, err := policyFromFlags(cmd)
		if err != nil {
			return err
		}
		tagGroups, err := tagGroupsFromFlags(cmd)
		if err != nil {
			return err
		}
		groupByDataset, err := groupByFromFlags(cmd)
		if err != nil {
			return err
		}

		agent := zfs.NewLocalAgent()
		snaps, err := agent.ListSnapshots(cmd.Context(), zfs.ListSnapshotsOptions{
			Dataset:   dataset,
			Recursive: viper.GetBool("recursive"),
		})
		if err != nil {
			return err
		}

		snaps = filterByTagGroups(snaps, tagGroups)
		groups := groupSnapshots(snaps, groupByDataset)

		dryRun := viper.GetBool("dry-run")
		now := pruneNow()

		for groupKey, groupSnaps := range groups {
			if len(groupSnaps) == 0 {
				continue
			}
			result := policy.Apply(groupSnaps, keepPolicy, now)
			if len(result.Keep) == 0 {
				return refusalf("prune: refusing to destroy every snapshot in group %q (%d snapshots, keep policy matched none)", groupKey, len(groupSnaps))
			}

			byDataset := make(map[string][]string)
			for _, snap := range result.Destroy {
				byDataset[snap.Dataset] = append(byDataset[snap.Dataset], snap.Shortname)
			}

			for ds, shortnames := range byDataset {
				log := logger.WithField("dataset", ds).WithField("count", len(shortnames))
				if dryRun {
					log.Info("dry-run: would destroy snapshots")
					continue
				}
				if err := agent.DestroySnapshots(cmd.Context(), ds, shortnames); err != nil {
					if errors.Is(err, zfs.ErrHeldSnapshot) {
						log.WithError(err).Error("destroy refused: one or more snapshots are held, skipping")
						continue
					}
					return err
				}
				log.Info("destroyed snapshots")
			}
		}
		return nil
	},
}

// pruneNow is split out so policy evaluation has a single, explicit "now" -
// the CLI layer is the one caller allowed to read the wall clock.
func pruneNow() time.Time {
	return time.Now()
}

func init() {
	pruneCmd.Flags().Int("keep-last", 0, "number of most-recent snapshots to keep, regardless of time bucket")
	pruneCmd.Flags().Int("keep-hourly", 0, "number of hourly buckets to keep")
	pruneCmd.Flags().Int("keep-daily", 0, "number of daily buckets to keep")
	pruneCmd.Flags().Int("keep-weekly", 0, "number of weekly buckets to keep")
	pruneCmd.Flags().Int("keep-monthly", 0, "number of monthly buckets to keep")
	pruneCmd.Flags().Int("keep-yearly", 0, "number of yearly buckets to keep")

	pruneCmd.Flags().String("keep-within", "", "keep one snapshot per distinct instant within this duration of now")
	pruneCmd.Flags().String("keep-within-hourly", "", "keep one snapshot per hour within this duration of now")
	pruneCmd.Flags().String("keep-within-daily", "", "keep one snapshot per day within this duration of now")
	pruneCmd.Flags().String("keep-within-weekly", "", "keep one snapshot per ISO week within this duration of now")
	pruneCmd.Flags().String("keep-within-monthly", "", "keep one snapshot per month within this duration of now")
	pruneCmd.Flags().String("keep-within-yearly", "", "keep one snapshot per year within this duration of now")

	pruneCmd.Flags().String("keep-name", "", "unconditionally keep snapshots whose shortname matches this regular expression")
	pruneCmd.Flags().StringSlice("keep-tag", nil, "unconditionally keep snapshots whose tags are a superset of this set (repeatable)")
	pruneCmd.Flags().StringSlice("tag", nil, "require snapshots to carry this comma-group-encoded tag set, e.g. a,b,c (repeatable, any group matching admits the snapshot)")
	pruneCmd.Flags().String("group-by", "dataset", "grouping for policy evaluation: dataset or (empty string for ungrouped)")
}

func policyFromFlags(cmd *cobra.Command) (policy.KeepPolicy, error) {
	f := cmd.Flags()

	var p policy.KeepPolicy
	p.Last, _ = f.GetInt("keep-last")
	p.Hourly, _ = f.GetInt("keep-hourly")
	p.Daily, _ = f.GetInt("keep-daily")
	p.Weekly, _ = f.GetInt("keep-weekly")
	p.Monthly, _ = f.GetInt("keep-monthly")
	p.Yearly, _ = f.GetInt("keep-yearly")

	durations := []struct {
		flag string
		dst  *time.Duration
	}{
		{"keep-within", &p.Within},
		{"keep-within-hourly", &p.WithinHourly},
		{"keep-within-daily", &p.WithinDaily},
		{"keep-within-weekly", &p.WithinWeekly},
		{"keep-within-monthly", &p.WithinMonthly},
		{"keep-within-yearly", &p.WithinYearly},
	}
	for _, d := range durations {
		raw, _ := f.GetString(d.flag)
		if raw == "" {
			continue
		}
		parsed, err := policy.ParseDuration(raw)
		if err != nil {
			return policy.KeepPolicy{}, invalidArgsf("--%s: %v", d.flag, err)
		}
		*d.dst = parsed
	}

	nameFlag, _ := f.GetString("keep-name")
	if nameFlag != "" {
		re, err := regexp.Compile(nameFlag)
		if err != nil {
			return policy.KeepPolicy{}, invalidArgsf("--keep-name: %v", err)
		}
		p.Name = re
	}

	keepTags, _ := f.GetStringSlice("keep-tag")
	if len(keepTags) > 0 {
		p.Tags = zfs.NewTagSet(keepTags...)
	}

	return p, nil
}

// tagGroupsFromFlags parses --tag values, each a comma-joined tag group;
// a snapshot passes the predicate if any group is a subset of its tags.
func tagGroupsFromFlags(cmd *cobra.Command) ([]zfs.TagSet, error) {
	raw, _ := cmd.Flags().GetStringSlice("tag")
	groups := make([]zfs.TagSet, 0, len(raw))
	for _, g := range raw {
		parts := strings.Split(g, ",")
		groups = append(groups, zfs.NewTagSet(parts...))
	}
	return groups, nil
}

func filterByTagGroups(snaps []zfs.Snapshot, groups []zfs.TagSet) []zfs.Snapshot {
	if len(groups) == 0 {
		return snaps
	}
	out := make([]zfs.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		for _, group := range groups {
			if snap.Tags.Superset(group) {
				out = append(out, snap)
				break
			}
		}
	}
	return out
}

func groupByFromFlags(cmd *cobra.Command) (bool, error) {
	raw, _ := cmd.Flags().GetString("group-by")
	switch raw {
	case "dataset":
		return true, nil
	case "":
		return false, nil
	default:
		return false, invalidArgsf("unknown --group-by %q: expected \"dataset\" or \"\"", raw)
	}
}

const ungroupedKey = ""

func groupSnapshots(snaps []zfs.Snapshot, byDataset bool) map[string][]zfs.Snapshot {
	groups := make(map[string][]zfs.Snapshot)
	for _, snap := range snaps {
		key := ungroupedKey
		if byDataset {
			key = snap.Dataset
		}
		groups[key] = append(groups[key], snap)
	}
	return groups
}
