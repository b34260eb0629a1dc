package tag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vansante/snapctl"
)

func TestFromName(t *testing.T) {
	tags, ok := FromName("2024-01-01_daily_weekly")
	require.True(t, ok)
	require.Equal(t, zfs.NewTagSet("daily", "weekly"), tags)

	_, ok = FromName("2024-01-01")
	require.False(t, ok)
}

func TestFromProperty(t *testing.T) {
	tags, ok := FromProperty("daily,weekly")
	require.True(t, ok)
	require.Equal(t, zfs.NewTagSet("daily", "weekly"), tags)

	_, ok = FromProperty("-")
	require.False(t, ok)

	tags, ok = FromProperty("")
	require.True(t, ok)
	require.Empty(t, tags)
}

func TestApply_Set(t *testing.T) {
	snap := zfs.Snapshot{Shortname: "x", Tags: zfs.NewTagSet("old")}
	result := Apply(snap, Rule{Source: SourceName, Op: OpSet}, "")
	require.Empty(t, result)

	snap.Shortname = "x_new"
	result = Apply(snap, Rule{Source: SourceName, Op: OpSet}, "")
	require.Equal(t, zfs.NewTagSet("new"), result)
}

func TestApply_AddPreservesExistingWhenSourceEmpty(t *testing.T) {
	snap := zfs.Snapshot{Shortname: "x", Tags: zfs.NewTagSet("old")}
	result := Apply(snap, Rule{Source: SourceName, Op: OpAdd}, "")
	require.Equal(t, zfs.NewTagSet("old"), result)
}

func TestApply_Remove(t *testing.T) {
	snap := zfs.Snapshot{Shortname: "x", Tags: zfs.NewTagSet("old", "daily")}
	result := Apply(snap, Rule{Source: SourceProperty, Property: "p", Op: OpRemove}, "daily")
	require.Equal(t, zfs.NewTagSet("old"), result)
}
