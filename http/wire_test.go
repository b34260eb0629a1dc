package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/snapctl"
)

func TestWireRoundTrip(t *testing.T) {
	snap := zfs.Snapshot{
		Dataset:   "tank/data",
		Shortname: "2024-01-01_daily",
		Timestamp: time.Unix(1700000000, 0),
		GUID:      42,
		Holds:     1,
		Tags:      zfs.NewTagSet("daily", "weekly"),
	}

	round := fromWire(toWire(snap))
	require.Equal(t, snap.Dataset, round.Dataset)
	require.Equal(t, snap.Shortname, round.Shortname)
	require.True(t, snap.Timestamp.Equal(round.Timestamp))
	require.Equal(t, snap.GUID, round.GUID)
	require.Equal(t, snap.Holds, round.Holds)
	require.True(t, snap.Tags.Equal(round.Tags))
}

func TestWireRoundTrip_NilTags(t *testing.T) {
	snap := zfs.Snapshot{Dataset: "tank/data", Shortname: "x"}
	round := fromWire(toWire(snap))
	require.Nil(t, round.Tags)
}

func TestHoldWireRoundTrip(t *testing.T) {
	holds := []zfs.Hold{
		{SnapshotLongname: "tank/data@a", Tag: "keep"},
		{SnapshotLongname: "tank/data@b", Tag: "keep"},
	}
	round := fromHoldWireSlice(toHoldWireSlice(holds))
	require.Equal(t, holds, round)
}
