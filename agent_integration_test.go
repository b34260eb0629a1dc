package zfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const testZPool = "snapctl-test-zpool"

// TestLocalAgentLifecycle exercises LocalAgent against a real, disposable
// zpool: create a snapshot, tag it, hold it, and destroy it. Requires sudo
// and a zfs-capable kernel, like the teacher's own zpool-backed tests.
func TestLocalAgentLifecycle(t *testing.T) {
	TestZPool(testZPool, func() {
		agent := NewLocalAgent()
		ctx := context.Background()

		longname := testZPool + "@init"
		require.NoError(t, agent.CreateSnapshot(ctx, longname, false, nil))

		snaps, err := agent.ListSnapshots(ctx, ListSnapshotsOptions{Dataset: testZPool})
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		require.Equal(t, "init", snaps[0].Shortname)
		require.Greater(t, snaps[0].GUID, uint64(0))

		require.NoError(t, agent.SetTags(ctx, longname, NewTagSet("daily", "kept")))

		got, err := agent.GetSnapshots(ctx, []string{longname})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.True(t, got[0].Tags.Equal(NewTagSet("daily", "kept")))

		const tag = "snapctl-test-hold"
		require.NoError(t, agent.Hold(ctx, []string{longname}, tag))

		has, err := agent.HasHold(ctx, longname, tag)
		require.NoError(t, err)
		require.True(t, has)

		err = agent.DestroySnapshots(ctx, testZPool, []string{"init"})
		require.ErrorIs(t, err, ErrHeldSnapshot)

		require.NoError(t, agent.Release(ctx, []string{longname}, tag))
		require.NoError(t, agent.DestroySnapshots(ctx, testZPool, []string{"init"}))

		snaps, err = agent.ListSnapshots(ctx, ListSnapshotsOptions{Dataset: testZPool})
		require.NoError(t, err)
		require.Len(t, snaps, 0)
	})
}

// TestLocalAgentRenameAndDataset checks RenameSnapshot and GetDataset/GetPoolFromDataset
// against the same disposable pool.
func TestLocalAgentRenameAndDataset(t *testing.T) {
	TestZPool(testZPool, func() {
		agent := NewLocalAgent()
		ctx := context.Background()

		require.NoError(t, agent.CreateSnapshot(ctx, testZPool+"@before", false, nil))
		require.NoError(t, agent.RenameSnapshot(ctx, testZPool+"@before", "after"))

		snaps, err := agent.ListSnapshots(ctx, ListSnapshotsOptions{Dataset: testZPool})
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		require.Equal(t, "after", snaps[0].Shortname)

		ds, err := agent.GetDataset(ctx, testZPool)
		require.NoError(t, err)
		require.Equal(t, testZPool, ds.Name)
		require.Greater(t, ds.GUID, uint64(0))

		pool, err := agent.GetPoolFromDataset(ctx, testZPool)
		require.NoError(t, err)
		require.Equal(t, testZPool, pool.Name)
		require.Greater(t, pool.GUID, uint64(0))

		require.NoError(t, agent.DestroySnapshots(ctx, testZPool, []string{"after"}))
	})
}
