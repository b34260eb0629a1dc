package replicate

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vansante/snapctl"
)

// fakeAgent is an in-memory zfs.Agent double used to exercise hold-management
// logic without a real filesystem.
type fakeAgent struct {
	snapshots []zfs.Snapshot
	holds     []zfs.Hold
	datasets  map[string]zfs.DatasetRef
}

func (f *fakeAgent) ListSnapshots(_ context.Context, opts zfs.ListSnapshotsOptions) ([]zfs.Snapshot, error) {
	var out []zfs.Snapshot
	for _, s := range f.snapshots {
		if opts.Dataset == "" || s.Dataset == opts.Dataset {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAgent) GetSnapshots(_ context.Context, longnames []string) ([]zfs.Snapshot, error) {
	var out []zfs.Snapshot
	for _, ln := range longnames {
		for _, s := range f.snapshots {
			if s.Longname() == ln {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeAgent) GetDataset(_ context.Context, name string) (zfs.DatasetRef, error) {
	return f.datasets[name], nil
}

func (f *fakeAgent) GetPoolFromDataset(_ context.Context, dataset string) (zfs.Pool, error) {
	return zfs.Pool{Name: zfs.PoolName(dataset)}, nil
}

func (f *fakeAgent) CreateSnapshot(context.Context, string, bool, map[string]string) error { return nil }
func (f *fakeAgent) RenameSnapshot(context.Context, string, string) error                  { return nil }
func (f *fakeAgent) DestroySnapshots(context.Context, string, []string) error              { return nil }
func (f *fakeAgent) SetTags(context.Context, string, zfs.TagSet) error                     { return nil }

func (f *fakeAgent) Hold(_ context.Context, longnames []string, tag string) error {
	for _, ln := range longnames {
		f.holds = append(f.holds, zfs.Hold{SnapshotLongname: ln, Tag: tag})
	}
	return nil
}

func (f *fakeAgent) Release(_ context.Context, longnames []string, tag string) error {
	remove := make(map[string]bool, len(longnames))
	for _, ln := range longnames {
		remove[ln] = true
	}
	var kept []zfs.Hold
	for _, h := range f.holds {
		if h.Tag == tag && remove[h.SnapshotLongname] {
			continue
		}
		kept = append(kept, h)
	}
	f.holds = kept
	return nil
}

func (f *fakeAgent) GetHolds(_ context.Context, longnames []string) ([]zfs.Hold, error) {
	want := make(map[string]bool, len(longnames))
	for _, ln := range longnames {
		want[ln] = true
	}
	var out []zfs.Hold
	for _, h := range f.holds {
		if want[h.SnapshotLongname] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeAgent) HasHold(ctx context.Context, longname, tag string) (bool, error) {
	holds, err := f.GetHolds(ctx, []string{longname})
	if err != nil {
		return false, err
	}
	for _, h := range holds {
		if h.Tag == tag {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAgent) SendSnapshotAsync(context.Context, string, string) (zfs.SendHandle, error) {
	return nil, nil
}

func (f *fakeAgent) ReceiveSnapshotAsync(context.Context, string, io.Reader, map[string]string) (zfs.ReceiveHandle, error) {
	return nil, nil
}

var _ zfs.Agent = (*fakeAgent)(nil)

func TestCleanupStaleHolds_ReleasesAllButNewest(t *testing.T) {
	snaps := []zfs.Snapshot{
		snapWithGUID(3, 2).WithShortname("s3"), // newest first
		snapWithGUID(2, 1).WithShortname("s2"),
		snapWithGUID(1, 0).WithShortname("s1"),
	}
	agent := &fakeAgent{
		snapshots: snaps,
		holds: []zfs.Hold{
			{SnapshotLongname: snaps[0].Longname(), Tag: "sendbase-1"},
			{SnapshotLongname: snaps[1].Longname(), Tag: "sendbase-1"},
			{SnapshotLongname: snaps[2].Longname(), Tag: "sendbase-1"},
		},
	}

	err := cleanupStaleHolds(context.Background(), agent, snaps, "sendbase-1")
	require.NoError(t, err)

	require.Len(t, agent.holds, 1)
	require.Equal(t, snaps[0].Longname(), agent.holds[0].SnapshotLongname)
}

func TestCleanupStaleHolds_NoHoldsIsNoop(t *testing.T) {
	snaps := []zfs.Snapshot{snapWithGUID(1, 0)}
	agent := &fakeAgent{snapshots: snaps}

	err := cleanupStaleHolds(context.Background(), agent, snaps, "sendbase-1")
	require.NoError(t, err)
	require.Empty(t, agent.holds)
}

func TestHoldTags_DeterministicNaming(t *testing.T) {
	tagSrc, tagDst := holdTags(42, 99)
	require.Equal(t, "sendbase-99", tagSrc)
	require.Equal(t, "recvbase-42", tagDst)
}
