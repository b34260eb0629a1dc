package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	zfs "github.com/vansante/snapctl"
)

// memAgent is an in-memory zfs.Agent double, in the style of the replication
// package's fakeAgent, sized for exercising the HTTP transport rather than
// replication logic.
type memAgent struct {
	snapshots     []zfs.Snapshot
	holds         []zfs.Hold
	sent          []byte
	received      []byte
	heldDataset   string
	heldShortname string
}

func (m *memAgent) ListSnapshots(_ context.Context, opts zfs.ListSnapshotsOptions) ([]zfs.Snapshot, error) {
	var out []zfs.Snapshot
	for _, s := range m.snapshots {
		if opts.Dataset == "" || s.Dataset == opts.Dataset {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memAgent) GetSnapshots(_ context.Context, longnames []string) ([]zfs.Snapshot, error) {
	want := make(map[string]bool, len(longnames))
	for _, ln := range longnames {
		want[ln] = true
	}
	var out []zfs.Snapshot
	for _, s := range m.snapshots {
		if want[s.Longname()] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memAgent) GetDataset(_ context.Context, name string) (zfs.DatasetRef, error) {
	return zfs.DatasetRef{Name: name, GUID: 7}, nil
}

func (m *memAgent) GetPoolFromDataset(_ context.Context, dataset string) (zfs.Pool, error) {
	return zfs.Pool{Name: zfs.PoolName(dataset), GUID: 9}, nil
}

func (m *memAgent) CreateSnapshot(_ context.Context, longname string, _ bool, _ map[string]string) error {
	dataset, shortname, _ := strings.Cut(longname, "@")
	m.snapshots = append(m.snapshots, zfs.Snapshot{Dataset: dataset, Shortname: shortname})
	return nil
}

func (m *memAgent) RenameSnapshot(context.Context, string, string) error { return nil }

func (m *memAgent) DestroySnapshots(_ context.Context, dataset string, shortnames []string) error {
	remove := make(map[string]bool, len(shortnames))
	for _, s := range shortnames {
		remove[s] = true
	}
	var kept []zfs.Snapshot
	for _, s := range m.snapshots {
		if s.Dataset == dataset && remove[s.Shortname] {
			if m.heldDataset == dataset && m.heldShortname == s.Shortname {
				return zfs.ErrHeldSnapshot
			}
			continue
		}
		kept = append(kept, s)
	}
	m.snapshots = kept
	return nil
}

func (m *memAgent) SetTags(_ context.Context, longname string, tags zfs.TagSet) error {
	for i, s := range m.snapshots {
		if s.Longname() == longname {
			m.snapshots[i].Tags = tags
		}
	}
	return nil
}

func (m *memAgent) Hold(_ context.Context, longnames []string, tag string) error {
	for _, ln := range longnames {
		m.holds = append(m.holds, zfs.Hold{SnapshotLongname: ln, Tag: tag})
	}
	return nil
}

func (m *memAgent) Release(context.Context, []string, string) error { return nil }

func (m *memAgent) GetHolds(_ context.Context, longnames []string) ([]zfs.Hold, error) {
	want := make(map[string]bool, len(longnames))
	for _, ln := range longnames {
		want[ln] = true
	}
	var out []zfs.Hold
	for _, h := range m.holds {
		if want[h.SnapshotLongname] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memAgent) HasHold(ctx context.Context, longname, tag string) (bool, error) {
	holds, err := m.GetHolds(ctx, []string{longname})
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

func (m *memAgent) SendSnapshotAsync(context.Context, string, string) (zfs.SendHandle, error) {
	return &memHandle{r: bytes.NewReader(m.sent)}, nil
}

func (m *memAgent) ReceiveSnapshotAsync(_ context.Context, _ string, stdin io.Reader, _ map[string]string) (zfs.ReceiveHandle, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	m.received = data
	return &memHandle{}, nil
}

var _ zfs.Agent = (*memAgent)(nil)

// memHandle is an already-finished ProcessHandle, standing in for a real
// subprocess in tests that only care about the bytes that moved.
type memHandle struct {
	r io.Reader
}

func (h *memHandle) Stdout() io.Reader { return h.r }
func (h *memHandle) Poll() (int, bool) { return 0, true }
func (h *memHandle) Terminate()        {}
func (h *memHandle) Wait() int         { return 0 }

func newTestServer(t *testing.T, agent *memAgent, cfg Config) (*httptest.Server, *HTTPAgent) {
	t.Helper()
	srv := NewServer(context.Background(), cfg, agent, zfs.NoopLogger{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token := ""
	if len(cfg.AuthenticationTokens) > 0 {
		token = cfg.AuthenticationTokens[0]
	}
	return ts, NewHTTPAgent(ts.URL, token)
}

func TestHTTPAgent_ListAndGetSnapshots(t *testing.T) {
	agent := &memAgent{snapshots: []zfs.Snapshot{
		{Dataset: "tank/data", Shortname: "a", Tags: zfs.NewTagSet("daily")},
		{Dataset: "tank/data", Shortname: "b"},
		{Dataset: "tank/other", Shortname: "c"},
	}}
	_, client := newTestServer(t, agent, Config{})

	snaps, err := client.ListSnapshots(context.Background(), zfs.ListSnapshotsOptions{Dataset: "tank/data"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	fetched, err := client.GetSnapshots(context.Background(), []string{"tank/data@a"})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	require.True(t, fetched[0].Tags.Equal(zfs.NewTagSet("daily")))
}

func TestHTTPAgent_HoldsRoundTrip(t *testing.T) {
	agent := &memAgent{}
	_, client := newTestServer(t, agent, Config{})

	err := client.Hold(context.Background(), []string{"tank/data@a"}, "keep")
	require.NoError(t, err)

	has, err := client.HasHold(context.Background(), "tank/data@a", "keep")
	require.NoError(t, err)
	require.True(t, has)

	holds, err := client.GetHolds(context.Background(), []string{"tank/data@a"})
	require.NoError(t, err)
	require.Len(t, holds, 1)
}

func TestHTTPAgent_SendReceiveStream(t *testing.T) {
	payload := []byte("a fake zfs send stream")
	agent := &memAgent{sent: payload}
	_, client := newTestServer(t, agent, Config{})

	handle, err := client.SendSnapshotAsync(context.Background(), "tank/data@a", "")
	require.NoError(t, err)
	received, err := io.ReadAll(handle.Stdout())
	require.NoError(t, err)
	require.Equal(t, 0, handle.Wait())
	require.Equal(t, payload, received)

	recvHandle, err := client.ReceiveSnapshotAsync(context.Background(), "tank/data", bytes.NewReader(payload), nil)
	require.NoError(t, err)
	require.Equal(t, 0, recvHandle.Wait())
	require.Equal(t, payload, agent.received)
}

func TestHTTPAgent_AuthenticationRequired(t *testing.T) {
	agent := &memAgent{}
	_, client := newTestServer(t, agent, Config{AuthenticationTokens: []string{"secret"}})
	client.authToken = ""

	_, err := client.ListSnapshots(context.Background(), zfs.ListSnapshotsOptions{})
	require.Error(t, err)
}

func TestHTTPAgent_AuthenticationAccepted(t *testing.T) {
	agent := &memAgent{}
	_, client := newTestServer(t, agent, Config{AuthenticationTokens: []string{"secret"}})

	_, err := client.ListSnapshots(context.Background(), zfs.ListSnapshotsOptions{})
	require.NoError(t, err)
}

func TestHTTPAgent_DestroyHeldSnapshotPropagatesError(t *testing.T) {
	agent := &memAgent{
		snapshots:     []zfs.Snapshot{{Dataset: "tank/data", Shortname: "a"}},
		heldDataset:   "tank/data",
		heldShortname: "a",
	}
	_, client := newTestServer(t, agent, Config{})

	err := client.DestroySnapshots(context.Background(), "tank/data", []string{"a"})
	require.Error(t, err)
	require.True(t, errors.Is(err, zfs.ErrHeldSnapshot))
}
