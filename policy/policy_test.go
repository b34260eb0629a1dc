package policy

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vansante/snapctl"
)

func hourlySnapshots(t *testing.T, base time.Time, n int) []zfs.Snapshot {
	t.Helper()
	snaps := make([]zfs.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		snaps = append(snaps, zfs.Snapshot{
			Dataset:   "pool/x",
			Shortname: "h" + itoa(i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return snaps
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var out []byte
	for i > 0 {
		out = append([]byte{digits[i%10]}, out...)
		i /= 10
	}
	return string(out)
}

func keepShortnames(r Result) map[string]bool {
	out := make(map[string]bool, len(r.Keep))
	for _, s := range r.Keep {
		out[s.Shortname] = true
	}
	return out
}

// S1 - pure count policy: hourly marks 00..23, hourly=5 keeps the five newest.
func TestApply_PureCountPolicy(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := hourlySnapshots(t, base, 24)

	result := Apply(snaps, KeepPolicy{Hourly: 5}, base.Add(24*time.Hour))

	require.Len(t, result.Keep, 5)
	require.Len(t, result.Destroy, 19)

	kept := keepShortnames(result)
	for i := 19; i < 24; i++ {
		require.Truef(t, kept["h"+itoa(i)], "expected h%d to be kept", i)
	}
}

// S2 - within-window overlay: daily=2 only fires once because every snapshot
// shares a single calendar day, so within_hourly dominates and keeps six.
func TestApply_WithinWindowOverlay(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := hourlySnapshots(t, base, 24)
	now := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)

	result := Apply(snaps, KeepPolicy{Daily: 2, WithinHourly: 6 * time.Hour}, now)

	require.Len(t, result.Keep, 6)
	kept := keepShortnames(result)
	for _, i := range []int{18, 19, 20, 21, 22, 23} {
		require.Truef(t, kept["h"+itoa(i)], "expected h%d to be kept", i)
	}
}

// S3 - name override keeps the matched snapshot alone when no buckets are configured.
func TestApply_NameOverride(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	snaps := []zfs.Snapshot{
		{Dataset: "pool/x", Shortname: "keepme-a", Timestamp: base},
		{Dataset: "pool/x", Shortname: "other-b", Timestamp: base.Add(time.Hour)},
		{Dataset: "pool/x", Shortname: "other-c", Timestamp: base.Add(2 * time.Hour)},
	}

	result := Apply(snaps, KeepPolicy{Name: regexp.MustCompile("^keepme-")}, base.Add(3*time.Hour))

	require.Len(t, result.Keep, 1)
	require.Equal(t, "keepme-a", result.Keep[0].Shortname)
	require.Len(t, result.Destroy, 2)
}

// S4 - refusal: an all-zero policy with no overrides keeps nothing.
func TestApply_AllZeroPolicyKeepsNothing(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := hourlySnapshots(t, base, 3)

	result := Apply(snaps, KeepPolicy{}, base.Add(3*time.Hour))

	require.Empty(t, result.Keep)
	require.Len(t, result.Destroy, 3)
}

func TestApply_EmptyInput(t *testing.T) {
	result := Apply(nil, KeepPolicy{Hourly: 5}, time.Now())
	require.Empty(t, result.Keep)
	require.Empty(t, result.Destroy)
}

func TestApply_TagOverrideIsUnconditional(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []zfs.Snapshot{
		{Dataset: "pool/x", Shortname: "a", Timestamp: base, Tags: zfs.NewTagSet("keep", "extra")},
		{Dataset: "pool/x", Shortname: "b", Timestamp: base.Add(time.Hour), Tags: zfs.NewTagSet("other")},
	}

	result := Apply(snaps, KeepPolicy{Tags: zfs.NewTagSet("keep")}, base.Add(2*time.Hour))

	require.Len(t, result.Keep, 1)
	require.Equal(t, "a", result.Keep[0].Shortname)
}

func TestApply_KeepDestroyPartitionInvariant(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := hourlySnapshots(t, base, 10)

	result := Apply(snaps, KeepPolicy{Daily: 1, Hourly: 3}, base.Add(10*time.Hour))

	require.Equal(t, len(snaps), len(result.Keep)+len(result.Destroy))
}
