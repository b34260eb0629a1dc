package replicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vansante/snapctl"
)

func snapWithGUID(guid uint64, offset time.Duration) zfs.Snapshot {
	return zfs.Snapshot{
		Dataset:   "pool/src",
		Shortname: "s",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
		GUID:      guid,
	}
}

// S5 - source has guids [g1..g5] newest-first; destination has [g3,g4,g5]; base index is 2.
func TestBaseIndex_IncrementalReplication(t *testing.T) {
	src := []zfs.Snapshot{
		snapWithGUID(1, 4*time.Hour),
		snapWithGUID(2, 3*time.Hour),
		snapWithGUID(3, 2*time.Hour),
		snapWithGUID(4, 1*time.Hour),
		snapWithGUID(5, 0),
	}
	dst := []zfs.Snapshot{
		snapWithGUID(3, 2*time.Hour),
		snapWithGUID(4, 1*time.Hour),
		snapWithGUID(5, 0),
	}

	b, err := baseIndex(src, dst, false)
	require.NoError(t, err)
	require.Equal(t, 2, b)
}

func TestBaseIndex_NotInitialized(t *testing.T) {
	src := []zfs.Snapshot{snapWithGUID(1, 0)}

	_, err := baseIndex(src, nil, false)
	require.ErrorIs(t, err, ErrNotInitialized)

	b, err := baseIndex(src, nil, true)
	require.NoError(t, err)
	require.Equal(t, len(src), b)
}

func TestBaseIndex_Diverged(t *testing.T) {
	src := []zfs.Snapshot{snapWithGUID(1, time.Hour), snapWithGUID(2, 0)}
	dst := []zfs.Snapshot{snapWithGUID(99, 0)}

	_, err := baseIndex(src, dst, false)
	require.ErrorIs(t, err, ErrDiverged)
}

func TestBaseIndex_NoWorkToDo(t *testing.T) {
	src := []zfs.Snapshot{snapWithGUID(1, 0)}
	dst := []zfs.Snapshot{snapWithGUID(1, 0)}

	b, err := baseIndex(src, dst, false)
	require.NoError(t, err)
	require.Equal(t, 0, b)
}
