package replicate

import "github.com/vansante/snapctl"

// baseIndex finds the smallest index b such that src[b].guid == dst[0].guid,
// where src and dst are both sorted newest-first. It returns ErrNotInitialized
// when dst is empty and initialize is unset (or len(src) when initialize is
// set, treating the oldest source snapshot as the initial full send), and
// ErrDiverged when dst is non-empty but its tip's guid appears nowhere in src.
func baseIndex(src, dst []zfs.Snapshot, initialize bool) (int, error) {
	if len(dst) == 0 {
		if !initialize {
			return 0, ErrNotInitialized
		}
		return len(src), nil
	}

	for i, s := range src {
		if s.GUID == dst[0].GUID {
			return i, nil
		}
	}
	return 0, ErrDiverged
}
