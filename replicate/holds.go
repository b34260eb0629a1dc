package replicate

import (
	"context"
	"fmt"

	"github.com/vansante/snapctl"
)

// holdTags derives the deterministic, collision-resistant hold-tag pair for a
// source/destination replication relationship, keyed by the other side's
// dataset guid.
func holdTags(srcDatasetGUID, dstDatasetGUID uint64) (tagSrc, tagDst string) {
	return fmt.Sprintf("sendbase-%d", dstDatasetGUID), fmt.Sprintf("recvbase-%d", srcDatasetGUID)
}

// cleanupStaleHolds finds the newest snapshot on dataset carrying tag and
// releases tag from every older snapshot carrying it too. It is idempotent
// and safe to run before every transfer - it never touches the current base.
func cleanupStaleHolds(ctx context.Context, agent zfs.Agent, snaps []zfs.Snapshot, tag string) error {
	holds, err := agent.GetHolds(ctx, longnames(snaps))
	if err != nil {
		return fmt.Errorf("replicate: listing holds for stale cleanup: %w", err)
	}

	held := make(map[string]bool, len(holds))
	for _, h := range holds {
		if h.Tag == tag {
			held[h.SnapshotLongname] = true
		}
	}
	if len(held) == 0 {
		return nil
	}

	// snaps is sorted newest-first; the first held snapshot encountered is the
	// newest one carrying the tag and must be preserved.
	newest := true
	for _, snap := range snaps {
		if !held[snap.Longname()] {
			continue
		}
		if newest {
			newest = false
			continue
		}
		if err := agent.Release(ctx, []string{snap.Longname()}, tag); err != nil {
			return fmt.Errorf("replicate: releasing stale hold %s on %s: %w", tag, snap.Longname(), err)
		}
	}
	return nil
}

func longnames(snaps []zfs.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Longname()
	}
	return out
}
