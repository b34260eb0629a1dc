// Package replicate implements incremental send/receive replication between
// a source and a destination dataset, reachable through any zfs.Agent - local
// or over a secure shell. It computes the common base between the two sides,
// supervises the paired send/receive subprocesses, and manages the
// cryptographic holds that make the base durable across runs.
package replicate

import (
	"context"
	"fmt"
	"strings"

	"github.com/vansante/snapctl"
)

// Result summarizes one completed (src,dst) replication.
type Result struct {
	SourceDataset      string
	DestinationDataset string
	Transferred        int
}

// Run replicates srcDataset (on src) into dstDataset (on dst), or - when
// opts.Recursive is set - every dataset under srcDataset's subtree into the
// matching relative path under dstDataset.
func Run(ctx context.Context, src, dst zfs.Agent, srcDataset, dstDataset string, opts Options) ([]Result, error) {
	if !opts.Recursive {
		result, err := runOne(ctx, src, dst, srcDataset, dstDataset, opts)
		if err != nil {
			return nil, err
		}
		return []Result{result}, nil
	}
	return runRecursive(ctx, src, dst, srcDataset, dstDataset, opts)
}

// runRecursive lists the full subtree once, groups snapshots by their
// dataset, and replicates each group independently into its relative
// position under dstDataset. A failure on one child dataset does not abort
// the others.
func runRecursive(ctx context.Context, src, dst zfs.Agent, srcRoot, dstRoot string, opts Options) ([]Result, error) {
	snaps, err := src.ListSnapshots(ctx, zfs.ListSnapshotsOptions{Dataset: srcRoot, Recursive: true})
	if err != nil {
		return nil, fmt.Errorf("replicate: listing source subtree %s: %w", srcRoot, err)
	}

	children := make(map[string]bool)
	for _, s := range snaps {
		children[s.Dataset] = true
	}

	var results []Result
	var firstErr error
	for dataset := range children {
		if dataset != srcRoot && !strings.HasPrefix(dataset, srcRoot+"/") {
			continue
		}
		relative := strings.TrimPrefix(dataset, srcRoot)
		result, err := runOne(ctx, src, dst, dataset, dstRoot+relative, opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, result)
	}
	return results, firstErr
}

// runOne replicates a single source dataset into a single destination
// dataset, non-recursively.
func runOne(ctx context.Context, src, dst zfs.Agent, srcDataset, dstDataset string, opts Options) (Result, error) {
	opts.emit(ListingEvent, srcDataset, dstDataset)

	srcSnaps, err := src.ListSnapshots(ctx, zfs.ListSnapshotsOptions{Dataset: srcDataset, SortBy: zfs.PropertyCreation, Reverse: true})
	if err != nil {
		return Result{}, fmt.Errorf("replicate: listing source %s: %w", srcDataset, err)
	}
	dstSnaps, err := dst.ListSnapshots(ctx, zfs.ListSnapshotsOptions{Dataset: dstDataset, SortBy: zfs.PropertyCreation, Reverse: true})
	if err != nil {
		return Result{}, fmt.Errorf("replicate: listing destination %s: %w", dstDataset, err)
	}
	if len(srcSnaps) == 0 {
		return Result{}, fmt.Errorf("replicate: source dataset %s has no snapshots", srcDataset)
	}

	b, err := baseIndex(srcSnaps, dstSnaps, opts.Initialize)
	if err != nil {
		return Result{}, err
	}

	srcDatasetInfo, err := src.GetDataset(ctx, srcDataset)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: resolving source dataset guid: %w", err)
	}
	dstDatasetInfo, err := dst.GetDataset(ctx, dstDataset)
	if err != nil {
		return Result{}, fmt.Errorf("replicate: resolving destination dataset guid: %w", err)
	}
	tagSrc, tagDst := holdTags(srcDatasetInfo.GUID, dstDatasetInfo.GUID)

	if err := cleanupStaleHolds(ctx, src, srcSnaps, tagSrc); err != nil {
		return Result{}, err
	}
	if len(dstSnaps) > 0 {
		if err := cleanupStaleHolds(ctx, dst, dstSnaps, tagDst); err != nil {
			return Result{}, err
		}
	}

	transferred := 0

	if len(dstSnaps) == 0 {
		// Initial transfer: full send of the oldest source snapshot, received
		// with properties that make the destination a sane replica target.
		initial := srcSnaps[b-1]
		if err := transferInitial(ctx, src, dst, initial, dstDataset, opts); err != nil {
			return Result{}, err
		}
		transferred++
		b--
	}

	for i := b - 1; i >= 0; i-- {
		snap, base := srcSnaps[i], srcSnaps[i+1]

		if err := transferOne(ctx, src, dst, snap, base, dstDataset, i, opts); err != nil {
			return Result{}, err
		}
		transferred++

		dstCopy := snap.WithDataset(dstDataset)
		if err := dst.SetTags(ctx, dstCopy.Longname(), snap.Tags); err != nil {
			return Result{}, fmt.Errorf("replicate: propagating tags to %s: %w", dstCopy.Longname(), err)
		}

		if err := placeAndAdvanceHolds(ctx, src, dst, snap, base, dstDataset, tagSrc, tagDst, opts); err != nil {
			return Result{}, err
		}
	}

	opts.emit(DoneEvent, srcDataset, dstDataset, transferred)
	return Result{SourceDataset: srcDataset, DestinationDataset: dstDataset, Transferred: transferred}, nil
}

// transferInitial performs the unbased full send used to bootstrap an empty destination.
func transferInitial(ctx context.Context, src, dst zfs.Agent, snap zfs.Snapshot, dstDataset string, opts Options) error {
	opts.emit(TransferStartedEvent, -1, snap.Longname())

	sendHandle, err := src.SendSnapshotAsync(ctx, snap.Longname(), "")
	if err != nil {
		return err
	}
	piped, err := opts.wrapPipe(sendHandle.Stdout())
	if err != nil {
		sendHandle.Terminate()
		return err
	}
	recvHandle, err := dst.ReceiveSnapshotAsync(ctx, dstDataset, piped, map[string]string{
		zfs.PropertyReadOnly: zfs.ValueOn,
		zfs.PropertyAtime:    zfs.ValueOff,
	})
	if err != nil {
		sendHandle.Terminate()
		return err
	}

	sendCode, recvCode := supervise(sendHandle, recvHandle)
	if sendCode != 0 || recvCode != 0 {
		err := &TransferFailedError{Index: -1, SendCode: sendCode, ReceiveCode: recvCode}
		opts.emit(TransferFailedEvent, -1, err)
		return err
	}
	opts.emit(TransferCompletedEvent, -1, snap.Longname())
	return nil
}

// placeAndAdvanceHolds places the replication hold on the newly transferred
// pair and releases it from the previous base, only where that hold is
// actually present.
func placeAndAdvanceHolds(ctx context.Context, src, dst zfs.Agent, snap, base zfs.Snapshot, dstDataset, tagSrc, tagDst string, opts Options) error {
	dstSnapLongname := snap.WithDataset(dstDataset).Longname()
	dstBaseLongname := base.WithDataset(dstDataset).Longname()

	if err := src.Hold(ctx, []string{snap.Longname()}, tagSrc); err != nil {
		return fmt.Errorf("replicate: holding %s: %w", snap.Longname(), err)
	}
	opts.emit(HoldPlacedEvent, snap.Longname(), tagSrc)

	if err := dst.Hold(ctx, []string{dstSnapLongname}, tagDst); err != nil {
		return fmt.Errorf("replicate: holding %s: %w", dstSnapLongname, err)
	}
	opts.emit(HoldPlacedEvent, dstSnapLongname, tagDst)

	if hasHold, err := src.HasHold(ctx, base.Longname(), tagSrc); err != nil {
		return fmt.Errorf("replicate: checking hold on %s: %w", base.Longname(), err)
	} else if hasHold {
		if err := src.Release(ctx, []string{base.Longname()}, tagSrc); err != nil {
			return fmt.Errorf("replicate: releasing %s: %w", base.Longname(), err)
		}
		opts.emit(HoldReleasedEvent, base.Longname(), tagSrc)
	}

	if hasHold, err := dst.HasHold(ctx, dstBaseLongname, tagDst); err != nil {
		return fmt.Errorf("replicate: checking hold on %s: %w", dstBaseLongname, err)
	} else if hasHold {
		if err := dst.Release(ctx, []string{dstBaseLongname}, tagDst); err != nil {
			return fmt.Errorf("replicate: releasing %s: %w", dstBaseLongname, err)
		}
		opts.emit(HoldReleasedEvent, dstBaseLongname, tagDst)
	}
	return nil
}
