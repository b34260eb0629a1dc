package replicate

import (
	"context"
	"io"
	"time"

	"github.com/juju/ratelimit"
	"github.com/klauspost/compress/zstd"
	eventemitter "github.com/vansante/go-event-emitter"

	"github.com/vansante/snapctl"
)

// supervisorPollInterval is the cadence at which the transfer supervisor
// checks both children for an early, asymmetric exit.
const supervisorPollInterval = 100 * time.Millisecond

// Options configures a replication run.
type Options struct {
	// Initialize permits an initial full transfer when the destination has no snapshots.
	Initialize bool
	// Recursive replicates every dataset under the source root, preserving the hierarchy.
	Recursive bool
	// BytesPerSecond, if positive, rate-limits the send/receive pipe.
	BytesPerSecond int64
	// CompressionLevel, if non-zero, wraps the pipe in zstd compression.
	CompressionLevel zstd.EncoderLevel
	// Emitter, if non-nil, receives the events declared in event.go.
	Emitter *eventemitter.Emitter
}

func (o Options) emit(event eventemitter.EventType, args ...interface{}) {
	if o.Emitter == nil {
		return
	}
	o.Emitter.EmitEvent(event, args...)
}

// wrapPipe applies rate limiting and optional compression to the stream
// flowing from a send's stdout into a receive's stdin.
func (o Options) wrapPipe(r io.Reader) (io.Reader, error) {
	if o.BytesPerSecond > 0 {
		r = ratelimit.Reader(r, ratelimit.NewBucketWithRate(float64(o.BytesPerSecond), o.BytesPerSecond))
	}
	if o.CompressionLevel == 0 {
		return r, nil
	}

	pr, pw := io.Pipe()
	encoder, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(o.CompressionLevel))
	if err != nil {
		return nil, err
	}
	go func() {
		_, copyErr := io.Copy(encoder, r)
		if copyErr != nil {
			_ = encoder.Close()
			_ = pw.CloseWithError(copyErr)
			return
		}
		closeErr := encoder.Close()
		_ = pw.CloseWithError(closeErr)
	}()

	decoder, err := zstd.NewReader(pr)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// transferOne runs one supervised send/receive pair: snap (with its new
// index-i identity on the source) is sent incrementally against base,
// received into dstDataset. It returns once both children have exited,
// terminating whichever is still running as soon as the other exits non-zero.
func transferOne(ctx context.Context, src, dst zfs.Agent, snap, base zfs.Snapshot, dstDataset string, index int, opts Options) error {
	opts.emit(TransferStartedEvent, index, snap.Longname())

	sendHandle, err := src.SendSnapshotAsync(ctx, snap.Longname(), base.Longname())
	if err != nil {
		return err
	}

	counted := zfs.NewCountReader(sendHandle.Stdout())
	if opts.Emitter != nil {
		counted.SetProgressCallback(time.Second, func(bytes int64) {
			opts.emit(TransferProgressEvent, snap.Longname(), bytes)
		})
	}
	piped, err := opts.wrapPipe(counted)
	if err != nil {
		sendHandle.Terminate()
		return err
	}

	recvHandle, err := dst.ReceiveSnapshotAsync(ctx, dstDataset, piped, nil)
	if err != nil {
		sendHandle.Terminate()
		return err
	}

	sendCode, recvCode := supervise(sendHandle, recvHandle)
	if sendCode != 0 || recvCode != 0 {
		err := &TransferFailedError{Index: index, SendCode: sendCode, ReceiveCode: recvCode}
		opts.emit(TransferFailedEvent, index, err)
		return err
	}

	opts.emit(TransferCompletedEvent, index, snap.Longname())
	return nil
}

// supervise polls both children until both have exited, terminating whichever
// is still running within one poll tick after the other exits non-zero.
func supervise(send zfs.SendHandle, recv zfs.ReceiveHandle) (sendCode, recvCode int) {
	sendDone, recvDone := false, false
	for !sendDone || !recvDone {
		if !sendDone {
			if code, exited := send.Poll(); exited {
				sendCode = code
				sendDone = true
				if code != 0 && !recvDone {
					recv.Terminate()
				}
			}
		}
		if !recvDone {
			if code, exited := recv.Poll(); exited {
				recvCode = code
				recvDone = true
				if code != 0 && !sendDone {
					send.Terminate()
				}
			}
		}
		if sendDone && recvDone {
			break
		}
		time.Sleep(supervisorPollInterval)
	}
	return sendCode, recvCode
}
