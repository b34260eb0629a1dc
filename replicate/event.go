package replicate

import eventemitter "github.com/vansante/go-event-emitter"

// Event types emitted over the course of a replication run. Listeners
// receive positional args as documented per event.
const (
	// ListingEvent fires when a (src,dst) pair starts, before either side is listed. args: (srcDataset, dstDataset string).
	ListingEvent eventemitter.EventType = "replicate-listing"
	// TransferStartedEvent fires when a send/receive pair is started. args: (index int, longname string).
	TransferStartedEvent eventemitter.EventType = "replicate-transfer-started"
	// TransferProgressEvent fires periodically while a transfer is in flight. args: (longname string, bytes int64).
	TransferProgressEvent eventemitter.EventType = "replicate-transfer-progress"
	// TransferCompletedEvent fires once a transfer's send/receive pair both exit zero. args: (index int, longname string).
	TransferCompletedEvent eventemitter.EventType = "replicate-transfer-completed"
	// TransferFailedEvent fires when a transfer's send/receive pair fails. args: (index int, err error).
	TransferFailedEvent eventemitter.EventType = "replicate-transfer-failed"
	// HoldPlacedEvent fires when a hold is placed. args: (longname, tag string).
	HoldPlacedEvent eventemitter.EventType = "replicate-hold-placed"
	// HoldReleasedEvent fires when a hold is released. args: (longname, tag string).
	HoldReleasedEvent eventemitter.EventType = "replicate-hold-released"
	// DoneEvent fires once a replication run (one src/dst pair) completes successfully. args: (srcDataset, dstDataset string, transferred int).
	DoneEvent eventemitter.EventType = "replicate-done"
)

// State is one of the per-(src,dst) pair replication states.
type State string

const (
	StateIdle        State = "idle"
	StateListing     State = "listing"
	StateSupervising State = "supervising"
	StateHolding     State = "holding"
	StateDone        State = "done"
	StateFailed      State = "failed"
)
