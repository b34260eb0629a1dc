// Package http implements HTTPAgent, an optional zfs.Agent transport that
// talks to a small httprouter-based daemon instead of shelling out locally
// or over ssh. It is adapted from the teacher's snapshot-transfer HTTP
// server: the same router/client split, re-pointed at the Agent facade's
// fixed method set instead of the teacher's dataset/property model.
package http

import (
	"time"

	zfs "github.com/vansante/snapctl"
)

// snapshotWire is the JSON wire representation of a zfs.Snapshot.
type snapshotWire struct {
	Dataset   string   `json:"dataset"`
	Shortname string   `json:"shortname"`
	Timestamp int64    `json:"timestamp"`
	GUID      uint64   `json:"guid"`
	Holds     int      `json:"holds"`
	Tags      []string `json:"tags"`
	TagsUnset bool     `json:"tagsUnset"`
}

func toWire(s zfs.Snapshot) snapshotWire {
	w := snapshotWire{
		Dataset:   s.Dataset,
		Shortname: s.Shortname,
		Timestamp: s.Timestamp.Unix(),
		GUID:      s.GUID,
		Holds:     s.Holds,
	}
	if s.Tags == nil {
		w.TagsUnset = true
	} else {
		w.Tags = s.Tags.Slice()
	}
	return w
}

func fromWire(w snapshotWire) zfs.Snapshot {
	var tags zfs.TagSet
	if !w.TagsUnset {
		tags = zfs.NewTagSet(w.Tags...)
	}
	return zfs.Snapshot{
		Dataset:   w.Dataset,
		Shortname: w.Shortname,
		Timestamp: time.Unix(w.Timestamp, 0),
		GUID:      w.GUID,
		Holds:     w.Holds,
		Tags:      tags,
	}
}

func toWireSlice(snaps []zfs.Snapshot) []snapshotWire {
	out := make([]snapshotWire, len(snaps))
	for i, s := range snaps {
		out[i] = toWire(s)
	}
	return out
}

func fromWireSlice(wires []snapshotWire) []zfs.Snapshot {
	out := make([]zfs.Snapshot, len(wires))
	for i, w := range wires {
		out[i] = fromWire(w)
	}
	return out
}

type datasetWire struct {
	Name string `json:"name"`
	GUID uint64 `json:"guid"`
}

type poolWire struct {
	Name string `json:"name"`
	GUID uint64 `json:"guid"`
}

type holdWire struct {
	SnapshotLongname string `json:"snapshotLongname"`
	Tag              string `json:"tag"`
}

func toHoldWireSlice(holds []zfs.Hold) []holdWire {
	out := make([]holdWire, len(holds))
	for i, h := range holds {
		out[i] = holdWire{SnapshotLongname: h.SnapshotLongname, Tag: h.Tag}
	}
	return out
}

func fromHoldWireSlice(wires []holdWire) []zfs.Hold {
	out := make([]zfs.Hold, len(wires))
	for i, w := range wires {
		out[i] = zfs.Hold{SnapshotLongname: w.SnapshotLongname, Tag: w.Tag}
	}
	return out
}

type createRequest struct {
	Longname   string            `json:"longname"`
	Recursive  bool              `json:"recursive"`
	Properties map[string]string `json:"properties"`
}

type renameRequest struct {
	Longname     string `json:"longname"`
	NewShortname string `json:"newShortname"`
}

type destroyRequest struct {
	Dataset    string   `json:"dataset"`
	Shortnames []string `json:"shortnames"`
}

type setTagsRequest struct {
	Longname  string   `json:"longname"`
	Tags      []string `json:"tags"`
	TagsUnset bool     `json:"tagsUnset"`
}

type holdRequest struct {
	Longnames []string `json:"longnames"`
	Tag       string   `json:"tag"`
}

type getHoldsRequest struct {
	Longnames []string `json:"longnames"`
}

type getSnapshotsRequest struct {
	Longnames []string `json:"longnames"`
}

type errorResponse struct {
	Error string `json:"error"`
	Held  bool   `json:"held,omitempty"`
}
