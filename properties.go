package zfs

const (
	PropertyName     = "name"
	PropertyReadOnly = "readonly"

	// PropertyCreation is the snapshot's creation time, as unix seconds (zfs get -p).
	PropertyCreation = "creation"
	// PropertyGUID is the filesystem-assigned 64-bit content identifier, stable across send/receive.
	PropertyGUID = "guid"
	// PropertyUserRefs is the count of holds currently pinning a snapshot.
	PropertyUserRefs = "userrefs"
	// PropertyAtime toggles access-time updates on a dataset.
	PropertyAtime = "atime"

	// CustomTagsNamespace is the vendor namespace snapctl uses for its custom tag property.
	CustomTagsNamespace = "snapctl"
	// PropertyCustomTags is the user property snapctl stores its comma-joined tag set under.
	PropertyCustomTags = CustomTagsNamespace + ":tags"
)

// snapshotPropList is the set of properties fetched for every snapshot listed or looked up.
var snapshotPropList = []string{
	PropertyName,
	PropertyCreation,
	PropertyGUID,
	PropertyUserRefs,
	PropertyCustomTags,
}

const (
	ValueOn    = "on"
	ValueOff   = "off"
	ValueUnset = "-"
)
