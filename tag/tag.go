// Package tag implements the tag-mutation operations: deriving a candidate
// tag set from a snapshot's shortname or from one of its properties, then
// applying it as a SET, ADD or REMOVE against the snapshot's tag set.
package tag

import (
	"context"
	"fmt"
	"strings"

	"github.com/vansante/snapctl"
)

// nameSeparator splits a shortname into its base and its name-derived tags,
// e.g. "2024-01-01_daily_weekly" -> base "2024-01-01", tags {daily, weekly}.
const nameSeparator = "_"

// Op is a tag mutation applied to a snapshot's existing tag set.
type Op string

const (
	// OpSet replaces the snapshot's tag set with the derived tags.
	OpSet Op = "SET"
	// OpAdd unions the derived tags into the snapshot's existing tag set.
	OpAdd Op = "ADD"
	// OpRemove subtracts the derived tags from the snapshot's existing tag set.
	OpRemove Op = "REMOVE"
)

// Source derives the candidate tag set an Op is applied with.
type Source string

const (
	// SourceName derives tags from the snapshot's shortname, splitting on '_'
	// and discarding the first component (treated as the base name).
	SourceName Source = "name"
	// SourceProperty derives tags from a named zfs user property's value,
	// comma-split the same way the custom tag property itself is encoded.
	SourceProperty Source = "property"
)

// Rule is one derive-then-apply step: derive a candidate tag set via Source
// (and, for SourceProperty, Property), then apply it to the snapshot's
// existing tags via Op.
type Rule struct {
	Source   Source
	Property string // only consulted when Source == SourceProperty
	Op       Op
}

// FromName derives a candidate tag set from a snapshot's shortname. It
// returns ok=false when the name carries no tag components, distinguishing
// "nothing to apply" from "apply an empty set".
func FromName(shortname string) (tags zfs.TagSet, ok bool) {
	parts := splitNonEmpty(shortname, nameSeparator)
	if len(parts) <= 1 {
		return nil, false
	}
	return zfs.NewTagSet(parts[1:]...), true
}

// FromProperty derives a candidate tag set from a raw property value, using
// the same unset/empty-set encoding as the custom tag property itself.
// ok is false only when the property value is the unset sentinel.
func FromProperty(propertyValue string) (tags zfs.TagSet, ok bool) {
	parsed := zfs.ParseTags(propertyValue)
	if parsed == nil {
		return nil, false
	}
	return parsed, true
}

func splitNonEmpty(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Apply derives tags per rule against snap and combines them with the
// snapshot's existing tag set according to rule.Op. It never touches the
// filesystem; callers write the result back via an Agent.
//
// When the source yields no tags (ok=false), ADD and REMOVE leave the
// existing tag set unchanged, while SET yields an empty tag set.
func Apply(snap zfs.Snapshot, rule Rule, propertyValue string) zfs.TagSet {
	var derived zfs.TagSet
	var ok bool
	switch rule.Source {
	case SourceName:
		derived, ok = FromName(snap.Shortname)
	case SourceProperty:
		derived, ok = FromProperty(propertyValue)
	}
	if !ok {
		if rule.Op == OpSet {
			return zfs.TagSet{}
		}
		return snap.Tags
	}

	switch rule.Op {
	case OpSet:
		return derived
	case OpAdd:
		return snap.Tags.Union(derived)
	case OpRemove:
		return snap.Tags.Without(derived)
	default:
		return snap.Tags
	}
}

// ApplyAll runs every rule against snap in order, threading the updated tag
// set through each step, and writes the final result back via agent if it
// differs from the snapshot's starting tags.
func ApplyAll(ctx context.Context, agent zfs.Agent, snap zfs.Snapshot, rules []Rule, propertyValues map[string]string) (zfs.TagSet, error) {
	tags := snap.Tags
	working := snap
	for _, rule := range rules {
		propValue := propertyValues[rule.Property]
		working.Tags = tags
		tags = Apply(working, rule, propValue)
	}

	if tags.Equal(snap.Tags) {
		return tags, nil
	}
	if err := agent.SetTags(ctx, snap.Longname(), tags); err != nil {
		return nil, fmt.Errorf("tag: setting tags on %s: %w", snap.Longname(), err)
	}
	return tags, nil
}
