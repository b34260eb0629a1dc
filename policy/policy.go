// Package policy implements the retention keep-policy engine: a pure function
// that partitions a set of snapshots into those to keep and those to destroy,
// evaluating count-bucket and within-bucket rules alongside name/tag overrides.
package policy

import (
	"crypto/rand"
	"encoding/binary"
	"regexp"
	"sort"
	"time"

	"github.com/vansante/snapctl"
)

// CountBucket is one count-based retention rule: keep up to N of the newest
// distinct bucket-values. N=0 disables the bucket.
type CountBucket struct {
	N   int
	key func(time.Time) uint64
}

// WithinBucket is one time-window retention rule: keep one snapshot per
// distinct bucket-value, for every snapshot newer than now-Within. A zero
// Within disables the bucket.
type WithinBucket struct {
	Within time.Duration
	key    func(time.Time) uint64
}

// KeepPolicy is the full, declarative set of retention rules applied to one
// group of snapshots. The zero value disables every bucket and matches
// nothing by name or tag - Apply on a zero KeepPolicy keeps nothing.
type KeepPolicy struct {
	Last    int
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
	Yearly  int

	Within        time.Duration
	WithinHourly  time.Duration
	WithinDaily   time.Duration
	WithinWeekly  time.Duration
	WithinMonthly time.Duration
	WithinYearly  time.Duration

	// Name, if non-nil, unconditionally keeps any snapshot whose shortname it matches.
	Name *regexp.Regexp
	// Tags, if non-empty, unconditionally keeps any snapshot whose tag set is a superset.
	Tags zfs.TagSet
}

func uniqueKey(time.Time) uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}

func hourKey(t time.Time) uint64 {
	return uint64(t.Year())*1_000_000 + uint64(t.Month())*10_000 + uint64(t.Day())*100 + uint64(t.Hour())
}

func dayKey(t time.Time) uint64 {
	return uint64(t.Year())*10_000 + uint64(t.Month())*100 + uint64(t.Day())
}

func weekKey(t time.Time) uint64 {
	year, week := t.ISOWeek()
	return uint64(year)*100 + uint64(week)
}

func monthKey(t time.Time) uint64 {
	return uint64(t.Year())*100 + uint64(t.Month())
}

func yearKey(t time.Time) uint64 {
	return uint64(t.Year())
}

// countBuckets builds the six count-buckets in the fixed evaluation order
// last, hourly, daily, weekly, monthly, yearly.
func (p KeepPolicy) countBuckets() []*CountBucket {
	return []*CountBucket{
		{N: p.Last, key: uniqueKey},
		{N: p.Hourly, key: hourKey},
		{N: p.Daily, key: dayKey},
		{N: p.Weekly, key: weekKey},
		{N: p.Monthly, key: monthKey},
		{N: p.Yearly, key: yearKey},
	}
}

// withinBuckets builds the six within-buckets in the same fixed order.
func (p KeepPolicy) withinBuckets() []*WithinBucket {
	return []*WithinBucket{
		{Within: p.Within, key: uniqueKey},
		{Within: p.WithinHourly, key: hourKey},
		{Within: p.WithinDaily, key: dayKey},
		{Within: p.WithinWeekly, key: weekKey},
		{Within: p.WithinMonthly, key: monthKey},
		{Within: p.WithinYearly, key: yearKey},
	}
}

// Result is the outcome of Apply: a partition of the input snapshots.
type Result struct {
	Keep    []zfs.Snapshot
	Destroy []zfs.Snapshot
}

// Apply partitions snapshots into keep/destroy per the policy rules. Ties at
// identical timestamps are broken by (shortname, then dataset) so that output
// order - and therefore which bucket-keys fire first - is deterministic.
//
// now is the instant against which within-buckets are evaluated; it is
// captured once by the caller rather than read internally, so a single run
// (and its tests) sees one consistent "now" throughout.
func Apply(snapshots []zfs.Snapshot, p KeepPolicy, now time.Time) Result {
	snaps := make([]zfs.Snapshot, len(snapshots))
	copy(snaps, snapshots)
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Timestamp.Equal(snaps[j].Timestamp) {
			return snaps[i].Timestamp.After(snaps[j].Timestamp)
		}
		if snaps[i].Shortname != snaps[j].Shortname {
			return snaps[i].Shortname < snaps[j].Shortname
		}
		return snaps[i].Dataset < snaps[j].Dataset
	})

	counts := p.countBuckets()
	withins := p.withinBuckets()
	lastCount := make([]uint64, len(counts))
	haveLastCount := make([]bool, len(counts))
	lastWithin := make([]uint64, len(withins))
	haveLastWithin := make([]bool, len(withins))

	var result Result
	for _, snap := range snaps {
		keep := false

		if p.Name != nil && p.Name.MatchString(snap.Shortname) {
			keep = true
		}
		if len(p.Tags) > 0 && snap.Tags.Superset(p.Tags) {
			keep = true
		}

		for i, bucket := range counts {
			if bucket.N == 0 {
				continue
			}
			value := bucket.key(snap.Timestamp)
			if haveLastCount[i] && value == lastCount[i] {
				continue
			}
			// Quota remains and the bucket-key differs from (or there is no)
			// last-key: this snapshot claims the bucket and uses one unit of
			// quota, even when a name/tag override already keeps it.
			keep = true
			lastCount[i] = value
			haveLastCount[i] = true
			bucket.N--
		}

		for i, bucket := range withins {
			if bucket.Within == 0 {
				continue
			}
			if !snap.Timestamp.After(now.Add(-bucket.Within)) {
				continue
			}
			value := bucket.key(snap.Timestamp)
			if haveLastWithin[i] && value == lastWithin[i] {
				continue
			}
			keep = true
			lastWithin[i] = value
			haveLastWithin[i] = true
		}

		if keep {
			result.Keep = append(result.Keep, snap)
		} else {
			result.Destroy = append(result.Destroy, snap)
		}
	}
	return result
}
