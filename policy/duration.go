package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// unit durations used by the duration grammar. Calendar units (year, month,
// week) are approximated as fixed durations - the policy engine only ever
// uses these values as "now minus duration" cutoffs, not for calendar
// arithmetic, so a fixed approximation is sufficient and keeps parsing total.
const (
	unitHour  = time.Hour
	unitDay   = 24 * time.Hour
	unitWeek  = 7 * unitDay
	unitMonth = 30 * unitDay
	unitYear  = 365 * unitDay
)

// durationUnitOrder fixes the format order: y, m, w, d, h. ParseDuration
// accepts the units in any order.
var durationUnitOrder = []byte{'y', 'm', 'w', 'd', 'h'}

func unitDuration(u byte) time.Duration {
	switch u {
	case 'y':
		return unitYear
	case 'm':
		return unitMonth
	case 'w':
		return unitWeek
	case 'd':
		return unitDay
	case 'h':
		return unitHour
	}
	return 0
}

// ParseDuration parses the `<int><unit>` grammar, each unit in {y,m,w,d,h}
// appearing at most once, e.g. "2y5m7d3h" or "90d". An empty string parses
// to zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	seen := make(map[byte]bool, len(durationUnitOrder))
	var total time.Duration
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("policy: invalid duration %q: expected a number at position %d", s, start)
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return 0, fmt.Errorf("policy: invalid duration %q: %w", s, err)
		}
		if i >= len(s) {
			return 0, fmt.Errorf("policy: invalid duration %q: missing unit after %d", s, n)
		}
		unit := s[i]
		i++
		if unitDuration(unit) == 0 {
			return 0, fmt.Errorf("policy: invalid duration %q: unknown unit %q", s, string(unit))
		}
		if seen[unit] {
			return 0, fmt.Errorf("policy: invalid duration %q: unit %q repeated", s, string(unit))
		}
		seen[unit] = true
		total += time.Duration(n) * unitDuration(unit)
	}
	return total, nil
}

// FormatDuration renders d back into the grammar ParseDuration accepts,
// greedily consuming the largest units first so that the two functions
// round-trip for every duration built from non-negative whole units.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0h"
	}

	var b strings.Builder
	remaining := d
	for _, unit := range durationUnitOrder {
		unitLen := unitDuration(unit)
		if remaining < unitLen {
			continue
		}
		n := remaining / unitLen
		remaining -= n * unitLen
		fmt.Fprintf(&b, "%d%c", n, unit)
	}
	return b.String()
}
