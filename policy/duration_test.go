package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]struct {
		years, months, weeks, days, hours int
	}{
		"90d":      {days: 90},
		"2y5m7d3h": {years: 2, months: 5, days: 7, hours: 3},
		"6h":       {hours: 6},
		"":         {},
	}
	for input, want := range cases {
		d, err := ParseDuration(input)
		require.NoError(t, err, input)
		expect := time.Duration(want.years)*unitYear +
			time.Duration(want.months)*unitMonth +
			time.Duration(want.weeks)*unitWeek +
			time.Duration(want.days)*unitDay +
			time.Duration(want.hours)*unitHour
		require.Equal(t, expect, d, input)
	}
}

func TestParseDuration_Errors(t *testing.T) {
	for _, input := range []string{"abc", "5", "5x", "5d5d", "d5"} {
		_, err := ParseDuration(input)
		require.Error(t, err, input)
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	for _, input := range []string{"90d", "2y5m7d3h", "6h", "1y", "23h", "3w"} {
		d, err := ParseDuration(input)
		require.NoError(t, err)

		formatted := FormatDuration(d)
		roundTripped, err := ParseDuration(formatted)
		require.NoError(t, err)
		require.Equal(t, d, roundTripped, "round-trip of %q via %q", input, formatted)
	}
}
