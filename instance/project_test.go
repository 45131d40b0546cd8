package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJulianDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.Equal(t, 2440588, JulianDay(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2440588, JulianDay(time.Date(1970, 1, 1, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, 2440587, JulianDay(time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2460311, JulianDay(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	// The same instant falls on different civil days in different zones.
	instant := time.Date(2023, 12, 31, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, 2460310, JulianDay(instant))
	assert.Equal(t, 2460311, JulianDay(instant.In(tokyo)))
}

func TestDayStart(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := DayStart(2460311, time.UTC)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	got = DayStart(2460311, ny)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, ny)))

	// Round trip across a few zones and days, including a US DST
	// transition day.
	for _, loc := range []*time.Location{time.UTC, ny} {
		for _, day := range []int{2440588, 2460311, JulianDay(time.Date(2024, 3, 10, 12, 0, 0, 0, ny))} {
			start := DayStart(day, loc)
			assert.Equal(t, day, JulianDay(start), "day %d in %v", day, loc)
			assert.Equal(t, 0, start.Hour())
			assert.Equal(t, 0, start.Minute())
		}
	}
}

func TestProjectTimeFields(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	mondayDay := JulianDay(monday)

	tests := []struct {
		name     string
		begin    time.Time
		end      time.Time
		loc      *time.Location
		expected TimeFields
	}{
		{
			name:  "Morning meeting",
			begin: monday.Add(9 * time.Hour),
			end:   monday.Add(10 * time.Hour),
			loc:   time.UTC,
			expected: TimeFields{
				StartDay: mondayDay, EndDay: mondayDay,
				StartMinute: 540, EndMinute: 600,
			},
		},
		{
			name:  "Ending exactly at midnight stays on the start day",
			begin: monday.Add(21 * time.Hour),
			end:   monday.AddDate(0, 0, 1),
			loc:   time.UTC,
			expected: TimeFields{
				StartDay: mondayDay, EndDay: mondayDay,
				StartMinute: 21 * 60, EndMinute: minutesPerDay,
			},
		},
		{
			name:  "Two day span ending at midnight pulls back one day",
			begin: monday.Add(21 * time.Hour),
			end:   monday.AddDate(0, 0, 2),
			loc:   time.UTC,
			expected: TimeFields{
				StartDay: mondayDay, EndDay: mondayDay + 1,
				StartMinute: 21 * 60, EndMinute: minutesPerDay,
			},
		},
		{
			name:  "Zero length occurrence at midnight is left alone",
			begin: monday,
			end:   monday,
			loc:   time.UTC,
			expected: TimeFields{
				StartDay: mondayDay, EndDay: mondayDay,
				StartMinute: 0, EndMinute: 0,
			},
		},
		{
			name:  "Projection into another zone moves the day",
			begin: time.Date(2024, 6, 15, 23, 30, 0, 0, time.UTC),
			end:   time.Date(2024, 6, 16, 0, 30, 0, 0, time.UTC),
			loc:   ny,
			expected: TimeFields{
				// 19:30 to 20:30 EDT, still June 15 locally.
				StartDay: JulianDay(time.Date(2024, 6, 15, 0, 0, 0, 0, ny)),
				EndDay:   JulianDay(time.Date(2024, 6, 15, 0, 0, 0, 0, ny)),
				StartMinute: 19*60 + 30, EndMinute: 20*60 + 30,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProjectTimeFields(tt.begin, tt.end, tt.loc))
		})
	}
}
