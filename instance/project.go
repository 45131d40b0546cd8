package instance

import (
	"time"

	"github.com/helioform/calstore/storage"
)

// epochJulianDay is the Julian day number of 1970-01-01.
const epochJulianDay = 2440588

const minutesPerDay = 24 * 60

// TimeFields are the local-zone projections stored on an instance for
// day-grid queries.
type TimeFields struct {
	StartDay    int
	EndDay      int
	StartMinute int
	EndMinute   int
}

// JulianDay returns the Julian day number of the civil date containing
// t, evaluated in t's own location.
func JulianDay(t time.Time) int {
	_, offset := t.Zone()
	secs := t.Unix() + int64(offset)
	day := secs / 86400
	if secs < 0 && secs%86400 != 0 {
		day--
	}
	return int(day) + epochJulianDay
}

// DayStart returns midnight of the given Julian day in loc.
func DayStart(day int, loc *time.Location) time.Time {
	utc := time.Unix(int64(day-epochJulianDay)*86400, 0).UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, loc)
}

// ProjectTimeFields projects an occurrence's begin and end instants
// into loc, producing the day and minute fields stored on an instance.
//
// An occurrence that ends exactly at midnight of a later day is pulled
// back to minute 1440 of the previous day, so an event running Monday
// 21:00 to Tuesday 00:00 does not show up on Tuesday's grid.
func ProjectTimeFields(begin, end time.Time, loc *time.Location) TimeFields {
	lb := begin.In(loc)
	le := end.In(loc)
	f := TimeFields{
		StartDay:    JulianDay(lb),
		EndDay:      JulianDay(le),
		StartMinute: lb.Hour()*60 + lb.Minute(),
		EndMinute:   le.Hour()*60 + le.Minute(),
	}
	if f.EndMinute == 0 && f.EndDay > f.StartDay {
		f.EndMinute = minutesPerDay
		f.EndDay--
	}
	return f
}

// newInstance builds an instance row for one occurrence, projecting its
// day and minute fields into loc.
func newInstance(eventID int64, begin, end time.Time, loc *time.Location) storage.Instance {
	f := ProjectTimeFields(begin, end, loc)
	return storage.Instance{
		EventID:     eventID,
		Begin:       begin,
		End:         end,
		StartDay:    f.StartDay,
		EndDay:      f.EndDay,
		StartMinute: f.StartMinute,
		EndMinute:   f.EndMinute,
	}
}
