package storage

import (
	"time"

	"github.com/helioform/calstore/recurrence"
)

// LastDate computes the end instant of ev's final occurrence, nil when
// the event recurs forever. An explicit End wins over Duration, and for
// recurring events the result is the start of the final occurrence plus
// the event duration.
//
// A start-less event has no last date. A start-less event that carries
// end or recurrence fields is a malformed row and is rejected, so it
// can never poison window queries.
func LastDate(ev *Event, exp recurrence.Expander) (*time.Time, error) {
	if ev.Start.IsZero() {
		if ev.End != nil || ev.Duration != "" || ev.Timezone != "" ||
			ev.RRule != "" || ev.RDate != "" || ev.ExRule != "" || ev.ExDate != "" {
			return nil, &Error{
				Type:    ErrInvalidInput,
				Message: "event has end or recurrence fields but no start time",
			}
		}
		return nil, nil
	}

	if ev.End != nil {
		t := *ev.End
		return &t, nil
	}

	dur, err := ParseDuration(ev.Duration)
	if err != nil {
		return nil, err
	}

	rs := ev.RuleSet()
	if !rs.HasRecurrence() {
		t := ev.Start.Add(dur)
		return &t, nil
	}

	if exp == nil {
		return nil, &Error{
			Type:    ErrInvalidInput,
			Message: "recurring event needs an expander to compute its last date",
		}
	}
	last, err := exp.LastOccurrence(ev.Start.In(ev.Location()), rs)
	if err != nil {
		return nil, &Error{
			Type:    ErrInvalidInput,
			Message: "cannot determine last occurrence",
			Err:     err,
		}
	}
	if last.IsAbsent() {
		return nil, nil
	}
	t := last.MustGet().Add(dur)
	return &t, nil
}
