package storage

import (
	"fmt"
	"time"

	"github.com/helioform/calstore/recurrence"
)

// Error types
type ErrorType string

const (
	ErrNotFound     ErrorType = "not_found"
	ErrInvalidInput ErrorType = "invalid_input"
	ErrUnavailable  ErrorType = "unavailable"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is the confirmation state of an event.
type Status int

const (
	StatusTentative Status = 0
	StatusConfirmed Status = 1
	// StatusCanceled marks an event that produces no instances. On an
	// exception row it also suppresses the base occurrence it overrides.
	StatusCanceled Status = 2
)

// String provides a human-readable representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusTentative:
		return "tentative"
	case StatusConfirmed:
		return "confirmed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Event is one row of the event table: a plain event, a recurring event
// definition, or an exception that overrides a single occurrence of a
// recurring event.
type Event struct {
	// ID is the local row id. PutEvent assigns one when it is zero.
	ID int64
	// CalendarID groups events for filtered instance queries.
	CalendarID int64
	// SyncID is the provider-assigned id shared across devices.
	// Empty for events that have never been synced.
	SyncID string
	// Summary is the display title.
	Summary string
	// Start is the start instant. The zero value means the row has no
	// start time yet, e.g. a placeholder created by a sync adapter.
	Start time.Time
	// End is the end instant. Nil when the event is defined by Duration
	// instead. Recurring events must use Duration.
	End *time.Time
	// Duration is an RFC 2445 duration string such as "P1D" or "PT1H".
	Duration string
	// Timezone is the IANA zone the event was authored in. Empty means
	// floating time, which is evaluated in UTC.
	Timezone string
	// AllDay marks date-only events. Their instants are UTC midnights.
	AllDay bool

	// Recurrence properties in their iCalendar text form.
	RRule  string
	RDate  string
	ExRule string
	ExDate string

	// OriginalSyncID names the recurring event this exception overrides.
	// Empty on non-exception rows.
	OriginalSyncID string
	// OriginalTime is the start instant of the overridden occurrence.
	OriginalTime *time.Time

	Status Status

	// LastDate is the end instant of the event's final occurrence, nil
	// for unbounded recurrences. Stores maintain it on write so window
	// queries can cheaply skip events that ended before the window.
	LastDate *time.Time
}

// IsRecurring reports whether the event defines repeated occurrences.
func (e *Event) IsRecurring() bool {
	return e.RRule != "" || e.RDate != ""
}

// IsException reports whether the event overrides one occurrence of a
// recurring event. Both the target event and the target occurrence must
// be known.
func (e *Event) IsException() bool {
	return e.OriginalSyncID != "" && e.OriginalTime != nil
}

// InRecurrenceFamily reports whether changing the event requires
// re-expanding its whole recurrence family. True for recurring events
// and for exceptions, including partially filled-in ones.
func (e *Event) InRecurrenceFamily() bool {
	return e.IsRecurring() || e.OriginalSyncID != ""
}

// Location returns the zone recurrence rules of this event are
// evaluated in. All-day and floating events are anchored to UTC, and
// unknown zone names fall back to UTC.
func (e *Event) Location() *time.Location {
	if e.AllDay || e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RuleSet collects the event's recurrence properties for expansion.
func (e *Event) RuleSet() recurrence.RuleSet {
	return recurrence.RuleSet{
		RRule:  e.RRule,
		RDate:  e.RDate,
		ExRule: e.ExRule,
		ExDate: e.ExDate,
	}
}

// Instance is one materialized occurrence of an event. Begin and End
// are instants. The day and minute fields are projections of those
// instants into the zone the cache was built in (UTC for all-day
// events), precomputed for day-grid queries.
type Instance struct {
	EventID int64
	Begin   time.Time
	End     time.Time
	// StartDay and EndDay are Julian day numbers.
	StartDay int
	EndDay   int
	// StartMinute and EndMinute are minutes since local midnight.
	StartMinute int
	EndMinute   int
}

// Window records the span of time the instance table currently covers
// and the zone its day fields were computed in. The zero value means
// the table holds no usable expansion.
type Window struct {
	Timezone string
	Min      time.Time
	Max      time.Time
}

// Empty reports whether the instance table holds no usable expansion.
func (w Window) Empty() bool {
	return w.Max.IsZero()
}

// Covers reports whether [begin, end] lies entirely inside the window.
func (w Window) Covers(begin, end time.Time) bool {
	return !w.Empty() && !begin.Before(w.Min) && !end.After(w.Max)
}
