package recurrence

import (
	"time"

	"github.com/samber/mo"
)

// RuleSet holds the recurrence properties of an event in their
// iCalendar text form, exactly as stored.
type RuleSet struct {
	// RRule is the RRULE value, e.g. "FREQ=DAILY;COUNT=5".
	RRule string
	// RDate lists additional occurrence starts, comma separated, in
	// "20060102T150405Z" or date-only "20060102" form.
	RDate string
	// ExRule is the deprecated EXRULE value. Occurrences it generates
	// are removed from the expansion.
	ExRule string
	// ExDate lists removed occurrence starts, same format as RDate.
	ExDate string
}

// HasRecurrence reports whether the set can generate occurrences beyond
// the event start itself.
func (rs RuleSet) HasRecurrence() bool {
	return rs.RRule != "" || rs.RDate != ""
}

// Expander turns a recurrence definition into concrete occurrence start
// times.
type Expander interface {
	// Expand returns the occurrence starts of the rule set anchored at
	// start that fall in [begin, end). The anchor itself is always an
	// occurrence, whether or not the rule pattern generates it. Results
	// are ascending and deduplicated.
	Expand(start time.Time, rs RuleSet, begin, end time.Time) ([]time.Time, error)
	// LastOccurrence returns the start of the final occurrence, or None
	// when the rule set never ends. Exclusion rules are ignored, so the
	// result is an upper bound on the true final occurrence.
	LastOccurrence(start time.Time, rs RuleSet) (mo.Option[time.Time], error)
}
