package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// farFuture bounds searches for the final occurrence of rules that are
// finite but have no occurrence near the present.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// RuleExpander implements Expander on top of rrule-go.
type RuleExpander struct {
	config ExpanderConfig
}

// NewExpander creates an expander with the default configuration.
func NewExpander() *RuleExpander {
	return &RuleExpander{config: DefaultExpanderConfig}
}

// NewExpanderWithConfig creates an expander with custom configuration.
func NewExpanderWithConfig(config ExpanderConfig) *RuleExpander {
	return &RuleExpander{config: config}
}

// Expand returns the occurrence starts of rs anchored at start that
// fall in [begin, end), ascending and deduplicated.
func (e *RuleExpander) Expand(start time.Time, rs RuleSet, begin, end time.Time) ([]time.Time, error) {
	if !end.After(begin) {
		return nil, nil
	}

	seen := make(map[int64]struct{})
	var candidates []time.Time
	add := func(t time.Time) {
		if t.Before(begin) || !t.Before(end) {
			return
		}
		if _, dup := seen[t.UnixNano()]; dup {
			return
		}
		seen[t.UnixNano()] = struct{}{}
		candidates = append(candidates, t)
	}

	// The anchor is an occurrence even when the rule pattern would not
	// generate it.
	add(start)

	if rs.RRule != "" {
		rule, err := parseRule(start, rs.RRule)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RRULE %q: %w", rs.RRule, err)
		}
		for _, t := range rule.Between(begin, end, true) {
			add(t)
		}
	}
	for _, d := range ParseDateList(rs.RDate) {
		add(d.Time)
	}

	var exruleTimes []time.Time
	if rs.ExRule != "" {
		exrule, err := parseRule(start, rs.ExRule)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EXRULE %q: %w", rs.ExRule, err)
		}
		exruleTimes = exrule.Between(begin, end, true)
	}
	exdates := ParseDateList(rs.ExDate)

	out := candidates[:0]
	for _, t := range candidates {
		if isExcluded(t, exdates) || containsInstant(exruleTimes, t) {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if max := e.config.MaxOccurrences; max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// LastOccurrence returns the start of the final occurrence of rs, or
// None when the rule never ends. Exclusions are ignored.
func (e *RuleExpander) LastOccurrence(start time.Time, rs RuleSet) (mo.Option[time.Time], error) {
	last := start
	if rs.RRule != "" {
		rule, err := parseRule(start, rs.RRule)
		if err != nil {
			return mo.None[time.Time](), fmt.Errorf("failed to parse RRULE %q: %w", rs.RRule, err)
		}
		opts := rule.OrigOptions
		if opts.Count == 0 && opts.Until.IsZero() {
			return mo.None[time.Time](), nil
		}
		if t := rule.Before(farFuture, true); !t.IsZero() && t.After(last) {
			last = t
		}
	}
	for _, d := range ParseDateList(rs.RDate) {
		if d.Time.After(last) {
			last = d.Time
		}
	}
	return mo.Some(last), nil
}

// parseRule builds a rule anchored at start. Anchoring with DTStart
// rather than a serialized DTSTART line keeps the anchor's zone, so
// BYDAY and friends resolve in the event's own zone.
func parseRule(start time.Time, text string) (*rrule.RRule, error) {
	rule, err := rrule.StrToRRule(text)
	if err != nil {
		return nil, err
	}
	rule.DTStart(start)
	return rule, nil
}

// DateValue is one entry of a stored date list. Date-only entries sit
// at midnight UTC and keep their whole-day meaning for exclusion
// matching, distinct from an instant that merely falls on midnight.
type DateValue struct {
	Time     time.Time
	DateOnly bool
}

// ParseDateList parses a comma separated RDATE or EXDATE value in its
// stored form. Entries are "20060102T150405Z" timestamps or date-only
// "20060102" values, which become midnight UTC with DateOnly set.
// Unparseable entries are skipped.
func ParseDateList(value string) []DateValue {
	if value == "" {
		return nil
	}

	var dates []DateValue
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if t, err := time.Parse("20060102T150405Z", s); err == nil {
			dates = append(dates, DateValue{Time: t})
			continue
		}
		t, err := time.Parse("20060102", s)
		if err != nil {
			continue
		}
		dates = append(dates, DateValue{
			Time:     time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			DateOnly: true,
		})
	}
	return dates
}

// isExcluded checks if a given time is in the exdate list. Date-only
// exdates match an occurrence anywhere in that UTC day.
func isExcluded(t time.Time, exdates []DateValue) bool {
	for _, ex := range exdates {
		if t.Equal(ex.Time) {
			return true
		}
		if ex.DateOnly {
			u := t.UTC()
			dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
			if dayStart.Equal(ex.Time) {
				return true
			}
		}
	}
	return false
}

func containsInstant(list []time.Time, t time.Time) bool {
	for _, x := range list {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
