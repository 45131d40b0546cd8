// Package ical converts iCalendar objects into event rows.
package ical

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/helioform/calstore/storage"
)

// Decode reads an iCalendar stream and returns one event per VEVENT.
// Components other than VEVENT are skipped. Events without a UID get a
// generated one so they can still anchor a recurrence family.
func Decode(r io.Reader) ([]*storage.Event, error) {
	dec := ics.NewDecoder(r)

	var events []*storage.Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: "malformed icalendar stream",
				Err:     err,
			}
		}
		for _, child := range cal.Children {
			if child.Name != ics.CompEvent {
				continue
			}
			ev, err := decodeEvent(child)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func decodeEvent(comp *ics.Component) (*storage.Event, error) {
	ev := &storage.Event{}

	uid := propValue(comp, ics.PropUID)
	if uid == "" {
		uid = uuid.NewString()
	}
	ev.SyncID = uid
	ev.Summary = propValue(comp, ics.PropSummary)

	switch strings.ToUpper(propValue(comp, ics.PropStatus)) {
	case "CANCELLED":
		ev.Status = storage.StatusCanceled
	case "TENTATIVE":
		ev.Status = storage.StatusTentative
	default:
		ev.Status = storage.StatusConfirmed
	}

	if start := comp.Props.Get(ics.PropDateTimeStart); start != nil {
		t, allDay, tzid, err := decodeTime(start)
		if err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: fmt.Sprintf("bad DTSTART in event %s", uid),
				Err:     err,
			}
		}
		ev.Start = t
		ev.AllDay = allDay
		ev.Timezone = tzid
	}

	ev.RRule = propValue(comp, ics.PropRecurrenceRule)
	ev.RDate = dateListValue(comp.Props[ics.PropRecurrenceDates])
	ev.ExRule = propValue(comp, "EXRULE")
	ev.ExDate = dateListValue(comp.Props[ics.PropExceptionDates])

	if rid := comp.Props.Get("RECURRENCE-ID"); rid != nil {
		t, _, _, err := decodeTime(rid)
		if err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: fmt.Sprintf("bad RECURRENCE-ID in event %s", uid),
				Err:     err,
			}
		}
		ev.OriginalSyncID = uid
		ev.OriginalTime = &t
		// Exceptions need their own sync id, distinct from the base
		// event they override.
		ev.SyncID = uid + "#" + t.UTC().Format("20060102T150405Z")
	}

	if end := comp.Props.Get(ics.PropDateTimeEnd); end != nil {
		t, _, _, err := decodeTime(end)
		if err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: fmt.Sprintf("bad DTEND in event %s", uid),
				Err:     err,
			}
		}
		if ev.AllDay && !t.After(ev.Start) {
			// Some producers write DTEND equal to DTSTART for a one
			// day event instead of the exclusive next day.
			t = ev.Start.AddDate(0, 0, 1)
		}
		if ev.IsRecurring() {
			// Recurring events carry a duration so every occurrence
			// derives its own end.
			ev.Duration = durationString(t.Sub(ev.Start), ev.AllDay)
		} else {
			ev.End = &t
		}
	} else if dur := comp.Props.Get(ics.PropDuration); dur != nil {
		ev.Duration = strings.TrimSpace(dur.Value)
	}

	return ev, nil
}

// decodeTime parses a date-time property honoring VALUE=DATE, a TZID
// parameter, and the trailing-Z UTC form. Floating times keep an empty
// zone name.
func decodeTime(prop *ics.Prop) (t time.Time, allDay bool, tzid string, err error) {
	value := strings.TrimSpace(prop.Value)

	if isDateProp(prop) || len(value) == 8 {
		t, err = time.ParseInLocation("20060102", value, time.UTC)
		return t, true, "UTC", err
	}
	if tz := firstParam(prop, "TZID"); tz != "" {
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			loc = time.UTC
		}
		t, err = time.ParseInLocation("20060102T150405", value, loc)
		return t, false, tz, err
	}
	if strings.HasSuffix(value, "Z") {
		t, err = time.Parse("20060102T150405Z", value)
		return t, false, "UTC", err
	}
	t, err = time.ParseInLocation("20060102T150405", value, time.UTC)
	return t, false, "", err
}

// dateListValue folds the values of repeated date-list properties into
// one comma separated list of normalized tokens.
func dateListValue(props []ics.Prop) string {
	var tokens []string
	for _, prop := range props {
		dateOnly := isDateProp(&prop)
		tzid := firstParam(&prop, "TZID")
		for _, raw := range strings.Split(prop.Value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if tok := normalizeDateToken(raw, tzid, dateOnly); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return strings.Join(tokens, ",")
}

// normalizeDateToken rewrites one RDATE or EXDATE entry into either
// 20060102T150405Z for instants or 20060102 for whole days. Entries
// that parse in no known form are dropped.
func normalizeDateToken(raw, tzid string, dateOnly bool) string {
	if dateOnly || len(raw) == 8 {
		if _, err := time.Parse("20060102", raw); err != nil {
			return ""
		}
		return raw
	}
	if strings.HasSuffix(raw, "Z") {
		if _, err := time.Parse("20060102T150405Z", raw); err != nil {
			return ""
		}
		return raw
	}
	loc := time.UTC
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", raw, loc)
	if err != nil {
		return ""
	}
	return t.UTC().Format("20060102T150405Z")
}

func durationString(d time.Duration, allDay bool) string {
	if allDay {
		return fmt.Sprintf("P%dD", int64(d/(24*time.Hour)))
	}
	return fmt.Sprintf("P%dS", int64(d/time.Second))
}

func propValue(comp *ics.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

func isDateProp(prop *ics.Prop) bool {
	vals := prop.Params["VALUE"]
	return len(vals) > 0 && strings.EqualFold(vals[0], "DATE")
}

func firstParam(prop *ics.Prop, name string) string {
	vals := prop.Params[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
