package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/helioform/calstore/ical"
	"github.com/helioform/calstore/instance"
	"github.com/helioform/calstore/storage"
	"github.com/helioform/calstore/storage/memory"
	"github.com/helioform/calstore/storage/sqlite"
)

// sampleICS is the demo calendar loaded at startup: a weekday standup
// with one cancelled day and one moved occurrence, a one-off
// appointment and an all-day conference.
const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calstore//Example//EN
BEGIN:VEVENT
UID:standup
SUMMARY:Daily standup
DTSTART;TZID=Europe/Berlin:20240108T091500
DTEND;TZID=Europe/Berlin:20240108T093000
RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR;UNTIL=20240301T000000Z
EXDATE;TZID=Europe/Berlin:20240115T091500
END:VEVENT
BEGIN:VEVENT
UID:standup
SUMMARY:Standup (moved for the offsite)
RECURRENCE-ID;TZID=Europe/Berlin:20240117T091500
DTSTART;TZID=Europe/Berlin:20240117T140000
DTEND;TZID=Europe/Berlin:20240117T141500
END:VEVENT
BEGIN:VEVENT
UID:dentist
SUMMARY:Dentist
DTSTART;TZID=Europe/Berlin:20240116T110000
DTEND;TZID=Europe/Berlin:20240116T114500
END:VEVENT
BEGIN:VEVENT
UID:fosdem
SUMMARY:FOSDEM
DTSTART;VALUE=DATE:20240203
DTEND;VALUE=DATE:20240205
END:VEVENT
END:VCALENDAR`

func main() {
	dbPath := flag.String("db", "", "SQLite database path (empty runs in memory)")
	days := flag.Int("days", 14, "number of days to list")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	store, cleanup, err := openStore(*dbPath, logger)
	if err != nil {
		fail(logger, "failed to open store", err)
	}
	defer cleanup()

	cache := instance.NewCache(store, instance.WithLogger(logger))

	// Load the sample calendar. Notifying the cache after each write is
	// the normal contract; with no window built yet the calls are
	// no-ops.
	events, err := ical.Decode(strings.NewReader(sampleICS))
	if err != nil {
		fail(logger, "failed to decode sample calendar", err)
	}
	byID := make(map[int64]*storage.Event, len(events))
	for _, ev := range events {
		ev.CalendarID = 1
		if err := store.PutEvent(ctx, ev); err != nil {
			fail(logger, "failed to store event", err)
		}
		if err := cache.EventInserted(ctx, ev); err != nil {
			fail(logger, "failed to notify cache", err)
		}
		byID[ev.ID] = ev
	}
	logger.Info("loaded sample calendar", "events", len(events))

	// The sample data lives in January 2024, so list from there.
	begin := time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local)
	end := begin.AddDate(0, 0, *days)

	list, err := cache.Instances(ctx, begin, end, nil)
	if err != nil {
		fail(logger, "failed to query instances", err)
	}
	fmt.Printf("Schedule %s to %s:\n", begin.Format("Jan 2"), end.Format("Jan 2"))
	printSchedule(list, byID)

	// A write against the already built window updates the instance
	// table incrementally.
	lunchDay := time.Date(2024, 1, 18, 12, 30, 0, 0, time.Local)
	lunchEnd := lunchDay.Add(time.Hour)
	lunch := &storage.Event{
		CalendarID: 1,
		Summary:    "Lunch with Sam",
		Start:      lunchDay,
		End:        &lunchEnd,
		Timezone:   time.Local.String(),
	}
	if err := store.PutEvent(ctx, lunch); err != nil {
		fail(logger, "failed to store event", err)
	}
	if err := cache.EventInserted(ctx, lunch); err != nil {
		fail(logger, "failed to notify cache", err)
	}
	byID[lunch.ID] = lunch

	day := instance.JulianDay(lunchDay)
	list, err = cache.InstancesByDay(ctx, day, day, nil)
	if err != nil {
		fail(logger, "failed to query instances", err)
	}
	fmt.Printf("\nAfter inserting %q:\n", lunch.Summary)
	printSchedule(list, byID)

	busy, err := cache.BusyDays(ctx, instance.JulianDay(begin), instance.JulianDay(end))
	if err != nil {
		fail(logger, "failed to query busy days", err)
	}
	fmt.Printf("\n%d of the next %d days have at least one event\n", len(busy), *days)
}

func openStore(path string, logger *slog.Logger) (storage.Store, func(), error) {
	if path == "" {
		return memory.New(memory.WithLogger(logger)), func() {}, nil
	}
	st, err := sqlite.Open(path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}

func printSchedule(list []storage.Instance, byID map[int64]*storage.Event) {
	day := 0
	for _, inst := range list {
		ev := byID[inst.EventID]
		if ev == nil {
			continue
		}
		if inst.StartDay != day {
			day = inst.StartDay
			fmt.Printf("\n%s\n", instance.DayStart(day, time.Local).Format("Mon 02 Jan 2006"))
		}
		if ev.AllDay {
			fmt.Printf("  all day      %s\n", ev.Summary)
			continue
		}
		fmt.Printf("  %s-%s  %s\n",
			inst.Begin.In(time.Local).Format("15:04"),
			inst.End.In(time.Local).Format("15:04"),
			ev.Summary)
	}
}

func fail(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
