package memory

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/helioform/calstore/storage"
)

func testEvent(summary string, start time.Time, dur time.Duration) *storage.Event {
	end := start.Add(dur)
	return &storage.Event{
		Summary:  summary,
		Start:    start,
		End:      &end,
		Timezone: "UTC",
	}
}

func summaries(events []*storage.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Summary)
	}
	return out
}

func TestStore_PutAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	ev := testEvent("standup", start, 30*time.Minute)

	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID == 0 {
		t.Error("expected an assigned id")
	}
	if ev.LastDate == nil || !ev.LastDate.Equal(start.Add(30*time.Minute)) {
		t.Errorf("got last date %v, want %v", ev.LastDate, start.Add(30*time.Minute))
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Summary != "standup" {
		t.Errorf("got summary %q, want standup", got.Summary)
	}

	// The store hands out copies, not aliases.
	got.Summary = "changed"
	again, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Summary != "standup" {
		t.Errorf("got summary %q after mutating a copy, want standup", again.Summary)
	}
}

func TestStore_GetMissing(t *testing.T) {
	_, err := New().GetEvent(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error getting non-existent event")
	}
	if err.(*storage.Error).Type != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_PutComputesLastDate(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	// A counted recurrence ends after its last occurrence.
	counted := &storage.Event{
		Summary:  "daily",
		Start:    start,
		Duration: "PT1H",
		RRule:    "FREQ=DAILY;COUNT=5",
		SyncID:   "daily",
		Timezone: "UTC",
	}
	if err := New().PutEvent(ctx, counted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	if counted.LastDate == nil || !counted.LastDate.Equal(want) {
		t.Errorf("got last date %v, want %v", counted.LastDate, want)
	}

	// An unbounded recurrence has none.
	forever := &storage.Event{
		Summary:  "forever",
		Start:    start,
		Duration: "PT1H",
		RRule:    "FREQ=DAILY",
		SyncID:   "forever",
		Timezone: "UTC",
	}
	if err := New().PutEvent(ctx, forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forever.LastDate != nil {
		t.Errorf("got last date %v for unbounded recurrence, want nil", forever.LastDate)
	}
}

func TestStore_PutValidation(t *testing.T) {
	ctx := context.Background()

	// A recurrence without a start cannot be expanded.
	err := New().PutEvent(ctx, &storage.Event{Summary: "broken", RRule: "FREQ=DAILY"})
	if err == nil {
		t.Fatal("expected error for start-less recurrence")
	}
	if err.(*storage.Error).Type != storage.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// A bare placeholder row without a start is fine.
	ev := &storage.Event{Summary: "placeholder"}
	if err := New().PutEvent(ctx, ev); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ev.LastDate != nil {
		t.Errorf("got last date %v for placeholder, want nil", ev.LastDate)
	}
}

func TestStore_DeleteEventCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	ev := testEvent("doomed", start, time.Hour)
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: ev.ID, Begin: start, End: start.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.GetEvent(ctx, ev.ID); err == nil {
		t.Error("expected error getting deleted event")
	}
	rows, err := s.Instances(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d instances after delete, want 0", len(rows))
	}

	// Deleting twice reports not found.
	if err := s.DeleteEvent(ctx, ev.ID); err == nil {
		t.Error("expected error deleting event twice")
	}
}

func TestStore_EventsInWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	begin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	origTime := time.Date(2023, 12, 28, 9, 0, 0, 0, time.UTC)
	movedEnd := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	all := []*storage.Event{
		testEvent("inside", time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), time.Hour),
		testEvent("long gone", time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC), time.Hour),
		testEvent("next month", time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC), time.Hour),
		{
			Summary:  "forever",
			Start:    time.Date(2023, 12, 25, 9, 0, 0, 0, time.UTC),
			Duration: "PT1H",
			RRule:    "FREQ=DAILY",
			SyncID:   "fam",
			Timezone: "UTC",
		},
		{
			// Overrides a late December occurrence but now sits in
			// February, so only the look-back clause can find it.
			Summary:        "moved out",
			Start:          time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC),
			End:            &movedEnd,
			Timezone:       "UTC",
			SyncID:         "fam-ex",
			OriginalSyncID: "fam",
			OriginalTime:   &origTime,
		},
		{Summary: "placeholder"},
	}
	for _, ev := range all {
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	events, err := s.EventsInWindow(ctx, begin, end, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"inside", "forever", "moved out"}
	if got := summaries(events); !reflect.DeepEqual(got, want) {
		t.Errorf("got events %v, want %v", got, want)
	}

	// Without look-back the override is invisible.
	events, err = s.EventsInWindow(ctx, begin, end, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = []string{"inside", "forever"}
	if got := summaries(events); !reflect.DeepEqual(got, want) {
		t.Errorf("got events %v, want %v", got, want)
	}
}

func TestStore_FamilyEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	base := &storage.Event{
		Summary:  "base",
		Start:    start,
		Duration: "PT1H",
		RRule:    "FREQ=DAILY;COUNT=5",
		SyncID:   "fam",
		Timezone: "UTC",
	}
	origTime := start.AddDate(0, 0, 2)
	excEnd := origTime.Add(2 * time.Hour)
	exc := &storage.Event{
		Summary:        "override",
		Start:          origTime.Add(time.Hour),
		End:            &excEnd,
		Timezone:       "UTC",
		SyncID:         "fam-ex",
		OriginalSyncID: "fam",
		OriginalTime:   &origTime,
	}
	other := testEvent("unrelated", start, time.Hour)
	for _, ev := range []*storage.Event{base, exc, other} {
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	family, err := s.FamilyEvents(ctx, "fam", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := summaries(family); !reflect.DeepEqual(got, []string{"base", "override"}) {
		t.Errorf("got family %v, want [base override]", got)
	}

	// An empty sync id names a single unsynced event by row id.
	single, err := s.FamilyEvents(ctx, "", other.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := summaries(single); !reflect.DeepEqual(got, []string{"unrelated"}) {
		t.Errorf("got family %v, want [unrelated]", got)
	}

	missing, err := s.FamilyEvents(ctx, "", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("got %d events for missing id, want 0", len(missing))
	}
}

func TestStore_ReplaceInstancesIsUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	begin := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	inst := storage.Instance{EventID: 1, Begin: begin, End: begin.Add(time.Hour)}

	if err := s.ReplaceInstances(ctx, []storage.Instance{inst}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ReplaceInstances(ctx, []storage.Instance{inst}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.Instances(ctx, begin.AddDate(0, 0, -1), begin.AddDate(0, 0, 1), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d instances after double insert, want 1", len(rows))
	}
}

func TestStore_InstancesOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time {
		return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	}

	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: 1, Begin: at(9, 0), End: at(10, 0)},
		{EventID: 2, Begin: at(10, 0), End: at(10, 30)},
		{EventID: 3, Begin: at(11, 0), End: at(11, 30)},
		{EventID: 4, Begin: at(12, 0), End: at(13, 0)},
		{EventID: 5, Begin: at(13, 0), End: at(14, 0)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Touching either edge of the range counts as overlapping.
	rows, err := s.Instances(ctx, at(10, 30), at(12, 0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{2, 3, 4}
	if len(rows) != len(want) {
		t.Fatalf("got %d instances, want %d", len(rows), len(want))
	}
	for i, id := range want {
		if rows[i].EventID != id {
			t.Errorf("instance %d: got event %d, want %d", i, rows[i].EventID, id)
		}
	}
}

func TestStore_InstancesCalendarFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	work := testEvent("work", start, time.Hour)
	work.CalendarID = 1
	home := testEvent("home", start.Add(time.Hour), time.Hour)
	home.CalendarID = 2
	for _, ev := range []*storage.Event{work, home} {
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: work.ID, Begin: start, End: start.Add(time.Hour)},
		{EventID: home.ID, Begin: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.Instances(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1),
		&storage.QueryOptions{CalendarIDs: []int64{2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != home.ID {
		t.Errorf("got %v, want only event %d", rows, home.ID)
	}
}

func TestStore_InstancesByDay(t *testing.T) {
	s := New()
	ctx := context.Background()
	begin := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: 1, Begin: begin, End: begin.AddDate(0, 0, 2), StartDay: 2460320, EndDay: 2460322},
		{EventID: 2, Begin: begin.AddDate(0, 0, 5), End: begin.AddDate(0, 0, 5), StartDay: 2460325, EndDay: 2460325},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.InstancesByDay(ctx, 2460322, 2460324, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != 1 {
		t.Errorf("got %v, want only event 1", rows)
	}

	rows, err = s.InstancesByDay(ctx, 2460323, 2460324, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d instances in empty day range, want 0", len(rows))
	}
}

func TestStore_BusyDays(t *testing.T) {
	s := New()
	ctx := context.Background()
	begin := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: 1, Begin: begin, End: begin.AddDate(0, 0, 2), StartDay: 2460320, EndDay: 2460322},
		{EventID: 2, Begin: begin.AddDate(0, 0, 5), End: begin.AddDate(0, 0, 5), StartDay: 2460325, EndDay: 2460325},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	days, err := s.BusyDays(ctx, 2460318, 2460330)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{2460320, 2460321, 2460322, 2460325}
	if !reflect.DeepEqual(days, want) {
		t.Errorf("got busy days %v, want %v", days, want)
	}

	// Days outside the asked range are clipped off.
	days, err = s.BusyDays(ctx, 2460321, 2460321)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(days, []int{2460321}) {
		t.Errorf("got busy days %v, want [2460321]", days)
	}
}

func TestStore_DeleteInstancesByFamily(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	base := &storage.Event{
		Summary:  "base",
		Start:    start,
		Duration: "PT1H",
		RRule:    "FREQ=DAILY;COUNT=5",
		SyncID:   "fam",
		Timezone: "UTC",
	}
	other := testEvent("unrelated", start, time.Hour)
	for _, ev := range []*storage.Event{base, other} {
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	err := s.ReplaceInstances(ctx, []storage.Instance{
		{EventID: base.ID, Begin: start, End: start.Add(time.Hour)},
		{EventID: base.ID, Begin: start.AddDate(0, 0, 1), End: start.AddDate(0, 0, 1).Add(time.Hour)},
		{EventID: other.ID, Begin: start, End: start.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteInstancesByFamily(ctx, "fam"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.Instances(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 7), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != other.ID {
		t.Errorf("got %v, want only event %d", rows, other.ID)
	}
}

func TestStore_WindowLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	w, err := s.Window(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Empty() {
		t.Errorf("got window %+v on a fresh store, want empty", w)
	}

	set := storage.Window{
		Timezone: "UTC",
		Min:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Max:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SetWindow(ctx, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err = s.Window(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Empty() || w.Timezone != "UTC" || !w.Min.Equal(set.Min) || !w.Max.Equal(set.Max) {
		t.Errorf("got window %+v, want %+v", w, set)
	}

	if err := s.ClearWindow(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, err = s.Window(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Empty() {
		t.Errorf("got window %+v after clear, want empty", w)
	}
}
