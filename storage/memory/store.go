package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/helioform/calstore/recurrence"
	"github.com/helioform/calstore/storage"
)

// Store implements an in-memory event and instance store
type Store struct {
	mu        sync.RWMutex
	events    map[int64]*storage.Event
	instances map[instanceKey]storage.Instance
	window    storage.Window
	nextID    int64
	expander  recurrence.Expander
	logger    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// instanceKey mirrors the uniqueness of a materialized occurrence: one
// row per event and span.
type instanceKey struct {
	eventID int64
	begin   int64 // unix milliseconds
	end     int64
}

func keyOf(inst storage.Instance) instanceKey {
	return instanceKey{
		eventID: inst.EventID,
		begin:   inst.Begin.UnixMilli(),
		end:     inst.End.UnixMilli(),
	}
}

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		events:    make(map[int64]*storage.Event),
		instances: make(map[instanceKey]storage.Instance),
		expander:  recurrence.NewExpander(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExpander sets the recurrence expander used to maintain last dates
func WithExpander(exp recurrence.Expander) Option {
	return func(s *Store) {
		if exp != nil {
			s.expander = exp
		}
	}
}

// PutEvent inserts or replaces an event. A zero ID is assigned the next
// free one, and the event's LastDate is recomputed, both written back
// into ev.
func (s *Store) PutEvent(_ context.Context, ev *storage.Event) error {
	last, err := storage.LastDate(ev, s.expander)
	if err != nil {
		s.logger.Warn("rejecting event",
			"event_id", ev.ID,
			"error", err)
		return err
	}
	ev.LastDate = last

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == 0 {
		s.nextID++
		ev.ID = s.nextID
	} else if ev.ID > s.nextID {
		s.nextID = ev.ID
	}
	s.events[ev.ID] = cloneEvent(ev)

	s.logger.Debug("event stored",
		"event_id", ev.ID)
	return nil
}

// GetEvent returns a copy of the event with the given id.
func (s *Store) GetEvent(_ context.Context, id int64) (*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: fmt.Sprintf("no event with id %d", id),
		}
	}
	return cloneEvent(ev), nil
}

// DeleteEvent removes an event and all of its instances.
func (s *Store) DeleteEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: fmt.Sprintf("no event with id %d", id),
		}
	}
	delete(s.events, id)
	for key := range s.instances {
		if key.eventID == id {
			delete(s.instances, key)
		}
	}

	s.logger.Debug("event deleted",
		"event_id", id)
	return nil
}

// EventsInWindow implements storage.EventSource.
func (s *Store) EventsInWindow(_ context.Context, begin, end time.Time, lookBack time.Duration) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Event
	for _, ev := range s.events {
		if eventInWindow(ev, begin, end, lookBack) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// eventInWindow reports whether an event can contribute occurrences to
// [begin, end]: its own span crosses the range, or it overrides an
// occurrence that started up to lookBack before it.
func eventInWindow(ev *storage.Event, begin, end time.Time, lookBack time.Duration) bool {
	if ev.Start.IsZero() {
		return false
	}
	if !ev.Start.After(end) && (ev.LastDate == nil || !ev.LastDate.Before(begin)) {
		return true
	}
	return ev.OriginalTime != nil &&
		!ev.OriginalTime.After(end) &&
		!ev.OriginalTime.Before(begin.Add(-lookBack))
}

// FamilyEvents implements storage.EventSource. An empty syncID means
// the event was never synced and forms a family of one.
func (s *Store) FamilyEvents(_ context.Context, syncID string, eventID int64) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if syncID == "" {
		ev, ok := s.events[eventID]
		if !ok {
			return nil, nil
		}
		return []*storage.Event{cloneEvent(ev)}, nil
	}

	var out []*storage.Event
	for _, ev := range s.events {
		if ev.SyncID == syncID || ev.OriginalSyncID == syncID {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReplaceInstances upserts the given rows, one per event and span.
func (s *Store) ReplaceInstances(_ context.Context, instances []storage.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range instances {
		s.instances[keyOf(inst)] = inst
	}
	return nil
}

// DeleteInstancesByEvent removes all instances of one event.
func (s *Store) DeleteInstancesByEvent(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.instances {
		if key.eventID == eventID {
			delete(s.instances, key)
		}
	}
	return nil
}

// DeleteInstancesByFamily removes the instances of every event in a
// recurrence family.
func (s *Store) DeleteInstancesByFamily(_ context.Context, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[int64]bool)
	for id, ev := range s.events {
		if ev.SyncID == syncID || ev.OriginalSyncID == syncID {
			members[id] = true
		}
	}
	for key := range s.instances {
		if members[key.eventID] {
			delete(s.instances, key)
		}
	}
	return nil
}

// DeleteAllInstances empties the instance table.
func (s *Store) DeleteAllInstances(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = make(map[instanceKey]storage.Instance)

	s.logger.Debug("instance table cleared")
	return nil
}

// Instances returns the instances overlapping [begin, end], ordered by
// begin time then event id.
func (s *Store) Instances(_ context.Context, begin, end time.Time, opts *storage.QueryOptions) ([]storage.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Instance
	for _, inst := range s.instances {
		if inst.Begin.After(end) || inst.End.Before(begin) {
			continue
		}
		if !s.calendarMatchLocked(inst.EventID, opts) {
			continue
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out, nil
}

// InstancesByDay returns the instances whose day span overlaps
// [startDay, endDay].
func (s *Store) InstancesByDay(_ context.Context, startDay, endDay int, opts *storage.QueryOptions) ([]storage.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Instance
	for _, inst := range s.instances {
		if inst.StartDay > endDay || inst.EndDay < startDay {
			continue
		}
		if !s.calendarMatchLocked(inst.EventID, opts) {
			continue
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out, nil
}

// BusyDays returns the Julian days in [startDay, endDay] covered by at
// least one instance, ascending.
func (s *Store) BusyDays(_ context.Context, startDay, endDay int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]bool)
	for _, inst := range s.instances {
		lo, hi := inst.StartDay, inst.EndDay
		if lo < startDay {
			lo = startDay
		}
		if hi > endDay {
			hi = endDay
		}
		for d := lo; d <= hi; d++ {
			seen[d] = true
		}
	}

	days := make([]int, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Ints(days)
	return days, nil
}

// Window implements storage.MetaStore.
func (s *Store) Window(_ context.Context) (storage.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window, nil
}

// SetWindow implements storage.MetaStore.
func (s *Store) SetWindow(_ context.Context, w storage.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	return nil
}

// ClearWindow implements storage.MetaStore.
func (s *Store) ClearWindow(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = storage.Window{}
	return nil
}

func (s *Store) calendarMatchLocked(eventID int64, opts *storage.QueryOptions) bool {
	if opts == nil || len(opts.CalendarIDs) == 0 {
		return true
	}
	ev, ok := s.events[eventID]
	if !ok {
		return false
	}
	for _, id := range opts.CalendarIDs {
		if ev.CalendarID == id {
			return true
		}
	}
	return false
}

func sortInstances(list []storage.Instance) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Begin.Equal(list[j].Begin) {
			return list[i].Begin.Before(list[j].Begin)
		}
		return list[i].EventID < list[j].EventID
	})
}

func cloneEvent(ev *storage.Event) *storage.Event {
	dup := *ev
	if ev.End != nil {
		end := *ev.End
		dup.End = &end
	}
	if ev.OriginalTime != nil {
		t := *ev.OriginalTime
		dup.OriginalTime = &t
	}
	if ev.LastDate != nil {
		t := *ev.LastDate
		dup.LastDate = &t
	}
	return &dup
}
