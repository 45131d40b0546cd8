package instance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/helioform/calstore/recurrence"
	"github.com/helioform/calstore/storage"
)

// Backend is the slice of the storage contract the cache drives.
type Backend interface {
	storage.EventSource
	storage.InstanceStore
	storage.MetaStore
}

// Cache keeps the instance table covering a window of time and answers
// occurrence queries from it, expanding events on demand. Queries for
// ranges already inside the window touch no event data at all.
//
// Every operation serializes on an internal lock, so checking coverage
// and extending it is atomic with respect to other callers.
type Cache struct {
	mu       sync.Mutex
	backend  Backend
	expander recurrence.Expander
	config   Config
	logger   *slog.Logger
}

// NewCache creates a cache over the given backend.
func NewCache(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		expander: recurrence.NewExpander(),
		config:   DefaultConfig,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.config = c.config.withDefaults()
	return c
}

// Option represents a configuration option for the Cache
type Option func(*Cache)

// WithLogger sets the logger for the cache
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfig replaces the default tuning configuration
func WithConfig(config Config) Option {
	return func(c *Cache) {
		c.config = config
	}
}

// WithExpander replaces the default recurrence expander
func WithExpander(exp recurrence.Expander) Option {
	return func(c *Cache) {
		if exp != nil {
			c.expander = exp
		}
	}
}

// AcquireRange ensures the instance table covers [begin, end],
// rebuilding or extending it as needed. Acquiring an already covered
// range writes nothing.
func (c *Cache) AcquireRange(ctx context.Context, begin, end time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireLocked(ctx, begin, end)
}

func (c *Cache) acquireLocked(ctx context.Context, begin, end time.Time) error {
	if end.Before(begin) {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "range end before begin",
		}
	}

	paddedBegin, paddedEnd := padRange(begin, end, c.config.MinExpansionSpan)
	loc := c.config.LocalZone()

	w, err := c.backend.Window(ctx)
	if err != nil {
		c.logger.Warn("cache window unreadable, rebuilding",
			"error", err)
		w = storage.Window{}
	}

	if w.Empty() || w.Timezone != loc.String() {
		if err := c.backend.DeleteAllInstances(ctx); err != nil {
			return fmt.Errorf("failed to clear instance table: %w", err)
		}
		if err := c.expandInto(ctx, paddedBegin, paddedEnd, loc); err != nil {
			return err
		}
		return c.backend.SetWindow(ctx, storage.Window{
			Timezone: loc.String(),
			Min:      paddedBegin,
			Max:      paddedEnd,
		})
	}

	// Coverage is judged on the requested range, not the padded one.
	if w.Covers(begin, end) {
		return nil
	}

	min, max := w.Min, w.Max
	if begin.Before(min) {
		if err := c.expandInto(ctx, paddedBegin, min, loc); err != nil {
			return err
		}
		min = paddedBegin
	}
	if end.After(max) {
		if err := c.expandInto(ctx, max, paddedEnd, loc); err != nil {
			return err
		}
		max = paddedEnd
	}
	return c.backend.SetWindow(ctx, storage.Window{Timezone: w.Timezone, Min: min, Max: max})
}

// expandInto materializes the instances of [begin, end] into the
// backend, projecting day fields in loc.
func (c *Cache) expandInto(ctx context.Context, begin, end time.Time, loc *time.Location) error {
	events, err := c.backend.EventsInWindow(ctx, begin, end, c.config.MaxAssumedDuration)
	if err != nil {
		return fmt.Errorf("failed to fetch candidate events: %w", err)
	}
	instances := resolveOverlay(c.logger, c.expander, c.config.MaxAssumedDuration, events, begin, end, loc)
	if len(instances) == 0 {
		return nil
	}
	if err := c.backend.ReplaceInstances(ctx, instances); err != nil {
		return fmt.Errorf("failed to write instances: %w", err)
	}
	return nil
}

// Instances returns the instances overlapping [begin, end], expanding
// first when the range is not covered yet.
func (c *Cache) Instances(ctx context.Context, begin, end time.Time, opts *storage.QueryOptions) ([]storage.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquireLocked(ctx, begin, end); err != nil {
		return nil, err
	}
	return c.backend.Instances(ctx, begin, end, opts)
}

// InstancesByDay returns the instances whose day span overlaps
// [startDay, endDay], both Julian days in the cache zone.
func (c *Cache) InstancesByDay(ctx context.Context, startDay, endDay int, opts *storage.QueryOptions) ([]storage.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.config.LocalZone()
	if err := c.acquireLocked(ctx, DayStart(startDay, loc), DayStart(endDay+1, loc)); err != nil {
		return nil, err
	}
	return c.backend.InstancesByDay(ctx, startDay, endDay, opts)
}

// BusyDays returns the Julian days in [startDay, endDay] that hold at
// least one instance.
func (c *Cache) BusyDays(ctx context.Context, startDay, endDay int) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.config.LocalZone()
	if err := c.acquireLocked(ctx, DayStart(startDay, loc), DayStart(endDay+1, loc)); err != nil {
		return nil, err
	}
	return c.backend.BusyDays(ctx, startDay, endDay)
}

// EventInserted tells the cache a new event row was written, so it can
// patch the covered window instead of re-expanding everything.
func (c *Cache) EventInserted(ctx context.Context, ev *storage.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventChangedLocked(ctx, ev, true)
}

// EventUpdated tells the cache an existing event row was rewritten. The
// event's stale instances are dropped and rebuilt where the window
// needs them.
func (c *Cache) EventUpdated(ctx context.Context, ev *storage.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventChangedLocked(ctx, ev, false)
}

func (c *Cache) eventChangedLocked(ctx context.Context, ev *storage.Event, isNew bool) error {
	w, err := c.backend.Window(ctx)
	if err != nil {
		c.logger.Warn("cache window unreadable, invalidating",
			"error", err)
		return c.backend.ClearWindow(ctx)
	}
	if w.Empty() {
		// Nothing cached, the next acquisition expands from scratch.
		return nil
	}

	if ev.Start.IsZero() {
		if isNew {
			return &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: "new event has no start time",
			}
		}
		c.logger.Debug("event update without a start time, leaving instances alone",
			"event_id", ev.ID)
		return nil
	}

	if !isNew {
		if err := c.backend.DeleteInstancesByEvent(ctx, ev.ID); err != nil {
			return fmt.Errorf("failed to remove stale instances: %w", err)
		}
	}

	if ev.InRecurrenceFamily() {
		return c.refreshFamilyLocked(ctx, ev, w)
	}

	// Canceled events own no instances. The stale ones are already gone.
	if ev.Status == storage.StatusCanceled {
		return nil
	}

	endT := ev.Start
	if ev.End != nil {
		endT = *ev.End
	}
	if ev.Start.After(w.Max) || endT.Before(w.Min) {
		return nil
	}
	projLoc := c.windowLocation(w)
	if ev.AllDay {
		projLoc = time.UTC
	}
	inst := newInstance(ev.ID, ev.Start, endT, projLoc)
	if err := c.backend.ReplaceInstances(ctx, []storage.Instance{inst}); err != nil {
		return fmt.Errorf("failed to write instance: %w", err)
	}
	return nil
}

// refreshFamilyLocked re-derives the instances of one recurrence family
// inside the covered window after a member changed.
func (c *Cache) refreshFamilyLocked(ctx context.Context, ev *storage.Event, w storage.Window) error {
	syncID := ev.OriginalSyncID
	if syncID == "" {
		syncID = ev.SyncID
	}

	// Either the changed definition reaches into the window, or the
	// occurrence an exception overrides does. Otherwise the change
	// cannot alter what the window shows, and the row's own stale
	// instances are already gone.
	insideWindow := !ev.Start.After(w.Max) &&
		(ev.LastDate == nil || !ev.LastDate.Before(w.Min))
	affectsWindow := ev.OriginalTime != nil &&
		!ev.OriginalTime.After(w.Max) &&
		!ev.OriginalTime.Before(w.Min.Add(-c.config.MaxAssumedDuration))
	if !insideWindow && !affectsWindow {
		return nil
	}

	// Delete and re-expansion are one unit. Dropping the family's
	// instances without rebuilding them would leave a window that
	// claims coverage it no longer has.
	if syncID == "" {
		if err := c.backend.DeleteInstancesByEvent(ctx, ev.ID); err != nil {
			return fmt.Errorf("failed to remove family instances: %w", err)
		}
	} else {
		if err := c.backend.DeleteInstancesByFamily(ctx, syncID); err != nil {
			return fmt.Errorf("failed to remove family instances: %w", err)
		}
	}

	events, err := c.backend.FamilyEvents(ctx, syncID, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch recurrence family: %w", err)
	}
	instances := resolveOverlay(c.logger, c.expander, c.config.MaxAssumedDuration,
		events, w.Min, w.Max, c.windowLocation(w))
	if len(instances) == 0 {
		return nil
	}
	if err := c.backend.ReplaceInstances(ctx, instances); err != nil {
		return fmt.Errorf("failed to write instances: %w", err)
	}
	return nil
}

// EventDeleted tells the cache an event row was removed. The row's own
// instances disappear through the store's cascade. Removing a member of
// a recurrence family invalidates the whole cache, because occurrences
// suppressed by a deleted exception have to come back.
func (c *Cache) EventDeleted(ctx context.Context, ev *storage.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.InRecurrenceFamily() {
		return c.backend.ClearWindow(ctx)
	}
	return nil
}

// InvalidateAll discards the cache coverage. The next acquisition
// rebuilds the instance table from scratch.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.ClearWindow(ctx)
}

// SyncLocalTimezone checks whether the local zone moved away from the
// zone the cache was built in, and if so rebuilds coverage around the
// current month. Call it when the process learns of a zone change, or
// periodically.
func (c *Cache) SyncLocalTimezone(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.backend.Window(ctx)
	if err != nil {
		c.logger.Warn("cache window unreadable, invalidating",
			"error", err)
		return c.backend.ClearWindow(ctx)
	}
	loc := c.config.LocalZone()
	if w.Empty() || w.Timezone == loc.String() {
		return nil
	}

	now := time.Now().In(loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	return c.acquireLocked(ctx, monthStart, monthStart.Add(c.config.MinExpansionSpan))
}

// windowLocation resolves the zone the window's instances were
// projected in.
func (c *Cache) windowLocation(w storage.Window) *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		c.logger.Warn("unknown cache window timezone, using UTC",
			"timezone", w.Timezone)
		return time.UTC
	}
	return loc
}

// padRange widens [begin, end] to at least minSpan, split evenly on
// both sides.
func padRange(begin, end time.Time, minSpan time.Duration) (time.Time, time.Time) {
	span := end.Sub(begin)
	if span >= minSpan {
		return begin, end
	}
	extra := (minSpan - span) / 2
	return begin.Add(-extra), end.Add(extra)
}
