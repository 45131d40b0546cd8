package storage

import (
	"context"
	"time"
)

// QueryOptions narrows instance queries.
type QueryOptions struct {
	// CalendarIDs limits results to instances of events in these
	// calendars. Empty means all calendars.
	CalendarIDs []int64
}

// EventSource is the read side the expansion cache pulls candidate
// events from. Please use the error types provided.
type EventSource interface {
	// EventsInWindow returns the events that may produce instances in
	// [begin, end]. An event qualifies when its start is not after end
	// and its last date is unset or not before begin, or when it is an
	// exception whose original time lies in [begin-lookBack, end]. The
	// look-back exists because an exception can move an occurrence that
	// originally started shortly before the window into it.
	EventsInWindow(ctx context.Context, begin, end time.Time, lookBack time.Duration) ([]*Event, error)
	// FamilyEvents returns every event of one recurrence family: the
	// events whose SyncID or OriginalSyncID equals syncID. If syncID is
	// empty the family is the single unsynced event named by eventID.
	FamilyEvents(ctx context.Context, syncID string, eventID int64) ([]*Event, error)
}

// EventStore adds event CRUD on top of EventSource.
type EventStore interface {
	EventSource

	// PutEvent inserts or updates an event. A zero ID means insert and
	// the assigned id is written back to ev. Stores constructed with an
	// expander recompute ev.LastDate here.
	PutEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id int64) (*Event, error)
	// DeleteEvent removes an event and cascades to its instances.
	DeleteEvent(ctx context.Context, id int64) error
}

// InstanceStore holds the materialized occurrences of events.
type InstanceStore interface {
	// ReplaceInstances upserts the given instances. A row with the same
	// event id, begin and end as an existing one replaces it, so
	// re-expanding overlapping ranges stays idempotent.
	ReplaceInstances(ctx context.Context, instances []Instance) error
	DeleteInstancesByEvent(ctx context.Context, eventID int64) error
	// DeleteInstancesByFamily removes the instances of every event whose
	// SyncID or OriginalSyncID equals syncID.
	DeleteInstancesByFamily(ctx context.Context, syncID string) error
	DeleteAllInstances(ctx context.Context) error

	// Instances returns instances overlapping [begin, end], ordered by
	// begin then event id.
	Instances(ctx context.Context, begin, end time.Time, opts *QueryOptions) ([]Instance, error)
	// InstancesByDay returns instances whose day span overlaps
	// [startDay, endDay], both Julian day numbers.
	InstancesByDay(ctx context.Context, startDay, endDay int, opts *QueryOptions) ([]Instance, error)
	// BusyDays returns the distinct Julian days in [startDay, endDay]
	// covered by at least one instance, ascending.
	BusyDays(ctx context.Context, startDay, endDay int) ([]int, error)
}

// MetaStore persists the cache coverage window. There is exactly one
// window per store.
type MetaStore interface {
	Window(ctx context.Context) (Window, error)
	SetWindow(ctx context.Context, w Window) error
	// ClearWindow resets the window to empty, forcing the next
	// acquisition to rebuild the instance table from scratch.
	ClearWindow(ctx context.Context) error
}

// Store is the full backend contract: events, instances and cache
// metadata over the same underlying state.
type Store interface {
	EventStore
	InstanceStore
	MetaStore
}
