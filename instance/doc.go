/*
Package instance materializes the occurrences of calendar events into a
queryable cache.

Events only describe themselves: a start, a duration, recurrence rules.
Answering "what is on between Monday and Friday" requires expanding those
rules into concrete occurrences. This package keeps one contiguous window
of expanded instances in an InstanceStore and widens or rebuilds it on
demand.

# Basic Usage

Wire a Cache to a storage backend and query it:

	store := memory.New()
	cache := instance.NewCache(store)

	instances, err := cache.Instances(ctx, begin, end, nil)
	if err != nil {
		log.Fatal(err)
	}

Queries acquire coverage first: when the requested range already lies
inside the cached window nothing is written, otherwise the missing side is
expanded. Acquisition pads the requested range out to
Config.MinExpansionSpan so that scrolling through a calendar day by day
does not expand on every call.

# Keeping the cache fresh

The cache does not watch the event tables. After writing an event, tell
the cache what happened:

	if err := store.PutEvent(ctx, ev); err != nil {
		return err
	}
	if err := cache.EventInserted(ctx, ev); err != nil {
		return err
	}

EventInserted and EventUpdated repair the window in place: a plain event
swaps its single instance, a member of a recurrence family re-expands the
whole family inside the window. EventDeleted and a timezone change drop
coverage instead, so the next query rebuilds from scratch.

All cache methods are safe for concurrent use. Acquisition and repair run
under a single mutex, so readers never observe a half-expanded window.
*/
package instance
