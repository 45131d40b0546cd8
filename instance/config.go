package instance

import "time"

// Config holds tuning options for the instance cache
type Config struct {
	// MinExpansionSpan is the smallest range a single expansion covers.
	// Requests for less get padded evenly on both sides, so day-to-day
	// scrolling does not re-expand over and over.
	MinExpansionSpan time.Duration
	// MaxAssumedDuration bounds how far before a queried window the
	// candidate fetch looks for exceptions. An exception can move an
	// occurrence that started before the window into it, but only by up
	// to the original occurrence's duration, which this approximates.
	MaxAssumedDuration time.Duration
	// LocalZone returns the zone instance day fields are projected
	// into. It is a function so tests can move the zone under a running
	// cache. Nil means time.Local.
	LocalZone func() *time.Location
}

// DefaultConfig provides sensible defaults for production use
var DefaultConfig = Config{
	MinExpansionSpan:   62 * 24 * time.Hour, // two months
	MaxAssumedDuration: 7 * 24 * time.Hour,
}

// LowMemoryConfig keeps the instance table small for memory-constrained
// environments, at the cost of more frequent re-expansion
var LowMemoryConfig = Config{
	MinExpansionSpan:   14 * 24 * time.Hour,
	MaxAssumedDuration: 7 * 24 * time.Hour,
}

func (c Config) withDefaults() Config {
	if c.MinExpansionSpan <= 0 {
		c.MinExpansionSpan = DefaultConfig.MinExpansionSpan
	}
	if c.MaxAssumedDuration <= 0 {
		c.MaxAssumedDuration = DefaultConfig.MaxAssumedDuration
	}
	if c.LocalZone == nil {
		c.LocalZone = func() *time.Location { return time.Local }
	}
	return c
}
