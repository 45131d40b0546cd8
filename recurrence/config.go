package recurrence

// ExpanderConfig holds tuning options for rule expansion
type ExpanderConfig struct {
	// MaxOccurrences caps how many occurrences a single expansion may
	// return. Runaway rules are truncated to this many. Zero means no
	// cap.
	MaxOccurrences int
}

// DefaultExpanderConfig provides sensible defaults for production use
var DefaultExpanderConfig = ExpanderConfig{
	MaxOccurrences: 5000,
}

// LowMemoryExpanderConfig is optimized for memory-constrained environments
var LowMemoryExpanderConfig = ExpanderConfig{
	MaxOccurrences: 500,
}
