// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Deadlines for external calls.
const (
	// AIRequestTimeout is the wall-clock deadline for one AI provider call.
	AIRequestTimeout = 30 * time.Second

	// TranslationTimeout is the deadline for one translation provider call.
	TranslationTimeout = 15 * time.Second

	// StorageTimeout bounds any single repository operation.
	StorageTimeout = 5 * time.Second
)

// Retry schedule for transient storage errors: capped exponential backoff.
var StorageRetryDelays = []time.Duration{
	100 * time.Millisecond,
	400 * time.Millisecond,
	1000 * time.Millisecond,
}
