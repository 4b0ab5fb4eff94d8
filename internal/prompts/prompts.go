// Package prompts supplies the lazy sequence of prompt payloads a run feeds
// into the transport adapter. Sources are opaque iterators to the engine:
// finite ones report exhaustion, restartable ones cycle.
package prompts

import (
	"context"
	"fmt"
)

// Payload is one prompt with its declared target token lengths.
type Payload struct {
	Text         string
	TargetInput  int
	TargetOutput int
}

// Source yields prompt payloads. Implementations must be safe for concurrent
// use; every worker pulls from the same source.
type Source interface {
	// Next returns the next payload or ErrExhausted for a finite,
	// non-restartable source that has run dry.
	Next(ctx context.Context) (Payload, error)

	// Close releases any resources held by the source.
	Close() error
}

// ErrExhausted is returned when a finite source has no more payloads.
var ErrExhausted = fmt.Errorf("prompt source exhausted")
