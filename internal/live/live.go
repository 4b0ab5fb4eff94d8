// Package live exposes incremental stage and run aggregates while a run is
// in flight: a subscriber channel for in-process consumers and a small HTTP
// endpoint for external pollers. The wire format is a plain JSON mirror of
// the aggregate snapshot; exporter-specific formats live outside this module.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/inferload/inferload/internal/aggregate"
)

// Snapshot is one point-in-time view of the run's aggregates.
type Snapshot struct {
	At     time.Time         `json:"at"`
	Stages []aggregate.Stats `json:"stages"`
	Run    aggregate.Stats   `json:"run"`
}

// Publisher periodically snapshots an aggregator and fans the result out to
// subscribers without ever blocking on a slow one.
type Publisher struct {
	agg      *aggregate.Aggregator
	interval time.Duration

	mu     sync.Mutex
	last   Snapshot
	subs   []chan Snapshot
	closed bool
}

// NewPublisher snapshots agg every interval (default 1s).
func NewPublisher(agg *aggregate.Aggregator, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{agg: agg, interval: interval}
}

// Subscribe returns a channel receiving every published snapshot. Snapshots
// a slow subscriber has not consumed are replaced, never queued.
func (p *Publisher) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Current returns the most recent snapshot, taking a fresh one if none has
// been published yet.
func (p *Publisher) Current() Snapshot {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last.At.IsZero() {
		return p.take()
	}
	return last
}

// Run publishes until ctx is cancelled, then closes all subscriber channels.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.closed = true
			for _, ch := range p.subs {
				close(ch)
			}
			p.subs = nil
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.publish(p.take())
		}
	}
}

func (p *Publisher) take() Snapshot {
	return Snapshot{
		At:     time.Now(),
		Stages: p.agg.AllStageStats(),
		Run:    p.agg.RunStats(),
	}
}

func (p *Publisher) publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.last = s
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// Drop the stale snapshot and deliver the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
