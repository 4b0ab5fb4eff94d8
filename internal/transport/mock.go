package transport

import (
	"context"
	"sync/atomic"
	"time"
)

// MockConfig scripts the behavior of the mock adapter.
type MockConfig struct {
	TTFT        time.Duration // delay before the first token
	ITL         time.Duration // delay between subsequent tokens
	Tokens      int           // tokens per response, minimum 1
	InputTokens int           // reported prompt token count
	FailEvery   int           // every Nth request fails, 0 disables
	FailErr     error         // error used for scripted failures
	Silent      bool          // never emit a terminal event (timeout testing)
	ConnectErr  error         // returned from Send itself, models unreachable target
}

// Mock is an in-process Adapter with deterministic, scriptable latency.
// It is used by tests and dry runs.
type Mock struct {
	cfg  MockConfig
	sent atomic.Int64
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.Tokens < 1 {
		cfg.Tokens = 1
	}
	return &Mock{cfg: cfg}
}

func (m *Mock) Name() string { return "mock" }

// Sent returns how many requests have been accepted so far.
func (m *Mock) Sent() int64 { return m.sent.Load() }

func (m *Mock) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	if m.cfg.ConnectErr != nil {
		return nil, &ConnectError{Err: m.cfg.ConnectErr}
	}
	n := m.sent.Add(1)
	events := make(chan Event, m.cfg.Tokens+2)

	go func() {
		defer close(events)

		if m.cfg.Silent {
			<-ctx.Done()
			return
		}

		if !m.sleep(ctx, m.cfg.TTFT, events) {
			return
		}

		if m.cfg.FailEvery > 0 && n%int64(m.cfg.FailEvery) == 0 {
			events <- Event{Kind: KindError, At: time.Now(), Err: m.cfg.FailErr}
			return
		}

		events <- Event{Kind: KindFirstByte, At: time.Now()}
		for i := 0; i < m.cfg.Tokens; i++ {
			if i > 0 && !m.sleep(ctx, m.cfg.ITL, events) {
				return
			}
			events <- Event{Kind: KindToken, At: time.Now(), Text: "tok"}
		}
		events <- Event{
			Kind: KindDone,
			At:   time.Now(),
			Usage: &Usage{
				InputTokens:  m.cfg.InputTokens,
				OutputTokens: m.cfg.Tokens,
			},
		}
	}()

	return events, nil
}

// sleep waits d or aborts on cancellation, emitting the error terminal event.
func (m *Mock) sleep(ctx context.Context, d time.Duration, events chan<- Event) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		events <- Event{Kind: KindError, At: time.Now(), Err: ctx.Err()}
		return false
	case <-timer.C:
		return true
	}
}
