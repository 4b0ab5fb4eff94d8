package transport

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"
)

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream never closed")
		}
	}
}

func TestMockEmitsFullStream(t *testing.T) {
	m := NewMock(MockConfig{Tokens: 3, InputTokens: 12})
	events, err := m.Send(context.Background(), &Request{ID: "r1", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := collect(t, events)

	if len(got) != 5 {
		t.Fatalf("expected first-byte + 3 tokens + done, got %d events", len(got))
	}
	if got[0].Kind != KindFirstByte {
		t.Fatalf("first event = %s, want first-byte", got[0].Kind)
	}
	for i := 1; i <= 3; i++ {
		if got[i].Kind != KindToken {
			t.Fatalf("event %d = %s, want token", i, got[i].Kind)
		}
	}
	last := got[len(got)-1]
	if last.Kind != KindDone {
		t.Fatalf("last event = %s, want done", last.Kind)
	}
	if last.Usage == nil || last.Usage.InputTokens != 12 || last.Usage.OutputTokens != 3 {
		t.Fatalf("usage = %+v, want 12 in / 3 out", last.Usage)
	}
	if m.Sent() != 1 {
		t.Fatalf("sent = %d, want 1", m.Sent())
	}
}

func TestMockScriptedFailure(t *testing.T) {
	cause := errors.New("model overloaded")
	m := NewMock(MockConfig{Tokens: 2, FailEvery: 2, FailErr: cause})

	first := collect(t, mustSend(t, m))
	if first[len(first)-1].Kind != KindDone {
		t.Fatalf("first request should succeed, ended with %s", first[len(first)-1].Kind)
	}

	second := collect(t, mustSend(t, m))
	last := second[len(second)-1]
	if last.Kind != KindError {
		t.Fatalf("second request should fail, ended with %s", last.Kind)
	}
	if !errors.Is(last.Err, cause) {
		t.Fatalf("error = %v, want scripted cause", last.Err)
	}
}

func TestMockConnectErr(t *testing.T) {
	m := NewMock(MockConfig{ConnectErr: errors.New("no route to host")})
	_, err := m.Send(context.Background(), &Request{ID: "r1"})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !IsConnectError(err) {
		t.Fatalf("connect error not classified: %v", err)
	}
}

func TestMockCancelEmitsErrorEvent(t *testing.T) {
	m := NewMock(MockConfig{TTFT: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	events, err := m.Send(ctx, &Request{ID: "r1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	cancel()
	got := collect(t, events)
	if len(got) != 1 || got[0].Kind != KindError {
		t.Fatalf("expected single error event on cancel, got %+v", got)
	}
}

func mustSend(t *testing.T, m *Mock) <-chan Event {
	t.Helper()
	events, err := m.Send(context.Background(), &Request{ID: "r"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	return events
}

func TestIsConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"wrapped connect", &ConnectError{Err: errors.New("dial tcp")}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"ehostunreach", syscall.EHOSTUNREACH, true},
		{"status", &StatusError{Code: 500}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectError(tt.err); got != tt.want {
				t.Errorf("IsConnectError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
