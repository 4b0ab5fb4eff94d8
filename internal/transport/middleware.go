package transport

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/inferload/inferload/internal/tracing"
)

// WithTracing wraps an adapter so every request carries an OTel client span
// with a first-token event and token-count attributes.
func WithTracing(inner Adapter, tracer trace.Tracer) Adapter {
	return &tracedAdapter{inner: inner, tracer: tracer}
}

type tracedAdapter struct {
	inner  Adapter
	tracer trace.Tracer
}

func (t *tracedAdapter) Name() string { return t.inner.Name() }

func (t *tracedAdapter) Send(ctx context.Context, req *Request) (<-chan Event, error) {
	ctx, span := tracing.StartRequestSpan(ctx, t.tracer, t.inner.Name(), req.ID, 0)
	events, err := t.inner.Send(ctx, req)
	if err != nil {
		tracing.EndSpan(span, err, 0, 0)
		return nil, err
	}

	out := make(chan Event, cap(events))
	go func() {
		defer close(out)
		var sawToken bool
		for ev := range events {
			switch ev.Kind {
			case KindToken:
				if !sawToken {
					tracing.RecordFirstToken(span, ev.At)
					sawToken = true
				}
			case KindDone:
				var in, outTok int
				if ev.Usage != nil {
					in, outTok = ev.Usage.InputTokens, ev.Usage.OutputTokens
				}
				tracing.EndSpan(span, nil, in, outTok)
			case KindError:
				tracing.EndSpan(span, ev.Err, 0, 0)
			}
			out <- ev
		}
	}()
	return out, nil
}
