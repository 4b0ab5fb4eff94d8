// Package wsstream adapts WebSocket token-streaming endpoints to the
// transport contract. One connection is opened per request; the server is
// expected to answer a JSON request with a sequence of JSON messages carrying
// token, done, or error fields.
package wsstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/inferload/inferload/internal/transport"
)

// Config locates the streaming endpoint.
type Config struct {
	URL              string // ws:// or wss:// endpoint
	Model            string
	Headers          map[string]string
	HandshakeTimeout time.Duration
}

type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
}

func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket adapter requires a URL")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Adapter{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}, nil
}

func (a *Adapter) Name() string { return "websocket" }

func (a *Adapter) Send(ctx context.Context, req *transport.Request) (<-chan transport.Event, error) {
	header := http.Header{}
	for k, v := range a.cfg.Headers {
		header.Set(k, v)
	}
	conn, _, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		return nil, &transport.ConnectError{Err: err}
	}

	msg := `{}`
	msg, _ = sjson.Set(msg, "model", a.cfg.Model)
	msg, _ = sjson.Set(msg, "prompt", req.Prompt)
	msg, _ = sjson.Set(msg, "max_tokens", req.MaxTokens)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write request: %w", err)
	}

	events := make(chan transport.Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()

		// Tie the connection's life to cancellation so a force-cancelled
		// request unblocks the read below.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		events <- transport.Event{Kind: transport.KindFirstByte, At: time.Now()}
		var usage *transport.Usage
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				events <- transport.Event{Kind: transport.KindError, At: time.Now(), Err: err}
				return
			}
			body := string(data)
			if e := gjson.Get(body, "error"); e.Exists() && e.String() != "" {
				events <- transport.Event{
					Kind: transport.KindError,
					At:   time.Now(),
					Err:  fmt.Errorf("server error: %s", e.String()),
				}
				return
			}
			if u := gjson.Get(body, "usage"); u.IsObject() {
				usage = &transport.Usage{
					InputTokens:  int(u.Get("prompt_tokens").Int()),
					OutputTokens: int(u.Get("completion_tokens").Int()),
				}
			}
			if tok := gjson.Get(body, "token"); tok.Exists() && tok.String() != "" {
				events <- transport.Event{Kind: transport.KindToken, At: time.Now(), Text: tok.String()}
			}
			if gjson.Get(body, "done").Bool() {
				events <- transport.Event{Kind: transport.KindDone, At: time.Now(), Usage: usage}
				return
			}
		}
	}()
	return events, nil
}
