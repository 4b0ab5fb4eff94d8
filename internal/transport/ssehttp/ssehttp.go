// Package ssehttp adapts raw OpenAI-style server-sent-event completion
// endpoints to the transport contract without a client library, which keeps
// it usable against servers whose SDK support lags their API.
package ssehttp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/inferload/inferload/internal/transport"
)

// Config locates the completion endpoint.
type Config struct {
	URL     string            // full completions URL, e.g. http://host:8000/v1/completions
	Model   string
	Headers map[string]string
	Timeout time.Duration // connection timeout; streaming reads are unbounded
}

// Adapter speaks the SSE wire format directly.
type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse adapter requires a URL")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("sse adapter requires a model")
	}
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   256,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}, nil
}

func (a *Adapter) Name() string { return "sse" }

func (a *Adapter) body(req *transport.Request) ([]byte, error) {
	body := `{}`
	var err error
	for _, set := range []struct {
		path  string
		value interface{}
	}{
		{"model", a.cfg.Model},
		{"prompt", req.Prompt},
		{"max_tokens", req.MaxTokens},
		{"stream", true},
		{"stream_options.include_usage", true},
	} {
		if body, err = sjson.Set(body, set.path, set.value); err != nil {
			return nil, fmt.Errorf("build request body: %w", err)
		}
	}
	return []byte(body), nil
}

func (a *Adapter) Send(ctx context.Context, req *transport.Request) (<-chan transport.Event, error) {
	payload, err := a.body(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range a.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &transport.ConnectError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &transport.StatusError{Code: resp.StatusCode}
	}

	events := make(chan transport.Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		events <- transport.Event{Kind: transport.KindFirstByte, At: time.Now()}

		var usage *transport.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				events <- transport.Event{Kind: transport.KindDone, At: time.Now(), Usage: usage}
				return
			}
			if u := gjson.Get(data, "usage"); u.Exists() && u.IsObject() {
				usage = &transport.Usage{
					InputTokens:  int(u.Get("prompt_tokens").Int()),
					OutputTokens: int(u.Get("completion_tokens").Int()),
				}
			}
			text := gjson.Get(data, "choices.0.text")
			if !text.Exists() {
				text = gjson.Get(data, "choices.0.delta.content")
			}
			if text.String() != "" {
				events <- transport.Event{Kind: transport.KindToken, At: time.Now(), Text: text.String()}
			}
		}
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("stream ended without [DONE]")
		}
		events <- transport.Event{Kind: transport.KindError, At: time.Now(), Err: err}
	}()
	return events, nil
}
