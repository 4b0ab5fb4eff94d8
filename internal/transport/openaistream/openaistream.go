// Package openaistream adapts any OpenAI-compatible chat completion endpoint
// (vLLM, SGLang, llama.cpp server, the OpenAI API itself) to the transport
// contract using streamed chat completions.
package openaistream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/inferload/inferload/internal/transport"
)

// Config locates the endpoint and model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Adapter streams chat completions through the go-openai client.
type Adapter struct {
	client *openai.Client
	model  string
}

func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai adapter requires a base URL")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai adapter requires a model")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Send(ctx context.Context, req *transport.Request) (<-chan transport.Event, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		// MaxTokens kept alongside MaxCompletionTokens for older servers.
		MaxTokens:           req.MaxTokens,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              true,
		StreamOptions:       &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		// An API-level error means the endpoint answered; only dial-class
		// failures count toward the unreachable-target abort.
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, &transport.ConnectError{Err: err}
	}

	events := make(chan transport.Event, 16)
	go func() {
		defer close(events)
		defer stream.Close()

		first := true
		var usage *openai.Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				done := transport.Event{Kind: transport.KindDone, At: time.Now()}
				if usage != nil {
					done.Usage = &transport.Usage{
						InputTokens:  usage.PromptTokens,
						OutputTokens: usage.CompletionTokens,
					}
				}
				events <- done
				return
			}
			if err != nil {
				events <- transport.Event{Kind: transport.KindError, At: time.Now(), Err: err}
				return
			}
			if first {
				events <- transport.Event{Kind: transport.KindFirstByte, At: time.Now()}
				first = false
			}
			if resp.Usage != nil {
				usage = resp.Usage
			}
			if len(resp.Choices) > 0 {
				if content := resp.Choices[0].Delta.Content; content != "" {
					events <- transport.Event{Kind: transport.KindToken, At: time.Now(), Text: content}
				}
			}
		}
	}()
	return events, nil
}
