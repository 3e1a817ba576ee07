// Package model issues streaming completion requests against an
// OpenAI-compatible chat endpoint and exposes each response as a lazy,
// finite sequence of text fragments. Concatenating the fragments in arrival
// order yields the complete answer. This layer carries no retry logic;
// retries belong to the transport beneath it.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Stream is one in-flight completion. Recv returns the next text fragment,
// io.EOF once the provider signals completion, or the terminal error. After
// a non-EOF error no further fragments are ever produced.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Completer opens streaming completion requests. The watcher depends on
// this interface so tests can script fragment sequences.
type Completer interface {
	// StreamCompletion opens one streaming request with the given text
	// as the entire user-role prompt.
	StreamCompletion(ctx context.Context, prompt string) (Stream, error)
}

// ClientConfig configures the provider endpoint.
type ClientConfig struct {
	// BaseURL is the OpenAI-compatible base URL, e.g. a local Ollama
	// instance's /v1 endpoint.
	BaseURL string

	// Model is the model name sent with every request.
	Model string

	// APIKey authenticates against the provider. Local providers accept
	// an empty key.
	APIKey string
}

// Client is the production Completer backed by go-openai.
type Client struct {
	api   *openai.Client
	model string
}

// A compile-time check that Client satisfies Completer.
var _ Completer = (*Client)(nil)

// NewClient creates a client for the configured endpoint.
func NewClient(cfg ClientConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}
}

// StreamCompletion opens one streaming chat completion request carrying the
// prompt as a single user message.
func (c *Client) StreamCompletion(ctx context.Context,
	prompt string) (Stream, error) {

	req := openai.ChatCompletionRequest{
		Model:  c.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w",
			err)
	}

	log.Debugf("Opened completion stream, model=%s, prompt_len=%d",
		c.model, len(prompt))

	return &chatStream{inner: stream}, nil
}

// chatStream adapts a go-openai stream to the Stream interface.
type chatStream struct {
	inner *openai.ChatCompletionStream
	done  bool
}

// Recv returns the next text delta. The completion signal maps to io.EOF;
// the sequence ends there without waiting for the transport to close. Any
// other error is terminal.
func (s *chatStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		resp, err := s.inner.Recv()
		switch {
		case errors.Is(err, io.EOF):
			s.done = true
			return "", io.EOF

		case err != nil:
			s.done = true
			return "", fmt.Errorf("stream error: %w", err)
		}

		if len(resp.Choices) == 0 {
			// Keep-alive or usage-only chunk.
			continue
		}

		return resp.Choices[0].Delta.Content, nil
	}
}

// Close releases the underlying transport.
func (s *chatStream) Close() error {
	return s.inner.Close()
}

// Collect drives one streaming request to completion and returns the
// accumulated answer. A mid-stream error discards the partial text and
// surfaces exactly one error.
func Collect(ctx context.Context, c Completer, prompt string) (string, error) {
	stream, err := c.StreamCompletion(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		frag, err := stream.Recv()
		switch {
		case errors.Is(err, io.EOF):
			return b.String(), nil

		case err != nil:
			return "", err
		}

		b.WriteString(frag)
	}
}
