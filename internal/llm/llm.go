// Package llm abstracts the reasoning model provider behind a small
// chat-completion interface with caching and retry.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single chat completion request.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Response carries the completion text plus usage accounting.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	FromCache        bool
}

// Client is the reasoning model contract.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	HealthCheck(ctx context.Context) error
}
