package harnessports

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned by a Provider when a successful response
// does not carry the expected completion text. It is not retried.
var ErrMalformedResponse = errors.New("malformed remote response")

// PromptMessage represents a single chat message sent to the model.
type PromptMessage struct {
	Role    string // "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	Messages []PromptMessage   // ordered messages, the final prompt last
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Options controls model selection and sampling.
type Options struct {
	Model       string
	Temperature float32
	TopP        float32
	// TimeoutMs applies to a single provider call, not the whole retry budget
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	RequestID string // provider request id, when reported
	Raw       any    // raw provider payload for debugging/telemetry
	Usage     *Usage // optional usage information
}

// StatusError reports a non-2xx answer from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned status %d", e.StatusCode)
}

// Provider is the abstraction for LLM completion backends.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
